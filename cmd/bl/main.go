package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/escrow"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
	"bountyline/internal/server"
	"bountyline/internal/vault"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Bountyline CLI",
	Long: `Bountyline tracks issue bounties across registered repositories.
Funds move from a local vault into escrow when a bounty is posted, applicants
request assignment, maintainers review applications and submissions, and an
accepted submission releases the payout. Killed bounties refund the vault.
The event log ('bl log tail') records every state change.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOUNTYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(repoCmd())
	rootCmd.AddCommand(bountyCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(applicantsCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(curateCmd())
	rootCmd.AddCommand(vaultCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func repoCmd() *cobra.Command {
	r := &cobra.Command{Use: "repo", Short: "Manage registered repositories"}
	r.AddCommand(repoAddCmd())
	r.AddCommand(repoRemoveCmd())
	r.AddCommand(repoListCmd())
	r.AddCommand(repoIssuesCmd())
	return r
}

func repoAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.AddRepo(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	return cmd
}

func repoRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a repository from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveRepo(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func repoListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRepos(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Position", "Created"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Position, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func repoIssuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues <id>",
		Short: "List issue records for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListIssues(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Issue", "Bounty", "Size", "Assignee", "Fulfilled", "Removed"})
				for _, is := range items {
					tw.AppendRow(table.Row{is.IssueNumber, is.HasBounty, is.BountySize, is.Assignee, is.Fulfilled, is.Removed})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func bountyCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "bounty",
		Short: "Manage bounties",
		Long:  "Bounties are funded per issue; funding moves tokens from the vault (or the attached value) into escrow until a submission is accepted or the bounty is killed.",
	}
	b.AddCommand(bountyFundCmd())
	b.AddCommand(bountyUpdateCmd())
	b.AddCommand(bountyKillCmd())
	b.AddCommand(bountyShowCmd())
	return b
}

func bountyFundCmd() *cobra.Command {
	var repoIDs []string
	var issues, sizes, deadlines []int64
	var tokenTypes []int
	var tokenAddrs []string
	var attached uint64
	var data, description string
	var open bool
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Fund a batch of bounties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if len(deadlines) == 0 {
					s, err := e.GetSettings(ctx)
					if err != nil {
						return err
					}
					for range repoIDs {
						deadlines = append(deadlines, s.BountyDeadline)
					}
				}
				if len(tokenTypes) == 0 {
					for range repoIDs {
						tokenTypes = append(tokenTypes, 1)
					}
				}
				if len(tokenAddrs) == 0 {
					for range repoIDs {
						tokenAddrs = append(tokenAddrs, "")
					}
				}
				opts := engine.FundOptions{
					RepoIDs:      repoIDs,
					IssueNumbers: issues,
					Sizes:        toUint64(sizes),
					Deadlines:    deadlines,
					TokenTypes:   tokenTypes,
					TokenAddrs:   tokenAddrs,
					Attached:     attached,
					DataBlob:     data,
					Description:  description,
					ActorID:      viper.GetString("actor-id"),
				}
				fund := e.AddBounties
				if open {
					fund = e.AddOpenBounties
				}
				funded, err := fund(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(funded)
			})
		},
	}
	cmd.Flags().StringArrayVar(&repoIDs, "repo", []string{}, "repo id (repeatable)")
	cmd.Flags().Int64SliceVar(&issues, "issue", []int64{}, "issue number (repeatable)")
	cmd.Flags().Int64SliceVar(&sizes, "size", []int64{}, "bounty size (repeatable)")
	cmd.Flags().Int64SliceVar(&deadlines, "deadline", []int64{}, "deadline offset seconds (repeatable)")
	cmd.Flags().IntSliceVar(&tokenTypes, "token-type", []int{}, "token type: 0 attached native, 1 vault native, 20 vault token")
	cmd.Flags().StringArrayVar(&tokenAddrs, "token-addr", []string{}, "token address for type 20")
	cmd.Flags().Uint64Var(&attached, "attached", 0, "attached native value for type 0 entries")
	cmd.Flags().StringVar(&data, "data", "", "bounty metadata blob")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().BoolVar(&open, "open", false, "open bounty: first accepted submission wins, no assignment")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("issue")
	_ = cmd.MarkFlagRequired("size")
	return cmd
}

func bountyUpdateCmd() *cobra.Command {
	var data, description string
	var deadline int64
	cmd := &cobra.Command{
		Use:   "update <repo> <issue>",
		Short: "Update bounty metadata",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := parseIssueNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.UpdateBounty(ctx, args[0], issue, data, deadline, description, viper.GetString("actor-id")); err != nil {
					return err
				}
				is, err := e.GetIssue(ctx, args[0], issue)
				if err != nil {
					return err
				}
				return printJSONOrTable(is)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "bounty metadata blob")
	cmd.Flags().Int64Var(&deadline, "deadline", 0, "deadline offset seconds")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func bountyKillCmd() *cobra.Command {
	var repoIDs []string
	var issues []int64
	var reason string
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Kill bounties and refund the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveBounties(ctx, engine.KillOptions{
					RepoIDs:      repoIDs,
					IssueNumbers: issues,
					Reason:       reason,
					ActorID:      viper.GetString("actor-id"),
				})
			})
		},
	}
	cmd.Flags().StringArrayVar(&repoIDs, "repo", []string{}, "repo id (repeatable)")
	cmd.Flags().Int64SliceVar(&issues, "issue", []int64{}, "issue number (repeatable)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}

func bountyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <repo> <issue>",
		Short: "Show issue bounty state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := parseIssueNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				is, err := e.GetIssue(ctx, args[0], issue)
				if err != nil {
					return err
				}
				return printJSONOrTable(is)
			})
		},
	}
	return cmd
}

func applyCmd() *cobra.Command {
	var metadata string
	cmd := &cobra.Command{
		Use:   "apply <repo> <issue>",
		Short: "Request assignment to a bounty",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := parseIssueNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RequestAssignment(ctx, args[0], issue, viper.GetString("actor-id"), metadata)
			})
		},
	}
	cmd.Flags().StringVar(&metadata, "metadata", "", "application metadata")
	return cmd
}

func applicantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "applicants <repo> <issue>",
		Short: "List applicants for a bounty",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := parseIssueNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListApplicants(ctx, args[0], issue)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Applicant", "Status", "Applied", "Reviewed"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.Applicant, applicationStatusName(a.Status), a.CreatedAt, a.ReviewedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func applicationStatusName(status int) string {
	switch status {
	case domain.ApplicationAccepted:
		return "accepted"
	case domain.ApplicationRejected:
		return "rejected"
	default:
		return "unreviewed"
	}
}

func reviewCmd() *cobra.Command {
	r := &cobra.Command{Use: "review", Short: "Review applications and submissions"}
	r.AddCommand(reviewApplicationCmd())
	r.AddCommand(reviewSubmissionCmd())
	return r
}

func reviewApplicationCmd() *cobra.Command {
	var applicant, comment string
	var accept bool
	cmd := &cobra.Command{
		Use:   "application <repo> <issue>",
		Short: "Accept or reject an applicant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := parseIssueNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ReviewApplication(ctx, args[0], issue, applicant, comment, accept, viper.GetString("actor-id")); err != nil {
					return err
				}
				is, err := e.GetIssue(ctx, args[0], issue)
				if err != nil {
					return err
				}
				return printJSONOrTable(is)
			})
		},
	}
	cmd.Flags().StringVar(&applicant, "applicant", "", "applicant id")
	cmd.Flags().BoolVar(&accept, "accept", false, "accept the application")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	_ = cmd.MarkFlagRequired("applicant")
	return cmd
}

func reviewSubmissionCmd() *cobra.Command {
	var index int
	var accept bool
	var comment string
	var split []int64
	cmd := &cobra.Command{
		Use:   "submission <repo> <issue>",
		Short: "Accept or reject a work submission",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := parseIssueNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ReviewSubmission(ctx, args[0], issue, index, accept, comment, toUint64(split), viper.GetString("actor-id")); err != nil {
					return err
				}
				is, err := e.GetIssue(ctx, args[0], issue)
				if err != nil {
					return err
				}
				return printJSONOrTable(is)
			})
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "submission index")
	cmd.Flags().BoolVar(&accept, "accept", false, "accept the submission")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	cmd.Flags().Int64SliceVar(&split, "split", []int64{}, "payout amount per fulfiller (repeatable)")
	return cmd
}

func submitCmd() *cobra.Command {
	var fulfillers []string
	var evidence string
	cmd := &cobra.Command{
		Use:   "submit <repo> <issue>",
		Short: "Submit work against a bounty",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := parseIssueNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if len(fulfillers) == 0 {
					fulfillers = []string{viper.GetString("actor-id")}
				}
				index, err := e.SubmitWork(ctx, args[0], issue, fulfillers, evidence, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"submission_index": index})
			})
		},
	}
	cmd.Flags().StringArrayVar(&fulfillers, "fulfiller", []string{}, "fulfiller id (repeatable, defaults to actor)")
	cmd.Flags().StringVar(&evidence, "evidence", "", "evidence reference")
	return cmd
}

func settingsCmd() *cobra.Command {
	s := &cobra.Command{Use: "settings", Short: "Bounty settings"}
	s.AddCommand(settingsShowCmd())
	s.AddCommand(settingsSetCmd())
	return s
}

func settingsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show bounty settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSettings(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func settingsSetCmd() *cobra.Command {
	var multipliers []int64
	var levels []string
	var baseRate uint64
	var deadline int64
	var currency, allocator string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace bounty settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				err := e.ChangeBountySettings(ctx, engine.SettingsOptions{
					XPMultipliers:    toUint64(multipliers),
					ExperienceLevels: levels,
					BaseRate:         baseRate,
					BountyDeadline:   deadline,
					BountyCurrency:   currency,
					BountyAllocator:  allocator,
					ActorID:          viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				s, err := e.GetSettings(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Int64SliceVar(&multipliers, "multiplier", []int64{}, "xp multiplier (repeatable)")
	cmd.Flags().StringArrayVar(&levels, "level", []string{}, "experience level name (repeatable)")
	cmd.Flags().Uint64Var(&baseRate, "base-rate", 0, "base hourly rate")
	cmd.Flags().Int64Var(&deadline, "deadline", 0, "default deadline offset seconds")
	cmd.Flags().StringVar(&currency, "currency", "", "default bounty currency")
	cmd.Flags().StringVar(&allocator, "allocator", "", "bounty allocator address")
	_ = cmd.MarkFlagRequired("allocator")
	return cmd
}

func curateCmd() *cobra.Command {
	var repoIDs []string
	var issues []int64
	var priorities, descIndices []int
	var description string
	cmd := &cobra.Command{
		Use:   "curate",
		Short: "Record an issue curation batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if len(descIndices) == 0 {
					descIndices = make([]int, len(repoIDs))
				}
				c, err := e.CurateIssues(ctx, engine.CurateOptions{
					Priorities:         priorities,
					DescriptionIndices: descIndices,
					Description:        description,
					RepoIDs:            repoIDs,
					IssueNumbers:       issues,
					CurationID:         uuid.NewString(),
					ActorID:            viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringArrayVar(&repoIDs, "repo", []string{}, "repo id (repeatable)")
	cmd.Flags().Int64SliceVar(&issues, "issue", []int64{}, "issue number (repeatable)")
	cmd.Flags().IntSliceVar(&priorities, "priority", []int{}, "priority (repeatable)")
	cmd.Flags().IntSliceVar(&descIndices, "description-index", []int{}, "description index (repeatable)")
	cmd.Flags().StringVar(&description, "description", "", "curation description")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("issue")
	_ = cmd.MarkFlagRequired("priority")
	return cmd
}

func vaultCmd() *cobra.Command {
	v := &cobra.Command{Use: "vault", Short: "Vault balances"}
	v.AddCommand(vaultDepositCmd())
	v.AddCommand(vaultBalanceCmd())
	return v
}

func vaultDepositCmd() *cobra.Command {
	var currency string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit funds into the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount == 0 {
				return fmt.Errorf("--amount must be positive")
			}
			return withVault(cmd.Context(), func(ctx context.Context, v *vault.Ledger) error {
				if err := v.Deposit(ctx, currency, amount); err != nil {
					return err
				}
				balance, err := v.Balance(ctx, currency)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"currency": currency, "balance": balance})
			})
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "currency address (empty for native)")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func vaultBalanceCmd() *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show vault balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd.Context(), func(ctx context.Context, v *vault.Ledger) error {
				balance, err := v.Balance(ctx, currency)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"currency": currency, "balance": balance})
			})
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "currency address (empty for native)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config",
		Long:  "Config is the rulebook for this workspace: the experience ladder, the default deadline and currency, and the allocator that escrows funded bounties. Stored in bountyline.yml.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default bountyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "id", "bountyline", "project id")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a config file into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			path := config.Path(viper.GetString("workspace"))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Imported %s for project %s\n", path, cfg.Project.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to config yaml")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	a := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	a.AddCommand(apikeyCreateCmd())
	a.AddCommand(apikeyListCmd())
	a.AddCommand(apikeyDeleteCmd())
	return a
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("API key %s created for %s.\n", key.ID, key.ActorID)
				fmt.Printf("Secret (store it now, it is not shown again): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: fundings, kills, applications, reviews, and settlements.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var repoID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, repoID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&repoID, "repo", "", "repo filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("BOUNTYLINE_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("BOUNTYLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Bountyline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	registry := escrow.NewLocalRegistry(conn)
	dir := escrow.NewLocalDirectory(registry)
	ledger := vault.NewLedger(conn)
	e := engine.New(conn, ledger, dir)
	if err := ensureBootstrap(ctx, e, ledger, registry, workspace); err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withVault(ctx context.Context, fn func(context.Context, *vault.Ledger) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, vault.NewLedger(conn))
}

// ensureBootstrap seeds settings from the workspace config on first use.
// Existing settings always win.
func ensureBootstrap(ctx context.Context, e engine.Engine, ledger *vault.Ledger, registry *escrow.LocalRegistry, workspace string) error {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default("bountyline")
	}
	allocator := cfg.Settings.BountyAllocator
	if allocator == "" {
		allocator = registry.Address()
	}
	multipliers, levels := cfg.Multipliers()
	err = e.EnsureSettings(ctx, engine.SettingsOptions{
		XPMultipliers:    multipliers,
		ExperienceLevels: levels,
		BaseRate:         cfg.Settings.BaseRate,
		BountyDeadline:   cfg.Settings.BountyDeadline,
		BountyCurrency:   cfg.Settings.BountyCurrency,
		BountyAllocator:  allocator,
		ActorID:          viper.GetString("actor-id"),
	})
	if err != nil {
		return err
	}
	for currency, balance := range cfg.Vault.Balances {
		if balance == 0 {
			continue
		}
		have, err := ledger.Balance(ctx, currency)
		if err != nil {
			return err
		}
		if have == 0 {
			if err := ledger.Deposit(ctx, currency, balance); err != nil {
				return err
			}
		}
	}
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func toUint64(in []int64) []uint64 {
	out := make([]uint64, len(in))
	for i, v := range in {
		if v < 0 {
			v = 0
		}
		out[i] = uint64(v)
	}
	return out
}

func parseIssueNumber(raw string) (int64, error) {
	var n int64
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid issue number %q", raw)
	}
	return n, nil
}
