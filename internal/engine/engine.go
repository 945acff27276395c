// Package engine implements the bounty lifecycle: repo registry, issue
// funding, assignment, submission review, and settings. Each operation
// validates everything it can locally before touching the vault or the
// escrow, and commits its local state in a single transaction afterwards.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bountyline/internal/domain"
	"bountyline/internal/escrow"
	"bountyline/internal/events"
	"bountyline/internal/repo"
	"bountyline/internal/vault"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Vault      vault.Vault
	Allocators escrow.Directory
	Now        func() time.Time
}

func New(db *sql.DB, v vault.Vault, dir escrow.Directory) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db, Now: time.Now},
		Vault:      v,
		Allocators: dir,
		Now:        time.Now,
	}
}

// SetClock injects a clock for both record and event timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.Now = now
	e.Events.Now = now
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

// --- repo registry ---

func (e Engine) AddRepo(ctx context.Context, id, actorID string) (domain.Repo, error) {
	if id == "" {
		return domain.Repo{}, errors.New("repo id required")
	}
	exists, err := e.Repo.RepoExists(ctx, id)
	if err != nil {
		return domain.Repo{}, err
	}
	if exists {
		return domain.Repo{}, fmt.Errorf("repo %s: %w", id, ErrAlreadyExists)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Repo{}, err
	}
	defer tx.Rollback()
	rec, err := e.Repo.InsertRepo(ctx, tx, id, e.now())
	if err != nil {
		return domain.Repo{}, err
	}
	if err := e.Events.Append(ctx, tx, "repo.added", id, "repo", id, actorID, events.EventPayload{"position": rec.Position}); err != nil {
		return domain.Repo{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Repo{}, err
	}
	return rec, nil
}

func (e Engine) RemoveRepo(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRepo(ctx, tx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("repo %s: %w", id, repo.ErrNotFound)
		}
		return err
	}
	if err := e.Events.Append(ctx, tx, "repo.removed", id, "repo", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) IsRegistered(ctx context.Context, id string) (bool, error) {
	return e.Repo.RepoExists(ctx, id)
}

func (e Engine) RepoCount(ctx context.Context) (int, error) {
	return e.Repo.CountRepos(ctx)
}

// --- funding ---

// FundOptions carries the parallel arrays of a batched funding call. Attached
// is the native value delivered with the call; it must equal the sum of the
// native-attached (token type 0) entries.
type FundOptions struct {
	RepoIDs      []string
	IssueNumbers []int64
	Sizes        []uint64
	Deadlines    []int64
	TokenTypes   []int
	TokenAddrs   []string
	Attached     uint64
	DataBlob     string
	Description  string
	ActorID      string
}

// FundedBounty reports one funded entry, in input order.
type FundedBounty struct {
	RepoID      string `json:"repo_id"`
	IssueNumber int64  `json:"issue_number"`
	BountySize  uint64 `json:"bounty_size"`
	ExternalID  int64  `json:"external_id"`
}

// AddBounties funds a batch of issues through the active allocator.
// All-or-nothing: every precondition is checked before any funds move, and a
// failed escrow call mid-batch refunds the entries already issued.
func (e Engine) AddBounties(ctx context.Context, opts FundOptions) ([]FundedBounty, error) {
	return e.addBounties(ctx, opts, true)
}

// AddOpenBounties funds bounties that skip the assignment gate entirely:
// ReviewApplication is permanently disabled for them and the first accepted
// submission wins.
func (e Engine) AddOpenBounties(ctx context.Context, opts FundOptions) ([]FundedBounty, error) {
	return e.addBounties(ctx, opts, false)
}

type fundPlan struct {
	issue     domain.Issue
	currency  string
	fromVault bool
}

func (e Engine) addBounties(ctx context.Context, opts FundOptions, assignable bool) ([]FundedBounty, error) {
	n := len(opts.RepoIDs)
	if n == 0 {
		return nil, errors.New("at least one entry required")
	}
	if n > maxBatch {
		return nil, ErrLengthExceeded
	}
	if len(opts.IssueNumbers) != n || len(opts.Sizes) != n || len(opts.Deadlines) != n ||
		len(opts.TokenTypes) != n || len(opts.TokenAddrs) != n {
		return nil, ErrLengthMismatch
	}

	settings, err := e.Repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	alloc, err := e.Allocators.Resolve(settings.BountyAllocator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAllocator, err)
	}

	// Phase one: validate the whole batch with no side effects.
	plans := make([]fundPlan, 0, n)
	var attachedSum uint64
	vaultNeeds := map[string]uint64{}
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		key := issueKey(opts.RepoIDs[i], opts.IssueNumbers[i])
		if seen[key] {
			return nil, fmt.Errorf("issue %s appears twice in batch: %w", key, ErrAlreadyExists)
		}
		seen[key] = true
		registered, err := e.Repo.RepoExists(ctx, opts.RepoIDs[i])
		if err != nil {
			return nil, err
		}
		if !registered {
			return nil, fmt.Errorf("repo %s: %w", opts.RepoIDs[i], repo.ErrNotFound)
		}
		if opts.Sizes[i] == 0 {
			return nil, fmt.Errorf("entry %d: bounty size must be positive", i)
		}
		currency, fromVault, err := resolveFunding(opts.TokenTypes[i], opts.TokenAddrs[i])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		prior, err := e.Repo.GetIssue(ctx, opts.RepoIDs[i], opts.IssueNumbers[i])
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		generation := 0
		if err == nil {
			if prior.HasBounty {
				return nil, fmt.Errorf("issue %s#%d has a live bounty: %w",
					opts.RepoIDs[i], opts.IssueNumbers[i], ErrAlreadyExists)
			}
			generation = prior.Generation + 1
		}
		if fromVault {
			vaultNeeds[currency] += opts.Sizes[i]
		} else {
			attachedSum += opts.Sizes[i]
		}
		plans = append(plans, fundPlan{
			issue: domain.Issue{
				RepoID:      opts.RepoIDs[i],
				IssueNumber: opts.IssueNumbers[i],
				HasBounty:   true,
				BountySize:  opts.Sizes[i],
				Assignee:    domain.ZeroAddress,
				Assignable:  assignable,
				TokenType:   opts.TokenTypes[i],
				TokenAddr:   opts.TokenAddrs[i],
				Allocator:   settings.BountyAllocator,
				Deadline:    opts.Deadlines[i],
				Data:        opts.DataBlob,
				Description: opts.Description,
				Generation:  generation,
			},
			currency:  currency,
			fromVault: fromVault,
		})
	}
	if attachedSum != opts.Attached {
		return nil, fmt.Errorf("%w: attached %d, need %d", ErrValueMismatch, opts.Attached, attachedSum)
	}
	for currency, need := range vaultNeeds {
		have, err := e.Vault.Balance(ctx, currency)
		if err != nil {
			return nil, err
		}
		if have < need {
			return nil, fmt.Errorf("%w: need %d of %s, vault holds %d",
				vault.ErrInsufficientFunds, need, currency, have)
		}
	}

	// Phase two: move funds into escrow. A failure here unwinds the entries
	// already issued by refunding them into the vault.
	issued := make([]FundedBounty, 0, n)
	unwind := func() {
		for k := range issued {
			amount, refundErr := alloc.Refund(ctx, issued[k].ExternalID)
			if refundErr != nil {
				continue
			}
			// Attached-value entries were never drawn from the vault, so
			// their refund must not be credited to it.
			if plans[k].fromVault {
				_ = e.Vault.Deposit(ctx, plans[k].currency, amount)
			}
		}
	}
	for i := range plans {
		p := &plans[i]
		if p.fromVault {
			if err := e.Vault.TransferOut(ctx, settings.BountyAllocator, p.currency, p.issue.BountySize); err != nil {
				unwind()
				return nil, err
			}
		}
		externalID, err := alloc.IssueAndFund(ctx, p.issue.Data, opts.ActorID, p.issue.Deadline, p.currency, p.issue.BountySize)
		if err != nil {
			if p.fromVault {
				_ = e.Vault.Deposit(ctx, p.currency, p.issue.BountySize)
			}
			unwind()
			return nil, fmt.Errorf("fund issue %s#%d: %w", p.issue.RepoID, p.issue.IssueNumber, err)
		}
		p.issue.ExternalID = externalID
		issued = append(issued, FundedBounty{
			RepoID:      p.issue.RepoID,
			IssueNumber: p.issue.IssueNumber,
			BountySize:  p.issue.BountySize,
			ExternalID:  externalID,
		})
	}

	// Phase three: commit the local records.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		unwind()
		return nil, err
	}
	defer tx.Rollback()
	now := e.ts()
	for i := range plans {
		plans[i].issue.UpdatedAt = now
		if err := e.Repo.UpsertIssue(ctx, tx, plans[i].issue); err != nil {
			unwind()
			return nil, err
		}
		if err := e.Events.Append(ctx, tx, "bounty.added", plans[i].issue.RepoID, "issue",
			issueKey(plans[i].issue.RepoID, plans[i].issue.IssueNumber), opts.ActorID,
			events.EventPayload{
				"issue_number": plans[i].issue.IssueNumber,
				"bounty_size":  plans[i].issue.BountySize,
				"external_id":  plans[i].issue.ExternalID,
				"assignable":   assignable,
			}); err != nil {
			unwind()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		unwind()
		return nil, err
	}
	return issued, nil
}

// resolveFunding maps a token type to its settlement currency and funding
// source. Types 0 and 1 are native and require a zero token address; 20 draws
// a fungible token from the vault; everything else is rejected.
func resolveFunding(tokenType int, tokenAddr string) (currency string, fromVault bool, err error) {
	switch tokenType {
	case domain.TokenNative, domain.TokenNativeVault:
		if tokenAddr != "" && tokenAddr != domain.ZeroAddress && tokenAddr != "0" {
			return "", false, fmt.Errorf("%w: native bounty with token address %s", ErrInvalidTokenConfig, tokenAddr)
		}
		return domain.ZeroAddress, tokenType == domain.TokenNativeVault, nil
	case domain.TokenFungible:
		if tokenAddr == "" || tokenAddr == domain.ZeroAddress || tokenAddr == "0" {
			return "", false, fmt.Errorf("%w: fungible bounty needs a token address", ErrInvalidTokenConfig)
		}
		return tokenAddr, true, nil
	default:
		return "", false, fmt.Errorf("%w: token type %d", ErrInvalidTokenConfig, tokenType)
	}
}

// UpdateBounty rewrites display metadata and the stored deadline without
// touching funding or assignment state.
func (e Engine) UpdateBounty(ctx context.Context, repoID string, issueNumber int64, data string, deadline int64, description, actorID string) error {
	registered, err := e.Repo.RepoExists(ctx, repoID)
	if err != nil {
		return err
	}
	if !registered {
		return fmt.Errorf("repo %s: %w", repoID, repo.ErrNotFound)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateIssueMetadata(ctx, tx, repoID, issueNumber, data, deadline, description, e.ts()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("issue %s#%d has no live bounty: %w", repoID, issueNumber, repo.ErrNotFound)
		}
		return err
	}
	if err := e.Events.Append(ctx, tx, "bounty.updated", repoID, "issue", issueKey(repoID, issueNumber), actorID,
		events.EventPayload{"issue_number": issueNumber, "deadline": deadline}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- killing ---

type KillOptions struct {
	RepoIDs      []string
	IssueNumbers []int64
	Reason       string
	ActorID      string
}

// RemoveBounties kills a batch of live, unfulfilled bounties. Each refund is
// credited to the vault in the currency the bounty was funded with, then the
// records' funding fields are cleared. The batch fails atomically on any
// precondition; if the escrow fails mid-batch, already-refunded entries are
// re-issued from the vault and keep their state under fresh external ids.
func (e Engine) RemoveBounties(ctx context.Context, opts KillOptions) error {
	n := len(opts.RepoIDs)
	if n == 0 {
		return errors.New("at least one entry required")
	}
	if n > maxBatch || len(opts.IssueNumbers) > maxBatch {
		return ErrLengthExceeded
	}
	if len(opts.IssueNumbers) != n {
		return ErrLengthMismatch
	}

	// Phase one: every entry must be refundable before anything moves.
	records := make([]domain.Issue, n)
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		key := issueKey(opts.RepoIDs[i], opts.IssueNumbers[i])
		if seen[key] {
			return fmt.Errorf("issue %s appears twice in batch: %w", key, ErrAlreadyExists)
		}
		seen[key] = true
		is, err := e.Repo.GetIssue(ctx, opts.RepoIDs[i], opts.IssueNumbers[i])
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("issue %s#%d: %w", opts.RepoIDs[i], opts.IssueNumbers[i], repo.ErrNotFound)
			}
			return err
		}
		if is.Fulfilled {
			return fmt.Errorf("issue %s#%d: %w", is.RepoID, is.IssueNumber, ErrBountyFulfilled)
		}
		if is.Removed || !is.HasBounty {
			return fmt.Errorf("issue %s#%d: %w", is.RepoID, is.IssueNumber, ErrBountyRemoved)
		}
		records[i] = is
	}

	// Phase two: pull funds back from escrow into the vault.
	type refunded struct {
		issue  domain.Issue
		amount uint64
	}
	done := make([]refunded, 0, n)
	unwind := func() {
		for _, r := range done {
			alloc, err := e.Allocators.Resolve(r.issue.Allocator)
			if err != nil {
				continue
			}
			if err := e.Vault.TransferOut(ctx, r.issue.Allocator, currencyOf(r.issue), r.amount); err != nil {
				continue
			}
			if newID, err := alloc.IssueAndFund(ctx, r.issue.Data, opts.ActorID, r.issue.Deadline,
				currencyOf(r.issue), r.amount); err == nil {
				_ = e.rebindExternalID(ctx, r.issue, newID)
			}
		}
	}
	for _, is := range records {
		alloc, err := e.Allocators.Resolve(is.Allocator)
		if err != nil {
			unwind()
			return fmt.Errorf("%w: %v", ErrInvalidAllocator, err)
		}
		amount, err := alloc.Refund(ctx, is.ExternalID)
		if err != nil {
			unwind()
			return fmt.Errorf("refund issue %s#%d: %w", is.RepoID, is.IssueNumber, err)
		}
		if err := e.Vault.Deposit(ctx, currencyOf(is), amount); err != nil {
			unwind()
			return err
		}
		done = append(done, refunded{issue: is, amount: amount})
	}

	// Phase three: clear the records.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		unwind()
		return err
	}
	defer tx.Rollback()
	now := e.ts()
	for _, is := range records {
		if err := e.Repo.ClearBounty(ctx, tx, is.RepoID, is.IssueNumber, now); err != nil {
			unwind()
			return err
		}
		if err := e.Events.Append(ctx, tx, "bounty.removed", is.RepoID, "issue",
			issueKey(is.RepoID, is.IssueNumber), opts.ActorID, events.EventPayload{
				"issue_number": is.IssueNumber,
				"bounty_size":  is.BountySize,
				"reason":       opts.Reason,
			}); err != nil {
			unwind()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		unwind()
		return err
	}
	return nil
}

func (e Engine) rebindExternalID(ctx context.Context, is domain.Issue, newID int64) error {
	_, err := e.DB.ExecContext(ctx,
		`UPDATE issues SET external_id=?, updated_at=? WHERE repo_id=? AND issue_number=?`,
		newID, e.ts(), is.RepoID, is.IssueNumber)
	return err
}

func currencyOf(is domain.Issue) string {
	if is.TokenType == domain.TokenFungible {
		return is.TokenAddr
	}
	return domain.ZeroAddress
}

func issueKey(repoID string, issueNumber int64) string {
	return fmt.Sprintf("%s#%d", repoID, issueNumber)
}

// --- reads ---

func (e Engine) GetIssue(ctx context.Context, repoID string, issueNumber int64) (domain.Issue, error) {
	registered, err := e.Repo.RepoExists(ctx, repoID)
	if err != nil {
		return domain.Issue{}, err
	}
	if !registered {
		return domain.Issue{}, fmt.Errorf("repo %s: %w", repoID, repo.ErrNotFound)
	}
	return e.Repo.GetIssue(ctx, repoID, issueNumber)
}

// --- assignment workflow ---

func (e Engine) RequestAssignment(ctx context.Context, repoID string, issueNumber int64, applicant, metadata string) error {
	is, err := e.GetIssue(ctx, repoID, issueNumber)
	if err != nil {
		return err
	}
	if !is.HasBounty {
		return fmt.Errorf("issue %s#%d has no live bounty: %w", repoID, issueNumber, repo.ErrNotFound)
	}
	pending, err := e.Repo.HasUnreviewedApplication(ctx, repoID, issueNumber, applicant)
	if err != nil {
		return err
	}
	if pending {
		return fmt.Errorf("applicant %s on %s#%d: %w", applicant, repoID, issueNumber, ErrDuplicateApplication)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	app := domain.Application{
		RepoID:      repoID,
		IssueNumber: issueNumber,
		Applicant:   applicant,
		Metadata:    metadata,
		Status:      domain.ApplicationUnreviewed,
		CreatedAt:   e.ts(),
	}
	if err := e.Repo.InsertApplication(ctx, tx, app); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "assignment.requested", repoID, "issue",
		issueKey(repoID, issueNumber), applicant, events.EventPayload{"issue_number": issueNumber}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetApplicant(ctx context.Context, repoID string, issueNumber int64, index int) (domain.Application, error) {
	return e.Repo.GetApplicant(ctx, repoID, issueNumber, index)
}

func (e Engine) GetApplicantsLength(ctx context.Context, repoID string, issueNumber int64) (int, error) {
	return e.Repo.CountApplicants(ctx, repoID, issueNumber)
}

// ReviewApplication accepts or rejects an applicant's pending application.
// Accepting records the applicant as the issue's assignee. Only Unreviewed
// applications match, so reviewing the same application twice reports not
// found.
func (e Engine) ReviewApplication(ctx context.Context, repoID string, issueNumber int64, applicant, comment string, accept bool, actorID string) error {
	is, err := e.GetIssue(ctx, repoID, issueNumber)
	if err != nil {
		return err
	}
	if !is.HasBounty {
		return fmt.Errorf("issue %s#%d has no live bounty: %w", repoID, issueNumber, repo.ErrNotFound)
	}
	if !is.Assignable {
		return fmt.Errorf("issue %s#%d: %w", repoID, issueNumber, ErrOpenBountyNotAssignable)
	}
	status := domain.ApplicationRejected
	if accept {
		status = domain.ApplicationAccepted
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.ts()
	if err := e.Repo.ReviewApplication(ctx, tx, repoID, issueNumber, applicant, status, comment, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("no unreviewed application by %s on %s#%d: %w", applicant, repoID, issueNumber, repo.ErrNotFound)
		}
		return err
	}
	if accept {
		if err := e.Repo.SetAssignee(ctx, tx, repoID, issueNumber, applicant, now); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "assignment.reviewed", repoID, "issue",
		issueKey(repoID, issueNumber), actorID, events.EventPayload{
			"issue_number": issueNumber,
			"applicant":    applicant,
			"accepted":     accept,
		}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- submission workflow ---

// SubmitWork records a fulfillment against the bounty's escrow entry. The
// engine only observes submissions; this passthrough exists so the CLI and
// API can reach the local registry with the record's external id.
func (e Engine) SubmitWork(ctx context.Context, repoID string, issueNumber int64, fulfillers []string, evidence, actorID string) (int, error) {
	is, err := e.GetIssue(ctx, repoID, issueNumber)
	if err != nil {
		return 0, err
	}
	if !is.HasBounty {
		return 0, fmt.Errorf("issue %s#%d has no live bounty: %w", repoID, issueNumber, repo.ErrNotFound)
	}
	alloc, err := e.Allocators.Resolve(is.Allocator)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAllocator, err)
	}
	index, err := alloc.Fulfill(ctx, is.ExternalID, fulfillers, evidence)
	if err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "submission.created", repoID, "issue",
		issueKey(repoID, issueNumber), actorID, events.EventPayload{
			"issue_number":     issueNumber,
			"submission_index": index,
		}); err != nil {
		return 0, err
	}
	return index, tx.Commit()
}

// ReviewSubmission settles or rejects delivered work. Accepting releases the
// payout split through the escrow and marks the issue fulfilled exactly once;
// rejecting leaves the bounty open for further submissions.
func (e Engine) ReviewSubmission(ctx context.Context, repoID string, issueNumber int64, submissionIndex int, accept bool, comment string, split []uint64, actorID string) error {
	is, err := e.GetIssue(ctx, repoID, issueNumber)
	if err != nil {
		return err
	}
	if is.Removed || !is.HasBounty {
		return fmt.Errorf("issue %s#%d: %w", repoID, issueNumber, ErrBountyRemoved)
	}
	if is.Fulfilled {
		return fmt.Errorf("issue %s#%d: %w", repoID, issueNumber, ErrAlreadyFulfilled)
	}
	alloc, err := e.Allocators.Resolve(is.Allocator)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAllocator, err)
	}
	if _, err := alloc.Fulfillment(ctx, is.ExternalID, submissionIndex); err != nil {
		return fmt.Errorf("submission %d on %s#%d: %w", submissionIndex, repoID, issueNumber, err)
	}

	if accept {
		if err := alloc.AcceptFulfillment(ctx, is.ExternalID, submissionIndex, split); err != nil {
			return fmt.Errorf("accept submission %d on %s#%d: %w", submissionIndex, repoID, issueNumber, err)
		}
	} else {
		if err := alloc.RejectFulfillment(ctx, is.ExternalID, submissionIndex, comment); err != nil {
			return fmt.Errorf("reject submission %d on %s#%d: %w", submissionIndex, repoID, issueNumber, err)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	evtType := "submission.rejected"
	if accept {
		evtType = "submission.accepted"
		if err := e.Repo.MarkFulfilled(ctx, tx, repoID, issueNumber, e.ts()); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, evtType, repoID, "issue",
		issueKey(repoID, issueNumber), actorID, events.EventPayload{
			"issue_number":     issueNumber,
			"submission_index": submissionIndex,
			"comment":          comment,
		}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- settings ---

type SettingsOptions struct {
	XPMultipliers    []uint64
	ExperienceLevels []string
	BaseRate         uint64
	BountyDeadline   int64
	BountyCurrency   string
	BountyAllocator  string
	ActorID          string
}

// ChangeBountySettings replaces the settings singleton. The allocator address
// must resolve to a conforming bounty registry; changing it never moves funds
// already held by the previous allocator - live records keep the allocator
// that issued their external id.
func (e Engine) ChangeBountySettings(ctx context.Context, opts SettingsOptions) error {
	if len(opts.XPMultipliers) != len(opts.ExperienceLevels) {
		return fmt.Errorf("%d multipliers for %d levels: %w",
			len(opts.XPMultipliers), len(opts.ExperienceLevels), ErrLengthMismatch)
	}
	if opts.BountyAllocator == "" || opts.BountyAllocator == domain.ZeroAddress {
		return fmt.Errorf("allocator address is zero: %w", ErrInvalidAllocator)
	}
	if _, err := e.Allocators.Resolve(opts.BountyAllocator); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAllocator, err)
	}
	if opts.BountyCurrency == "" {
		opts.BountyCurrency = domain.ZeroAddress
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s := domain.BountySettings{
		XPMultipliers:    opts.XPMultipliers,
		ExperienceLevels: opts.ExperienceLevels,
		BaseRate:         opts.BaseRate,
		BountyDeadline:   opts.BountyDeadline,
		BountyCurrency:   opts.BountyCurrency,
		BountyAllocator:  opts.BountyAllocator,
	}
	if err := e.Repo.PutSettings(ctx, tx, s); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "settings.changed", "", "settings", "1", opts.ActorID,
		events.EventPayload{"allocator": opts.BountyAllocator, "base_rate": opts.BaseRate}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetSettings(ctx context.Context) (domain.BountySettings, error) {
	return e.Repo.GetSettings(ctx)
}

// EnsureSettings seeds the settings row on first boot. Existing settings win.
func (e Engine) EnsureSettings(ctx context.Context, opts SettingsOptions) error {
	_, err := e.Repo.GetSettings(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return e.ChangeBountySettings(ctx, opts)
}

// --- curation ---

type CurateOptions struct {
	Priorities         []int
	DescriptionIndices []int
	Description        string
	RepoIDs            []string
	IssueNumbers       []int64
	CurationID         string
	ActorID            string
}

// CurateIssues records a triage annotation batch. Display-only; the parallel
// arrays are length-checked like every other batch but no funds move.
func (e Engine) CurateIssues(ctx context.Context, opts CurateOptions) (domain.Curation, error) {
	n := len(opts.Priorities)
	if len(opts.DescriptionIndices) != n || len(opts.RepoIDs) != n || len(opts.IssueNumbers) != n {
		return domain.Curation{}, ErrLengthMismatch
	}
	if n > maxBatch {
		return domain.Curation{}, ErrLengthExceeded
	}
	c := domain.Curation{
		ID:          opts.CurationID,
		Description: opts.Description,
		ActorID:     opts.ActorID,
		CreatedAt:   e.ts(),
	}
	for i := 0; i < n; i++ {
		c.Entries = append(c.Entries, domain.CurationEntry{
			CurationID:       c.ID,
			RepoID:           opts.RepoIDs[i],
			IssueNumber:      opts.IssueNumbers[i],
			Priority:         opts.Priorities[i],
			DescriptionIndex: opts.DescriptionIndices[i],
		})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Curation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCuration(ctx, tx, c); err != nil {
		return domain.Curation{}, err
	}
	if err := e.Events.Append(ctx, tx, "issues.curated", "", "curation", c.ID, opts.ActorID,
		events.EventPayload{"entries": n}); err != nil {
		return domain.Curation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Curation{}, err
	}
	return c, nil
}
