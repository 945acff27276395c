package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/escrow"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
	"bountyline/internal/vault"
)

type testEnv struct {
	Engine   engine.Engine
	Vault    *vault.Ledger
	Registry *escrow.LocalRegistry
	Dir      *escrow.LocalDirectory
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	registry := escrow.NewLocalRegistry(conn)
	directory := escrow.NewLocalDirectory(registry)
	ledger := vault.NewLedger(conn)
	eng := engine.New(conn, ledger, directory)
	eng.SetClock(func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) })
	ctx := context.Background()
	err = eng.ChangeBountySettings(ctx, engine.SettingsOptions{
		XPMultipliers:    []uint64{100, 300, 500},
		ExperienceLevels: []string{"Beginner", "Intermediate", "Advanced"},
		BaseRate:         100,
		BountyDeadline:   86400,
		BountyAllocator:  registry.Address(),
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	if err := ledger.Deposit(ctx, "", 1_000_000); err != nil {
		t.Fatalf("seed vault: %v", err)
	}
	return testEnv{Engine: eng, Vault: ledger, Registry: registry, Dir: directory, Ctx: ctx}
}

func (env testEnv) mustAddRepo(t *testing.T, id string) {
	t.Helper()
	if _, err := env.Engine.AddRepo(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("add repo %s: %v", id, err)
	}
}

func (env testEnv) fundOne(t *testing.T, repoID string, issue int64, size uint64) engine.FundedBounty {
	t.Helper()
	funded, err := env.Engine.AddBounties(env.Ctx, engine.FundOptions{
		RepoIDs:      []string{repoID},
		IssueNumbers: []int64{issue},
		Sizes:        []uint64{size},
		Deadlines:    []int64{86400},
		TokenTypes:   []int{domain.TokenNativeVault},
		TokenAddrs:   []string{""},
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("fund %s#%d: %v", repoID, issue, err)
	}
	return funded[0]
}

func TestRepoRegistry(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	if _, err := env.Engine.AddRepo(env.Ctx, "acme-widgets", "tester"); !errors.Is(err, engine.ErrAlreadyExists) {
		t.Fatalf("duplicate add: got %v, want ErrAlreadyExists", err)
	}
	ok, err := env.Engine.IsRegistered(env.Ctx, "acme-widgets")
	if err != nil || !ok {
		t.Fatalf("registered: %v %v", ok, err)
	}
	if err := env.Engine.RemoveRepo(env.Ctx, "acme-widgets", "tester"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := env.Engine.RemoveRepo(env.Ctx, "acme-widgets", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("double remove: got %v, want ErrNotFound", err)
	}
	if n, _ := env.Engine.RepoCount(env.Ctx); n != 0 {
		t.Fatalf("count after remove: %d", n)
	}
}

func TestFundAndSettleBounty(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	before, _ := env.Vault.Balance(env.Ctx, "")
	funded := env.fundOne(t, "acme-widgets", 7, 500)
	after, _ := env.Vault.Balance(env.Ctx, "")
	if before-after != 500 {
		t.Fatalf("vault should hold 500 less, before=%d after=%d", before, after)
	}
	is, err := env.Engine.GetIssue(env.Ctx, "acme-widgets", 7)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if !is.HasBounty || is.BountySize != 500 || is.ExternalID != funded.ExternalID {
		t.Fatalf("unexpected issue record: %+v", is)
	}
	if !is.Assignable {
		t.Fatalf("standard bounty should be assignable")
	}

	if err := env.Engine.RequestAssignment(env.Ctx, "acme-widgets", 7, "0xworker", "resume"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := env.Engine.ReviewApplication(env.Ctx, "acme-widgets", 7, "0xworker", "welcome", true, "tester"); err != nil {
		t.Fatalf("accept application: %v", err)
	}
	is, _ = env.Engine.GetIssue(env.Ctx, "acme-widgets", 7)
	if is.Assignee != "0xworker" {
		t.Fatalf("assignee not recorded: %q", is.Assignee)
	}

	index, err := env.Engine.SubmitWork(env.Ctx, "acme-widgets", 7, []string{"0xworker"}, "pr#12", "0xworker")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.Engine.ReviewSubmission(env.Ctx, "acme-widgets", 7, index, true, "ship it", []uint64{500}, "tester"); err != nil {
		t.Fatalf("accept submission: %v", err)
	}
	is, _ = env.Engine.GetIssue(env.Ctx, "acme-widgets", 7)
	if !is.Fulfilled {
		t.Fatalf("issue not marked fulfilled")
	}
	// second settlement attempt must be refused
	err = env.Engine.ReviewSubmission(env.Ctx, "acme-widgets", 7, index, true, "", []uint64{500}, "tester")
	if !errors.Is(err, engine.ErrAlreadyFulfilled) {
		t.Fatalf("double accept: got %v, want ErrAlreadyFulfilled", err)
	}
}

func TestFundRejectsBadTokenConfig(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	cases := []struct {
		name      string
		tokenType int
		tokenAddr string
	}{
		{"unknown type", 2, ""},
		{"native with token address", domain.TokenNativeVault, "0xfeed"},
		{"fungible without address", domain.TokenFungible, ""},
		{"fungible with zero address", domain.TokenFungible, domain.ZeroAddress},
	}
	for _, tc := range cases {
		_, err := env.Engine.AddBounties(env.Ctx, engine.FundOptions{
			RepoIDs:      []string{"acme-widgets"},
			IssueNumbers: []int64{1},
			Sizes:        []uint64{10},
			Deadlines:    []int64{3600},
			TokenTypes:   []int{tc.tokenType},
			TokenAddrs:   []string{tc.tokenAddr},
			ActorID:      "tester",
		})
		if !errors.Is(err, engine.ErrInvalidTokenConfig) {
			t.Fatalf("%s: got %v, want ErrInvalidTokenConfig", tc.name, err)
		}
	}
}

func TestFundAttachedValueMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	_, err := env.Engine.AddBounties(env.Ctx, engine.FundOptions{
		RepoIDs:      []string{"acme-widgets"},
		IssueNumbers: []int64{1},
		Sizes:        []uint64{40},
		Deadlines:    []int64{3600},
		TokenTypes:   []int{domain.TokenNative},
		TokenAddrs:   []string{""},
		Attached:     30,
		ActorID:      "tester",
	})
	if !errors.Is(err, engine.ErrValueMismatch) {
		t.Fatalf("got %v, want ErrValueMismatch", err)
	}
}

func TestFundBatchLengthChecks(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	_, err := env.Engine.AddBounties(env.Ctx, engine.FundOptions{
		RepoIDs:      []string{"acme-widgets", "acme-widgets"},
		IssueNumbers: []int64{1},
		Sizes:        []uint64{10, 10},
		Deadlines:    []int64{3600, 3600},
		TokenTypes:   []int{1, 1},
		TokenAddrs:   []string{"", ""},
		ActorID:      "tester",
	})
	if !errors.Is(err, engine.ErrLengthMismatch) {
		t.Fatalf("ragged arrays: got %v, want ErrLengthMismatch", err)
	}

	big := 257
	opts := engine.FundOptions{ActorID: "tester"}
	for i := 0; i < big; i++ {
		opts.RepoIDs = append(opts.RepoIDs, "acme-widgets")
		opts.IssueNumbers = append(opts.IssueNumbers, int64(i))
		opts.Sizes = append(opts.Sizes, 1)
		opts.Deadlines = append(opts.Deadlines, 3600)
		opts.TokenTypes = append(opts.TokenTypes, 1)
		opts.TokenAddrs = append(opts.TokenAddrs, "")
	}
	if _, err := env.Engine.AddBounties(env.Ctx, opts); !errors.Is(err, engine.ErrLengthExceeded) {
		t.Fatalf("oversized batch: got %v, want ErrLengthExceeded", err)
	}
}

func TestFundBatchRejectsDuplicateIssue(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	before, _ := env.Vault.Balance(env.Ctx, "")
	// both entries target the same issue; neither may reach escrow
	_, err := env.Engine.AddBounties(env.Ctx, engine.FundOptions{
		RepoIDs:      []string{"acme-widgets", "acme-widgets"},
		IssueNumbers: []int64{7, 7},
		Sizes:        []uint64{100, 200},
		Deadlines:    []int64{3600, 3600},
		TokenTypes:   []int{1, 1},
		TokenAddrs:   []string{"", ""},
		ActorID:      "tester",
	})
	if !errors.Is(err, engine.ErrAlreadyExists) {
		t.Fatalf("duplicate entries: got %v, want ErrAlreadyExists", err)
	}
	after, _ := env.Vault.Balance(env.Ctx, "")
	if before != after {
		t.Fatalf("vault touched by rejected batch: before=%d after=%d", before, after)
	}
	if _, err := env.Engine.GetIssue(env.Ctx, "acme-widgets", 7); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("no record should exist, got %v", err)
	}
}

func TestKillBatchRejectsDuplicateIssue(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	env.fundOne(t, "acme-widgets", 7, 100)
	before, _ := env.Vault.Balance(env.Ctx, "")
	err := env.Engine.RemoveBounties(env.Ctx, engine.KillOptions{
		RepoIDs:      []string{"acme-widgets", "acme-widgets"},
		IssueNumbers: []int64{7, 7},
		ActorID:      "tester",
	})
	if !errors.Is(err, engine.ErrAlreadyExists) {
		t.Fatalf("duplicate kill entries: got %v, want ErrAlreadyExists", err)
	}
	after, _ := env.Vault.Balance(env.Ctx, "")
	if before != after {
		t.Fatalf("vault touched by rejected batch: before=%d after=%d", before, after)
	}
	is, _ := env.Engine.GetIssue(env.Ctx, "acme-widgets", 7)
	if !is.HasBounty {
		t.Fatalf("bounty should stay live: %+v", is)
	}
}

func TestFundLiveBountyRejected(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	env.fundOne(t, "acme-widgets", 3, 100)
	_, err := env.Engine.AddBounties(env.Ctx, engine.FundOptions{
		RepoIDs:      []string{"acme-widgets"},
		IssueNumbers: []int64{3},
		Sizes:        []uint64{100},
		Deadlines:    []int64{3600},
		TokenTypes:   []int{1},
		TokenAddrs:   []string{""},
		ActorID:      "tester",
	})
	if !errors.Is(err, engine.ErrAlreadyExists) {
		t.Fatalf("refund live bounty: got %v, want ErrAlreadyExists", err)
	}
}

func TestFundInsufficientVault(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	_, err := env.Engine.AddBounties(env.Ctx, engine.FundOptions{
		RepoIDs:      []string{"acme-widgets"},
		IssueNumbers: []int64{1},
		Sizes:        []uint64{2_000_000},
		Deadlines:    []int64{3600},
		TokenTypes:   []int{1},
		TokenAddrs:   []string{""},
		ActorID:      "tester",
	})
	if !errors.Is(err, vault.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

// flakyAllocator delegates to a real registry but fails IssueAndFund after a
// set number of calls, so batch unwinding can be observed.
type flakyAllocator struct {
	inner     *escrow.LocalRegistry
	remaining int
}

func (f *flakyAllocator) IssueAndFund(ctx context.Context, metadata, payer string, deadline int64, currency string, amount uint64) (int64, error) {
	if f.remaining <= 0 {
		return 0, errors.New("registry unavailable")
	}
	f.remaining--
	return f.inner.IssueAndFund(ctx, metadata, payer, deadline, currency, amount)
}

func (f *flakyAllocator) Fulfill(ctx context.Context, bountyID int64, fulfillers []string, evidence string) (int, error) {
	return f.inner.Fulfill(ctx, bountyID, fulfillers, evidence)
}

func (f *flakyAllocator) Fulfillment(ctx context.Context, bountyID int64, index int) (escrow.Fulfillment, error) {
	return f.inner.Fulfillment(ctx, bountyID, index)
}

func (f *flakyAllocator) AcceptFulfillment(ctx context.Context, bountyID int64, index int, split []uint64) error {
	return f.inner.AcceptFulfillment(ctx, bountyID, index, split)
}

func (f *flakyAllocator) RejectFulfillment(ctx context.Context, bountyID int64, index int, comment string) error {
	return f.inner.RejectFulfillment(ctx, bountyID, index, comment)
}

func (f *flakyAllocator) Refund(ctx context.Context, bountyID int64) (uint64, error) {
	return f.inner.Refund(ctx, bountyID)
}

func TestFundBatchUnwindsOnEscrowFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	flakyAddr := "0x00000000000000000000000000000000000f1a4e"
	env.Dir.Register(flakyAddr, &flakyAllocator{inner: env.Registry, remaining: 1})
	err := env.Engine.ChangeBountySettings(env.Ctx, engine.SettingsOptions{
		XPMultipliers:    []uint64{100},
		ExperienceLevels: []string{"Beginner"},
		BaseRate:         100,
		BountyDeadline:   86400,
		BountyAllocator:  flakyAddr,
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatalf("switch allocator: %v", err)
	}
	before, _ := env.Vault.Balance(env.Ctx, "")
	_, err = env.Engine.AddBounties(env.Ctx, engine.FundOptions{
		RepoIDs:      []string{"acme-widgets", "acme-widgets"},
		IssueNumbers: []int64{1, 2},
		Sizes:        []uint64{100, 200},
		Deadlines:    []int64{3600, 3600},
		TokenTypes:   []int{1, 1},
		TokenAddrs:   []string{"", ""},
		ActorID:      "tester",
	})
	if err == nil {
		t.Fatalf("expected batch failure on second entry")
	}
	after, _ := env.Vault.Balance(env.Ctx, "")
	if before != after {
		t.Fatalf("vault not restored after unwind: before=%d after=%d", before, after)
	}
	if _, err := env.Engine.GetIssue(env.Ctx, "acme-widgets", 1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("no record should exist for unwound entry, got %v", err)
	}
}

func TestFundUnwindSkipsAttachedEntries(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	flakyAddr := "0x00000000000000000000000000000000000f1a4e"
	env.Dir.Register(flakyAddr, &flakyAllocator{inner: env.Registry, remaining: 1})
	err := env.Engine.ChangeBountySettings(env.Ctx, engine.SettingsOptions{
		XPMultipliers:    []uint64{100},
		ExperienceLevels: []string{"Beginner"},
		BaseRate:         100,
		BountyDeadline:   86400,
		BountyAllocator:  flakyAddr,
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatalf("switch allocator: %v", err)
	}
	before, _ := env.Vault.Balance(env.Ctx, "")
	// first entry carries attached value, second draws from the vault and
	// fails in escrow; the attached refund must not be credited to the vault
	_, err = env.Engine.AddBounties(env.Ctx, engine.FundOptions{
		RepoIDs:      []string{"acme-widgets", "acme-widgets"},
		IssueNumbers: []int64{1, 2},
		Sizes:        []uint64{100, 100},
		Deadlines:    []int64{3600, 3600},
		TokenTypes:   []int{domain.TokenNative, domain.TokenNativeVault},
		TokenAddrs:   []string{"", ""},
		Attached:     100,
		ActorID:      "tester",
	})
	if err == nil {
		t.Fatalf("expected batch failure on second entry")
	}
	after, _ := env.Vault.Balance(env.Ctx, "")
	if before != after {
		t.Fatalf("vault balance changed across a failed batch: before=%d after=%d", before, after)
	}
}

func TestInjectedClockStampsEvents(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	events, err := env.Engine.Repo.ListEvents(env.Ctx, "acme-widgets", 10)
	if err != nil || len(events) == 0 {
		t.Fatalf("list events: %v %v", events, err)
	}
	if events[0].TS != "2024-05-01T00:00:00Z" {
		t.Fatalf("event ts: got %s, want injected clock", events[0].TS)
	}
}

func TestKillRefundsVault(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	env.fundOne(t, "acme-widgets", 5, 300)
	mid, _ := env.Vault.Balance(env.Ctx, "")
	err := env.Engine.RemoveBounties(env.Ctx, engine.KillOptions{
		RepoIDs:      []string{"acme-widgets"},
		IssueNumbers: []int64{5},
		Reason:       "stale",
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	after, _ := env.Vault.Balance(env.Ctx, "")
	if after-mid != 300 {
		t.Fatalf("refund not credited: mid=%d after=%d", mid, after)
	}
	is, err := env.Engine.GetIssue(env.Ctx, "acme-widgets", 5)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if is.HasBounty || !is.Removed || is.BountySize != 0 || is.ExternalID != 0 {
		t.Fatalf("record not cleared: %+v", is)
	}

	// the record stays readable but cannot be killed twice
	err = env.Engine.RemoveBounties(env.Ctx, engine.KillOptions{
		RepoIDs: []string{"acme-widgets"}, IssueNumbers: []int64{5}, ActorID: "tester",
	})
	if !errors.Is(err, engine.ErrBountyRemoved) {
		t.Fatalf("double kill: got %v, want ErrBountyRemoved", err)
	}
}

func TestKillExclusions(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")

	err := env.Engine.RemoveBounties(env.Ctx, engine.KillOptions{
		RepoIDs: []string{"acme-widgets"}, IssueNumbers: []int64{99}, ActorID: "tester",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("kill unknown issue: got %v, want ErrNotFound", err)
	}

	env.fundOne(t, "acme-widgets", 1, 100)
	index, err := env.Engine.SubmitWork(env.Ctx, "acme-widgets", 1, []string{"0xworker"}, "done", "0xworker")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.Engine.ReviewSubmission(env.Ctx, "acme-widgets", 1, index, true, "", []uint64{100}, "tester"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	err = env.Engine.RemoveBounties(env.Ctx, engine.KillOptions{
		RepoIDs: []string{"acme-widgets"}, IssueNumbers: []int64{1}, ActorID: "tester",
	})
	if !errors.Is(err, engine.ErrBountyFulfilled) {
		t.Fatalf("kill fulfilled: got %v, want ErrBountyFulfilled", err)
	}
}

func TestKillBatchIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	env.fundOne(t, "acme-widgets", 1, 100)
	before, _ := env.Vault.Balance(env.Ctx, "")
	// second entry is unknown, so the first must not be refunded either
	err := env.Engine.RemoveBounties(env.Ctx, engine.KillOptions{
		RepoIDs:      []string{"acme-widgets", "acme-widgets"},
		IssueNumbers: []int64{1, 42},
		ActorID:      "tester",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	after, _ := env.Vault.Balance(env.Ctx, "")
	if before != after {
		t.Fatalf("partial refund leaked: before=%d after=%d", before, after)
	}
	is, _ := env.Engine.GetIssue(env.Ctx, "acme-widgets", 1)
	if !is.HasBounty {
		t.Fatalf("first entry should stay live")
	}
}

func TestDuplicateApplication(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	env.fundOne(t, "acme-widgets", 2, 100)
	if err := env.Engine.RequestAssignment(env.Ctx, "acme-widgets", 2, "0xabc", ""); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	err := env.Engine.RequestAssignment(env.Ctx, "acme-widgets", 2, "0xabc", "")
	if !errors.Is(err, engine.ErrDuplicateApplication) {
		t.Fatalf("second apply: got %v, want ErrDuplicateApplication", err)
	}
	// a rejected applicant may apply again
	if err := env.Engine.ReviewApplication(env.Ctx, "acme-widgets", 2, "0xabc", "not yet", false, "tester"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := env.Engine.RequestAssignment(env.Ctx, "acme-widgets", 2, "0xabc", ""); err != nil {
		t.Fatalf("re-apply after rejection: %v", err)
	}
	if n, _ := env.Engine.GetApplicantsLength(env.Ctx, "acme-widgets", 2); n != 2 {
		t.Fatalf("applicant count: %d", n)
	}
}

func TestReviewApplicationTwiceReportsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	env.fundOne(t, "acme-widgets", 2, 100)
	if err := env.Engine.RequestAssignment(env.Ctx, "acme-widgets", 2, "0xabc", ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := env.Engine.ReviewApplication(env.Ctx, "acme-widgets", 2, "0xabc", "", true, "tester"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	err := env.Engine.ReviewApplication(env.Ctx, "acme-widgets", 2, "0xabc", "", true, "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("re-review: got %v, want ErrNotFound", err)
	}
}

func TestOpenBountySkipsAssignment(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	funded, err := env.Engine.AddOpenBounties(env.Ctx, engine.FundOptions{
		RepoIDs:      []string{"acme-widgets"},
		IssueNumbers: []int64{9},
		Sizes:        []uint64{250},
		Deadlines:    []int64{3600},
		TokenTypes:   []int{1},
		TokenAddrs:   []string{""},
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("fund open: %v", err)
	}
	if err := env.Engine.RequestAssignment(env.Ctx, "acme-widgets", 9, "0xabc", ""); err != nil {
		t.Fatalf("applying to an open bounty is allowed: %v", err)
	}
	err = env.Engine.ReviewApplication(env.Ctx, "acme-widgets", 9, "0xabc", "", true, "tester")
	if !errors.Is(err, engine.ErrOpenBountyNotAssignable) {
		t.Fatalf("review on open bounty: got %v, want ErrOpenBountyNotAssignable", err)
	}
	// first accepted submission settles without any assignment
	index, err := env.Engine.SubmitWork(env.Ctx, "acme-widgets", 9, []string{"0xanyone"}, "patch", "0xanyone")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.Engine.ReviewSubmission(env.Ctx, "acme-widgets", 9, index, true, "", []uint64{250}, "tester"); err != nil {
		t.Fatalf("settle open bounty: %v", err)
	}
	is, _ := env.Engine.GetIssue(env.Ctx, "acme-widgets", 9)
	if !is.Fulfilled || is.ExternalID != funded[0].ExternalID {
		t.Fatalf("open bounty not settled: %+v", is)
	}
}

func TestRefundAfterKillStartsNewGeneration(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	first := env.fundOne(t, "acme-widgets", 4, 100)
	err := env.Engine.RemoveBounties(env.Ctx, engine.KillOptions{
		RepoIDs: []string{"acme-widgets"}, IssueNumbers: []int64{4}, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	second := env.fundOne(t, "acme-widgets", 4, 150)
	if second.ExternalID == first.ExternalID {
		t.Fatalf("refunded issue reused external id %d", first.ExternalID)
	}
	is, _ := env.Engine.GetIssue(env.Ctx, "acme-widgets", 4)
	if is.Generation != 1 {
		t.Fatalf("generation: got %d, want 1", is.Generation)
	}
	if is.Removed || !is.HasBounty || is.BountySize != 150 {
		t.Fatalf("refunded bounty record: %+v", is)
	}
}

func TestRejectSubmissionKeepsBountyOpen(t *testing.T) {
	env := newTestEnv(t)
	env.mustAddRepo(t, "acme-widgets")
	env.fundOne(t, "acme-widgets", 6, 100)
	index, err := env.Engine.SubmitWork(env.Ctx, "acme-widgets", 6, []string{"0xworker"}, "wip", "0xworker")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.Engine.ReviewSubmission(env.Ctx, "acme-widgets", 6, index, false, "needs tests", nil, "tester"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	is, _ := env.Engine.GetIssue(env.Ctx, "acme-widgets", 6)
	if is.Fulfilled || !is.HasBounty {
		t.Fatalf("rejected submission should leave bounty live: %+v", is)
	}
	// a later submission can still settle
	index, err = env.Engine.SubmitWork(env.Ctx, "acme-widgets", 6, []string{"0xworker"}, "fixed", "0xworker")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if err := env.Engine.ReviewSubmission(env.Ctx, "acme-widgets", 6, index, true, "", []uint64{100}, "tester"); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func TestSettingsValidation(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.ChangeBountySettings(env.Ctx, engine.SettingsOptions{
		XPMultipliers:    []uint64{100, 200},
		ExperienceLevels: []string{"Beginner"},
		BountyAllocator:  env.Registry.Address(),
		ActorID:          "tester",
	})
	if !errors.Is(err, engine.ErrLengthMismatch) {
		t.Fatalf("ragged levels: got %v, want ErrLengthMismatch", err)
	}

	err = env.Engine.ChangeBountySettings(env.Ctx, engine.SettingsOptions{
		XPMultipliers:    []uint64{100},
		ExperienceLevels: []string{"Beginner"},
		BountyAllocator:  domain.ZeroAddress,
		ActorID:          "tester",
	})
	if !errors.Is(err, engine.ErrInvalidAllocator) {
		t.Fatalf("zero allocator: got %v, want ErrInvalidAllocator", err)
	}

	err = env.Engine.ChangeBountySettings(env.Ctx, engine.SettingsOptions{
		XPMultipliers:    []uint64{100},
		ExperienceLevels: []string{"Beginner"},
		BountyAllocator:  "0x000000000000000000000000000000000000beef",
		ActorID:          "tester",
	})
	if !errors.Is(err, engine.ErrInvalidAllocator) {
		t.Fatalf("unresolvable allocator: got %v, want ErrInvalidAllocator", err)
	}

	// EnsureSettings never overwrites an existing row
	err = env.Engine.EnsureSettings(env.Ctx, engine.SettingsOptions{
		XPMultipliers:    []uint64{1},
		ExperienceLevels: []string{"Other"},
		BaseRate:         1,
		BountyDeadline:   1,
		BountyAllocator:  env.Registry.Address(),
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	s, err := env.Engine.GetSettings(env.Ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if s.BaseRate != 100 || len(s.ExperienceLevels) != 3 {
		t.Fatalf("seed settings overwritten: %+v", s)
	}
}

func TestCurateIssues(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.CurateIssues(env.Ctx, engine.CurateOptions{
		Priorities:         []int{1, 2},
		DescriptionIndices: []int{0, 0},
		RepoIDs:            []string{"acme-widgets", "acme-tools"},
		IssueNumbers:       []int64{1, 2},
		Description:        "sprint 4",
		CurationID:         "cur-1",
		ActorID:            "tester",
	})
	if err != nil {
		t.Fatalf("curate: %v", err)
	}
	if len(c.Entries) != 2 || c.Entries[1].Priority != 2 {
		t.Fatalf("curation entries: %+v", c.Entries)
	}
	got, err := env.Engine.Repo.GetCuration(env.Ctx, "cur-1")
	if err != nil {
		t.Fatalf("get curation: %v", err)
	}
	if got.Description != "sprint 4" || len(got.Entries) != 2 {
		t.Fatalf("stored curation: %+v", got)
	}

	_, err = env.Engine.CurateIssues(env.Ctx, engine.CurateOptions{
		Priorities:         []int{1},
		DescriptionIndices: []int{},
		RepoIDs:            []string{"acme-widgets"},
		IssueNumbers:       []int64{1},
		ActorID:            "tester",
	})
	if !errors.Is(err, engine.ErrLengthMismatch) {
		t.Fatalf("ragged curation: got %v, want ErrLengthMismatch", err)
	}
}
