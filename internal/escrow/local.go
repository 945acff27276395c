package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bountyline/internal/domain"
)

var (
	ErrBountyNotFound      = errors.New("escrow bounty not found")
	ErrFulfillmentNotFound = errors.New("fulfillment not found")
	ErrBountyInactive      = errors.New("escrow bounty inactive")
	ErrBadPayout           = errors.New("payout split invalid")
)

// LocalRegistry is a sqlite-backed Allocator so the engine runs end-to-end
// without a remote escrow service. It lives in the same database and commits
// per call; the engine compensates with Refund if a later step of a batch
// fails.
type LocalRegistry struct {
	DB   *sql.DB
	Addr string
	Now  func() time.Time
}

const defaultRegistryAddr = "0x72d1ae1d6c8f3dd444b3d95bad554be483082e40"

func NewLocalRegistry(db *sql.DB) *LocalRegistry {
	return &LocalRegistry{DB: db, Addr: defaultRegistryAddr, Now: time.Now}
}

func (l *LocalRegistry) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *LocalRegistry) Address() string { return l.Addr }

func (l *LocalRegistry) IssueAndFund(ctx context.Context, metadata, payer string, deadline int64, currency string, amount uint64) (int64, error) {
	if amount == 0 {
		return 0, errors.New("bounty amount must be positive")
	}
	if currency == "" {
		currency = domain.ZeroAddress
	}
	res, err := l.DB.ExecContext(ctx,
		`INSERT INTO escrow_bounties(metadata, issuer, deadline, currency, balance, active, created_at)
		 VALUES (?,?,?,?,?,1,?)`,
		metadata, payer, deadline, currency, amount, l.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (l *LocalRegistry) Fulfill(ctx context.Context, bountyID int64, fulfillers []string, evidence string) (int, error) {
	if len(fulfillers) == 0 {
		return 0, errors.New("at least one fulfiller required")
	}
	var active bool
	err := l.DB.QueryRowContext(ctx, `SELECT active FROM escrow_bounties WHERE id=?`, bountyID).Scan(&active)
	if err == sql.ErrNoRows {
		return 0, ErrBountyNotFound
	}
	if err != nil {
		return 0, err
	}
	if !active {
		return 0, ErrBountyInactive
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx)+1, 0) FROM escrow_fulfillments WHERE bounty_id=?`, bountyID).Scan(&next); err != nil {
		return 0, err
	}
	data, err := json.Marshal(fulfillers)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO escrow_fulfillments(bounty_id, idx, fulfillers, evidence, created_at) VALUES (?,?,?,?,?)`,
		bountyID, next, string(data), evidence, l.now().UTC().Format(time.RFC3339)); err != nil {
		return 0, err
	}
	return next, tx.Commit()
}

func (l *LocalRegistry) Fulfillment(ctx context.Context, bountyID int64, index int) (Fulfillment, error) {
	var f Fulfillment
	var fulfillers string
	err := l.DB.QueryRowContext(ctx,
		`SELECT bounty_id, idx, fulfillers, evidence, accepted, created_at
		 FROM escrow_fulfillments WHERE bounty_id=? AND idx=?`, bountyID, index).
		Scan(&f.BountyID, &f.Index, &fulfillers, &f.Evidence, &f.Accepted, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrFulfillmentNotFound
	}
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal([]byte(fulfillers), &f.Fulfillers); err != nil {
		return f, err
	}
	return f, nil
}

func (l *LocalRegistry) AcceptFulfillment(ctx context.Context, bountyID int64, index int, split []uint64) error {
	f, err := l.Fulfillment(ctx, bountyID, index)
	if err != nil {
		return err
	}
	if len(split) != len(f.Fulfillers) {
		return fmt.Errorf("%w: %d shares for %d fulfillers", ErrBadPayout, len(split), len(f.Fulfillers))
	}
	var total uint64
	for _, share := range split {
		total += share
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var balance uint64
	var active bool
	err = tx.QueryRowContext(ctx, `SELECT balance, active FROM escrow_bounties WHERE id=?`, bountyID).Scan(&balance, &active)
	if err == sql.ErrNoRows {
		return ErrBountyNotFound
	}
	if err != nil {
		return err
	}
	if !active {
		return ErrBountyInactive
	}
	if total > balance {
		return fmt.Errorf("%w: payout %d exceeds escrowed %d", ErrBadPayout, total, balance)
	}
	remaining := balance - total
	if _, err := tx.ExecContext(ctx, `UPDATE escrow_bounties SET balance=?, active=? WHERE id=?`,
		remaining, remaining > 0, bountyID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE escrow_fulfillments SET accepted=1 WHERE bounty_id=? AND idx=?`, bountyID, index); err != nil {
		return err
	}
	return tx.Commit()
}

// RejectFulfillment records nothing beyond the engine's own event; the escrow
// keeps the fulfillment so it can be re-reviewed or superseded.
func (l *LocalRegistry) RejectFulfillment(ctx context.Context, bountyID int64, index int, comment string) error {
	_, err := l.Fulfillment(ctx, bountyID, index)
	return err
}

func (l *LocalRegistry) Refund(ctx context.Context, bountyID int64) (uint64, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	var balance uint64
	var active bool
	err = tx.QueryRowContext(ctx, `SELECT balance, active FROM escrow_bounties WHERE id=?`, bountyID).Scan(&balance, &active)
	if err == sql.ErrNoRows {
		return 0, ErrBountyNotFound
	}
	if err != nil {
		return 0, err
	}
	if !active {
		return 0, ErrBountyInactive
	}
	if _, err := tx.ExecContext(ctx, `UPDATE escrow_bounties SET balance=0, active=0 WHERE id=?`, bountyID); err != nil {
		return 0, err
	}
	return balance, tx.Commit()
}

// LocalDirectory resolves only the registries it was built with. Resolve
// doubles as the settings-time capability check.
type LocalDirectory struct {
	registries map[string]Allocator
}

func NewLocalDirectory(regs ...*LocalRegistry) *LocalDirectory {
	d := &LocalDirectory{registries: map[string]Allocator{}}
	for _, r := range regs {
		d.registries[strings.ToLower(r.Addr)] = r
	}
	return d
}

func (d *LocalDirectory) Register(addr string, a Allocator) {
	d.registries[strings.ToLower(addr)] = a
}

func (d *LocalDirectory) Resolve(addr string) (Allocator, error) {
	if addr == "" || addr == domain.ZeroAddress {
		return nil, errors.New("allocator address is zero")
	}
	a, ok := d.registries[strings.ToLower(addr)]
	if !ok {
		return nil, fmt.Errorf("no bounty registry at %s", addr)
	}
	return a, nil
}
