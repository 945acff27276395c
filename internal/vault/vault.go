// Package vault holds custodial balances per currency. The engine only sees
// the Vault interface; the sqlite ledger below is the default implementation.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bountyline/internal/domain"
)

var ErrInsufficientFunds = errors.New("insufficient vault balance")

// Vault is the custodial collaborator: refunds from killed bounties land
// here, and vault-funded bounties draw from here.
type Vault interface {
	Deposit(ctx context.Context, currency string, amount uint64) error
	Balance(ctx context.Context, currency string) (uint64, error)
	TransferOut(ctx context.Context, destination, currency string, amount uint64) error
}

// Ledger is a sqlite-backed Vault. All mutations go through short
// transactions on the shared database.
type Ledger struct {
	DB *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{DB: db}
}

func normalize(currency string) string {
	if currency == "" {
		return domain.ZeroAddress
	}
	return currency
}

func (l *Ledger) Deposit(ctx context.Context, currency string, amount uint64) error {
	if amount == 0 {
		return errors.New("deposit amount must be positive")
	}
	_, err := l.DB.ExecContext(ctx, `INSERT INTO vault_balances(currency, balance) VALUES (?,?)
		ON CONFLICT(currency) DO UPDATE SET balance = balance + excluded.balance`,
		normalize(currency), amount)
	return err
}

func (l *Ledger) Balance(ctx context.Context, currency string) (uint64, error) {
	var balance uint64
	err := l.DB.QueryRowContext(ctx, `SELECT balance FROM vault_balances WHERE currency=?`,
		normalize(currency)).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

// TransferOut debits the vault. The destination is recorded by the caller's
// event, not by the ledger; the ledger only guarantees the balance never goes
// negative.
func (l *Ledger) TransferOut(ctx context.Context, destination, currency string, amount uint64) error {
	if destination == "" || destination == domain.ZeroAddress {
		return errors.New("transfer destination required")
	}
	res, err := l.DB.ExecContext(ctx,
		`UPDATE vault_balances SET balance = balance - ? WHERE currency=? AND balance >= ?`,
		amount, normalize(currency), amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: need %d of %s", ErrInsufficientFunds, amount, normalize(currency))
	}
	return nil
}
