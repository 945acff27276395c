// Package escrow defines the bounty-registry collaborator: the external
// contract that holds deposited bounty funds and mediates fulfillment,
// acceptance, and refund. The engine depends on the interfaces only; the
// local registry is one implementation.
package escrow

import "context"

type Fulfillment struct {
	BountyID   int64    `json:"bounty_id"`
	Index      int      `json:"index"`
	Fulfillers []string `json:"fulfillers"`
	Evidence   string   `json:"evidence"`
	Accepted   bool     `json:"accepted"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

// Allocator is the escrow surface the engine drives. Fulfill is invoked by
// the fulfiller, not by the lifecycle engine; it is here because the local
// registry implements the whole surface and the CLI exposes it.
type Allocator interface {
	// IssueAndFund registers a bounty holding amount of currency and
	// returns the registry's id for it.
	IssueAndFund(ctx context.Context, metadata, payer string, deadline int64, currency string, amount uint64) (int64, error)
	Fulfill(ctx context.Context, bountyID int64, fulfillers []string, evidence string) (int, error)
	Fulfillment(ctx context.Context, bountyID int64, index int) (Fulfillment, error)
	// AcceptFulfillment releases escrowed funds to the fulfillers per the
	// payout split.
	AcceptFulfillment(ctx context.Context, bountyID int64, index int, split []uint64) error
	RejectFulfillment(ctx context.Context, bountyID int64, index int, comment string) error
	// Refund deactivates the bounty and returns the escrowed amount.
	Refund(ctx context.Context, bountyID int64) (uint64, error)
}

// Directory resolves an allocator address to a live Allocator. A zero,
// unknown, or non-conforming address fails; settings changes call Resolve
// before accepting a new allocator.
type Directory interface {
	Resolve(addr string) (Allocator, error)
}
