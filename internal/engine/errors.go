package engine

import "errors"

// Failure kinds surfaced by the engine. Every operation is all-or-nothing:
// when one of these comes back, no state changed and no funds moved.
var (
	ErrAlreadyExists           = errors.New("already exists")
	ErrLengthMismatch          = errors.New("array lengths differ")
	ErrLengthExceeded          = errors.New("batch exceeds 256 entries")
	ErrInvalidTokenConfig      = errors.New("invalid token configuration")
	ErrValueMismatch           = errors.New("attached value does not match bounty sizes")
	ErrDuplicateApplication    = errors.New("applicant already has an unreviewed application")
	ErrOpenBountyNotAssignable = errors.New("open bounty does not take assignment")
	ErrAlreadyFulfilled        = errors.New("bounty already fulfilled")
	ErrBountyRemoved           = errors.New("bounty already removed")
	ErrBountyFulfilled         = errors.New("fulfilled bounty cannot be removed")
	ErrInvalidAllocator        = errors.New("invalid bounty allocator")
)

// maxBatch caps parallel-array operations.
const maxBatch = 256
