package state

// HonoraryPosition records the fee-only liquidity position owned by the
// distribution system. Created once per vault, never mutated here; the
// position's accrual state lives with the fee source.
type HonoraryPosition struct {
	Vault Address

	// Pool the position belongs to
	Pool Address

	// Designated (quote) asset the position collects fees in
	QuoteMint Address

	// The pool's other asset; fees in it must never accrue
	BaseMint Address

	// Opaque handle for fee claims against the pool
	PositionHandle Address

	// Lifetime quote fees claimed through this position
	TotalFeesClaimed uint64

	CreatedAt int64
}
