package state

// Distribution constants.
const (
	// SecondsPerDay gates the 24-hour crank window.
	SecondsPerDay int64 = 86_400

	// MinPayoutFloor is the smallest allowed dust threshold at policy setup.
	MinPayoutFloor uint64 = 1_000

	// MaxPageSize bounds the number of investors one crank call may touch.
	MaxPageSize uint32 = 50
)

// PolicyParams are the caller-supplied parameters for policy setup.
type PolicyParams struct {
	CreatorWallet       Address `json:"creator_wallet"`
	InvestorFeeShareBps uint16  `json:"investor_fee_share_bps"`
	DailyCapLamports    *uint64 `json:"daily_cap_lamports,omitempty"`
	MinPayoutLamports   uint64  `json:"min_payout_lamports"`
	Y0TotalAllocation   uint64  `json:"y0_total_allocation"`
	TotalInvestors      uint32  `json:"total_investors"`
}

// Policy is the immutable per-vault distribution configuration.
type Policy struct {
	// Vault this policy applies to
	Vault Address

	// Creator wallet receiving the non-investor remainder
	CreatorWallet Address

	// Cap on the investor share of claimed fees (0-10000)
	InvestorFeeShareBps uint16

	// Optional ceiling on the amount paid to investors per day; nil = unbounded
	DailyCapLamports *uint64

	// Computed payouts below this are dust, left untransferred
	MinPayoutLamports uint64

	// Original total allocation across all investors (Y0), normalizes
	// the locked fraction. Always > 0.
	Y0TotalAllocation uint64

	// Fixed investor-set size all pages together must cover once per day
	TotalInvestors uint32

	CreatedAt int64
	UpdatedAt int64
}

// NewPolicy builds a Policy from validated params. Callers must run
// engine.ValidatePolicyParams first.
func NewPolicy(vault Address, params PolicyParams, now int64) *Policy {
	var cap *uint64
	if params.DailyCapLamports != nil {
		c := *params.DailyCapLamports
		cap = &c
	}
	return &Policy{
		Vault:               vault,
		CreatorWallet:       params.CreatorWallet,
		InvestorFeeShareBps: params.InvestorFeeShareBps,
		DailyCapLamports:    cap,
		MinPayoutLamports:   params.MinPayoutLamports,
		Y0TotalAllocation:   params.Y0TotalAllocation,
		TotalInvestors:      params.TotalInvestors,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
