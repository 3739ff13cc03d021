package event

import (
	"FeeRouter/internal/state"
)

// Type discriminator for domain events
type Type int32

const (
	TypeUnknown Type = iota
	TypePolicySetup
	TypeHonoraryPositionInitialized
	TypeQuoteFeesClaimed
	TypeInvestorPayoutPage
	TypeCreatorPayoutDayClosed
)

func (t Type) String() string {
	switch t {
	case TypePolicySetup:
		return "PolicySetup"
	case TypeHonoraryPositionInitialized:
		return "HonoraryPositionInitialized"
	case TypeQuoteFeesClaimed:
		return "QuoteFeesClaimed"
	case TypeInvestorPayoutPage:
		return "InvestorPayoutPage"
	case TypeCreatorPayoutDayClosed:
		return "CreatorPayoutDayClosed"
	default:
		return "Unknown"
	}
}

// Event is the interface all domain events implement
type Event interface {
	// EventType returns the discriminator
	EventType() Type

	// EventVault returns the vault the event belongs to
	EventVault() state.Address
}

// PolicySetup is emitted once when a vault's policy is created.
type PolicySetup struct {
	Vault               state.Address `json:"vault"`
	CreatorWallet       state.Address `json:"creator_wallet"`
	InvestorFeeShareBps uint16        `json:"investor_fee_share_bps"`
	Y0TotalAllocation   uint64        `json:"y0_total_allocation"`
	TotalInvestors      uint32        `json:"total_investors"`
	Timestamp           int64         `json:"timestamp"`
}

func (e *PolicySetup) EventType() Type { return TypePolicySetup }
func (e *PolicySetup) EventVault() state.Address { return e.Vault }

// HonoraryPositionInitialized is emitted once when the fee-only position
// passes quote-only validation and is registered.
type HonoraryPositionInitialized struct {
	Vault     state.Address `json:"vault"`
	Pool      state.Address `json:"pool"`
	Position  state.Address `json:"position"`
	QuoteMint state.Address `json:"quote_mint"`
	Timestamp int64         `json:"timestamp"`
}

func (e *HonoraryPositionInitialized) EventType() Type { return TypeHonoraryPositionInitialized }
func (e *HonoraryPositionInitialized) EventVault() state.Address { return e.Vault }

// QuoteFeesClaimed is emitted on the first page of a day after the claim
// passes the quote-only guard.
type QuoteFeesClaimed struct {
	Vault     state.Address `json:"vault"`
	Amount    uint64        `json:"amount"`
	Timestamp int64         `json:"timestamp"`
}

func (e *QuoteFeesClaimed) EventType() Type { return TypeQuoteFeesClaimed }
func (e *QuoteFeesClaimed) EventVault() state.Address { return e.Vault }

// InvestorPayoutPage is emitted for every committed crank page.
type InvestorPayoutPage struct {
	Vault         state.Address `json:"vault"`
	PageStart     uint32        `json:"page_start"`
	PageSize      uint32        `json:"page_size"`
	InvestorsPaid uint32        `json:"investors_paid"`
	TotalPaid     uint64        `json:"total_paid"`
	DustCarried   uint64        `json:"dust_carried"`
	Timestamp     int64         `json:"timestamp"`
}

func (e *InvestorPayoutPage) EventType() Type { return TypeInvestorPayoutPage }
func (e *InvestorPayoutPage) EventVault() state.Address { return e.Vault }

// CreatorPayoutDayClosed is emitted when the final page flushes the creator
// remainder and the day completes.
type CreatorPayoutDayClosed struct {
	Vault            state.Address `json:"vault"`
	CreatorAmount    uint64        `json:"creator_amount"`
	TotalDistributed uint64        `json:"total_distributed"`
	Timestamp        int64         `json:"timestamp"`
}

func (e *CreatorPayoutDayClosed) EventType() Type { return TypeCreatorPayoutDayClosed }
func (e *CreatorPayoutDayClosed) EventVault() state.Address { return e.Vault }
