package query

import "github.com/google/uuid"

// ProgressResponse is the crank state for one vault.
type ProgressResponse struct {
	Vault                    string `json:"vault"`
	LastDistributionTs       int64  `json:"last_distribution_ts"`
	Cursor                   uint32 `json:"cursor"`
	DayCompleted             bool   `json:"day_completed"`
	CurrentDayTotalClaimed   uint64 `json:"current_day_total_claimed"`
	CurrentDayDistributed    uint64 `json:"current_day_distributed"`
	CurrentDayTotalLocked    uint64 `json:"current_day_total_locked"`
	TotalDistributions       uint64 `json:"total_distributions"`
	TotalInvestorDistributed uint64 `json:"total_investor_distributed"`
	TotalCreatorDistributed  uint64 `json:"total_creator_distributed"`
	InvestorsPaidThisDay     int    `json:"investors_paid_this_day"`
	NextEligibleTs           int64  `json:"next_eligible_ts"`
	Version                  int64  `json:"version"`
}

// TransferResponse is one executed fund movement.
type TransferResponse struct {
	TransferID    uuid.UUID `json:"transfer_id"`
	BatchID       uuid.UUID `json:"batch_id"`
	Vault         string    `json:"vault"`
	PageStart     uint32    `json:"page_start"`
	FromAccount   string    `json:"from_account"`
	ToAccount     string    `json:"to_account"`
	Amount        uint64    `json:"amount"`
	Kind          string    `json:"kind"`
	InvestorIndex *uint32   `json:"investor_index,omitempty"`
	Timestamp     int64     `json:"timestamp"`
}

// InvestorSummary aggregates one investor's lifetime payouts for a vault.
type InvestorSummary struct {
	Vault         string `json:"vault"`
	InvestorIndex uint32 `json:"investor_index"`
	Wallet        string `json:"wallet"`
	PayoutCount   int64  `json:"payout_count"`
	TotalPaid     uint64 `json:"total_paid"`
}

// IntegrityReport is the result of cross-checking executed transfers
// against the progress counters.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	UnbalancedVaults []UnbalancedVault `json:"unbalanced_vaults,omitempty"`
}

// UnbalancedVault describes one vault whose transfer sums disagree with its
// lifetime counters.
type UnbalancedVault struct {
	Vault            string `json:"vault"`
	CounterInvestor  uint64 `json:"counter_investor"`
	TransferInvestor uint64 `json:"transfer_investor"`
	CounterCreator   uint64 `json:"counter_creator"`
	TransferCreator  uint64 `json:"transfer_creator"`
}
