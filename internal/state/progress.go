package state

import (
	"fmt"
)

// Paid-investor bitmap capacity: 256 bytes = 2048 investors.
const (
	BitmapBytes  = 256
	MaxInvestors = BitmapBytes * 8
)

// DistributionProgress tracks one vault's current-day distribution cycle.
// Mutated on every committed crank page; persisted keyed by vault.
type DistributionProgress struct {
	// Vault this progress applies to
	Vault Address

	// Start time of the last day's distribution
	LastDistributionTs int64

	// Index of the next unprocessed investor this day; 0 when the day has
	// not started or has just completed
	Cursor uint32

	// Fees claimed this day; set once on the first page, fixed thereafter
	CurrentDayTotalClaimed uint64

	// Running total transferred to investors this day; never decreases
	// within a day
	CurrentDayDistributed uint64

	// Total locked across ALL investors, computed once on the first page
	CurrentDayTotalLocked uint64

	// True only after the final page flushed the creator remainder
	DayCompleted bool

	// Lifetime counters
	TotalDistributions       uint64
	TotalInvestorDistributed uint64
	TotalCreatorDistributed  uint64

	// One bit per investor index, set once paid this day, never cleared
	// within a day
	PaidBitmap [BitmapBytes]byte

	// Optimistic concurrency version; bumped by the store on every commit
	Version int64
}

// NewProgress returns the initial progress for a freshly created policy.
// DayCompleted starts true and LastDistributionTs is zero so the first
// crank is immediately eligible.
func NewProgress(vault Address) *DistributionProgress {
	return &DistributionProgress{
		Vault:        vault,
		DayCompleted: true,
	}
}

// CanDistribute reports whether a crank may run at currentTs: either the
// 24-hour window elapsed since the last day started, or a day is already
// in progress and may continue.
func (p *DistributionProgress) CanDistribute(currentTs int64) bool {
	if p.DayCompleted {
		return currentTs >= p.LastDistributionTs+SecondsPerDay
	}
	return true
}

// StartNewDay resets the per-day fields for a new distribution cycle.
func (p *DistributionProgress) StartNewDay(currentTs int64, totalClaimed, totalLockedAll uint64) {
	p.LastDistributionTs = currentTs
	p.CurrentDayTotalClaimed = totalClaimed
	p.CurrentDayDistributed = 0
	p.CurrentDayTotalLocked = totalLockedAll
	p.Cursor = 0
	p.DayCompleted = false
	p.PaidBitmap = [BitmapBytes]byte{}
}

// CompleteDay finalizes the current cycle after the creator remainder is
// flushed: cursor back to 0, bitmap cleared, lifetime counters bumped.
func (p *DistributionProgress) CompleteDay(creatorAmount uint64, currentTs int64) {
	p.DayCompleted = true
	p.Cursor = 0
	p.LastDistributionTs = currentTs
	p.TotalDistributions++
	p.TotalCreatorDistributed += creatorAmount
	p.PaidBitmap = [BitmapBytes]byte{}
}

// IsInvestorPaid reports whether the bit for investorIndex is set.
// Out-of-range indices read as unpaid.
func (p *DistributionProgress) IsInvestorPaid(investorIndex uint32) bool {
	byteIdx := int(investorIndex / 8)
	bitIdx := investorIndex % 8
	if byteIdx >= BitmapBytes {
		return false
	}
	return p.PaidBitmap[byteIdx]&(1<<bitIdx) != 0
}

// MarkInvestorPaid sets the bit for investorIndex.
func (p *DistributionProgress) MarkInvestorPaid(investorIndex uint32) error {
	byteIdx := int(investorIndex / 8)
	bitIdx := investorIndex % 8
	if byteIdx >= BitmapBytes {
		return fmt.Errorf("investor index %d exceeds bitmap capacity %d", investorIndex, MaxInvestors)
	}
	p.PaidBitmap[byteIdx] |= 1 << bitIdx
	return nil
}

// PaidCount returns the number of investors paid this day.
func (p *DistributionProgress) PaidCount() int {
	count := 0
	for _, b := range p.PaidBitmap {
		for b != 0 {
			count += int(b & 1)
			b >>= 1
		}
	}
	return count
}

// Clone returns a deep copy. The engine mutates a clone so a failed page
// leaves the caller's record untouched.
func (p *DistributionProgress) Clone() *DistributionProgress {
	cp := *p
	return &cp
}
