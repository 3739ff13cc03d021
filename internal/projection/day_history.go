package projection

import (
	"sync"

	"FeeRouter/internal/event"
	"FeeRouter/internal/state"
)

// DayRecord summarizes one completed distribution day for a vault.
type DayRecord struct {
	Vault            state.Address `json:"vault"`
	ClaimedQuote     uint64        `json:"claimed_quote"`
	Pages            uint32        `json:"pages"`
	InvestorsPaid    uint32        `json:"investors_paid"`
	InvestorTotal    uint64        `json:"investor_total"`
	DustCarried      uint64        `json:"dust_carried"`
	CreatorAmount    uint64        `json:"creator_amount"`
	TotalDistributed uint64        `json:"total_distributed"`
	ClosedTs         int64         `json:"closed_ts"`
}

// DayHistory is an in-memory projection of recent distribution days,
// built from the published event stream. It is advisory: the durable
// record lives in the transfers table, and the projection can always
// be rebuilt from the event archive.
type DayHistory struct {
	mu      sync.RWMutex
	pending map[state.Address]*DayRecord
	closed  []DayRecord
	retain  int
}

// NewDayHistory retains at most retain closed days across all vaults.
func NewDayHistory(retain int) *DayHistory {
	if retain <= 0 {
		retain = 1024
	}
	return &DayHistory{
		pending: make(map[state.Address]*DayRecord),
		retain:  retain,
	}
}

// Observe folds a domain event into the projection. Events that carry no
// distribution data are ignored.
func (p *DayHistory) Observe(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case *event.QuoteFeesClaimed:
		day := p.day(e.Vault)
		day.ClaimedQuote += e.Amount

	case *event.InvestorPayoutPage:
		day := p.day(e.Vault)
		day.Pages++
		day.InvestorsPaid += e.InvestorsPaid
		day.InvestorTotal += e.TotalPaid
		day.DustCarried += e.DustCarried

	case *event.CreatorPayoutDayClosed:
		day := p.day(e.Vault)
		day.CreatorAmount = e.CreatorAmount
		day.TotalDistributed = e.TotalDistributed
		day.ClosedTs = e.Timestamp
		p.closed = append(p.closed, *day)
		if len(p.closed) > p.retain {
			p.closed = p.closed[len(p.closed)-p.retain:]
		}
		delete(p.pending, e.Vault)
	}
}

// RecentDays returns up to limit closed days for the vault, newest first.
func (p *DayHistory) RecentDays(vault state.Address, limit int) []DayRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if limit <= 0 {
		limit = 30
	}
	result := make([]DayRecord, 0, limit)
	for i := len(p.closed) - 1; i >= 0 && len(result) < limit; i-- {
		if p.closed[i].Vault == vault {
			result = append(result, p.closed[i])
		}
	}
	return result
}

// InFlight returns the accumulating record for a day that has started but
// not yet closed, or nil.
func (p *DayHistory) InFlight(vault state.Address) *DayRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	day, ok := p.pending[vault]
	if !ok {
		return nil
	}
	copied := *day
	return &copied
}

func (p *DayHistory) day(vault state.Address) *DayRecord {
	day, ok := p.pending[vault]
	if !ok {
		day = &DayRecord{Vault: vault}
		p.pending[vault] = day
	}
	return day
}
