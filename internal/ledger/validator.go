package ledger

import (
	"fmt"

	"FeeRouter/internal/state"
)

// InvariantValidator checks distribution invariants against tracked balances
// and progress state.
type InvariantValidator struct {
	tracker *TreasuryTracker
}

func NewInvariantValidator(tracker *TreasuryTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateConservation verifies that at day close every claimed lamport is
// accounted for: distributed + creator remainder == total claimed.
func (v *InvariantValidator) ValidateConservation(p *state.DistributionProgress, creatorRemainder uint64) error {
	if p.CurrentDayDistributed+creatorRemainder != p.CurrentDayTotalClaimed {
		return fmt.Errorf("conservation violated for vault %s: distributed=%d + remainder=%d != claimed=%d",
			p.Vault, p.CurrentDayDistributed, creatorRemainder, p.CurrentDayTotalClaimed)
	}
	return nil
}

// ValidateCap verifies the running investor total never exceeds the daily cap.
func (v *InvariantValidator) ValidateCap(p *state.DistributionProgress, dailyCap *uint64) error {
	if dailyCap != nil && p.CurrentDayDistributed > *dailyCap {
		return fmt.Errorf("daily cap violated for vault %s: distributed=%d > cap=%d",
			p.Vault, p.CurrentDayDistributed, *dailyCap)
	}
	return nil
}

// ValidateDistributedWithinClaim verifies distributed never exceeds claimed.
func (v *InvariantValidator) ValidateDistributedWithinClaim(p *state.DistributionProgress) error {
	if p.CurrentDayDistributed > p.CurrentDayTotalClaimed {
		return fmt.Errorf("vault %s distributed %d exceeds claimed %d",
			p.Vault, p.CurrentDayDistributed, p.CurrentDayTotalClaimed)
	}
	return nil
}

// ValidateBaseTreasuryZero verifies the base-asset treasury never holds funds.
func (v *InvariantValidator) ValidateBaseTreasuryZero(vault state.Address) error {
	key := NewTreasuryAccountKey(vault, AssetBase)
	if balance := v.tracker.GetBalance(key); balance != 0 {
		return fmt.Errorf("base treasury for vault %s holds %d, want 0", vault, balance)
	}
	return nil
}
