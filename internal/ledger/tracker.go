package ledger

import (
	"fmt"
)

// TreasuryTracker maintains running balances per account path.
// Pool accounts are fund sources with unbounded credit; every other account
// must never go negative.
// Not thread-safe — callers serialize per vault.
type TreasuryTracker struct {
	balances map[string]uint64
}

func NewTreasuryTracker() *TreasuryTracker {
	return &TreasuryTracker{
		balances: make(map[string]uint64),
	}
}

// GetBalance returns the tracked balance for an account.
func (t *TreasuryTracker) GetBalance(key AccountKey) uint64 {
	return t.balances[key.AccountPath()]
}

// ApplyTransfer moves funds From → To. Debiting a non-pool account below
// zero fails; the transfer is not applied.
func (t *TreasuryTracker) ApplyTransfer(tr Transfer) error {
	fromPath := tr.From.AccountPath()

	if tr.From.Scope != AccountScopePool {
		if t.balances[fromPath] < tr.Amount {
			return fmt.Errorf("insufficient balance in %s: have %d, need %d",
				fromPath, t.balances[fromPath], tr.Amount)
		}
		t.balances[fromPath] -= tr.Amount
	}

	t.balances[tr.To.AccountPath()] += tr.Amount
	return nil
}

// ApplyBatch applies all transfers in order; the first failure aborts and
// rolls back the already-applied transfers of this batch.
func (t *TreasuryTracker) ApplyBatch(batch *Batch) error {
	applied := 0
	for i, tr := range batch.Transfers {
		if err := t.ApplyTransfer(tr); err != nil {
			for j := applied - 1; j >= 0; j-- {
				t.revert(batch.Transfers[j])
			}
			return fmt.Errorf("transfer %d of batch %s: %w", i, batch.BatchID, err)
		}
		applied++
	}
	return nil
}

func (t *TreasuryTracker) revert(tr Transfer) {
	t.balances[tr.To.AccountPath()] -= tr.Amount
	if tr.From.Scope != AccountScopePool {
		t.balances[tr.From.AccountPath()] += tr.Amount
	}
}

// Restore directly sets a balance (used when loading persisted balances).
func (t *TreasuryTracker) Restore(path string, balance uint64) {
	t.balances[path] = balance
}

// Snapshot returns a copy of all balances for persistence.
func (t *TreasuryTracker) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(t.balances))
	for k, v := range t.balances {
		out[k] = v
	}
	return out
}
