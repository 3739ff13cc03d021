package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// TransferKind represents the purpose of a transfer record
type TransferKind int32

const (
	// TransferKindFeeClaim: pool → treasury, once per day on the first page
	TransferKindFeeClaim TransferKind = iota
	// TransferKindInvestorPayout: treasury → investor wallet
	TransferKindInvestorPayout
	// TransferKindCreatorRemainder: treasury → creator wallet at day close
	TransferKindCreatorRemainder
)

func (k TransferKind) String() string {
	switch k {
	case TransferKindFeeClaim:
		return "fee_claim"
	case TransferKindInvestorPayout:
		return "investor_payout"
	case TransferKindCreatorRemainder:
		return "creator_remainder"
	default:
		return "unknown"
	}
}

// Transfer is a single fund movement. Amount is always positive; direction
// is From → To.
type Transfer struct {
	TransferID uuid.UUID
	BatchID    uuid.UUID
	From       AccountKey
	To         AccountKey
	Amount     uint64
	Kind       TransferKind

	// Global investor index for payout transfers, nil otherwise
	InvestorIndex *uint32

	Timestamp int64
}

// Batch groups the transfers committed by one crank page. A page either
// commits its whole batch or none of it.
type Batch struct {
	BatchID   uuid.UUID
	Vault     string
	PageStart uint32
	Timestamp int64
	Transfers []Transfer
}

// NewBatch creates an empty batch for one page commit.
func NewBatch(vault string, pageStart uint32, ts int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		Vault:     vault,
		PageStart: pageStart,
		Timestamp: ts,
	}
}

// Add appends a transfer stamped with the batch id.
func (b *Batch) Add(from, to AccountKey, amount uint64, kind TransferKind, investorIndex *uint32) {
	b.Transfers = append(b.Transfers, Transfer{
		TransferID:    uuid.New(),
		BatchID:       b.BatchID,
		From:          from,
		To:            to,
		Amount:        amount,
		Kind:          kind,
		InvestorIndex: investorIndex,
		Timestamp:     b.Timestamp,
	})
}

// Validate ensures the batch is well-formed: non-zero amounts, payout
// transfers carry an investor index, and no investor index repeats.
func (b *Batch) Validate() error {
	seen := make(map[uint32]bool, len(b.Transfers))
	for _, t := range b.Transfers {
		if t.Amount == 0 {
			return fmt.Errorf("batch %s: zero-amount %s transfer", b.BatchID, t.Kind)
		}
		if t.Kind == TransferKindInvestorPayout {
			if t.InvestorIndex == nil {
				return fmt.Errorf("batch %s: payout transfer without investor index", b.BatchID)
			}
			if seen[*t.InvestorIndex] {
				return fmt.Errorf("batch %s: duplicate payout for investor %d", b.BatchID, *t.InvestorIndex)
			}
			seen[*t.InvestorIndex] = true
		}
	}
	return nil
}

// InvestorTotal sums the investor payout amounts in this batch.
func (b *Batch) InvestorTotal() uint64 {
	var total uint64
	for _, t := range b.Transfers {
		if t.Kind == TransferKindInvestorPayout {
			total += t.Amount
		}
	}
	return total
}
