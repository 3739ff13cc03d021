package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"FeeRouter/internal/ledger"
	"FeeRouter/internal/state"
)

// TransferRow represents a row in fee_router.transfers.
type TransferRow struct {
	TransferID    uuid.UUID
	BatchID       uuid.UUID
	Vault         string
	PageStart     uint32
	FromAccount   string
	ToAccount     string
	Amount        uint64
	Kind          string
	InvestorIndex *uint32
	Timestamp     int64
}

// TransferRowsFromBatch flattens a ledger batch into insertable rows.
func TransferRowsFromBatch(batch *ledger.Batch) []TransferRow {
	rows := make([]TransferRow, 0, len(batch.Transfers))
	for _, tr := range batch.Transfers {
		rows = append(rows, TransferRow{
			TransferID:    tr.TransferID,
			BatchID:       tr.BatchID,
			Vault:         batch.Vault,
			PageStart:     batch.PageStart,
			FromAccount:   tr.From.AccountPath(),
			ToAccount:     tr.To.AccountPath(),
			Amount:        tr.Amount,
			Kind:          tr.Kind.String(),
			InvestorIndex: tr.InvestorIndex,
			Timestamp:     tr.Timestamp,
		})
	}
	return rows
}

// writeTransferBatch writes transfer rows inside an existing transaction
// using a single multi-row INSERT. The transfer_id conflict clause makes a
// replayed write a no-op rather than a duplicate row.
func writeTransferBatch(ctx context.Context, tx *sql.Tx, transfers []TransferRow) error {
	if len(transfers) == 0 {
		return nil
	}

	query := `INSERT INTO fee_router.transfers
		(transfer_id, batch_id, vault, page_start, from_account, to_account, amount, kind, investor_index, ts)
		VALUES `

	values := make([]string, 0, len(transfers))
	args := make([]interface{}, 0, len(transfers)*10)

	for i, t := range transfers {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		var idx sql.NullInt32
		if t.InvestorIndex != nil {
			idx = sql.NullInt32{Int32: int32(*t.InvestorIndex), Valid: true}
		}
		args = append(args,
			t.TransferID, t.BatchID, t.Vault, int32(t.PageStart),
			t.FromAccount, t.ToAccount, int64(t.Amount), t.Kind, idx, t.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (transfer_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// ListTransfers returns a vault's transfers, newest first.
func (s *Store) ListTransfers(ctx context.Context, vault state.Address, offset, limit int) ([]TransferRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transfer_id, batch_id, vault, page_start, from_account, to_account,
		       amount, kind, investor_index, ts
		FROM fee_router.transfers
		WHERE vault = $1
		ORDER BY ts DESC, transfer_id
		OFFSET $2 LIMIT $3
	`, vault.String(), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var out []TransferRow
	for rows.Next() {
		var (
			t         TransferRow
			pageStart int32
			amount    int64
			idx       sql.NullInt32
		)
		if err := rows.Scan(&t.TransferID, &t.BatchID, &t.Vault, &pageStart,
			&t.FromAccount, &t.ToAccount, &amount, &t.Kind, &idx, &t.Timestamp); err != nil {
			return nil, err
		}
		t.PageStart = uint32(pageStart)
		t.Amount = uint64(amount)
		if idx.Valid {
			v := uint32(idx.Int32)
			t.InvestorIndex = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
