package feesource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FeeRouter/internal/state"
)

// PostgresFeeSource reads accrued fees from fee_router.fee_accruals.
// External pool watchers credit accruals via Accrue. Claimable is a plain
// read; the claimed amount is subtracted from the row inside the page's
// commit transaction (Store.CommitPage), so an aborted page leaves the
// accrual untouched. Implements engine.FeeSource.
type PostgresFeeSource struct {
	db *sql.DB
}

func NewPostgresFeeSource(db *sql.DB) *PostgresFeeSource {
	return &PostgresFeeSource{db: db}
}

// Claimable returns the position's currently accrued fees without
// settling them. A position with no accrual row reports zero.
func (f *PostgresFeeSource) Claimable(ctx context.Context, positionHandle state.Address) (uint64, uint64, error) {
	row := f.db.QueryRowContext(ctx, `
		SELECT quote_accrued, base_accrued
		FROM fee_router.fee_accruals
		WHERE position_handle = $1
	`, positionHandle.String())

	var quote, base int64
	err := row.Scan(&quote, &base)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read accrued fees: %w", err)
	}
	return uint64(quote), uint64(base), nil
}

// Accrue credits newly observed fees to a position.
func (f *PostgresFeeSource) Accrue(ctx context.Context, positionHandle state.Address, quote, base uint64) error {
	_, err := f.db.ExecContext(ctx, `
		INSERT INTO fee_router.fee_accruals (position_handle, quote_accrued, base_accrued, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (position_handle) DO UPDATE SET
			quote_accrued = fee_accruals.quote_accrued + EXCLUDED.quote_accrued,
			base_accrued = fee_accruals.base_accrued + EXCLUDED.base_accrued,
			updated_at = EXCLUDED.updated_at
	`, positionHandle.String(), int64(quote), int64(base), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("accrue fees: %w", err)
	}
	return nil
}
