package query

import (
	"context"
	"database/sql"
	"fmt"

	"FeeRouter/internal/state"
)

// QueryService provides read-only access to the fee_router tables.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetProgress returns the crank state for a vault. ok is false when the
// vault is unknown.
func (qs *QueryService) GetProgress(ctx context.Context, vault state.Address) (*ProgressResponse, bool, error) {
	row := qs.db.QueryRowContext(ctx, `
		SELECT p.vault, p.last_distribution_ts, p.cursor, p.day_completed,
		       p.current_day_total_claimed, p.current_day_distributed, p.current_day_total_locked,
		       p.total_distributions, p.total_investor_distributed, p.total_creator_distributed,
		       p.paid_bitmap, p.version
		FROM fee_router.progress p
		WHERE p.vault = $1
	`, vault.String())

	var (
		r                            ProgressResponse
		cursor                       int32
		claimed, distributed, locked int64
		dists, invDist, creDist      int64
		bitmap                       []byte
	)
	err := row.Scan(&r.Vault, &r.LastDistributionTs, &cursor, &r.DayCompleted,
		&claimed, &distributed, &locked, &dists, &invDist, &creDist, &bitmap, &r.Version)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load progress: %w", err)
	}

	r.Cursor = uint32(cursor)
	r.CurrentDayTotalClaimed = uint64(claimed)
	r.CurrentDayDistributed = uint64(distributed)
	r.CurrentDayTotalLocked = uint64(locked)
	r.TotalDistributions = uint64(dists)
	r.TotalInvestorDistributed = uint64(invDist)
	r.TotalCreatorDistributed = uint64(creDist)
	for _, b := range bitmap {
		for b != 0 {
			r.InvestorsPaidThisDay += int(b & 1)
			b >>= 1
		}
	}
	if r.DayCompleted {
		r.NextEligibleTs = r.LastDistributionTs + state.SecondsPerDay
	} else {
		// Day in progress: the next page is eligible immediately
		r.NextEligibleTs = r.LastDistributionTs
	}
	return &r, true, nil
}

// GetTransfers returns a vault's transfers, newest first, with offset
// pagination and an optional kind filter.
func (qs *QueryService) GetTransfers(
	ctx context.Context,
	vault state.Address,
	kind *string,
	offset, limit int,
) ([]TransferResponse, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT transfer_id, batch_id, vault, page_start, from_account, to_account,
		       amount, kind, investor_index, ts
		FROM fee_router.transfers
		WHERE vault = $1
	`
	args := []interface{}{vault.String()}
	argIdx := 2

	if kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, *kind)
		argIdx++
	}

	query += " ORDER BY ts DESC, transfer_id"
	query += fmt.Sprintf(" OFFSET $%d LIMIT $%d", argIdx, argIdx+1)
	args = append(args, offset, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []TransferResponse
	for rows.Next() {
		var (
			t         TransferResponse
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
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// GetInvestorSummaries aggregates lifetime payouts per investor for a vault.
func (qs *QueryService) GetInvestorSummaries(ctx context.Context, vault state.Address) ([]InvestorSummary, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT v.vault, v.investor_index, v.wallet,
		       COUNT(t.transfer_id), COALESCE(SUM(t.amount), 0)
		FROM fee_router.vesting_schedules v
		LEFT JOIN fee_router.transfers t
		       ON t.vault = v.vault
		      AND t.investor_index = v.investor_index
		      AND t.kind = 'investor_payout'
		WHERE v.vault = $1
		GROUP BY v.vault, v.investor_index, v.wallet
		ORDER BY v.investor_index
	`, vault.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []InvestorSummary
	for rows.Next() {
		var (
			s     InvestorSummary
			idx   int32
			total int64
		)
		if err := rows.Scan(&s.Vault, &idx, &s.Wallet, &s.PayoutCount, &total); err != nil {
			return nil, err
		}
		s.InvestorIndex = uint32(idx)
		s.TotalPaid = uint64(total)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity cross-checks each vault's lifetime counters against the
// sums of its executed transfers.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.vault,
		       p.total_investor_distributed,
		       COALESCE(SUM(t.amount) FILTER (WHERE t.kind = 'investor_payout'), 0),
		       p.total_creator_distributed,
		       COALESCE(SUM(t.amount) FILTER (WHERE t.kind = 'creator_remainder'), 0)
		FROM fee_router.progress p
		LEFT JOIN fee_router.transfers t ON t.vault = p.vault
		GROUP BY p.vault, p.total_investor_distributed, p.total_creator_distributed
		HAVING p.total_investor_distributed !=
		       COALESCE(SUM(t.amount) FILTER (WHERE t.kind = 'investor_payout'), 0)
		    OR p.total_creator_distributed !=
		       COALESCE(SUM(t.amount) FILTER (WHERE t.kind = 'creator_remainder'), 0)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u                              UnbalancedVault
			ctrInv, sumInv, ctrCre, sumCre int64
		)
		if err := rows.Scan(&u.Vault, &ctrInv, &sumInv, &ctrCre, &sumCre); err != nil {
			return nil, err
		}
		u.CounterInvestor = uint64(ctrInv)
		u.TransferInvestor = uint64(sumInv)
		u.CounterCreator = uint64(ctrCre)
		u.TransferCreator = uint64(sumCre)
		report.UnbalancedVaults = append(report.UnbalancedVaults, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.UnbalancedVaults) == 0
	return report, nil
}
