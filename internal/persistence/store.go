package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"FeeRouter/internal/state"
)

// Store errors. Callers match with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// Store persists policies, progress, positions and vesting schedules in
// Postgres. Progress commits use optimistic concurrency on the version
// column so two crankers racing on the same vault cannot both win.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transaction composition.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreatePolicy inserts a policy, its initial progress row and every
// investor's vesting schedule in one transaction: a vault either exists
// with its full investor set or not at all. A second insert for the same
// vault fails with ErrAlreadyExists.
func (s *Store) CreatePolicy(ctx context.Context, policy *state.Policy, progress *state.DistributionProgress, schedules []VestingScheduleRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var cap sql.NullInt64
	if policy.DailyCapLamports != nil {
		cap = sql.NullInt64{Int64: int64(*policy.DailyCapLamports), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fee_router.policies
			(vault, creator_wallet, investor_fee_share_bps, daily_cap_lamports,
			 min_payout_lamports, y0_total_allocation, total_investors, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, policy.Vault.String(), policy.CreatorWallet.String(), int32(policy.InvestorFeeShareBps),
		cap, int64(policy.MinPayoutLamports), int64(policy.Y0TotalAllocation),
		int32(policy.TotalInvestors), policy.CreatedAt, policy.UpdatedAt)
	if err != nil {
		return mapUniqueViolation(err, "policy")
	}

	if err := insertProgress(ctx, tx, progress); err != nil {
		return err
	}

	for _, v := range schedules {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fee_router.vesting_schedules
				(vault, investor_index, wallet, stream, total_allocation, start_ts, cliff_ts, end_ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, v.Vault.String(), int32(v.InvestorIndex), v.Wallet.String(), v.Stream.String(),
			int64(v.TotalAllocation), v.StartTs, v.CliffTs, v.EndTs)
		if err != nil {
			return fmt.Errorf("insert vesting schedule %d: %w", v.InvestorIndex, err)
		}
	}

	return tx.Commit()
}

// GetPolicy loads the policy for a vault.
func (s *Store) GetPolicy(ctx context.Context, vault state.Address) (*state.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT vault, creator_wallet, investor_fee_share_bps, daily_cap_lamports,
		       min_payout_lamports, y0_total_allocation, total_investors, created_at, updated_at
		FROM fee_router.policies
		WHERE vault = $1
	`, vault.String())

	var (
		p                     state.Policy
		vaultStr, creatorStr  string
		shareBps, investorCnt int32
		cap                   sql.NullInt64
		minPayout, y0         int64
	)
	err := row.Scan(&vaultStr, &creatorStr, &shareBps, &cap, &minPayout, &y0,
		&investorCnt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("policy for vault %s: %w", vault, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	if p.Vault, err = state.AddressFromBase58(vaultStr); err != nil {
		return nil, fmt.Errorf("decode vault: %w", err)
	}
	if p.CreatorWallet, err = state.AddressFromBase58(creatorStr); err != nil {
		return nil, fmt.Errorf("decode creator wallet: %w", err)
	}
	p.InvestorFeeShareBps = uint16(shareBps)
	p.MinPayoutLamports = uint64(minPayout)
	p.Y0TotalAllocation = uint64(y0)
	p.TotalInvestors = uint32(investorCnt)
	if cap.Valid {
		c := uint64(cap.Int64)
		p.DailyCapLamports = &c
	}
	return &p, nil
}

// CreatePosition records the honorary position for a vault.
func (s *Store) CreatePosition(ctx context.Context, pos *state.HonoraryPosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fee_router.positions
			(vault, pool, quote_mint, base_mint, position_handle, total_fees_claimed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, pos.Vault.String(), pos.Pool.String(), pos.QuoteMint.String(), pos.BaseMint.String(),
		pos.PositionHandle.String(), int64(pos.TotalFeesClaimed), pos.CreatedAt)
	return mapUniqueViolation(err, "position")
}

// GetPosition loads the honorary position for a vault.
func (s *Store) GetPosition(ctx context.Context, vault state.Address) (*state.HonoraryPosition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT vault, pool, quote_mint, base_mint, position_handle, total_fees_claimed, created_at
		FROM fee_router.positions
		WHERE vault = $1
	`, vault.String())

	var (
		pos                                             state.HonoraryPosition
		vaultStr, poolStr, quoteStr, baseStr, handleStr string
		claimed                                         int64
	)
	err := row.Scan(&vaultStr, &poolStr, &quoteStr, &baseStr, &handleStr, &claimed, &pos.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("position for vault %s: %w", vault, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}

	for _, f := range []struct {
		dst *state.Address
		src string
	}{
		{&pos.Vault, vaultStr},
		{&pos.Pool, poolStr},
		{&pos.QuoteMint, quoteStr},
		{&pos.BaseMint, baseStr},
		{&pos.PositionHandle, handleStr},
	} {
		if *f.dst, err = state.AddressFromBase58(f.src); err != nil {
			return nil, fmt.Errorf("decode position address: %w", err)
		}
	}
	pos.TotalFeesClaimed = uint64(claimed)
	return &pos, nil
}

// GetProgress loads the distribution progress for a vault.
func (s *Store) GetProgress(ctx context.Context, vault state.Address) (*state.DistributionProgress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT vault, last_distribution_ts, cursor, day_completed,
		       current_day_total_claimed, current_day_distributed, current_day_total_locked,
		       total_distributions, total_investor_distributed, total_creator_distributed,
		       paid_bitmap, version
		FROM fee_router.progress
		WHERE vault = $1
	`, vault.String())

	var (
		p                            state.DistributionProgress
		vaultStr                     string
		cursor                       int32
		claimed, distributed, locked int64
		dists, invDist, creDist      int64
		bitmap                       []byte
	)
	err := row.Scan(&vaultStr, &p.LastDistributionTs, &cursor, &p.DayCompleted,
		&claimed, &distributed, &locked, &dists, &invDist, &creDist, &bitmap, &p.Version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("progress for vault %s: %w", vault, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	if p.Vault, err = state.AddressFromBase58(vaultStr); err != nil {
		return nil, fmt.Errorf("decode vault: %w", err)
	}
	p.Cursor = uint32(cursor)
	p.CurrentDayTotalClaimed = uint64(claimed)
	p.CurrentDayDistributed = uint64(distributed)
	p.CurrentDayTotalLocked = uint64(locked)
	p.TotalDistributions = uint64(dists)
	p.TotalInvestorDistributed = uint64(invDist)
	p.TotalCreatorDistributed = uint64(creDist)
	if len(bitmap) != state.BitmapBytes {
		return nil, fmt.Errorf("paid bitmap is %d bytes, want %d", len(bitmap), state.BitmapBytes)
	}
	copy(p.PaidBitmap[:], bitmap)
	return &p, nil
}

// ClaimSettlement drains the quote amount a first-of-day page claimed
// from the position's accrual row. Executed inside the page's commit
// transaction so the drain and the page become durable together.
type ClaimSettlement struct {
	PositionHandle state.Address
	Quote          uint64
}

// CommitPage atomically writes the next progress state, the page's transfer
// rows, the claim settlement and the position's lifetime claim counter. The
// progress update is guarded by the version the page was computed against;
// a concurrent commit fails the whole transaction with ErrVersionConflict
// and nothing is written, including the claim drain.
func (s *Store) CommitPage(
	ctx context.Context,
	progress *state.DistributionProgress,
	baseVersion int64,
	transfers []TransferRow,
	claim ClaimSettlement,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Chain the progress hash off the row being replaced. The FOR UPDATE
	// read pins the row so the version check below cannot race the hash.
	var prevRaw []byte
	err = tx.QueryRowContext(ctx, `
		SELECT state_hash FROM fee_router.progress
		WHERE vault = $1 AND version = $2
		FOR UPDATE
	`, progress.Vault.String(), baseVersion).Scan(&prevRaw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("progress for vault %s at version %d: %w",
			progress.Vault, baseVersion, ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("read prev hash: %w", err)
	}
	var prevHash [32]byte
	copy(prevHash[:], prevRaw)
	stateHash := state.ComputeProgressHash(prevHash, progress)

	res, err := tx.ExecContext(ctx, `
		UPDATE fee_router.progress SET
			last_distribution_ts = $2,
			cursor = $3,
			day_completed = $4,
			current_day_total_claimed = $5,
			current_day_distributed = $6,
			current_day_total_locked = $7,
			total_distributions = $8,
			total_investor_distributed = $9,
			total_creator_distributed = $10,
			paid_bitmap = $11,
			version = version + 1,
			state_hash = $13,
			prev_hash = $14
		WHERE vault = $1 AND version = $12
	`, progress.Vault.String(), progress.LastDistributionTs, int32(progress.Cursor),
		progress.DayCompleted, int64(progress.CurrentDayTotalClaimed),
		int64(progress.CurrentDayDistributed), int64(progress.CurrentDayTotalLocked),
		int64(progress.TotalDistributions), int64(progress.TotalInvestorDistributed),
		int64(progress.TotalCreatorDistributed), progress.PaidBitmap[:], baseVersion,
		stateHash[:], prevHash[:])
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("progress for vault %s at version %d: %w",
			progress.Vault, baseVersion, ErrVersionConflict)
	}

	if err := writeTransferBatch(ctx, tx, transfers); err != nil {
		return fmt.Errorf("write transfers: %w", err)
	}

	if claim.Quote > 0 {
		// Subtract exactly the claimed amount: fees accrued between the
		// page's read and this commit stay on the row for the next day.
		drained, err := tx.ExecContext(ctx, `
			UPDATE fee_router.fee_accruals
			SET quote_accrued = quote_accrued - $2, updated_at = $3
			WHERE position_handle = $1 AND quote_accrued >= $2
		`, claim.PositionHandle.String(), int64(claim.Quote), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("settle claim: %w", err)
		}
		if n, _ := drained.RowsAffected(); n == 0 {
			return fmt.Errorf("settle claim: accrual for position %s no longer covers %d",
				claim.PositionHandle, claim.Quote)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE fee_router.positions
			SET total_fees_claimed = total_fees_claimed + $2
			WHERE vault = $1
		`, progress.Vault.String(), int64(claim.Quote)); err != nil {
			return fmt.Errorf("update position claim counter: %w", err)
		}
	}

	return tx.Commit()
}

// VestingScheduleRow is one investor's linear vesting schedule.
type VestingScheduleRow struct {
	Vault           state.Address
	InvestorIndex   uint32
	Wallet          state.Address
	Stream          state.Address
	TotalAllocation uint64
	StartTs         int64
	CliffTs         int64
	EndTs           int64
}

// ListVestingSchedules returns a vault's schedules ordered by investor
// index, optionally windowed. limit <= 0 means no limit.
func (s *Store) ListVestingSchedules(ctx context.Context, vault state.Address, offset, limit int) ([]VestingScheduleRow, error) {
	query := `
		SELECT vault, investor_index, wallet, stream, total_allocation, start_ts, cliff_ts, end_ts
		FROM fee_router.vesting_schedules
		WHERE vault = $1
		ORDER BY investor_index`
	args := []interface{}{vault.String()}
	if limit > 0 {
		query += ` OFFSET $2 LIMIT $3`
		args = append(args, offset, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list vesting schedules: %w", err)
	}
	defer rows.Close()

	var out []VestingScheduleRow
	for rows.Next() {
		var (
			r                              VestingScheduleRow
			vaultStr, walletStr, streamStr string
			idx                            int32
			alloc                          int64
		)
		if err := rows.Scan(&vaultStr, &idx, &walletStr, &streamStr, &alloc,
			&r.StartTs, &r.CliffTs, &r.EndTs); err != nil {
			return nil, err
		}
		if r.Vault, err = state.AddressFromBase58(vaultStr); err != nil {
			return nil, fmt.Errorf("decode vault: %w", err)
		}
		if r.Wallet, err = state.AddressFromBase58(walletStr); err != nil {
			return nil, fmt.Errorf("decode wallet: %w", err)
		}
		if r.Stream, err = state.AddressFromBase58(streamStr); err != nil {
			return nil, fmt.Errorf("decode stream: %w", err)
		}
		r.InvestorIndex = uint32(idx)
		r.TotalAllocation = uint64(alloc)
		out = append(out, r)
	}
	return out, rows.Err()
}

func insertProgress(ctx context.Context, tx *sql.Tx, p *state.DistributionProgress) error {
	genesis := state.GenesisHash()
	stateHash := state.ComputeProgressHash(genesis, p)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO fee_router.progress
			(vault, last_distribution_ts, cursor, day_completed,
			 current_day_total_claimed, current_day_distributed, current_day_total_locked,
			 total_distributions, total_investor_distributed, total_creator_distributed,
			 paid_bitmap, version, state_hash, prev_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, p.Vault.String(), p.LastDistributionTs, int32(p.Cursor), p.DayCompleted,
		int64(p.CurrentDayTotalClaimed), int64(p.CurrentDayDistributed),
		int64(p.CurrentDayTotalLocked), int64(p.TotalDistributions),
		int64(p.TotalInvestorDistributed), int64(p.TotalCreatorDistributed),
		p.PaidBitmap[:], p.Version, stateHash[:], genesis[:])
	if err != nil {
		return mapUniqueViolation(err, "progress")
	}
	return nil
}

func mapUniqueViolation(err error, entity string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w", entity, ErrAlreadyExists)
	}
	return fmt.Errorf("insert %s: %w", entity, err)
}
