package vesting

import (
	"context"
	"database/sql"
	"fmt"

	promath "FeeRouter/internal/math"
	"FeeRouter/internal/state"
)

// Schedule is a linear vesting schedule with a cliff. Tokens vest linearly
// from StartTs to EndTs; nothing vests before CliffTs.
type Schedule struct {
	TotalAllocation uint64
	StartTs         int64
	CliffTs         int64
	EndTs           int64
}

// Locked returns the still-locked amount at ts.
func (s Schedule) Locked(ts int64) uint64 {
	return s.TotalAllocation - s.Vested(ts)
}

// Vested returns the vested amount at ts. Before the cliff nothing is
// vested; after EndTs everything is.
func (s Schedule) Vested(ts int64) uint64 {
	if ts < s.StartTs || ts < s.CliffTs {
		return 0
	}
	if ts >= s.EndTs || s.EndTs <= s.StartTs {
		return s.TotalAllocation
	}
	elapsed := uint64(ts - s.StartTs)
	duration := uint64(s.EndTs - s.StartTs)
	vested, err := promath.MulDivFloor(s.TotalAllocation, elapsed, duration)
	if err != nil {
		// elapsed < duration keeps the quotient below TotalAllocation, so
		// the widened multiply cannot overflow the division
		return s.TotalAllocation
	}
	return vested
}

// PostgresOracle reads locked amounts from fee_router.vesting_schedules.
// Implements engine.VestingOracle.
type PostgresOracle struct {
	db *sql.DB
}

func NewPostgresOracle(db *sql.DB) *PostgresOracle {
	return &PostgresOracle{db: db}
}

// Locked looks up the schedule for a stream and evaluates it at ts.
func (o *PostgresOracle) Locked(ctx context.Context, stream state.Address, ts int64) (uint64, error) {
	row := o.db.QueryRowContext(ctx, `
		SELECT total_allocation, start_ts, cliff_ts, end_ts
		FROM fee_router.vesting_schedules
		WHERE stream = $1
		LIMIT 1
	`, stream.String())

	var (
		sched Schedule
		total int64
	)
	err := row.Scan(&total, &sched.StartTs, &sched.CliffTs, &sched.EndTs)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no vesting schedule for stream %s", stream)
	}
	if err != nil {
		return 0, fmt.Errorf("load vesting schedule: %w", err)
	}
	sched.TotalAllocation = uint64(total)
	return sched.Locked(ts), nil
}
