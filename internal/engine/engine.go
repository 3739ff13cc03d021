package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"FeeRouter/internal/event"
	"FeeRouter/internal/guard"
	"FeeRouter/internal/ledger"
	promath "FeeRouter/internal/math"
	"FeeRouter/internal/state"
)

// FeeSource reports the fees currently claimable from the honorary
// position. Reading never drains anything: the claimed amount is settled
// against the source in the same transaction that commits the page, so an
// aborted page leaves the fees claimable for the retry.
type FeeSource interface {
	Claimable(ctx context.Context, positionHandle state.Address) (quoteAmount, baseAmount uint64, err error)
}

// VestingOracle returns an investor's still-locked allocation as of ts.
type VestingOracle interface {
	Locked(ctx context.Context, stream state.Address, ts int64) (uint64, error)
}

// InvestorRef identifies one investor in the day's fixed ordering.
type InvestorRef struct {
	// Global investor index; drives the paid bitmap
	Index uint32

	// Payout destination
	Wallet state.Address

	// Vesting stream queried for the locked amount
	Stream state.Address
}

// PageRequest is one crank invocation.
type PageRequest struct {
	PageStart uint32
	PageSize  uint32

	// Investors holds this page's slice, in index order
	Investors []InvestorRef

	// AllInvestors holds the full ordered set; required on a day-start page
	// so the day's total locked amount covers every investor, not just this
	// page's slice
	AllInvestors []InvestorRef

	Now int64
}

// PageResult is the outcome of one committed page: the next progress state,
// the fund movements to apply atomically with it, and the events to publish
// after commit.
type PageResult struct {
	Progress *state.DistributionProgress
	Batch    *ledger.Batch
	Events   []event.Event

	DayClosed        bool
	PageDistributed  uint64
	PageDust         uint64
	CreatorRemainder uint64
	ClaimedThisPage  uint64
}

// DistributionEngine maps (Policy, DistributionProgress, claimed fees,
// locked amounts) to payouts and the next progress state. RunPage never
// mutates its inputs: a failed page returns only an error, so the identical
// page may be retried against unchanged state.
type DistributionEngine struct {
	feeSource FeeSource
	vesting   VestingOracle
	log       zerolog.Logger
}

func NewDistributionEngine(feeSource FeeSource, vesting VestingOracle, log zerolog.Logger) *DistributionEngine {
	return &DistributionEngine{
		feeSource: feeSource,
		vesting:   vesting,
		log:       log,
	}
}

// ValidatePolicyParams checks policy setup parameters. No state is touched
// on failure.
func ValidatePolicyParams(params state.PolicyParams) error {
	if params.InvestorFeeShareBps > uint16(promath.BasisPointsDivisor) {
		return fmt.Errorf("%w: investor fee share %d bps exceeds 10000", ErrInvalidPolicyConfig, params.InvestorFeeShareBps)
	}
	if params.Y0TotalAllocation == 0 {
		return fmt.Errorf("%w: y0 total allocation must be positive", ErrInvalidPolicyConfig)
	}
	if params.MinPayoutLamports < state.MinPayoutFloor {
		return fmt.Errorf("%w: min payout %d below floor %d", ErrInvalidPolicyConfig, params.MinPayoutLamports, state.MinPayoutFloor)
	}
	if params.TotalInvestors == 0 {
		return fmt.Errorf("%w: total investors must be positive", ErrInvalidPolicyConfig)
	}
	if params.TotalInvestors > state.MaxInvestors {
		return fmt.Errorf("%w: total investors %d exceeds bitmap capacity %d", ErrInvalidPolicyConfig, params.TotalInvestors, state.MaxInvestors)
	}
	if params.CreatorWallet.IsZero() {
		return fmt.Errorf("%w: creator wallet must be set", ErrInvalidPolicyConfig)
	}
	return nil
}

// RunPage executes one crank page transition.
//
// Admission is cursor-gated: the page is accepted only when pageStart equals
// the current cursor, which structurally rejects replays, skips and overlaps.
// The paid bitmap remains as defense in depth behind that gate.
func (e *DistributionEngine) RunPage(
	ctx context.Context,
	policy *state.Policy,
	progress *state.DistributionProgress,
	position *state.HonoraryPosition,
	req PageRequest,
) (*PageResult, error) {
	if req.PageSize == 0 || req.PageSize > state.MaxPageSize {
		return nil, fmt.Errorf("%w: page size %d not in [1, %d]", ErrInvalidPagination, req.PageSize, state.MaxPageSize)
	}
	// Sequencing: the single admission rule. pageStart below the cursor is
	// a replay or overlap, above it a skip; both are rejected before any
	// external call.
	if req.PageStart != progress.Cursor {
		return nil, fmt.Errorf("%w: page start %d, cursor %d", ErrInvalidPaginationSequence, req.PageStart, progress.Cursor)
	}

	next := progress.Clone()
	batch := ledger.NewBatch(policy.Vault.String(), req.PageStart, req.Now)
	result := &PageResult{Progress: next, Batch: batch}

	dayStart := next.DayCompleted
	if dayStart {
		if err := e.startDay(ctx, policy, next, position, req, result); err != nil {
			return nil, err
		}
	}

	// Validate the page slice against the cursor window
	expected := pageWindow(req.PageStart, req.PageSize, policy.TotalInvestors)
	if uint32(len(req.Investors)) != expected {
		return nil, fmt.Errorf("%w: page at %d expects %d investors, got %d",
			ErrAccountCountMismatch, req.PageStart, expected, len(req.Investors))
	}
	for i, inv := range req.Investors {
		if inv.Index != req.PageStart+uint32(i) {
			return nil, fmt.Errorf("%w: investor at offset %d has index %d, want %d",
				ErrInvalidPagination, i, inv.Index, req.PageStart+uint32(i))
		}
	}

	// Split computation — fixed for the day once claimed and total locked
	// are known
	eligibleBps := promath.EligibleInvestorShareBps(
		next.CurrentDayTotalLocked, policy.Y0TotalAllocation, policy.InvestorFeeShareBps)

	investorPool, err := promath.InvestorPoolAmount(next.CurrentDayTotalClaimed, eligibleBps)
	if err != nil {
		return nil, fmt.Errorf("investor pool: %w", err)
	}
	if policy.DailyCapLamports != nil && investorPool > *policy.DailyCapLamports {
		investorPool = *policy.DailyCapLamports
	}

	if err := e.payInvestors(ctx, policy, next, req, investorPool, batch, result); err != nil {
		return nil, err
	}

	// Advance cursor; clamp so a final page whose size overshoots the set
	// still lands exactly on totalInvestors
	end := uint64(req.PageStart) + uint64(req.PageSize)
	if end > uint64(policy.TotalInvestors) {
		end = uint64(policy.TotalInvestors)
	}
	next.Cursor = uint32(end)

	if next.Cursor == policy.TotalInvestors {
		if err := e.closeDay(policy, next, req.Now, batch, result); err != nil {
			return nil, err
		}
	}

	result.Events = append(result.Events, &event.InvestorPayoutPage{
		Vault:         policy.Vault,
		PageStart:     req.PageStart,
		PageSize:      req.PageSize,
		InvestorsPaid: uint32(len(req.Investors)),
		TotalPaid:     result.PageDistributed,
		DustCarried:   result.PageDust,
		Timestamp:     req.Now,
	})

	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("transfer batch: %w", err)
	}

	e.log.Debug().
		Str("vault", policy.Vault.String()).
		Uint32("page_start", req.PageStart).
		Uint32("cursor", next.Cursor).
		Uint64("page_distributed", result.PageDistributed).
		Uint64("page_dust", result.PageDust).
		Bool("day_closed", result.DayClosed).
		Msg("page transition computed")

	return result, nil
}

// startDay gates on the 24-hour window, reads the claimable fees, runs the
// quote-only guard, and computes the day's total locked amount over the
// full investor set.
func (e *DistributionEngine) startDay(
	ctx context.Context,
	policy *state.Policy,
	next *state.DistributionProgress,
	position *state.HonoraryPosition,
	req PageRequest,
	result *PageResult,
) error {
	if !next.CanDistribute(req.Now) {
		return fmt.Errorf("%w: last day started at %d, now %d",
			ErrDistributionWindowNotElapsed, next.LastDistributionTs, req.Now)
	}

	if uint32(len(req.AllInvestors)) != policy.TotalInvestors {
		return fmt.Errorf("%w: day start requires all %d investors, got %d",
			ErrAccountCountMismatch, policy.TotalInvestors, len(req.AllInvestors))
	}

	var totalLocked uint64
	for _, inv := range req.AllInvestors {
		locked, err := e.vesting.Locked(ctx, inv.Stream, req.Now)
		if err != nil {
			return fmt.Errorf("locked amount for investor %d: %w", inv.Index, err)
		}
		sum := totalLocked + locked
		if sum < totalLocked {
			return fmt.Errorf("total locked: %w", promath.ErrOverflow)
		}
		totalLocked = sum
	}

	quote, base, err := e.feeSource.Claimable(ctx, position.PositionHandle)
	if err != nil {
		return fmt.Errorf("read claimable fees: %w", err)
	}
	if err := guard.CheckClaimedFees(quote, base); err != nil {
		return err
	}

	next.StartNewDay(req.Now, quote, totalLocked)
	result.ClaimedThisPage = quote

	if quote > 0 {
		batchFrom := ledger.NewPoolAccountKey(policy.Vault, position.Pool)
		batchTo := ledger.NewTreasuryAccountKey(policy.Vault, ledger.AssetQuote)
		result.Batch.Add(batchFrom, batchTo, quote, ledger.TransferKindFeeClaim, nil)
	}

	result.Events = append(result.Events, &event.QuoteFeesClaimed{
		Vault:     policy.Vault,
		Amount:    quote,
		Timestamp: req.Now,
	})

	e.log.Info().
		Str("vault", policy.Vault.String()).
		Uint64("claimed_quote", quote).
		Uint64("total_locked", totalLocked).
		Msg("distribution day started")

	return nil
}

// payInvestors runs the per-investor payout loop for this page's slice.
func (e *DistributionEngine) payInvestors(
	ctx context.Context,
	policy *state.Policy,
	next *state.DistributionProgress,
	req PageRequest,
	investorPool uint64,
	batch *ledger.Batch,
	result *PageResult,
) error {
	treasury := ledger.NewTreasuryAccountKey(policy.Vault, ledger.AssetQuote)

	for _, inv := range req.Investors {
		if next.IsInvestorPaid(inv.Index) {
			// Already paid this day; cursor gating makes this unreachable
			// for well-formed callers, skip silently either way
			continue
		}

		locked, err := e.vesting.Locked(ctx, inv.Stream, req.Now)
		if err != nil {
			return fmt.Errorf("locked amount for investor %d: %w", inv.Index, err)
		}

		payout, err := promath.InvestorPayout(investorPool, locked, next.CurrentDayTotalLocked)
		if err != nil {
			return fmt.Errorf("payout for investor %d: %w", inv.Index, err)
		}

		payout, dust := promath.ApplyDustThreshold(payout, policy.MinPayoutLamports)
		if payout == 0 {
			// Dust stays in the treasury and folds into the creator
			// remainder at finalization
			result.PageDust += dust
			continue
		}

		allowed := promath.ApplyDailyCap(next.CurrentDayDistributed, payout, policy.DailyCapLamports)
		if allowed > 0 {
			idx := inv.Index
			batch.Add(treasury, ledger.NewInvestorAccountKey(policy.Vault, inv.Wallet),
				allowed, ledger.TransferKindInvestorPayout, &idx)

			next.CurrentDayDistributed += allowed
			next.TotalInvestorDistributed += allowed
			result.PageDistributed += allowed

			if err := next.MarkInvestorPaid(inv.Index); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPagination, err)
			}
		}
		// The cap-clipped part behaves like dust
		result.PageDust += payout - allowed
	}

	return nil
}

// closeDay flushes the remainder to the creator and finalizes the cycle.
func (e *DistributionEngine) closeDay(
	policy *state.Policy,
	next *state.DistributionProgress,
	now int64,
	batch *ledger.Batch,
	result *PageResult,
) error {
	remainder := promath.CreatorRemainder(next.CurrentDayTotalClaimed, next.CurrentDayDistributed)

	// Conservation: distributed + remainder == claimed, exactly at the
	// moment the day closes
	if next.CurrentDayDistributed+remainder != next.CurrentDayTotalClaimed {
		return fmt.Errorf("conservation violated: distributed=%d remainder=%d claimed=%d",
			next.CurrentDayDistributed, remainder, next.CurrentDayTotalClaimed)
	}

	if remainder > 0 {
		batch.Add(ledger.NewTreasuryAccountKey(policy.Vault, ledger.AssetQuote),
			ledger.NewCreatorAccountKey(policy.Vault, policy.CreatorWallet),
			remainder, ledger.TransferKindCreatorRemainder, nil)
	}

	totalDistributed := next.CurrentDayDistributed
	next.CompleteDay(remainder, now)

	result.DayClosed = true
	result.CreatorRemainder = remainder
	result.Events = append(result.Events, &event.CreatorPayoutDayClosed{
		Vault:            policy.Vault,
		CreatorAmount:    remainder,
		TotalDistributed: totalDistributed,
		Timestamp:        now,
	})

	e.log.Info().
		Str("vault", policy.Vault.String()).
		Uint64("creator_amount", remainder).
		Uint64("total_distributed", totalDistributed).
		Msg("distribution day closed")

	return nil
}

// pageWindow returns how many investors the page at pageStart must carry.
func pageWindow(pageStart, pageSize, totalInvestors uint32) uint32 {
	remaining := totalInvestors - pageStart
	if pageSize < remaining {
		return pageSize
	}
	return remaining
}
