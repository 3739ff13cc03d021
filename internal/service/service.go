package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"FeeRouter/internal/engine"
	"FeeRouter/internal/event"
	"FeeRouter/internal/guard"
	"FeeRouter/internal/ledger"
	"FeeRouter/internal/observability"
	"FeeRouter/internal/persistence"
	"FeeRouter/internal/state"
)

// EventPublisher delivers committed domain events to subscribers. Publish
// failures are logged, not propagated: the page is already durable.
type EventPublisher interface {
	Publish(ctx context.Context, evt event.Event) error
}

// Config bounds the service's crank parameters.
type Config struct {
	// MaxPageSize caps page_size on crank requests; clamped to the bitmap
	// protocol limit
	MaxPageSize uint32
}

// CrankService coordinates policy setup, position registration and crank
// pages: the engine computes a page transition, the store commits it
// atomically, then events go out. A per-vault mutex serializes cranks in
// this process; the store's version check catches racing processes.
type CrankService struct {
	store     *persistence.Store
	engine    *engine.DistributionEngine
	publisher EventPublisher
	clock     clockwork.Clock
	metrics   *observability.Metrics
	log       zerolog.Logger
	cfg       Config

	mu      sync.Mutex
	vaultMu map[state.Address]*sync.Mutex
}

func NewCrankService(
	store *persistence.Store,
	eng *engine.DistributionEngine,
	publisher EventPublisher,
	clock clockwork.Clock,
	metrics *observability.Metrics,
	log zerolog.Logger,
	cfg Config,
) *CrankService {
	if cfg.MaxPageSize == 0 || cfg.MaxPageSize > state.MaxPageSize {
		cfg.MaxPageSize = state.MaxPageSize
	}
	return &CrankService{
		store:     store,
		engine:    eng,
		publisher: publisher,
		clock:     clock,
		metrics:   metrics,
		log:       log,
		cfg:       cfg,
		vaultMu:   make(map[state.Address]*sync.Mutex),
	}
}

// InvestorSetup registers one investor at policy setup time.
type InvestorSetup struct {
	Wallet          state.Address
	Stream          state.Address
	TotalAllocation uint64
	StartTs         int64
	CliffTs         int64
	EndTs           int64
}

// SetupPolicy validates and persists a vault's distribution policy together
// with its investors' vesting schedules. The investor slice order fixes the
// pagination order for all future cranks.
func (s *CrankService) SetupPolicy(
	ctx context.Context,
	vault state.Address,
	params state.PolicyParams,
	investors []InvestorSetup,
) (*state.Policy, error) {
	if err := engine.ValidatePolicyParams(params); err != nil {
		return nil, err
	}
	if uint32(len(investors)) != params.TotalInvestors {
		return nil, fmt.Errorf("%w: %d investors supplied, policy declares %d",
			engine.ErrInvalidPolicyConfig, len(investors), params.TotalInvestors)
	}

	now := s.clock.Now().Unix()
	policy := state.NewPolicy(vault, params, now)
	progress := state.NewProgress(vault)

	schedules := make([]persistence.VestingScheduleRow, len(investors))
	for i, inv := range investors {
		schedules[i] = persistence.VestingScheduleRow{
			Vault:           vault,
			InvestorIndex:   uint32(i),
			Wallet:          inv.Wallet,
			Stream:          inv.Stream,
			TotalAllocation: inv.TotalAllocation,
			StartTs:         inv.StartTs,
			CliffTs:         inv.CliffTs,
			EndTs:           inv.EndTs,
		}
	}

	if err := s.store.CreatePolicy(ctx, policy, progress, schedules); err != nil {
		if errors.Is(err, persistence.ErrAlreadyExists) {
			return nil, fmt.Errorf("vault %s: %w", vault, engine.ErrPolicyAlreadyExists)
		}
		return nil, err
	}

	s.publish(ctx, &event.PolicySetup{
		Vault:               vault,
		CreatorWallet:       params.CreatorWallet,
		InvestorFeeShareBps: params.InvestorFeeShareBps,
		Y0TotalAllocation:   params.Y0TotalAllocation,
		TotalInvestors:      params.TotalInvestors,
		Timestamp:           now,
	})

	s.log.Info().
		Str("vault", vault.String()).
		Uint32("total_investors", params.TotalInvestors).
		Uint16("investor_fee_share_bps", params.InvestorFeeShareBps).
		Msg("policy created")

	return policy, nil
}

// InitializePosition validates the pool's quote-only configuration and
// registers the honorary position for a vault. Rejects pools that would
// ever accrue base-denominated fees.
func (s *CrankService) InitializePosition(
	ctx context.Context,
	vault state.Address,
	pool guard.PoolConfig,
	declaredQuoteMint state.Address,
	positionHandle state.Address,
) (*state.HonoraryPosition, error) {
	if _, err := s.store.GetPolicy(ctx, vault); err != nil {
		return nil, err
	}

	if err := guard.ValidateQuoteOnlyPool(pool, declaredQuoteMint); err != nil {
		return nil, err
	}

	pos := &state.HonoraryPosition{
		Vault:          vault,
		Pool:           pool.Pool,
		QuoteMint:      declaredQuoteMint,
		BaseMint:       guard.BaseMint(pool, declaredQuoteMint),
		PositionHandle: positionHandle,
		CreatedAt:      s.clock.Now().Unix(),
	}
	if err := s.store.CreatePosition(ctx, pos); err != nil {
		if errors.Is(err, persistence.ErrAlreadyExists) {
			return nil, fmt.Errorf("vault %s: %w", vault, engine.ErrPositionAlreadyExists)
		}
		return nil, err
	}

	s.publish(ctx, &event.HonoraryPositionInitialized{
		Vault:     vault,
		Pool:      pool.Pool,
		Position:  positionHandle,
		QuoteMint: declaredQuoteMint,
		Timestamp: pos.CreatedAt,
	})

	s.log.Info().
		Str("vault", vault.String()).
		Str("pool", pool.Pool.String()).
		Str("quote_mint", declaredQuoteMint.String()).
		Msg("honorary position initialized")

	return pos, nil
}

// CrankResult summarizes one committed crank page.
type CrankResult struct {
	Vault            string `json:"vault"`
	PageStart        uint32 `json:"page_start"`
	PageSize         uint32 `json:"page_size"`
	Cursor           uint32 `json:"cursor"`
	DayClosed        bool   `json:"day_closed"`
	ClaimedThisPage  uint64 `json:"claimed_this_page"`
	PageDistributed  uint64 `json:"page_distributed"`
	PageDust         uint64 `json:"page_dust"`
	CreatorRemainder uint64 `json:"creator_remainder"`
	TransfersWritten int    `json:"transfers_written"`
}

// Crank runs one distribution page for a vault at the current clock time.
func (s *CrankService) Crank(ctx context.Context, vault state.Address, pageStart, pageSize uint32) (*CrankResult, error) {
	if pageSize > s.cfg.MaxPageSize {
		return nil, fmt.Errorf("%w: page size %d exceeds limit %d",
			engine.ErrInvalidPagination, pageSize, s.cfg.MaxPageSize)
	}

	mu := s.lockFor(vault)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	vaultStr := vault.String()

	policy, err := s.store.GetPolicy(ctx, vault)
	if err != nil {
		return nil, err
	}
	progress, err := s.store.GetProgress(ctx, vault)
	if err != nil {
		return nil, err
	}
	position, err := s.store.GetPosition(ctx, vault)
	if err != nil {
		return nil, err
	}

	req := engine.PageRequest{
		PageStart: pageStart,
		PageSize:  pageSize,
		Now:       s.clock.Now().Unix(),
	}
	if req.Investors, req.AllInvestors, err = s.loadInvestors(ctx, vault, policy, progress, pageStart, pageSize); err != nil {
		return nil, err
	}

	res, err := s.engine.RunPage(ctx, policy, progress, position, req)
	if err != nil {
		s.countRejection(vaultStr, err)
		return nil, err
	}
	if err := s.checkInvariants(policy, progress, res); err != nil {
		s.log.Error().Err(err).Str("vault", vaultStr).Msg("invariant check failed, page not committed")
		return nil, err
	}

	transfers := persistence.TransferRowsFromBatch(res.Batch)
	settlement := persistence.ClaimSettlement{
		PositionHandle: position.PositionHandle,
		Quote:          res.ClaimedThisPage,
	}
	if err := s.store.CommitPage(ctx, res.Progress, progress.Version, transfers, settlement); err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) && s.metrics != nil {
			s.metrics.CrankCASConflicts.Inc()
		}
		return nil, err
	}

	for _, evt := range res.Events {
		s.publish(ctx, evt)
	}
	s.recordPageMetrics(vaultStr, res, start)

	return &CrankResult{
		Vault:            vaultStr,
		PageStart:        pageStart,
		PageSize:         pageSize,
		Cursor:           res.Progress.Cursor,
		DayClosed:        res.DayClosed,
		ClaimedThisPage:  res.ClaimedThisPage,
		PageDistributed:  res.PageDistributed,
		PageDust:         res.PageDust,
		CreatorRemainder: res.CreatorRemainder,
		TransfersWritten: len(transfers),
	}, nil
}

// checkInvariants replays the page's transfer batch against tracked
// treasury balances and validates the resulting progress before anything
// is committed. The engine already enforces these; a second failure here
// means a bug, and the page must not reach the store.
func (s *CrankService) checkInvariants(
	policy *state.Policy,
	before *state.DistributionProgress,
	res *engine.PageResult,
) error {
	tracker := ledger.NewTreasuryTracker()
	treasury := ledger.NewTreasuryAccountKey(policy.Vault, ledger.AssetQuote)
	if !before.DayCompleted {
		tracker.Restore(treasury.AccountPath(), before.CurrentDayTotalClaimed-before.CurrentDayDistributed)
	}
	if err := tracker.ApplyBatch(res.Batch); err != nil {
		return fmt.Errorf("treasury overdraw: %w", err)
	}

	validator := ledger.NewInvariantValidator(tracker)
	if err := validator.ValidateDistributedWithinClaim(res.Progress); err != nil {
		return err
	}
	if err := validator.ValidateCap(res.Progress, policy.DailyCapLamports); err != nil {
		return err
	}
	if err := validator.ValidateBaseTreasuryZero(policy.Vault); err != nil {
		return err
	}
	if res.DayClosed {
		return validator.ValidateConservation(res.Progress, res.CreatorRemainder)
	}
	return nil
}

// loadInvestors builds the page slice, plus the full set when this page
// will open a new day.
func (s *CrankService) loadInvestors(
	ctx context.Context,
	vault state.Address,
	policy *state.Policy,
	progress *state.DistributionProgress,
	pageStart, pageSize uint32,
) (page, all []engine.InvestorRef, err error) {
	if progress.DayCompleted {
		rows, err := s.store.ListVestingSchedules(ctx, vault, 0, 0)
		if err != nil {
			return nil, nil, err
		}
		all = investorRefs(rows)
		end := pageStart + pageSize
		if end > uint32(len(all)) {
			end = uint32(len(all))
		}
		if pageStart <= uint32(len(all)) {
			page = all[pageStart:end]
		}
		return page, all, nil
	}

	rows, err := s.store.ListVestingSchedules(ctx, vault, int(pageStart), int(pageSize))
	if err != nil {
		return nil, nil, err
	}
	return investorRefs(rows), nil, nil
}

func investorRefs(rows []persistence.VestingScheduleRow) []engine.InvestorRef {
	refs := make([]engine.InvestorRef, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, engine.InvestorRef{
			Index:  r.InvestorIndex,
			Wallet: r.Wallet,
			Stream: r.Stream,
		})
	}
	return refs
}

func (s *CrankService) lockFor(vault state.Address) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.vaultMu[vault]
	if !ok {
		mu = &sync.Mutex{}
		s.vaultMu[vault] = mu
	}
	return mu
}

func (s *CrankService) publish(ctx context.Context, evt event.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		if s.metrics != nil {
			s.metrics.PublishErrors.WithLabelValues(evt.EventType().String()).Inc()
		}
		s.log.Error().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("vault", evt.EventVault().String()).
			Msg("event publish failed")
		return
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(evt.EventType().String()).Inc()
	}
}

func (s *CrankService) countRejection(vault string, err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, engine.ErrInvalidPaginationSequence):
		s.metrics.SequenceRejections.WithLabelValues(vault).Inc()
		s.metrics.PagesRejected.WithLabelValues(vault, "sequence").Inc()
	case errors.Is(err, engine.ErrDistributionWindowNotElapsed):
		s.metrics.WindowRejections.WithLabelValues(vault).Inc()
		s.metrics.PagesRejected.WithLabelValues(vault, "window").Inc()
	case errors.Is(err, guard.ErrBaseFeesDetected):
		s.metrics.BaseFeeViolations.WithLabelValues(vault).Inc()
		s.metrics.PagesRejected.WithLabelValues(vault, "base_fees").Inc()
	default:
		s.metrics.PagesRejected.WithLabelValues(vault, "validation").Inc()
	}
}

func (s *CrankService) recordPageMetrics(vault string, res *engine.PageResult, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.PagesApplied.WithLabelValues(vault).Inc()
	s.metrics.PageDuration.WithLabelValues(vault).Observe(time.Since(start).Seconds())
	s.metrics.ProgressCursor.WithLabelValues(vault).Set(float64(res.Progress.Cursor))
	s.metrics.FeesClaimed.WithLabelValues(vault).Add(float64(res.ClaimedThisPage))
	s.metrics.InvestorPayoutSum.WithLabelValues(vault).Add(float64(res.PageDistributed))
	s.metrics.DustWithheld.WithLabelValues(vault).Add(float64(res.PageDust))
	payouts := 0
	for _, tr := range res.Batch.Transfers {
		if tr.Kind == ledger.TransferKindInvestorPayout {
			payouts++
		}
	}
	s.metrics.InvestorPayouts.WithLabelValues(vault).Add(float64(payouts))
	if res.DayClosed {
		s.metrics.DaysClosed.WithLabelValues(vault).Inc()
		s.metrics.CreatorRemainders.WithLabelValues(vault).Add(float64(res.CreatorRemainder))
	}
}
