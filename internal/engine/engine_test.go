package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"FeeRouter/internal/engine"
	"FeeRouter/internal/guard"
	"FeeRouter/internal/ledger"
	"FeeRouter/internal/state"
	"FeeRouter/internal/testutil"
)

var (
	vault   = testutil.Addr(0x01)
	creator = testutil.Addr(0x02)
	pool    = testutil.Addr(0x03)
	posAddr = testutil.Addr(0x04)
)

type fixture struct {
	policy    *state.Policy
	progress  *state.DistributionProgress
	position  *state.HonoraryPosition
	investors []engine.InvestorRef
	feeSource *testutil.FakeFeeSource
	oracle    *testutil.FakeVestingOracle
	eng       *engine.DistributionEngine
}

// newFixture builds a vault with one investor per entry in locked, claims
// quote lamports on the first page of each day.
func newFixture(t *testing.T, quote uint64, locked []uint64, y0 uint64, shareBps uint16, minPayout uint64, dailyCap *uint64) *fixture {
	t.Helper()

	params := state.PolicyParams{
		CreatorWallet:       creator,
		InvestorFeeShareBps: shareBps,
		DailyCapLamports:    dailyCap,
		MinPayoutLamports:   minPayout,
		Y0TotalAllocation:   y0,
		TotalInvestors:      uint32(len(locked)),
	}
	if err := engine.ValidatePolicyParams(params); err != nil {
		t.Fatalf("fixture params invalid: %v", err)
	}

	oracle := &testutil.FakeVestingOracle{LockedByStream: make(map[state.Address]uint64)}
	investors := make([]engine.InvestorRef, len(locked))
	for i, amt := range locked {
		wallet := testutil.Addr(byte(0x10 + i))
		stream := testutil.Addr(byte(0x80 + i))
		investors[i] = engine.InvestorRef{Index: uint32(i), Wallet: wallet, Stream: stream}
		oracle.LockedByStream[stream] = amt
	}

	feeSource := &testutil.FakeFeeSource{Quote: quote}

	return &fixture{
		policy:   state.NewPolicy(vault, params, 0),
		progress: state.NewProgress(vault),
		position: &state.HonoraryPosition{
			Vault:          vault,
			Pool:           pool,
			PositionHandle: posAddr,
		},
		investors: investors,
		feeSource: feeSource,
		oracle:    oracle,
		eng:       engine.NewDistributionEngine(feeSource, oracle, zerolog.Nop()),
	}
}

// runPage executes one page and, on success, commits the returned progress
// and settles any claimed fees, as the store does in one transaction.
func (f *fixture) runPage(t *testing.T, pageStart, pageSize uint32, now int64) (*engine.PageResult, error) {
	t.Helper()

	end := pageStart + pageSize
	if end > uint32(len(f.investors)) {
		end = uint32(len(f.investors))
	}
	var page []engine.InvestorRef
	if pageStart < uint32(len(f.investors)) {
		page = f.investors[pageStart:end]
	}

	res, err := f.eng.RunPage(context.Background(), f.policy, f.progress, f.position, engine.PageRequest{
		PageStart:    pageStart,
		PageSize:     pageSize,
		Investors:    page,
		AllInvestors: f.investors,
		Now:          now,
	})
	if err == nil {
		f.progress = res.Progress
		if res.ClaimedThisPage > 0 {
			f.feeSource.Settle()
		}
	}
	return res, err
}

func (f *fixture) mustRunPage(t *testing.T, pageStart, pageSize uint32, now int64) *engine.PageResult {
	t.Helper()
	res, err := f.runPage(t, pageStart, pageSize, now)
	if err != nil {
		t.Fatalf("run_page(%d, %d): %v", pageStart, pageSize, err)
	}
	return res
}

func investorPaid(res *engine.PageResult, index uint32) uint64 {
	var total uint64
	for _, tr := range res.Batch.Transfers {
		if tr.Kind == ledger.TransferKindInvestorPayout && tr.InvestorIndex != nil && *tr.InvestorIndex == index {
			total += tr.Amount
		}
	}
	return total
}

// ============================================================================
// Test: policy validation
// ============================================================================

func TestValidatePolicyParams(t *testing.T) {
	valid := state.PolicyParams{
		CreatorWallet:       creator,
		InvestorFeeShareBps: 5000,
		MinPayoutLamports:   1000,
		Y0TotalAllocation:   1_000_000,
		TotalInvestors:      10,
	}
	if err := engine.ValidatePolicyParams(valid); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*state.PolicyParams)
	}{
		{"share above 10000 bps", func(p *state.PolicyParams) { p.InvestorFeeShareBps = 10_001 }},
		{"zero Y0", func(p *state.PolicyParams) { p.Y0TotalAllocation = 0 }},
		{"min payout below floor", func(p *state.PolicyParams) { p.MinPayoutLamports = 999 }},
		{"zero investors", func(p *state.PolicyParams) { p.TotalInvestors = 0 }},
		{"investors beyond bitmap", func(p *state.PolicyParams) { p.TotalInvestors = state.MaxInvestors + 1 }},
		{"zero creator wallet", func(p *state.PolicyParams) { p.CreatorWallet = state.Address{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := valid
			tc.mutate(&params)
			if err := engine.ValidatePolicyParams(params); !errors.Is(err, engine.ErrInvalidPolicyConfig) {
				t.Errorf("got %v, want ErrInvalidPolicyConfig", err)
			}
		})
	}
}

// ============================================================================
// Test: distribution scenarios
// ============================================================================

func TestScenarioA_AllLocked_CreatorGetsNothing(t *testing.T) {
	// investorFeeShareBps=10000, totalLocked==Y0 => eligible 100%
	f := newFixture(t, 1_000_000, []uint64{250_000, 250_000, 250_000, 250_000}, 1_000_000, 10_000, 1000, nil)

	res := f.mustRunPage(t, 0, 4, state.SecondsPerDay)

	if !res.DayClosed {
		t.Fatal("single full page should close the day")
	}
	if res.CreatorRemainder != 0 {
		t.Errorf("creator remainder: got %d, want 0", res.CreatorRemainder)
	}
	if f.progress.CurrentDayDistributed != 1_000_000 {
		t.Errorf("distributed: got %d, want 1000000", f.progress.CurrentDayDistributed)
	}
}

func TestScenarioB_AllUnlocked_CreatorGetsEverything(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{0, 0, 0}, 1_000_000, 10_000, 1000, nil)

	res := f.mustRunPage(t, 0, 3, state.SecondsPerDay)

	if res.CreatorRemainder != 1_000_000 {
		t.Errorf("creator remainder: got %d, want 1000000", res.CreatorRemainder)
	}
	for i := uint32(0); i < 3; i++ {
		if got := investorPaid(res, i); got != 0 {
			t.Errorf("investor %d: got %d, want 0", i, got)
		}
	}
	if f.progress.PaidCount() != 0 {
		t.Errorf("no investor should be marked paid, got %d", f.progress.PaidCount())
	}
}

func TestScenarioC_HalfLocked_FiveEqualInvestors(t *testing.T) {
	// 5 investors, each 50% locked (100k of 200k allocation each)
	claimed := uint64(1_000_000)
	f := newFixture(t, claimed, []uint64{100_000, 100_000, 100_000, 100_000, 100_000}, 1_000_000, 10_000, 1000, nil)

	res := f.mustRunPage(t, 0, 5, state.SecondsPerDay)

	// eligible = 5000 bps, pool = 500_000, each gets 100_000
	for i := uint32(0); i < 5; i++ {
		if got := investorPaid(res, i); got != 100_000 {
			t.Errorf("investor %d: got %d, want 100000", i, got)
		}
	}
	if res.CreatorRemainder != 500_000 {
		t.Errorf("creator remainder: got %d, want 500000", res.CreatorRemainder)
	}
}

func TestScenarioD_DustBelowMinPayout(t *testing.T) {
	// Each share is 100k*2500/10000/5 = 50_000/5... pool 250_000, each 50_000;
	// set min payout above it so everything is dust
	f := newFixture(t, 1_000_000, []uint64{50_000, 50_000, 50_000, 50_000, 50_000}, 1_000_000, 10_000, 60_001, nil)

	res := f.mustRunPage(t, 0, 5, state.SecondsPerDay)

	if f.progress.TotalInvestorDistributed != 0 {
		t.Errorf("distributed: got %d, want 0", f.progress.TotalInvestorDistributed)
	}
	// eligible = 2500 bps, pool = 250_000, each computed payout 50_000 < 60_001
	if res.PageDust != 250_000 {
		t.Errorf("page dust: got %d, want 250000", res.PageDust)
	}
	// Full pool rolls into the creator remainder
	if res.CreatorRemainder != 1_000_000 {
		t.Errorf("creator remainder: got %d, want 1000000", res.CreatorRemainder)
	}
}

func TestScenarioE_TwoPagesOfTwo(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100, 100}, 400, 10_000, 1000, nil)

	res := f.mustRunPage(t, 0, 2, state.SecondsPerDay)
	if res.DayClosed {
		t.Fatal("first page must not close the day")
	}
	if f.progress.Cursor != 2 {
		t.Fatalf("cursor after first page: got %d, want 2", f.progress.Cursor)
	}

	// Out-of-sequence page in the middle fails
	if _, err := f.runPage(t, 1, 2, state.SecondsPerDay); !errors.Is(err, engine.ErrInvalidPaginationSequence) {
		t.Errorf("pageStart=1: got %v, want ErrInvalidPaginationSequence", err)
	}

	res = f.mustRunPage(t, 2, 2, state.SecondsPerDay)
	if !res.DayClosed {
		t.Fatal("second page must close the day")
	}
	if f.progress.Cursor != 0 || !f.progress.DayCompleted {
		t.Errorf("day not finalized: cursor=%d completed=%v", f.progress.Cursor, f.progress.DayCompleted)
	}
}

// ============================================================================
// Test: sequencing and idempotency
// ============================================================================

func TestRunPage_SkipAheadRejected(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100, 100}, 400, 10_000, 1000, nil)

	_, err := f.runPage(t, 2, 2, state.SecondsPerDay)
	if !errors.Is(err, engine.ErrInvalidPaginationSequence) {
		t.Errorf("got %v, want ErrInvalidPaginationSequence", err)
	}
	if f.feeSource.Claims != 0 {
		t.Error("rejected page must not claim fees")
	}
}

func TestRunPage_ReplayOfCommittedPageRejected(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100, 100}, 400, 10_000, 1000, nil)

	f.mustRunPage(t, 0, 2, state.SecondsPerDay)

	// Exact resubmission of the already-committed page: hard rejection,
	// not a silent no-op
	_, err := f.runPage(t, 0, 2, state.SecondsPerDay)
	if !errors.Is(err, engine.ErrInvalidPaginationSequence) {
		t.Errorf("got %v, want ErrInvalidPaginationSequence", err)
	}
}

func TestRunPage_FailedPageRetriable(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100, 100}, 400, 10_000, 1000, nil)
	f.mustRunPage(t, 0, 2, state.SecondsPerDay)

	// Oracle outage fails the page with no state change
	f.oracle.Err = errors.New("oracle unavailable")
	before := *f.progress
	if _, err := f.runPage(t, 2, 2, state.SecondsPerDay); err == nil {
		t.Fatal("page should fail while oracle is down")
	}
	if *f.progress != before {
		t.Fatal("failed page must leave progress untouched")
	}

	// Identical retry succeeds once the oracle recovers
	f.oracle.Err = nil
	res := f.mustRunPage(t, 2, 2, state.SecondsPerDay)
	if !res.DayClosed {
		t.Error("retried final page should close the day")
	}
}

func TestRunPage_AtMostOncePerInvestor(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100, 100}, 400, 10_000, 1000, nil)

	paid := make(map[uint32]uint64)
	for _, page := range []uint32{0, 2} {
		res := f.mustRunPage(t, page, 2, state.SecondsPerDay)
		for _, tr := range res.Batch.Transfers {
			if tr.Kind == ledger.TransferKindInvestorPayout {
				if _, dup := paid[*tr.InvestorIndex]; dup {
					t.Fatalf("investor %d paid twice", *tr.InvestorIndex)
				}
				paid[*tr.InvestorIndex] = tr.Amount
			}
		}
	}

	if len(paid) != 4 {
		t.Errorf("investors paid: got %d, want 4", len(paid))
	}
}

func TestRunPage_PrePaidInvestorSkippedSilently(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100}, 200, 10_000, 1000, nil)

	// Defense-in-depth path: bit already set before the page runs
	f.progress.StartNewDay(state.SecondsPerDay, 1_000_000, 200)
	if err := f.progress.MarkInvestorPaid(0); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	f.progress.CurrentDayDistributed = 500_000

	res := f.mustRunPage(t, 0, 2, state.SecondsPerDay)

	if got := investorPaid(res, 0); got != 0 {
		t.Errorf("pre-paid investor 0 paid again: %d", got)
	}
	if got := investorPaid(res, 1); got != 500_000 {
		t.Errorf("investor 1: got %d, want 500000", got)
	}
}

// ============================================================================
// Test: 24-hour gate
// ============================================================================

func TestRunPage_WindowNotElapsed(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100}, 100, 10_000, 1000, nil)

	f.mustRunPage(t, 0, 1, state.SecondsPerDay)

	// Day closed at t=86400; next crank before t=172800 is too early
	_, err := f.runPage(t, 0, 1, 2*state.SecondsPerDay-1)
	if !errors.Is(err, engine.ErrDistributionWindowNotElapsed) {
		t.Errorf("got %v, want ErrDistributionWindowNotElapsed", err)
	}
	if f.feeSource.Claims != 1 {
		t.Errorf("claims: got %d, want 1", f.feeSource.Claims)
	}

	if _, err := f.runPage(t, 0, 1, 2*state.SecondsPerDay); err != nil {
		t.Errorf("crank at the window boundary should run: %v", err)
	}
}

func TestRunPage_MidDayResumptionIgnoresWindow(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100, 100}, 400, 10_000, 1000, nil)

	f.mustRunPage(t, 0, 2, state.SecondsPerDay)

	// Resume days later: an in-progress day continues regardless
	if _, err := f.runPage(t, 2, 2, 10*state.SecondsPerDay); err != nil {
		t.Errorf("mid-day resumption failed: %v", err)
	}
}

// ============================================================================
// Test: quote-only safety
// ============================================================================

func TestRunPage_BaseFeesAbortPage(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100}, 100, 10_000, 1000, nil)
	f.feeSource.Base = 7

	before := *f.progress
	_, err := f.runPage(t, 0, 1, state.SecondsPerDay)
	if !errors.Is(err, guard.ErrBaseFeesDetected) {
		t.Fatalf("got %v, want ErrBaseFeesDetected", err)
	}
	if *f.progress != before {
		t.Error("aborted page must leave progress untouched")
	}
}

func TestRunPage_AbortedFirstPageKeepsFeesClaimable(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100}, 100, 10_000, 1000, nil)
	f.feeSource.Base = 7

	// Two aborted attempts: nothing is settled, the same fees stay
	// claimable for every retry.
	for i := 0; i < 2; i++ {
		if _, err := f.runPage(t, 0, 1, state.SecondsPerDay); !errors.Is(err, guard.ErrBaseFeesDetected) {
			t.Fatalf("attempt %d: got %v, want ErrBaseFeesDetected", i, err)
		}
	}
	if f.feeSource.Quote != 1_000_000 {
		t.Fatalf("claimable after aborts: got %d, want 1000000", f.feeSource.Quote)
	}

	// Base fees resolved: the retry distributes the full amount.
	f.feeSource.Base = 0
	res := f.mustRunPage(t, 0, 1, state.SecondsPerDay)
	if res.ClaimedThisPage != 1_000_000 {
		t.Errorf("claimed: got %d, want 1000000", res.ClaimedThisPage)
	}
	if res.PageDistributed != 1_000_000 {
		t.Errorf("distributed: got %d, want 1000000", res.PageDistributed)
	}
	if got := res.PageDistributed + res.CreatorRemainder; got != res.ClaimedThisPage {
		t.Errorf("conservation: distributed+remainder=%d, claimed=%d", got, res.ClaimedThisPage)
	}
}

// ============================================================================
// Test: daily cap
// ============================================================================

func TestRunPage_DailyCapBoundsPool(t *testing.T) {
	cap := uint64(300_000)
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100, 100}, 400, 10_000, 1000, &cap)

	f.mustRunPage(t, 0, 2, state.SecondsPerDay)
	res := f.mustRunPage(t, 2, 2, state.SecondsPerDay)

	if f.progress.TotalInvestorDistributed > cap {
		t.Errorf("distributed %d exceeds cap %d", f.progress.TotalInvestorDistributed, cap)
	}
	// Pool clamped to the cap: 4 equal investors get 75k each
	if got := investorPaid(res, 3); got != 75_000 {
		t.Errorf("investor 3: got %d, want 75000", got)
	}
	if res.CreatorRemainder != 700_000 {
		t.Errorf("creator remainder: got %d, want 700000", res.CreatorRemainder)
	}
}

func TestRunPage_CapConservationUnevenWeights(t *testing.T) {
	// Uneven weights with floor rounding; the day must still conserve the
	// claimed amount under a cap
	cap := uint64(500_000)
	f := newFixture(t, 1_000_000, []uint64{300, 200, 100}, 600, 10_000, 1000, &cap)

	res := f.mustRunPage(t, 0, 3, state.SecondsPerDay)

	if f.progress.TotalInvestorDistributed > cap {
		t.Errorf("distributed %d exceeds cap %d", f.progress.TotalInvestorDistributed, cap)
	}
	if res.CreatorRemainder+f.progress.TotalInvestorDistributed != 1_000_000 {
		t.Error("conservation violated under cap clamping")
	}
}

// ============================================================================
// Test: conservation and monotonicity
// ============================================================================

func TestRunPage_ConservationAtDayClose(t *testing.T) {
	f := newFixture(t, 999_999, []uint64{97, 31, 55, 13}, 400, 7_777, 1000, nil)

	var investorTotal, creatorTotal uint64
	for _, page := range []uint32{0, 2} {
		res := f.mustRunPage(t, page, 2, state.SecondsPerDay)
		investorTotal += res.Batch.InvestorTotal()
		creatorTotal += res.CreatorRemainder
	}

	if investorTotal+creatorTotal != 999_999 {
		t.Errorf("conservation: investors=%d + creator=%d != 999999", investorTotal, creatorTotal)
	}
}

func TestRunPage_MonotonicWithinDay(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100, 100, 100, 100}, 600, 10_000, 1000, nil)

	var lastCursor uint32
	var lastDistributed uint64
	for _, page := range []uint32{0, 2, 4} {
		res := f.mustRunPage(t, page, 2, state.SecondsPerDay)
		if !res.DayClosed {
			if f.progress.Cursor < lastCursor {
				t.Errorf("cursor decreased: %d -> %d", lastCursor, f.progress.Cursor)
			}
			lastCursor = f.progress.Cursor
		}
		if f.progress.CurrentDayDistributed < lastDistributed {
			t.Errorf("distributed decreased: %d -> %d", lastDistributed, f.progress.CurrentDayDistributed)
		}
		lastDistributed = f.progress.CurrentDayDistributed
	}
}

// ============================================================================
// Test: page shape validation
// ============================================================================

func TestRunPage_PageSizeBounds(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100}, 100, 10_000, 1000, nil)

	if _, err := f.runPage(t, 0, 0, state.SecondsPerDay); !errors.Is(err, engine.ErrInvalidPagination) {
		t.Errorf("page size 0: got %v, want ErrInvalidPagination", err)
	}
	if _, err := f.runPage(t, 0, state.MaxPageSize+1, state.SecondsPerDay); !errors.Is(err, engine.ErrInvalidPagination) {
		t.Errorf("oversized page: got %v, want ErrInvalidPagination", err)
	}
}

func TestRunPage_DayStartNeedsFullInvestorSet(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100}, 300, 10_000, 1000, nil)

	_, err := f.eng.RunPage(context.Background(), f.policy, f.progress, f.position, engine.PageRequest{
		PageStart:    0,
		PageSize:     2,
		Investors:    f.investors[0:2],
		AllInvestors: f.investors[0:2], // missing one
		Now:          state.SecondsPerDay,
	})
	if !errors.Is(err, engine.ErrAccountCountMismatch) {
		t.Errorf("got %v, want ErrAccountCountMismatch", err)
	}
}

func TestRunPage_PageSliceMustMatchWindow(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100}, 300, 10_000, 1000, nil)

	_, err := f.eng.RunPage(context.Background(), f.policy, f.progress, f.position, engine.PageRequest{
		PageStart:    0,
		PageSize:     2,
		Investors:    f.investors[0:1], // window expects 2
		AllInvestors: f.investors,
		Now:          state.SecondsPerDay,
	})
	if !errors.Is(err, engine.ErrAccountCountMismatch) {
		t.Errorf("got %v, want ErrAccountCountMismatch", err)
	}
}

func TestRunPage_MisindexedPageRejected(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{100, 100, 100}, 300, 10_000, 1000, nil)

	shuffled := []engine.InvestorRef{f.investors[1], f.investors[0], f.investors[2]}
	_, err := f.eng.RunPage(context.Background(), f.policy, f.progress, f.position, engine.PageRequest{
		PageStart:    0,
		PageSize:     3,
		Investors:    shuffled,
		AllInvestors: f.investors,
		Now:          state.SecondsPerDay,
	})
	if !errors.Is(err, engine.ErrInvalidPagination) {
		t.Errorf("got %v, want ErrInvalidPagination", err)
	}
}

// ============================================================================
// Test: multi-day cycles
// ============================================================================

func TestRunPage_SecondDayStartsClean(t *testing.T) {
	f := newFixture(t, 1_000_000, []uint64{500, 500}, 1000, 10_000, 1000, nil)

	f.mustRunPage(t, 0, 2, state.SecondsPerDay)
	if f.progress.TotalDistributions != 1 {
		t.Fatalf("distributions: got %d, want 1", f.progress.TotalDistributions)
	}

	// Next day: day one settled at commit, nothing claimable; day still cycles
	res := f.mustRunPage(t, 0, 2, 2*state.SecondsPerDay)
	if !res.DayClosed {
		t.Fatal("zero-claim day should still close")
	}
	if res.CreatorRemainder != 0 || res.PageDistributed != 0 {
		t.Errorf("zero-claim day moved funds: remainder=%d paid=%d", res.CreatorRemainder, res.PageDistributed)
	}
	if f.progress.TotalDistributions != 2 {
		t.Errorf("distributions: got %d, want 2", f.progress.TotalDistributions)
	}
	if f.feeSource.Claims != 2 {
		t.Errorf("claims: got %d, want 2 (once per day)", f.feeSource.Claims)
	}
}

func TestRunPage_PartialFinalPageClamps(t *testing.T) {
	// 3 investors, pageSize 2: final page covers only index 2
	f := newFixture(t, 900_000, []uint64{100, 100, 100}, 300, 10_000, 1000, nil)

	f.mustRunPage(t, 0, 2, state.SecondsPerDay)
	res := f.mustRunPage(t, 2, 2, state.SecondsPerDay)

	if !res.DayClosed {
		t.Fatal("clamped final page should close the day")
	}
	if f.progress.PaidCount() != 0 {
		// bitmap cleared at day close
		t.Errorf("bitmap not cleared after close: %d bits", f.progress.PaidCount())
	}
	if got := investorPaid(res, 2); got != 300_000 {
		t.Errorf("investor 2: got %d, want 300000", got)
	}
}
