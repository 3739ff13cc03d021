package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"FeeRouter/internal/engine"
	"FeeRouter/internal/event"
	"FeeRouter/internal/feesource"
	"FeeRouter/internal/guard"
	"FeeRouter/internal/observability"
	"FeeRouter/internal/persistence"
	"FeeRouter/internal/service"
	"FeeRouter/internal/state"
	"FeeRouter/internal/testutil"
	"FeeRouter/internal/vesting"
)

// --- Test helpers ---

// capturePublisher records published events in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturePublisher) Publish(_ context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, len(p.events))
	for i, evt := range p.events {
		out[i] = evt.EventType()
	}
	return out
}

type integrationEnv struct {
	svc       *service.CrankService
	accruals  *feesource.PostgresFeeSource
	store     *persistence.Store
	clock     *clockwork.FakeClock
	publisher *capturePublisher
}

func setupIntegration(t *testing.T) (*integrationEnv, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		cleanup()
		t.Fatalf("run migrations: %v", err)
	}

	clock := clockwork.NewFakeClockAt(time.Unix(1_000_000, 0))
	store := persistence.NewStore(db)
	accruals := feesource.NewPostgresFeeSource(db)
	oracle := vesting.NewPostgresOracle(db)
	publisher := &capturePublisher{}

	eng := engine.NewDistributionEngine(accruals, oracle, observability.NewLogger("engine"))
	svc := service.NewCrankService(store, eng, publisher, clock, nil,
		observability.NewLogger("service"), service.Config{MaxPageSize: state.MaxPageSize})

	return &integrationEnv{
		svc:       svc,
		accruals:  accruals,
		store:     store,
		clock:     clock,
		publisher: publisher,
	}, cleanup
}

// setupVault creates a policy with three investors vesting linearly over
// [0, 2_000_000) so exactly half of each allocation is locked at the fake
// clock's start time, then registers the honorary position.
func setupVault(t *testing.T, env *integrationEnv) (vault, positionHandle state.Address) {
	t.Helper()
	ctx := context.Background()

	vault = testutil.Addr(0x10)
	creator := testutil.Addr(0x11)
	quoteMint := testutil.Addr(0x12)
	baseMint := testutil.Addr(0x13)
	pool := testutil.Addr(0x14)
	positionHandle = testutil.Addr(0x15)

	investors := make([]service.InvestorSetup, 3)
	for i := range investors {
		investors[i] = service.InvestorSetup{
			Wallet:          testutil.Addr(0x20 + byte(i)),
			Stream:          testutil.Addr(0x30 + byte(i)),
			TotalAllocation: 400_000,
			StartTs:         0,
			CliffTs:         0,
			EndTs:           2_000_000,
		}
	}

	_, err := env.svc.SetupPolicy(ctx, vault, state.PolicyParams{
		CreatorWallet:       creator,
		InvestorFeeShareBps: 6000,
		MinPayoutLamports:   1000,
		Y0TotalAllocation:   1_200_000,
		TotalInvestors:      3,
	}, investors)
	if err != nil {
		t.Fatalf("setup policy: %v", err)
	}

	_, err = env.svc.InitializePosition(ctx, vault, guard.PoolConfig{
		Pool:           pool,
		TokenAMint:     baseMint,
		TokenBMint:     quoteMint,
		CollectFeeMode: guard.CollectTokenBOnly,
		Enabled:        true,
	}, quoteMint, positionHandle)
	if err != nil {
		t.Fatalf("initialize position: %v", err)
	}
	return vault, positionHandle
}

// ============================================================================
// Test: full distribution day against real Postgres
// ============================================================================

func TestCrank_FullDayAgainstPostgres(t *testing.T) {
	env, cleanup := setupIntegration(t)
	defer cleanup()
	ctx := context.Background()

	vault, position := setupVault(t, env)

	if err := env.accruals.Accrue(ctx, position, 1_000_000, 0); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	// Half of Y0 is locked: eligible share is 5000 bps, pool 500_000,
	// each investor floor(500_000/3) = 166_666.
	res, err := env.svc.Crank(ctx, vault, 0, 3)
	if err != nil {
		t.Fatalf("crank: %v", err)
	}
	if !res.DayClosed {
		t.Fatal("expected the single full page to close the day")
	}
	if res.ClaimedThisPage != 1_000_000 {
		t.Errorf("claimed: got %d, want 1000000", res.ClaimedThisPage)
	}
	if res.PageDistributed != 499_998 {
		t.Errorf("distributed: got %d, want 499998", res.PageDistributed)
	}
	if res.CreatorRemainder != 500_002 {
		t.Errorf("remainder: got %d, want 500002", res.CreatorRemainder)
	}
	if res.TransfersWritten != 5 {
		t.Errorf("transfers written: got %d, want 5 (claim + 3 payouts + remainder)", res.TransfersWritten)
	}

	progress, err := env.store.GetProgress(ctx, vault)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if !progress.DayCompleted || progress.Cursor != 0 {
		t.Errorf("progress after close: dayCompleted=%v cursor=%d", progress.DayCompleted, progress.Cursor)
	}
	if progress.TotalInvestorDistributed != 499_998 || progress.TotalCreatorDistributed != 500_002 {
		t.Errorf("lifetime counters: investor=%d creator=%d",
			progress.TotalInvestorDistributed, progress.TotalCreatorDistributed)
	}

	rows, err := env.store.ListTransfers(ctx, vault, 0, 100)
	if err != nil {
		t.Fatalf("list transfers: %v", err)
	}
	if len(rows) != 5 {
		t.Errorf("persisted transfers: got %d, want 5", len(rows))
	}

	// The commit settled the claim: nothing is left on the accrual row.
	quote, base, err := env.accruals.Claimable(ctx, position)
	if err != nil {
		t.Fatalf("claimable after commit: %v", err)
	}
	if quote != 0 || base != 0 {
		t.Errorf("accrual after commit: got quote=%d base=%d, want 0/0", quote, base)
	}

	want := []event.Type{
		event.TypePolicySetup,
		event.TypeHonoraryPositionInitialized,
		event.TypeQuoteFeesClaimed,
		event.TypeInvestorPayoutPage,
		event.TypeCreatorPayoutDayClosed,
	}
	got := env.publisher.types()
	if len(got) != len(want) {
		t.Fatalf("published events: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

// ============================================================================
// Test: window gate and second day
// ============================================================================

func TestCrank_WindowGateThenSecondDay(t *testing.T) {
	env, cleanup := setupIntegration(t)
	defer cleanup()
	ctx := context.Background()

	vault, position := setupVault(t, env)

	if err := env.accruals.Accrue(ctx, position, 1_000_000, 0); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if _, err := env.svc.Crank(ctx, vault, 0, 3); err != nil {
		t.Fatalf("day one crank: %v", err)
	}

	// Same day again: the 24h window has not elapsed.
	if _, err := env.svc.Crank(ctx, vault, 0, 3); !errors.Is(err, engine.ErrDistributionWindowNotElapsed) {
		t.Fatalf("expected window rejection, got %v", err)
	}

	env.clock.Advance(24 * time.Hour)
	if err := env.accruals.Accrue(ctx, position, 600_000, 0); err != nil {
		t.Fatalf("accrue day two: %v", err)
	}

	// At t=1_086_400 each investor has 182_720 locked (548_160 total):
	// eligible share 4568 bps, pool 274_080, split three ways exactly.
	res, err := env.svc.Crank(ctx, vault, 0, 3)
	if err != nil {
		t.Fatalf("day two crank: %v", err)
	}
	if !res.DayClosed {
		t.Fatal("expected day two to close")
	}
	if res.PageDistributed != 274_080 {
		t.Errorf("day two distributed: got %d, want 274080", res.PageDistributed)
	}
	if res.CreatorRemainder != 325_920 {
		t.Errorf("day two remainder: got %d, want 325920", res.CreatorRemainder)
	}
	if res.PageDistributed+res.CreatorRemainder != res.ClaimedThisPage {
		t.Errorf("conservation: %d + %d != %d",
			res.PageDistributed, res.CreatorRemainder, res.ClaimedThisPage)
	}

	progress, err := env.store.GetProgress(ctx, vault)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if progress.TotalDistributions != 2 {
		t.Errorf("total distributions: got %d, want 2", progress.TotalDistributions)
	}
}

// ============================================================================
// Test: accruals accumulate and reading does not settle
// ============================================================================

func TestFeeSource_ReadDoesNotSettle(t *testing.T) {
	env, cleanup := setupIntegration(t)
	defer cleanup()
	ctx := context.Background()

	position := testutil.Addr(0x77)
	if err := env.accruals.Accrue(ctx, position, 5000, 70); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := env.accruals.Accrue(ctx, position, 2500, 0); err != nil {
		t.Fatalf("second accrue: %v", err)
	}

	for i := 0; i < 2; i++ {
		quote, base, err := env.accruals.Claimable(ctx, position)
		if err != nil {
			t.Fatalf("claimable %d: %v", i, err)
		}
		if quote != 7500 || base != 70 {
			t.Errorf("claimable %d: got quote=%d base=%d, want 7500/70", i, quote, base)
		}
	}

	// Unknown position reads zero.
	quote, base, err := env.accruals.Claimable(ctx, testutil.Addr(0x78))
	if err != nil || quote != 0 || base != 0 {
		t.Errorf("unknown position: got quote=%d base=%d err=%v", quote, base, err)
	}
}

// ============================================================================
// Test: policy setup is all-or-nothing
// ============================================================================

func TestSetupPolicy_AtomicWithSchedules(t *testing.T) {
	env, cleanup := setupIntegration(t)
	defer cleanup()
	ctx := context.Background()

	vault := testutil.Addr(0x40)
	params := state.PolicyParams{
		CreatorWallet:       testutil.Addr(0x41),
		InvestorFeeShareBps: 5000,
		MinPayoutLamports:   1000,
		Y0TotalAllocation:   1_000_000,
		TotalInvestors:      2,
	}
	investors := []service.InvestorSetup{
		{Wallet: testutil.Addr(0x50), Stream: testutil.Addr(0x60), TotalAllocation: 500_000, EndTs: 2_000_000},
		// Overflows BIGINT and trips the schema check, after investor 0
		// was already written in the same transaction.
		{Wallet: testutil.Addr(0x51), Stream: testutil.Addr(0x61), TotalAllocation: 1 << 63, EndTs: 2_000_000},
	}

	if _, err := env.svc.SetupPolicy(ctx, vault, params, investors); err == nil {
		t.Fatal("expected setup to fail on the bad schedule row")
	}

	// Nothing survived the rollback: the vault does not exist.
	if _, err := env.store.GetPolicy(ctx, vault); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("policy after failed setup: got %v, want ErrNotFound", err)
	}
	rows, err := env.store.ListVestingSchedules(ctx, vault, 0, 0)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("schedules after failed setup: got %d, want 0", len(rows))
	}

	// The same vault can be set up again once the data is fixed.
	investors[1].TotalAllocation = 500_000
	if _, err := env.svc.SetupPolicy(ctx, vault, params, investors); err != nil {
		t.Fatalf("retry after failed setup: %v", err)
	}
	rows, err = env.store.ListVestingSchedules(ctx, vault, 0, 0)
	if err != nil {
		t.Fatalf("list schedules after retry: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("schedules after retry: got %d, want 2", len(rows))
	}
}
