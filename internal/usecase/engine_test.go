package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_ut_bot/internal/config"
	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
)

// stubStrategy records ticks and can be made to fail or panic.
type stubStrategy struct {
	mu        sync.Mutex
	name      string
	markets   []int
	ticks     int
	realtime  int
	lastSnaps map[int]*domain.MarketSnapshot
	panicOn   bool
	useTicks  bool
}

func (s *stubStrategy) Name() string   { return s.name }
func (s *stubStrategy) Markets() []int { return s.markets }

func (s *stubStrategy) Initialize(ctx context.Context, handle TradingHandle) error { return nil }
func (s *stubStrategy) Start(ctx context.Context) error                            { return nil }
func (s *stubStrategy) Stop(ctx context.Context) error                             { return nil }

func (s *stubStrategy) OnTick(ctx context.Context, snapshots map[int]*domain.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOn {
		panic("strategy exploded")
	}
	s.ticks++
	s.lastSnaps = snapshots
	return nil
}

func (s *stubStrategy) OnRealtimeTick(ctx context.Context, marketID int, tick domain.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realtime++
}

func (s *stubStrategy) UsesRealtimeTicks() bool { return s.useTicks }

func (s *stubStrategy) tickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockNotifier) Notify(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func newTestEngine(ex *mockExchange, riskCfg config.RiskConfig) (*Engine, *MarketDataHub, *OrderManager, *PositionManager) {
	log := zap.NewNop()
	hub := NewMarketDataHub(ex, nil, nil, log)
	positions := NewPositionManager(ex, hub, log)
	risk := NewRiskManager(riskCfg, log)
	orders := NewOrderManager(ex, hub, positions, log)
	orders.SetObserver(risk)
	e := NewEngine(hub, orders, positions, risk, time.Second, log)
	return e, hub, orders, positions
}

func TestEngineInitialize(t *testing.T) {
	ex := &mockExchange{Markets: []domain.Market{{MarketID: 0, Symbol: "ETH"}}}
	e, _, _, _ := newTestEngine(ex, config.RiskConfig{})

	s := &stubStrategy{name: "stub", markets: []int{0, 2}}
	e.AddStrategy(s)

	require.NoError(t, e.Initialize(context.Background(), []int{1}))
	assert.Equal(t, []int{0, 2, 1}, e.markets)
	assert.Equal(t, []int{0, 2, 1}, ex.Subscribed)
}

func TestEngineRunTick_DrivesStrategiesAndOrders(t *testing.T) {
	ex := &mockExchange{
		Markets: []domain.Market{{MarketID: 0, Symbol: "ETH", SizeUnit: 0.0001}},
		Account: &domain.Account{TotalAssetValue: 10000},
	}
	e, _, orders, _ := newTestEngine(ex, config.RiskConfig{})
	s := &stubStrategy{name: "stub", markets: []int{0}}
	e.AddStrategy(s)
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx, nil))

	ex.pushBook(0, testBook(0, 1999, 2001))

	// A pending order placed through the handle is submitted on the tick.
	_, err := e.SubmitOrder(ctx, OrderRequest{
		MarketID: 0, Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket,
		Size: 0.05, Price: 2000,
	})
	require.NoError(t, err)

	e.runTick(ctx)

	assert.Equal(t, 1, s.tickCount())
	require.NotNil(t, s.lastSnaps[0])
	assert.Equal(t, 2000.0, s.lastSnaps[0].LastPrice)
	assert.Len(t, ex.MarketOrders, 1)
	assert.Len(t, orders.GetSubmittedOrders(), 1)
}

func TestEngineRunTick_RiskBreachSkipsStrategies(t *testing.T) {
	ex := &mockExchange{
		Markets: []domain.Market{{MarketID: 0, Symbol: "ETH"}},
		Account: &domain.Account{TotalAssetValue: 10000},
	}
	e, _, orders, _ := newTestEngine(ex, config.RiskConfig{MaxOpenOrders: 1})
	s := &stubStrategy{name: "stub", markets: []int{0}}
	e.AddStrategy(s)
	notifier := &mockNotifier{}
	e.SetNotifier(notifier)
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx, nil))

	// One active order trips the open-order limit.
	_, err := orders.CreateOrder(ctx, OrderRequest{
		MarketID: 0, Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Size: 1, Price: 2000,
	})
	require.NoError(t, err)

	e.runTick(ctx)

	assert.Equal(t, 0, s.tickCount(), "strategies must not run on a breached tick")
	assert.Empty(t, ex.LimitOrders, "pending orders must not be submitted on a breached tick")
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "risk limit breached")

	// The position mirror still syncs on a skipped tick.
	assert.Equal(t, 10000.0, e.positions.TotalAssetValue())
}

func TestEngineRunTick_PanicConfined(t *testing.T) {
	ex := &mockExchange{Account: &domain.Account{}}
	e, _, _, _ := newTestEngine(ex, config.RiskConfig{})
	bad := &stubStrategy{name: "bad", markets: []int{0}, panicOn: true}
	good := &stubStrategy{name: "good", markets: []int{0}}
	e.AddStrategy(bad)
	e.AddStrategy(good)
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx, nil))

	assert.NotPanics(t, func() { e.runTick(ctx) })
	assert.Equal(t, 1, good.tickCount(), "a panicking strategy must not take down the others")
}

func TestEngineRun_ShutdownOnCancel(t *testing.T) {
	ex := &mockExchange{Account: &domain.Account{}}
	e, _, _, _ := newTestEngine(ex, config.RiskConfig{})
	e.tickInterval = 10 * time.Millisecond
	s := &stubStrategy{name: "stub", markets: []int{0}, useTicks: true}
	e.AddStrategy(s)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Initialize(ctx, nil))

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Let a few ticks and a realtime event through.
	time.Sleep(50 * time.Millisecond)
	ex.pushBook(0, testBook(0, 99, 101))
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not shut down")
	}
	assert.Greater(t, s.tickCount(), 0)
}

func TestEngineTradingHandle(t *testing.T) {
	ex := &mockExchange{
		Markets: []domain.Market{{MarketID: 0, Symbol: "ETH"}},
		Candles: []domain.Candle{{Time: 60, Close: 100}},
		Account: &domain.Account{
			Positions: []domain.AccountPosition{
				{MarketID: 0, Sign: 1, Position: 1, AvgEntryPrice: 2000},
			},
		},
	}
	e, hub, _, positions := newTestEngine(ex, config.RiskConfig{})
	ctx := context.Background()
	require.NoError(t, hub.Initialize(ctx, []int{0}))
	require.NoError(t, positions.UpdatePositions(ctx))

	pos := e.GetPosition(0)
	require.NotNil(t, pos)
	assert.Equal(t, domain.SideLong, pos.Side)

	snap := e.GetSnapshot(0)
	require.NotNil(t, snap)

	candles, err := e.GetHistoricalCandles(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, candles, 1)
}
