package usecase

import (
	"context"
	"sync"

	"github.com/vitos/crypto_ut_bot/internal/domain"
)

// mockExchange is a hand-rolled domain.Exchange for service tests.
type mockExchange struct {
	mu sync.Mutex

	Markets      []domain.Market
	Candles      []domain.Candle
	CandlesErr   error
	Account      *domain.Account
	AccountErr   error
	CreateResult *domain.TxResult
	CreateErr    error

	MarketOrders []domain.CreateMarketOrderRequest
	LimitOrders  []domain.CreateOrderRequest
	Cancelled    []int64
	Subscribed   []int

	bookCb func(marketID int, book *domain.OrderBook)
}

func (m *mockExchange) GetOrderBooks(ctx context.Context) ([]domain.Market, error) {
	return m.Markets, nil
}

func (m *mockExchange) GetOrderBookOrders(ctx context.Context, marketID, limit int) (*domain.OrderBook, error) {
	return &domain.OrderBook{MarketID: marketID}, nil
}

func (m *mockExchange) GetRecentTrades(ctx context.Context, marketID, limit int) ([]domain.PublicTrade, error) {
	return nil, nil
}

func (m *mockExchange) GetCandles(ctx context.Context, marketID int, resolution string, startTs, endTs int64, countBack int) ([]domain.Candle, error) {
	return m.Candles, m.CandlesErr
}

func (m *mockExchange) GetAccount(ctx context.Context) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AccountErr != nil {
		return nil, m.AccountErr
	}
	if m.Account == nil {
		return &domain.Account{}, nil
	}
	return m.Account, nil
}

func (m *mockExchange) SetAccount(a *domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Account = a
}

func (m *mockExchange) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LimitOrders = append(m.LimitOrders, req)
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if m.CreateResult != nil {
		return m.CreateResult, nil
	}
	return &domain.TxResult{TxHash: "0xmock"}, nil
}

func (m *mockExchange) CreateMarketOrder(ctx context.Context, req domain.CreateMarketOrderRequest) (*domain.TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarketOrders = append(m.MarketOrders, req)
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if m.CreateResult != nil {
		return m.CreateResult, nil
	}
	return &domain.TxResult{TxHash: "0xmock"}, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, marketID int, orderIndex int64) (*domain.TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, orderIndex)
	return &domain.TxResult{TxHash: "0xcancel"}, nil
}

func (m *mockExchange) OnOrderBookUpdate(cb func(marketID int, book *domain.OrderBook)) {
	m.bookCb = cb
}

func (m *mockExchange) OnAccountUpdate(cb func(accountID int, raw []byte)) {}

func (m *mockExchange) Subscribe(marketIDs []int) error {
	m.Subscribed = append(m.Subscribed, marketIDs...)
	return nil
}

func (m *mockExchange) Close() error { return nil }

// pushBook simulates a WS order book update arriving.
func (m *mockExchange) pushBook(marketID int, book *domain.OrderBook) {
	if m.bookCb != nil {
		m.bookCb(marketID, book)
	}
}

// mockInfo is a static MarketInfoProvider.
type mockInfo struct {
	snapshots map[int]*domain.MarketSnapshot
	markets   map[int]*domain.Market
}

func (m *mockInfo) GetSnapshot(marketID int) *domain.MarketSnapshot { return m.snapshots[marketID] }
func (m *mockInfo) GetMarket(marketID int) *domain.Market           { return m.markets[marketID] }

// mockSyncer is a PositionSyncer whose position appears after a sync.
type mockSyncer struct {
	mu       sync.Mutex
	position *domain.Position
	synced   int
}

func (m *mockSyncer) UpdatePositions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced++
	return nil
}

func (m *mockSyncer) GetPosition(marketID int) *domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// mockHandle is a TradingHandle that records submitted order requests.
type mockHandle struct {
	mu       sync.Mutex
	requests []OrderRequest
	position *domain.Position
	snapshot *domain.MarketSnapshot
	candles  []domain.Candle
	histErr  error
}

func (m *mockHandle) SubmitOrder(ctx context.Context, req OrderRequest) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return &domain.Order{ID: "mock", Status: domain.OrderStatusPending}, nil
}

func (m *mockHandle) GetPosition(marketID int) *domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return nil
	}
	cp := *m.position
	return &cp
}

func (m *mockHandle) GetSnapshot(marketID int) *domain.MarketSnapshot { return m.snapshot }

func (m *mockHandle) GetHistoricalCandles(ctx context.Context, marketID, limit int) ([]domain.Candle, error) {
	return m.candles, m.histErr
}

func (m *mockHandle) Requests() []OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OrderRequest(nil), m.requests...)
}

func (m *mockHandle) setPosition(p *domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = p
}
