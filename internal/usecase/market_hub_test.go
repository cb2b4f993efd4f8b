package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
)

func testBook(marketID int, bid, ask float64) *domain.OrderBook {
	return &domain.OrderBook{
		MarketID: marketID,
		Bids:     []domain.OrderBookEntry{{Price: bid, Size: 2}},
		Asks:     []domain.OrderBookEntry{{Price: ask, Size: 3}},
	}
}

func TestHubInitialize(t *testing.T) {
	ex := &mockExchange{Markets: []domain.Market{
		{MarketID: 0, Symbol: "ETH", SizeUnit: 0.0001},
		{MarketID: 1, Symbol: "BTC", SizeUnit: 0.00001},
	}}
	hub := NewMarketDataHub(ex, nil, nil, zap.NewNop())

	require.NoError(t, hub.Initialize(context.Background(), []int{0, 1}))

	assert.Equal(t, []int{0, 1}, ex.Subscribed)
	require.NotNil(t, ex.bookCb, "order book callback must be registered")

	m := hub.GetMarket(0)
	require.NotNil(t, m)
	assert.Equal(t, "ETH", m.Symbol)
	assert.Nil(t, hub.GetMarket(99))

	snap := hub.GetSnapshot(0)
	require.NotNil(t, snap)
	assert.Equal(t, "ETH", snap.Symbol)
	assert.Len(t, hub.Markets(), 2)
}

func TestHubOrderBookUpdate(t *testing.T) {
	ex := &mockExchange{Markets: []domain.Market{{MarketID: 0, Symbol: "ETH"}}}
	hub := NewMarketDataHub(ex, nil, nil, zap.NewNop())
	require.NoError(t, hub.Initialize(context.Background(), []int{0}))

	ex.pushBook(0, testBook(0, 1999, 2001))

	snap := hub.GetSnapshot(0)
	require.NotNil(t, snap)
	assert.Equal(t, 2000.0, snap.LastPrice, "mid of best bid and ask")
	assert.Equal(t, 1999.0, snap.LastTick.Bid)
	assert.Equal(t, 2001.0, snap.LastTick.Ask)
	assert.Equal(t, 2.0, snap.LastTick.Spread)
	require.Len(t, snap.Candles, 1)
	assert.Equal(t, 2000.0, snap.Candles[0].Open)
	assert.Equal(t, int64(0), snap.Candles[0].Time%60)
}

func TestHubTickCandleAggregation(t *testing.T) {
	snap := &domain.MarketSnapshot{MarketID: 0}
	base := int64(1700000400)

	ticks := []struct {
		at  int64
		mid float64
	}{
		{base, 100}, {base + 10, 103}, {base + 50, 99}, {base + 61, 101},
	}
	for _, tk := range ticks {
		appendTickCandle(snap, domain.Tick{
			MarketID: 0,
			Time:     time.Unix(tk.at, 0).UTC(),
			Mid:      tk.mid,
		})
	}

	require.Len(t, snap.Candles, 2)
	first := snap.Candles[0]
	assert.Equal(t, base, first.Time)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 103.0, first.High)
	assert.Equal(t, 99.0, first.Low)
	assert.Equal(t, 99.0, first.Close)

	second := snap.Candles[1]
	assert.Equal(t, base+60, second.Time)
	assert.Equal(t, 101.0, second.Open)
}

func TestHubSnapshotIsolation(t *testing.T) {
	ex := &mockExchange{}
	hub := NewMarketDataHub(ex, nil, nil, zap.NewNop())
	require.NoError(t, hub.Initialize(context.Background(), []int{0}))
	ex.pushBook(0, testBook(0, 99, 101))

	snap := hub.GetSnapshot(0)
	snap.LastPrice = -1
	snap.Candles[0].Close = -1

	fresh := hub.GetSnapshot(0)
	assert.Equal(t, 100.0, fresh.LastPrice)
	assert.Equal(t, 100.0, fresh.Candles[0].Close)
}

func TestHubSubscribeAndUnsubscribe(t *testing.T) {
	ex := &mockExchange{}
	hub := NewMarketDataHub(ex, nil, nil, zap.NewNop())
	require.NoError(t, hub.Initialize(context.Background(), []int{0}))

	var order []string
	unsubA := hub.Subscribe(func(marketID int, tick domain.Tick) { order = append(order, "a") })
	hub.Subscribe(func(marketID int, tick domain.Tick) { order = append(order, "b") })

	ex.pushBook(0, testBook(0, 99, 101))
	assert.Equal(t, []string{"a", "b"}, order, "callbacks fire in registration order")

	unsubA()
	order = nil
	ex.pushBook(0, testBook(0, 99, 101))
	assert.Equal(t, []string{"b"}, order)
}

func TestHubClampsBookDepth(t *testing.T) {
	book := &domain.OrderBook{MarketID: 0}
	for i := 0; i < 25; i++ {
		book.Bids = append(book.Bids, domain.OrderBookEntry{Price: 100 - float64(i)})
		book.Asks = append(book.Asks, domain.OrderBookEntry{Price: 101 + float64(i)})
	}

	ex := &mockExchange{}
	hub := NewMarketDataHub(ex, nil, nil, zap.NewNop())
	require.NoError(t, hub.Initialize(context.Background(), []int{0}))
	ex.pushBook(0, book)

	snap := hub.GetSnapshot(0)
	assert.Len(t, snap.OrderBook.Bids, maxBookDepth)
	assert.Len(t, snap.OrderBook.Asks, maxBookDepth)
}

type mockCandleSource struct {
	candles []domain.Candle
	err     error
	symbols []string
}

func (m *mockCandleSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.symbols = append(m.symbols, symbol)
	return m.candles, m.err
}

func TestHubHistoricalCandles_ExternalFirst(t *testing.T) {
	ex := &mockExchange{Candles: []domain.Candle{{Time: 1, Close: 1}}}
	src := &mockCandleSource{candles: []domain.Candle{{Time: 2, Close: 2}}}
	hub := NewMarketDataHub(ex, src, map[int]string{0: "ETHUSDT"}, zap.NewNop())

	got, err := hub.GetHistoricalCandles(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, src.candles, got)
	assert.Equal(t, []string{"ETHUSDT"}, src.symbols)

	// Warm-up queries never land in the snapshot cache.
	assert.Nil(t, hub.GetSnapshot(0))
}

func TestHubHistoricalCandles_FallsBackToNative(t *testing.T) {
	ex := &mockExchange{Candles: []domain.Candle{{Time: 1, Close: 1}}}
	src := &mockCandleSource{err: errors.New("rate limited")}
	hub := NewMarketDataHub(ex, src, map[int]string{0: "ETHUSDT"}, zap.NewNop())

	got, err := hub.GetHistoricalCandles(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, ex.Candles, got)
}

func TestHubExternalSymbol(t *testing.T) {
	ex := &mockExchange{Markets: []domain.Market{{MarketID: 0, Symbol: "ETH"}}}
	hub := NewMarketDataHub(ex, nil, map[int]string{3: "DOGEUSDT"}, zap.NewNop())
	require.NoError(t, hub.Initialize(context.Background(), []int{0}))

	// Operator override wins.
	assert.Equal(t, "DOGEUSDT", hub.ExternalSymbol(3))
	// Snapshot metadata gets the quote suffix.
	assert.Equal(t, "ETHUSDT", hub.ExternalSymbol(0))
	// Built-in table as the last resort.
	assert.Equal(t, "BTCUSDT", hub.ExternalSymbol(1))
	assert.Equal(t, "", hub.ExternalSymbol(99))
}

func TestRequiredMarkets(t *testing.T) {
	got := RequiredMarkets([][]int{{0, 2}, {2, 5}}, []int{1})
	assert.Equal(t, []int{0, 2, 5, 1}, got)

	// Negative ids are dropped.
	got = RequiredMarkets([][]int{{-1, 4}}, nil)
	assert.Equal(t, []int{4}, got)

	// Seed set when nothing is configured.
	assert.Equal(t, []int{0, 1, 2}, RequiredMarkets(nil, nil))
}
