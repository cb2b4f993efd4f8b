package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxCachedCandles = 500
	maxBookDepth     = 10
	restMinInterval  = 100 * time.Millisecond
	restConcurrency  = 3
)

// TickCallback receives every WS-derived tick. Callbacks run synchronously
// from the reader context and must not block.
type TickCallback func(marketID int, tick domain.Tick)

// MarketDataHub owns the live per-market snapshots, keeps the WebSocket
// subscription alive and fans ticks out to subscribers. REST calls for
// metadata and history go through a shared limiter: at most 3 in flight,
// at least 100 ms apart.
type MarketDataHub struct {
	exchange domain.Exchange
	external domain.CandleSource // warm-up fallback, may be nil
	logger   *zap.Logger

	symbolOverrides map[int]string

	mu          sync.Mutex
	snapshots   map[int]*domain.MarketSnapshot
	markets     map[int]*domain.Market
	subscribers []tickSubscriber
	nextSubID   int

	restLimiter *rate.Limiter
	restSlots   chan struct{}
}

func NewMarketDataHub(exchange domain.Exchange, external domain.CandleSource, symbolOverrides map[int]string, logger *zap.Logger) *MarketDataHub {
	return &MarketDataHub{
		exchange:        exchange,
		external:        external,
		logger:          logger,
		symbolOverrides: symbolOverrides,
		snapshots:       make(map[int]*domain.MarketSnapshot),
		markets:         make(map[int]*domain.Market),
		restLimiter:     rate.NewLimiter(rate.Every(restMinInterval), 1),
		restSlots:       make(chan struct{}, restConcurrency),
	}
}

// acquireREST serialises REST access: a pacing wait plus a 3-slot semaphore.
func (h *MarketDataHub) acquireREST(ctx context.Context) (release func(), err error) {
	select {
	case h.restSlots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := h.restLimiter.Wait(ctx); err != nil {
		<-h.restSlots
		return nil, err
	}
	return func() { <-h.restSlots }, nil
}

// Initialize bootstraps empty snapshots for the given markets, loads market
// metadata once over REST and starts the WebSocket subscription.
func (h *MarketDataHub) Initialize(ctx context.Context, marketIDs []int) error {
	h.mu.Lock()
	for _, id := range marketIDs {
		if _, ok := h.snapshots[id]; !ok {
			h.snapshots[id] = &domain.MarketSnapshot{MarketID: id}
		}
	}
	h.mu.Unlock()

	release, err := h.acquireREST(ctx)
	if err != nil {
		return err
	}
	markets, err := h.exchange.GetOrderBooks(ctx)
	release()
	if err != nil {
		return fmt.Errorf("failed to load market metadata: %w", err)
	}

	h.mu.Lock()
	for i := range markets {
		m := markets[i]
		h.markets[m.MarketID] = &m
		if snap, ok := h.snapshots[m.MarketID]; ok {
			snap.Symbol = m.Symbol
		}
	}
	h.mu.Unlock()

	h.exchange.OnOrderBookUpdate(h.handleOrderBookUpdate)
	if err := h.exchange.Subscribe(marketIDs); err != nil {
		return fmt.Errorf("failed to subscribe websocket: %w", err)
	}

	h.logger.Info("market data hub initialized",
		zap.Ints("markets", marketIDs), zap.Int("known_markets", len(markets)))
	return nil
}

// GetSnapshot returns a copy of the live snapshot, or nil when unknown.
func (h *MarketDataHub) GetSnapshot(marketID int) *domain.MarketSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.snapshots[marketID]
	if !ok {
		return nil
	}
	return snap.Copy()
}

// GetMarket returns the cached metadata for a market, or nil.
func (h *MarketDataHub) GetMarket(marketID int) *domain.Market {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.markets[marketID]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Markets returns all cached market metadata.
func (h *MarketDataHub) Markets() []domain.Market {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Market, 0, len(h.markets))
	for _, m := range h.markets {
		out = append(out, *m)
	}
	return out
}

type tickSubscriber struct {
	id int
	cb TickCallback
}

// Subscribe registers a tick callback and returns its unsubscribe func.
// Callbacks fire in registration order.
func (h *MarketDataHub) Subscribe(cb TickCallback) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSubID++
	id := h.nextSubID
	h.subscribers = append(h.subscribers, tickSubscriber{id: id, cb: cb})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, sub := range h.subscribers {
			if sub.id == id {
				h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
				return
			}
		}
	}
}

// GetHistoricalCandles is an explicit REST-backed query used only for
// strategy warm-up; results never land in the snapshot cache.
func (h *MarketDataHub) GetHistoricalCandles(ctx context.Context, marketID, limit int) ([]domain.Candle, error) {
	release, err := h.acquireREST(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if h.external != nil {
		symbol := h.ExternalSymbol(marketID)
		if symbol != "" {
			candles, err := h.external.GetKlines(ctx, symbol, "1m", limit)
			if err == nil {
				return candles, nil
			}
			h.logger.Warn("external candle source failed, falling back to native",
				zap.Int("market", marketID), zap.Error(err))
		}
	}

	now := time.Now().UTC()
	end := now.Unix()
	start := now.Add(-time.Duration(limit) * time.Minute).Unix()
	return h.exchange.GetCandles(ctx, marketID, "1m", start, end, limit)
}

// builtinSymbols maps market ids to feed symbols when neither an operator
// override nor exchange metadata is available.
var builtinSymbols = map[int]string{
	0: "ETHUSDT",
	1: "BTCUSDT",
	2: "SOLUSDT",
	3: "DOGEUSDT",
	4: "LINKUSDT",
}

// ExternalSymbol resolves marketID to the external feed symbol:
// operator override, then snapshot metadata, then the built-in table.
func (h *MarketDataHub) ExternalSymbol(marketID int) string {
	if s, ok := h.symbolOverrides[marketID]; ok {
		return s
	}
	h.mu.Lock()
	snap, ok := h.snapshots[marketID]
	var symbol string
	if ok {
		symbol = snap.Symbol
	}
	h.mu.Unlock()
	if symbol != "" {
		return symbol + "USDT"
	}
	return builtinSymbols[marketID]
}

// handleOrderBookUpdate is invoked by the WS reader. It is the only writer
// of snapshot state.
func (h *MarketDataHub) handleOrderBookUpdate(marketID int, book *domain.OrderBook) {
	if book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return
	}

	bid := book.Bids[0]
	ask := book.Asks[0]
	mid := (bid.Price + ask.Price) / 2

	tick := domain.Tick{
		MarketID: marketID,
		Time:     time.Now().UTC(),
		Bid:      bid.Price,
		Ask:      ask.Price,
		Mid:      mid,
		Spread:   ask.Price - bid.Price,
		BidSize:  bid.Size,
		AskSize:  ask.Size,
	}

	h.mu.Lock()
	snap, ok := h.snapshots[marketID]
	if !ok {
		snap = &domain.MarketSnapshot{MarketID: marketID}
		h.snapshots[marketID] = snap
	}
	snap.LastPrice = mid
	snap.LastTick = tick
	snap.OrderBook = domain.OrderBook{
		MarketID: marketID,
		Bids:     clampBook(book.Bids),
		Asks:     clampBook(book.Asks),
	}
	appendTickCandle(snap, tick)
	subs := append([]tickSubscriber(nil), h.subscribers...)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.cb(marketID, tick)
	}
}

func clampBook(entries []domain.OrderBookEntry) []domain.OrderBookEntry {
	n := len(entries)
	if n > maxBookDepth {
		n = maxBookDepth
	}
	return append([]domain.OrderBookEntry(nil), entries[:n]...)
}

// appendTickCandle folds a tick into the current 1-minute bar, keyed by the
// UTC minute. This is the only path that populates snapshot candles.
func appendTickCandle(snap *domain.MarketSnapshot, tick domain.Tick) {
	barStart := tick.Time.Unix() - tick.Time.Unix()%60

	n := len(snap.Candles)
	if n > 0 && snap.Candles[n-1].Time == barStart {
		bar := &snap.Candles[n-1]
		bar.Close = tick.Mid
		if tick.Mid > bar.High {
			bar.High = tick.Mid
		}
		if tick.Mid < bar.Low {
			bar.Low = tick.Mid
		}
		return
	}

	snap.Candles = append(snap.Candles, domain.Candle{
		Time:  barStart,
		Open:  tick.Mid,
		High:  tick.Mid,
		Low:   tick.Mid,
		Close: tick.Mid,
	})
	if len(snap.Candles) > maxCachedCandles {
		snap.Candles = snap.Candles[len(snap.Candles)-maxCachedCandles:]
	}
}

// RequiredMarkets returns the union of markets named by enabled strategies
// plus the configured extras; falls back to the seed set {0, 1, 2}.
func RequiredMarkets(strategyMarkets [][]int, extras []int) []int {
	seen := make(map[int]bool)
	var out []int
	add := func(id int) {
		if id < 0 || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, set := range strategyMarkets {
		for _, id := range set {
			add(id)
		}
	}
	for _, id := range extras {
		add(id)
	}
	if len(out) == 0 {
		return []int{0, 1, 2}
	}
	return out
}
