package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
)

const realtimeQueueSize = 1024

// Notifier is the outbound notification channel; Notify must not block.
type Notifier interface {
	Notify(message string)
}

type realtimeEvent struct {
	marketID int
	tick     domain.Tick
}

// Engine owns the component lifecycle and runs the periodic supervisor
// tick. It is also the TradingHandle strategies receive.
type Engine struct {
	hub       *MarketDataHub
	orders    *OrderManager
	positions *PositionManager
	risk      *RiskManager
	notifier  Notifier // optional
	logger    *zap.Logger

	strategies []Strategy
	markets    []int

	tickInterval time.Duration

	realtimeQueue chan realtimeEvent
	unsubscribe   func()
}

func NewEngine(
	hub *MarketDataHub,
	orders *OrderManager,
	positions *PositionManager,
	risk *RiskManager,
	tickInterval time.Duration,
	logger *zap.Logger,
) *Engine {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &Engine{
		hub:           hub,
		orders:        orders,
		positions:     positions,
		risk:          risk,
		logger:        logger,
		tickInterval:  tickInterval,
		realtimeQueue: make(chan realtimeEvent, realtimeQueueSize),
	}
}

func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

func (e *Engine) AddStrategy(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// --- TradingHandle ---

func (e *Engine) SubmitOrder(ctx context.Context, req OrderRequest) (*domain.Order, error) {
	return e.orders.CreateOrder(ctx, req)
}

func (e *Engine) GetPosition(marketID int) *domain.Position {
	return e.positions.GetPosition(marketID)
}

func (e *Engine) GetSnapshot(marketID int) *domain.MarketSnapshot {
	return e.hub.GetSnapshot(marketID)
}

func (e *Engine) GetHistoricalCandles(ctx context.Context, marketID, limit int) ([]domain.Candle, error) {
	return e.hub.GetHistoricalCandles(ctx, marketID, limit)
}

// --- lifecycle ---

// Initialize brings up the hub for the union of strategy markets and warms
// up every strategy.
func (e *Engine) Initialize(ctx context.Context, extraMarkets []int) error {
	var sets [][]int
	for _, s := range e.strategies {
		sets = append(sets, s.Markets())
	}
	e.markets = RequiredMarkets(sets, extraMarkets)

	if err := e.hub.Initialize(ctx, e.markets); err != nil {
		return fmt.Errorf("market data hub init: %w", err)
	}

	for _, s := range e.strategies {
		if err := s.Initialize(ctx, e); err != nil {
			return fmt.Errorf("strategy %s init: %w", s.Name(), err)
		}
	}
	return nil
}

// Run drives the supervisor loop until the context is cancelled, then shuts
// every component down. Shutdown leaves no orphan tasks behind.
func (e *Engine) Run(ctx context.Context) error {
	for _, s := range e.strategies {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("strategy %s start: %w", s.Name(), err)
		}
	}

	// Tick subscribers run in the WS reader context and must only enqueue;
	// the realtime worker drains the queue.
	anyRealtime := false
	for _, s := range e.strategies {
		if s.UsesRealtimeTicks() {
			anyRealtime = true
			break
		}
	}
	if anyRealtime {
		e.unsubscribe = e.hub.Subscribe(func(marketID int, tick domain.Tick) {
			select {
			case e.realtimeQueue <- realtimeEvent{marketID: marketID, tick: tick}:
			default:
				// Queue full; the periodic tick will catch up.
			}
		})
		go e.realtimeWorker(ctx)
	}

	e.logger.Info("engine started",
		zap.Duration("tick_interval", e.tickInterval),
		zap.Int("strategies", len(e.strategies)),
		zap.Ints("markets", e.markets))

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
			e.runTick(ctx)
		}
	}
}

// runTick is one pass of the supervisor: snapshots, risk gate, position
// sync, strategies, order processing.
func (e *Engine) runTick(ctx context.Context) {
	snapshots := make(map[int]*domain.MarketSnapshot, len(e.markets))
	for _, id := range e.markets {
		if snap := e.hub.GetSnapshot(id); snap != nil {
			snapshots[id] = snap
		}
	}

	if err := e.risk.Check(len(e.orders.GetActiveOrders()), e.positions.GetTotalMargin()); err != nil {
		e.logger.Warn("risk limit breached, skipping tick", zap.Error(err))
		if e.notifier != nil {
			e.notifier.Notify(fmt.Sprintf("risk limit breached: %v", err))
		}
		// Keep the position mirror fresh even on a skipped tick.
		if err := e.positions.UpdatePositions(ctx); err == nil {
			e.risk.UpdateEquity(e.positions.TotalAssetValue())
		}
		return
	}

	if err := e.positions.UpdatePositions(ctx); err != nil {
		e.logger.Warn("position sync failed", zap.Error(err))
	} else {
		e.risk.UpdateEquity(e.positions.TotalAssetValue())
	}

	for _, s := range e.strategies {
		e.safeOnTick(ctx, s, snapshots)
	}

	e.orders.ProcessOrders(ctx)
}

// safeOnTick confines a strategy failure to the strategy: errors and panics
// are logged and the engine moves on.
func (e *Engine) safeOnTick(ctx context.Context, s Strategy, snapshots map[int]*domain.MarketSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy panicked",
				zap.String("strategy", s.Name()),
				zap.Any("panic", r))
		}
	}()
	if err := s.OnTick(ctx, snapshots); err != nil {
		e.logger.Error("strategy tick failed",
			zap.String("strategy", s.Name()),
			zap.Error(err))
	}
}

func (e *Engine) realtimeWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.realtimeQueue:
			for _, s := range e.strategies {
				if s.UsesRealtimeTicks() {
					s.OnRealtimeTick(ctx, ev.marketID, ev.tick)
				}
			}
		}
	}
}

func (e *Engine) shutdown() {
	e.logger.Info("engine shutting down")

	if e.unsubscribe != nil {
		e.unsubscribe()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range e.strategies {
		if err := s.Stop(stopCtx); err != nil {
			e.logger.Warn("strategy stop failed",
				zap.String("strategy", s.Name()), zap.Error(err))
		}
	}

	e.orders.Wait()
	e.logger.Info("engine stopped")
}
