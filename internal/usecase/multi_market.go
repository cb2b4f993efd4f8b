package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/crypto_ut_bot/internal/config"
	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMarketConcurrency = 10
	requestWindowLimit       = 60 // per 60 s sliding window
)

// MultiMarketStrategy runs one UT-Bot instance per market behind a single
// Strategy facade. Markets are evaluated concurrently, bounded by a
// semaphore and a sliding-window request limiter.
type MultiMarketStrategy struct {
	name   string
	logger *zap.Logger

	strategies map[int]*UTBotStrategy
	markets    []int

	semaphore chan struct{}
	limiter   *rate.Limiter

	realtime bool
}

func NewMultiMarketStrategy(name string, cfg config.StrategyConfig, concurrency int, logger *zap.Logger) *MultiMarketStrategy {
	if concurrency <= 0 {
		concurrency = defaultMarketConcurrency
	}

	strategies := make(map[int]*UTBotStrategy)
	var markets []int
	for _, id := range cfg.Markets() {
		perMarket := cfg
		perMarket.MarketID = id
		perMarket.MarketIDs = nil
		sub := NewUTBotStrategy(fmt.Sprintf("%s[%d]", name, id), perMarket, logger)
		strategies[id] = sub
		markets = append(markets, id)
	}

	return &MultiMarketStrategy{
		name:       name,
		logger:     logger,
		strategies: strategies,
		markets:    markets,
		semaphore:  make(chan struct{}, concurrency),
		limiter:    rate.NewLimiter(rate.Limit(float64(requestWindowLimit)/60.0), requestWindowLimit),
		realtime:   cfg.UseRealTimeTicks,
	}
}

func (m *MultiMarketStrategy) Name() string            { return m.name }
func (m *MultiMarketStrategy) Markets() []int          { return append([]int(nil), m.markets...) }
func (m *MultiMarketStrategy) UsesRealtimeTicks() bool { return m.realtime }

func (m *MultiMarketStrategy) Initialize(ctx context.Context, handle TradingHandle) error {
	for id, sub := range m.strategies {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := sub.Initialize(ctx, handle); err != nil {
			return fmt.Errorf("initialize market %d: %w", id, err)
		}
	}
	return nil
}

func (m *MultiMarketStrategy) Start(ctx context.Context) error {
	for _, sub := range m.strategies {
		if err := sub.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiMarketStrategy) Stop(ctx context.Context) error {
	var firstErr error
	for _, sub := range m.strategies {
		if err := sub.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OnTick fans out to one task per market. Every market is eventually
// processed: the semaphore only bounds concurrency, never drops work.
func (m *MultiMarketStrategy) OnTick(ctx context.Context, snapshots map[int]*domain.MarketSnapshot) error {
	var wg sync.WaitGroup
	for _, id := range m.markets {
		sub := m.strategies[id]
		wg.Add(1)
		go func(marketID int, sub *UTBotStrategy) {
			defer wg.Done()
			m.semaphore <- struct{}{}
			defer func() { <-m.semaphore }()

			if err := m.limiter.Wait(ctx); err != nil {
				return
			}
			if err := sub.OnTick(ctx, snapshots); err != nil {
				m.logger.Error("market evaluation failed",
					zap.String("strategy", m.name),
					zap.Int("market", marketID),
					zap.Error(err))
			}
		}(id, sub)
	}
	wg.Wait()
	return nil
}

func (m *MultiMarketStrategy) OnRealtimeTick(ctx context.Context, marketID int, tick domain.Tick) {
	if sub, ok := m.strategies[marketID]; ok {
		sub.OnRealtimeTick(ctx, marketID, tick)
	}
}
