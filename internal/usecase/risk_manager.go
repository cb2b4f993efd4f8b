package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_ut_bot/internal/config"
	"go.uber.org/zap"
)

// RiskManager tracks process-wide risk state and gates each engine tick.
// A breach skips strategy evaluation for the whole tick; counters are
// preserved.
type RiskManager struct {
	cfg    config.RiskConfig
	logger *zap.Logger

	mu            sync.Mutex
	dailyPnL      float64
	dayStart      time.Time
	startEquity   float64
	currentEquity float64
	maxEquity     float64
	orderTimes    []time.Time
	lastOrderTime time.Time
}

func NewRiskManager(cfg config.RiskConfig, logger *zap.Logger) *RiskManager {
	return &RiskManager{
		cfg:      cfg,
		logger:   logger,
		dayStart: time.Now().UTC().Truncate(24 * time.Hour),
	}
}

// RecordOrder counts a submitted order toward the per-minute window.
func (r *RiskManager) RecordOrder(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orderTimes = append(r.orderTimes, t)
	r.lastOrderTime = t
	r.pruneLocked(t)
}

func (r *RiskManager) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := r.orderTimes[:0]
	for _, t := range r.orderTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.orderTimes = kept
}

// UpdateEquity refreshes equity-derived state from account value.
func (r *RiskManager) UpdateEquity(totalAssetValue float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if day := now.Truncate(24 * time.Hour); day.After(r.dayStart) {
		r.dayStart = day
		r.startEquity = totalAssetValue
		r.dailyPnL = 0
	}
	if r.startEquity == 0 {
		r.startEquity = totalAssetValue
	}

	r.currentEquity = totalAssetValue
	if totalAssetValue > r.maxEquity {
		r.maxEquity = totalAssetValue
	}
	r.dailyPnL = totalAssetValue - r.startEquity
}

// Check returns a non-nil error describing the first breached limit, if any.
func (r *RiskManager) Check(openOrders int, totalMargin float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	r.pruneLocked(now)

	if r.cfg.MaxOrdersPerMin > 0 && len(r.orderTimes) >= r.cfg.MaxOrdersPerMin {
		return fmt.Errorf("order rate limit reached: %d orders in the last minute", len(r.orderTimes))
	}
	if r.cfg.MaxOpenOrders > 0 && openOrders >= r.cfg.MaxOpenOrders {
		return fmt.Errorf("max open orders reached: %d", openOrders)
	}
	if r.cfg.MaxDailyLossPct > 0 && r.startEquity > 0 {
		lossPct := -r.dailyPnL / r.startEquity
		if lossPct >= r.cfg.MaxDailyLossPct {
			return fmt.Errorf("daily loss limit breached: %.2f%%", lossPct*100)
		}
	}
	if r.cfg.MaxDrawdownPct > 0 && r.maxEquity > 0 {
		drawdown := (r.maxEquity - r.currentEquity) / r.maxEquity
		if drawdown >= r.cfg.MaxDrawdownPct {
			return fmt.Errorf("max drawdown breached: %.2f%%", drawdown*100)
		}
	}
	if r.cfg.MaxPositionPct > 0 && r.currentEquity > 0 {
		if totalMargin/r.currentEquity > r.cfg.MaxPositionPct {
			return fmt.Errorf("position limit breached: margin %.2f of equity %.2f", totalMargin, r.currentEquity)
		}
	}
	return nil
}

type RiskState struct {
	DailyPnL      float64   `json:"daily_pnl"`
	CurrentEquity float64   `json:"current_equity"`
	MaxEquity     float64   `json:"max_equity"`
	OrderCountMin int       `json:"order_count_minute"`
	LastOrderTime time.Time `json:"last_order_time"`
}

func (r *RiskManager) State() RiskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(time.Now().UTC())
	return RiskState{
		DailyPnL:      r.dailyPnL,
		CurrentEquity: r.currentEquity,
		MaxEquity:     r.maxEquity,
		OrderCountMin: len(r.orderTimes),
		LastOrderTime: r.lastOrderTime,
	}
}
