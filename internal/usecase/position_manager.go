package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
)

// PositionManager mirrors exchange-reported positions. Every sync replaces
// the local view wholesale: the account endpoint is authoritative.
type PositionManager struct {
	exchange domain.Exchange
	info     MarketInfoProvider
	repo     domain.PositionRepository // optional journal for closed positions
	logger   *zap.Logger

	mu              sync.RWMutex
	positions       map[int]*domain.Position
	totalAssetValue float64
	lastSync        time.Time
}

func NewPositionManager(exchange domain.Exchange, info MarketInfoProvider, logger *zap.Logger) *PositionManager {
	return &PositionManager{
		exchange:  exchange,
		info:      info,
		logger:    logger,
		positions: make(map[int]*domain.Position),
	}
}

func (p *PositionManager) SetJournal(repo domain.PositionRepository) { p.repo = repo }

// UpdatePositions refreshes from the account endpoint, recomputing
// current price and unrealized PnL from the live snapshots.
func (p *PositionManager) UpdatePositions(ctx context.Context) error {
	account, err := p.exchange.GetAccount(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	fresh := make(map[int]*domain.Position, len(account.Positions))
	for _, ap := range account.Positions {
		if ap.Position == 0 {
			continue
		}
		side := domain.SideLong
		if ap.Sign < 0 {
			side = domain.SideShort
		}

		pos := &domain.Position{
			MarketID:      ap.MarketID,
			Side:          side,
			Size:          ap.Position,
			EntryPrice:    ap.AvgEntryPrice,
			CurrentPrice:  ap.AvgEntryPrice,
			UnrealizedPnL: ap.UnrealizedPnL,
			RealizedPnL:   ap.RealizedPnL,
			UpdatedAt:     now,
		}

		if snap := p.info.GetSnapshot(ap.MarketID); snap != nil && snap.LastPrice > 0 {
			pos.CurrentPrice = snap.LastPrice
			pos.UnrealizedPnL = UnrealizedPnL(side, pos.EntryPrice, pos.CurrentPrice, pos.Size)
		}
		fresh[ap.MarketID] = pos
	}

	p.mu.Lock()
	closed := make([]*domain.Position, 0)
	for id, old := range p.positions {
		if _, stillOpen := fresh[id]; !stillOpen {
			closed = append(closed, old)
		} else {
			fresh[id].Leverage = old.Leverage
			if fresh[id].Leverage == 0 {
				fresh[id].Leverage = 1
			}
			fresh[id].Margin = Margin(fresh[id].Size, fresh[id].EntryPrice, fresh[id].Leverage)
		}
	}
	for _, pos := range fresh {
		if pos.Leverage == 0 {
			pos.Leverage = 1
		}
		if pos.Margin == 0 {
			pos.Margin = Margin(pos.Size, pos.EntryPrice, pos.Leverage)
		}
	}
	p.positions = fresh
	p.totalAssetValue = account.TotalAssetValue
	p.lastSync = now
	p.mu.Unlock()

	for _, old := range closed {
		p.journalClosed(ctx, old)
	}
	return nil
}

func (p *PositionManager) journalClosed(ctx context.Context, pos *domain.Position) {
	p.logger.Info("position closed",
		zap.Int("market", pos.MarketID),
		zap.String("side", string(pos.Side)),
		zap.Float64("size", pos.Size),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("exit", pos.CurrentPrice))
	if p.repo == nil {
		return
	}
	h := &domain.PositionHistory{
		MarketID:    pos.MarketID,
		Side:        pos.Side,
		Size:        pos.Size,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   pos.CurrentPrice,
		RealizedPnL: UnrealizedPnL(pos.Side, pos.EntryPrice, pos.CurrentPrice, pos.Size),
		Leverage:    pos.Leverage,
		ClosedAt:    time.Now().UTC(),
	}
	if err := p.repo.SavePositionHistory(ctx, h); err != nil {
		p.logger.Warn("failed to journal closed position", zap.Int("market", pos.MarketID), zap.Error(err))
	}
}

// GetPosition returns a copy of the position for a market, or nil when flat.
func (p *PositionManager) GetPosition(marketID int) *domain.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[marketID]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

func (p *PositionManager) GetPositions() []*domain.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out
}

// OpenPosition is a local mutation used only in simulation contexts.
func (p *PositionManager) OpenPosition(marketID int, side domain.Side, size, entryPrice float64, leverage int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if leverage == 0 {
		leverage = 1
	}
	p.positions[marketID] = &domain.Position{
		MarketID:     marketID,
		Side:         side,
		Size:         size,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		Leverage:     leverage,
		Margin:       Margin(size, entryPrice, leverage),
		UpdatedAt:    time.Now().UTC(),
	}
}

// ClosePosition is a local mutation used only in simulation contexts.
func (p *PositionManager) ClosePosition(ctx context.Context, marketID int, exitPrice float64) {
	p.mu.Lock()
	pos, ok := p.positions[marketID]
	if ok {
		delete(p.positions, marketID)
		pos.CurrentPrice = exitPrice
	}
	p.mu.Unlock()
	if ok {
		p.journalClosed(ctx, pos)
	}
}

// UpdatePositionSize is a local mutation used only in simulation contexts.
func (p *PositionManager) UpdatePositionSize(marketID int, size float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[marketID]; ok {
		pos.Size = size
		pos.Margin = Margin(size, pos.EntryPrice, pos.Leverage)
	}
}

// TotalAssetValue reports the account equity seen on the last sync.
func (p *PositionManager) TotalAssetValue() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalAssetValue
}

func (p *PositionManager) GetTotalUnrealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0.0
	for _, pos := range p.positions {
		total += pos.UnrealizedPnL
	}
	return total
}

func (p *PositionManager) GetTotalMargin() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0.0
	for _, pos := range p.positions {
		total += pos.Margin
	}
	return total
}

type PositionSummary struct {
	OpenPositions      int       `json:"open_positions"`
	TotalUnrealizedPnL float64   `json:"total_unrealized_pnl"`
	TotalMargin        float64   `json:"total_margin"`
	LastSync           time.Time `json:"last_sync"`
}

func (p *PositionManager) GetPositionSummary() PositionSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	summary := PositionSummary{OpenPositions: len(p.positions), LastSync: p.lastSync}
	for _, pos := range p.positions {
		summary.TotalUnrealizedPnL += pos.UnrealizedPnL
		summary.TotalMargin += pos.Margin
	}
	return summary
}

// UnrealizedPnL for a position at the given mark price.
func UnrealizedPnL(side domain.Side, entry, current, size float64) float64 {
	if side == domain.SideLong {
		return (current - entry) * size
	}
	return (entry - current) * size
}

// Margin is notional over leverage.
func Margin(size, entry float64, leverage int) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	return size * entry / float64(leverage)
}
