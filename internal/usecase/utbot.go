package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/crypto_ut_bot/internal/config"
	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	warmupCandleCount = 200
	reverseSettleWait = 1 * time.Second
)

// timeframeState carries the UT-Bot indicator state for one timeframe.
type timeframeState struct {
	trailingStop float64
	signal       int   // last non-zero crossing direction, 0 until first cross
	lastBarTime  int64 // open time of the last processed bar
	barsSeen     int
}

// UTBotStrategy trades one market with an ATR trailing stop, optional
// multi-timeframe confirmation, per-candle signal confirmation and the
// double-reverse rule.
type UTBotStrategy struct {
	name   string
	cfg    config.StrategyConfig
	logger *zap.Logger

	handle   TradingHandle
	marketID int

	mu sync.Mutex

	// 1-minute bar history owned by the strategy: seeded from warm-up,
	// extended from snapshot bars. Forming bars never enter it.
	bars []domain.Candle

	klineTypes []int // sorted ascending; klineTypes[0] is the primary
	tf         map[int]*timeframeState

	currentKlineSignal  int
	pendingKlineSignal  int
	previousKlineSignal int
	lastKlineTimestamp  int64

	lastSignalTime time.Time
	reversedAtBar  int64 // bar timestamp of the last double-reverse, one-shot guard

	// riskExitSide latches the side a SL/TP close was submitted for, so the
	// close is not re-sent every tick while reconciliation still mirrors the
	// position. Cleared when the mirror goes flat or the side changes.
	riskExitSide domain.Side

	started bool
	now     func() time.Time
	sleep   func(time.Duration)
}

func NewUTBotStrategy(name string, cfg config.StrategyConfig, logger *zap.Logger) *UTBotStrategy {
	klineTypes := append([]int(nil), cfg.KlineTypes...)
	sort.Ints(klineTypes)
	if !cfg.EnableMultiTimeframe && len(klineTypes) > 1 {
		klineTypes = klineTypes[:1]
	}

	tf := make(map[int]*timeframeState, len(klineTypes))
	for _, t := range klineTypes {
		tf[t] = &timeframeState{}
	}

	return &UTBotStrategy{
		name:       name,
		cfg:        cfg,
		logger:     logger,
		marketID:   cfg.MarketID,
		klineTypes: klineTypes,
		tf:         tf,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

func (s *UTBotStrategy) Name() string            { return s.name }
func (s *UTBotStrategy) Markets() []int          { return []int{s.marketID} }
func (s *UTBotStrategy) UsesRealtimeTicks() bool { return s.cfg.UseRealTimeTicks }

// Initialize warms the indicator up from historical candles. The warm-up
// query goes through the hub's REST path and never touches the snapshot.
func (s *UTBotStrategy) Initialize(ctx context.Context, handle TradingHandle) error {
	s.handle = handle

	candles, err := handle.GetHistoricalCandles(ctx, s.marketID, warmupCandleCount)
	if err != nil {
		s.logger.Warn("warm-up candles unavailable, starting cold",
			zap.Int("market", s.marketID), zap.Error(err))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = candles
	s.processTimeframes()
	s.logger.Info("strategy warmed up",
		zap.String("strategy", s.name),
		zap.Int("market", s.marketID),
		zap.Int("bars", len(candles)))
	return nil
}

func (s *UTBotStrategy) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *UTBotStrategy) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *UTBotStrategy) OnTick(ctx context.Context, snapshots map[int]*domain.MarketSnapshot) error {
	snap, ok := snapshots[s.marketID]
	if !ok || snap == nil {
		return nil
	}
	return s.evaluate(ctx, snap)
}

// OnRealtimeTick gives sub-second reactivity for market-level risk exits;
// the full rule set also runs here when candle confirmation is off.
func (s *UTBotStrategy) OnRealtimeTick(ctx context.Context, marketID int, tick domain.Tick) {
	if marketID != s.marketID {
		return
	}
	if pos := s.handle.GetPosition(s.marketID); pos != nil {
		if s.checkMarketRisk(ctx, pos, tick.Mid) {
			return
		}
	} else {
		s.clearRiskExit()
	}
	if !s.cfg.WaitForCompletion() {
		if snap := s.handle.GetSnapshot(s.marketID); snap != nil {
			if err := s.evaluate(ctx, snap); err != nil {
				s.logger.Warn("realtime evaluation failed", zap.Error(err))
			}
		}
	}
}

func (s *UTBotStrategy) evaluate(ctx context.Context, snap *domain.MarketSnapshot) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}

	price := snap.LastPrice
	if price <= 0 {
		s.mu.Unlock()
		return nil
	}

	// Market-level SL/TP fires independently of signals.
	pos := s.handle.GetPosition(s.marketID)
	if pos == nil {
		s.riskExitSide = ""
	} else {
		s.mu.Unlock()
		if s.checkMarketRisk(ctx, pos, price) {
			return nil
		}
		s.mu.Lock()
	}

	boundary := s.ingestSnapshot(snap)
	if boundary {
		// Commit the previous bar's outcome before the new bar repaints
		// the provisional signal.
		s.previousKlineSignal = s.currentKlineSignal
		s.currentKlineSignal = s.pendingKlineSignal
		s.pendingKlineSignal = 0
	}
	s.processTimeframes()
	s.updatePendingSignal(price)

	waitConfirm := s.cfg.WaitForCompletion()
	if waitConfirm && !boundary {
		// Still inside the forming bar: signals only repaint pending state.
		s.mu.Unlock()
		return nil
	}

	primarySignal := s.currentKlineSignal
	if !waitConfirm {
		primarySignal = s.pendingKlineSignal
	}
	prevSignal := s.previousKlineSignal
	barTime := s.lastKlineTimestamp
	s.mu.Unlock()

	if !s.cooldownElapsed() {
		return nil
	}

	pos = s.handle.GetPosition(s.marketID)

	// Double reverse comes before the per-timeframe rules and consumes
	// the whole evaluation when it fires.
	if pos != nil && prevSignal != 0 && s.tryDoubleReverse(ctx, pos, prevSignal, price, barTime) {
		return nil
	}

	return s.applyTimeframeRules(ctx, pos, primarySignal, price)
}

// ingestSnapshot appends newly completed 1-minute bars to the owned history
// and reports whether a bar boundary was crossed since the last evaluation.
func (s *UTBotStrategy) ingestSnapshot(snap *domain.MarketSnapshot) bool {
	candles := snap.Candles
	if len(candles) == 0 {
		return false
	}

	latest := candles[len(candles)-1].Time
	boundary := s.lastKlineTimestamp != 0 && latest != s.lastKlineTimestamp
	first := s.lastKlineTimestamp == 0
	s.lastKlineTimestamp = latest

	// All bars except the latest are complete.
	completed := candles[:len(candles)-1]
	var lastOwned int64
	if len(s.bars) > 0 {
		lastOwned = s.bars[len(s.bars)-1].Time
	}
	for _, c := range completed {
		if c.Time > lastOwned {
			s.bars = append(s.bars, c)
		}
	}
	if len(s.bars) > warmupCandleCount*2 {
		s.bars = s.bars[len(s.bars)-warmupCandleCount:]
	}

	if first {
		return false
	}
	return boundary
}

// processTimeframes advances each timeframe's trailing stop over bars not
// yet processed.
func (s *UTBotStrategy) processTimeframes() {
	for _, t := range s.klineTypes {
		state := s.tf[t]
		bars := ResampleCandles(s.bars, t)
		for i, bar := range bars {
			if bar.Time <= state.lastBarTime {
				continue
			}
			s.processBar(state, bars, i)
			state.lastBarTime = bar.Time
		}
	}
}

// processBar folds one completed bar into the timeframe state: true-range
// mean, nLoss, stop ratchet, crossing signal.
func (s *UTBotStrategy) processBar(state *timeframeState, bars []domain.Candle, idx int) {
	state.barsSeen++
	if idx == 0 {
		return
	}

	window := bars[:idx+1]
	atr := ATR(window, s.cfg.ATRPeriod)
	if atr == 0 && state.barsSeen < s.cfg.ATRPeriod+2 {
		// Not enough history: no stop, no signal.
		return
	}
	nLoss := s.cfg.KeyValue * atr

	prevClose := bars[idx-1].Close
	close := bars[idx].Close
	prevStop := state.trailingStop

	if sig := BarSignal(prevStop, prevClose, close); sig != 0 {
		state.signal = sig
	}
	state.trailingStop = UpdateTrailingStop(prevStop, prevClose, close, nLoss)
}

// updatePendingSignal recomputes the provisional signal of the bar in
// progress from the live price against the primary trailing stop.
func (s *UTBotStrategy) updatePendingSignal(price float64) {
	primary := s.tf[s.klineTypes[0]]
	if primary.barsSeen < s.cfg.ATRPeriod+2 || len(s.bars) == 0 {
		s.pendingKlineSignal = 0
		return
	}
	prevClose := s.bars[len(s.bars)-1].Close
	s.pendingKlineSignal = BarSignal(primary.trailingStop, prevClose, price)
}

func (s *UTBotStrategy) cooldownElapsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cooldown := time.Duration(s.cfg.SignalCooldownSecs) * time.Second
	return s.lastSignalTime.IsZero() || s.now().Sub(s.lastSignalTime) >= cooldown
}

func (s *UTBotStrategy) markSignal() {
	s.mu.Lock()
	s.lastSignalTime = s.now()
	s.mu.Unlock()
}

// tryDoubleReverse flips the position at double size when the last confirmed
// bar signal disagrees with the held side. One shot per bar boundary.
func (s *UTBotStrategy) tryDoubleReverse(ctx context.Context, pos *domain.Position, prevSignal int, price float64, barTime int64) bool {
	heldSignal := 1
	if pos.Side == domain.SideShort {
		heldSignal = -1
	}
	if prevSignal == heldSignal {
		return false
	}

	s.mu.Lock()
	if s.reversedAtBar == barTime {
		s.mu.Unlock()
		return true // already fired for this boundary; rules stay skipped
	}
	s.reversedAtBar = barTime
	s.mu.Unlock()

	newSide := domain.SideShort
	orderSide := domain.OrderSideSell
	if pos.Side == domain.SideShort {
		newSide = domain.SideLong
		orderSide = domain.OrderSideBuy
	}

	s.logger.Info("double reverse triggered",
		zap.String("strategy", s.name),
		zap.Int("market", s.marketID),
		zap.String("held", string(pos.Side)),
		zap.Int("previous_signal", prevSignal),
		zap.String("new_side", string(newSide)))

	if err := s.closePosition(ctx, pos, price); err != nil {
		s.logger.Error("double reverse close failed", zap.Error(err))
		return true
	}
	s.sleep(reverseSettleWait)

	size := s.cfg.PositionSizeUSD * 2 / price
	if err := s.openOrder(ctx, orderSide, size, price); err != nil {
		s.logger.Error("double reverse open failed", zap.Error(err))
	}
	s.markSignal()
	return true
}

// applyTimeframeRules evaluates the per-timeframe decision table.
func (s *UTBotStrategy) applyTimeframeRules(ctx context.Context, pos *domain.Position, primarySignal int, price float64) error {
	if primarySignal == 0 && pos == nil {
		return nil
	}

	higherSignal := primarySignal
	if len(s.klineTypes) > 1 {
		s.mu.Lock()
		higherSignal = s.tf[s.klineTypes[len(s.klineTypes)-1]].signal
		s.mu.Unlock()
	}

	long := pos != nil && pos.Side == domain.SideLong
	short := pos != nil && pos.Side == domain.SideShort

	switch {
	case higherSignal == 1 && primarySignal == 1:
		if !long {
			if short {
				if err := s.closePosition(ctx, pos, price); err != nil {
					return err
				}
				s.sleep(reverseSettleWait)
			}
			size := s.cfg.PositionSizeUSD / price
			if err := s.openOrder(ctx, domain.OrderSideBuy, size, price); err != nil {
				return err
			}
			s.markSignal()
		}
	case higherSignal == -1 && primarySignal == -1:
		if !short {
			if long {
				if err := s.closePosition(ctx, pos, price); err != nil {
					return err
				}
				s.sleep(reverseSettleWait)
			}
			size := s.cfg.PositionSizeUSD / price
			if err := s.openOrder(ctx, domain.OrderSideSell, size, price); err != nil {
				return err
			}
			s.markSignal()
		}
	case higherSignal == 1 && primarySignal == -1:
		// Disagreement: exit longs, do not open a short.
		if long {
			if err := s.closePosition(ctx, pos, price); err != nil {
				return err
			}
			s.markSignal()
		}
	case higherSignal == -1 && primarySignal == 1:
		if short {
			if err := s.closePosition(ctx, pos, price); err != nil {
				return err
			}
			s.markSignal()
		}
	}
	return nil
}

// checkMarketRisk force-closes on the market-level stop loss / take profit.
// Returns true when an exit fired.
func (s *UTBotStrategy) checkMarketRisk(ctx context.Context, pos *domain.Position, price float64) bool {
	if pos.EntryPrice == 0 {
		return false
	}
	rc, ok := s.cfg.MarketRisk[s.marketID]
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.riskExitSide == pos.Side {
		// Exit already submitted; the mirror just has not caught up yet.
		s.mu.Unlock()
		return true
	}
	s.riskExitSide = ""
	s.mu.Unlock()

	pnlRatio := (price - pos.EntryPrice) / pos.EntryPrice
	if pos.Side == domain.SideShort {
		pnlRatio = -pnlRatio
	}

	if rc.StopLossEnabled && pnlRatio <= -rc.StopLoss {
		s.logger.Warn("market-level stop loss hit",
			zap.Int("market", s.marketID),
			zap.Float64("pnl_ratio", pnlRatio),
			zap.Float64("stop_loss", rc.StopLoss),
			zap.Float64("price", price))
		s.latchRiskExit(pos.Side)
		if err := s.closePosition(ctx, pos, price); err != nil {
			s.logger.Error("stop loss close failed", zap.Error(err))
			s.clearRiskExit()
		}
		s.markSignal()
		return true
	}
	if rc.TakeProfitEnabled && pnlRatio >= rc.TakeProfit {
		s.logger.Info("market-level take profit hit",
			zap.Int("market", s.marketID),
			zap.Float64("pnl_ratio", pnlRatio),
			zap.Float64("take_profit", rc.TakeProfit),
			zap.Float64("price", price))
		s.latchRiskExit(pos.Side)
		if err := s.closePosition(ctx, pos, price); err != nil {
			s.logger.Error("take profit close failed", zap.Error(err))
			s.clearRiskExit()
		}
		s.markSignal()
		return true
	}
	return false
}

func (s *UTBotStrategy) latchRiskExit(side domain.Side) {
	s.mu.Lock()
	s.riskExitSide = side
	s.mu.Unlock()
}

func (s *UTBotStrategy) clearRiskExit() {
	s.mu.Lock()
	s.riskExitSide = ""
	s.mu.Unlock()
}

func (s *UTBotStrategy) closePosition(ctx context.Context, pos *domain.Position, price float64) error {
	side := domain.OrderSideSell
	if pos.Side == domain.SideShort {
		side = domain.OrderSideBuy
	}
	req := s.baseRequest(side, pos.Size, price, true)
	_, err := s.handle.SubmitOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("close %s position on market %d: %w", pos.Side, s.marketID, err)
	}
	return nil
}

func (s *UTBotStrategy) openOrder(ctx context.Context, side domain.OrderSide, size, price float64) error {
	req := s.baseRequest(side, size, price, false)
	_, err := s.handle.SubmitOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("open %s on market %d: %w", side, s.marketID, err)
	}
	return nil
}

// baseRequest applies the order-type policy: market orders at the reference
// price, limit orders offset favorably for entries and unfavorably for exits.
func (s *UTBotStrategy) baseRequest(side domain.OrderSide, size, price float64, exit bool) OrderRequest {
	orderType := domain.OrderTypeMarket
	orderPrice := price

	if s.cfg.OrderType == "limit" {
		orderType = domain.OrderTypeLimit
		offset := s.cfg.LimitPriceOffset
		favorable := !exit
		if (side == domain.OrderSideBuy) == favorable {
			orderPrice = price * (1 - offset)
		} else {
			orderPrice = price * (1 + offset)
		}
	}

	slippageEnabled := s.cfg.SlippageEnabled
	tolerance := s.cfg.SlippageTolerance
	if ms, ok := s.cfg.MarketSlippage[s.marketID]; ok {
		slippageEnabled = ms.Enabled
		tolerance = ms.Tolerance
	}

	return OrderRequest{
		MarketID:          s.marketID,
		Side:              side,
		Type:              orderType,
		Size:              size,
		Price:             orderPrice,
		Leverage:          s.cfg.Leverage,
		MarginMode:        marginModeOf(s.cfg.MarginMode),
		SlippageTolerance: tolerance,
		SlippageEnabled:   slippageEnabled,
		ReduceOnly:        exit,
	}
}

func marginModeOf(mode string) domain.MarginMode {
	if mode == "isolated" {
		return domain.MarginModeIsolated
	}
	return domain.MarginModeCross
}
