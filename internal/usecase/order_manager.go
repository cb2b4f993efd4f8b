package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	maxBaseAmountUnits = int64(1)<<48 - 1

	resyncSettleDelay = 3 * time.Second
	resyncRetries     = 3
	resyncRetryGap    = 2 * time.Second
)

// MarketInfoProvider supplies live snapshots and market metadata for
// preflight validation.
type MarketInfoProvider interface {
	GetSnapshot(marketID int) *domain.MarketSnapshot
	GetMarket(marketID int) *domain.Market
}

// PositionSyncer is the slice of the position manager the post-submit
// resync worker needs.
type PositionSyncer interface {
	UpdatePositions(ctx context.Context) error
	GetPosition(marketID int) *domain.Position
}

// OrderObserver is notified of every accepted submission, for rate
// accounting.
type OrderObserver interface {
	RecordOrder(t time.Time)
}

// OrderManager validates, converts, submits and tracks orders. It is the
// only mutator of order state and of the client order index.
type OrderManager struct {
	exchange  domain.Exchange
	info      MarketInfoProvider
	positions PositionSyncer
	repo      domain.OrderRepository // optional journal
	observer  OrderObserver          // optional
	logger    *zap.Logger
	dryRun    bool

	customMinBase  map[int]float64
	customMinQuote map[int]float64

	mu               sync.Mutex
	orders           map[string]*domain.Order
	clientOrderIndex int64

	wg sync.WaitGroup
}

func NewOrderManager(exchange domain.Exchange, info MarketInfoProvider, positions PositionSyncer, logger *zap.Logger) *OrderManager {
	return &OrderManager{
		exchange:       exchange,
		info:           info,
		positions:      positions,
		logger:         logger,
		customMinBase:  make(map[int]float64),
		customMinQuote: make(map[int]float64),
		orders:         make(map[string]*domain.Order),
	}
}

func (m *OrderManager) SetDryRun(dryRun bool)                  { m.dryRun = dryRun }
func (m *OrderManager) SetJournal(repo domain.OrderRepository) { m.repo = repo }
func (m *OrderManager) SetObserver(obs OrderObserver)          { m.observer = obs }

// SetCustomMinimums installs operator overrides for the market-rule floors.
func (m *OrderManager) SetCustomMinimums(minBase, minQuote map[int]float64) {
	for k, v := range minBase {
		m.customMinBase[k] = v
	}
	for k, v := range minQuote {
		m.customMinQuote[k] = v
	}
}

// CreateOrder stores a PENDING order. Submission happens in ProcessOrders.
func (m *OrderManager) CreateOrder(ctx context.Context, req OrderRequest) (*domain.Order, error) {
	m.mu.Lock()
	m.clientOrderIndex++
	idx := m.clientOrderIndex
	order := &domain.Order{
		ID:                uuid.NewString(),
		ClientOrderIndex:  idx,
		MarketID:          req.MarketID,
		Side:              req.Side,
		Type:              req.Type,
		Size:              req.Size,
		Price:             req.Price,
		Status:            domain.OrderStatusPending,
		Leverage:          req.Leverage,
		MarginMode:        req.MarginMode,
		SlippageTolerance: req.SlippageTolerance,
		SlippageEnabled:   req.SlippageEnabled,
		ReduceOnly:        req.ReduceOnly,
		CreatedAt:         time.Now().UTC(),
	}
	m.orders[order.ID] = order
	m.mu.Unlock()

	m.logger.Info("order created",
		zap.String("id", order.ID),
		zap.Int64("client_order_index", idx),
		zap.Int("market", req.MarketID),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.Float64("size", req.Size),
		zap.Float64("price", req.Price))
	return order, nil
}

// CancelOrder cancels a PENDING order locally or a SUBMITTED order on the
// exchange.
func (m *OrderManager) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return ErrOrderNotFound
	}
	if !order.IsActive() {
		m.mu.Unlock()
		return ErrOrderNotCancelable
	}
	status := order.Status
	m.mu.Unlock()

	if status == domain.OrderStatusSubmitted && !m.dryRun {
		res, err := m.exchange.CancelOrder(ctx, order.MarketID, order.ClientOrderIndex)
		if err != nil {
			return fmt.Errorf("cancel failed: %w", err)
		}
		if res.Err != nil {
			return fmt.Errorf("cancel rejected: %w", res.Err)
		}
	}

	m.setStatus(ctx, order, domain.OrderStatusCancelled)
	return nil
}

// ProcessOrders drives every PENDING order toward SUBMITTED. Invoked once
// per engine tick.
func (m *OrderManager) ProcessOrders(ctx context.Context) {
	for _, order := range m.GetPendingOrders() {
		m.submitOrder(ctx, order)
	}
}

func (m *OrderManager) submitOrder(ctx context.Context, order *domain.Order) {
	if err := m.preflight(order); err != nil {
		m.logger.Warn("order failed preflight",
			zap.String("id", order.ID),
			zap.Int("market", order.MarketID),
			zap.Float64("size", order.Size),
			zap.Float64("price", order.Price),
			zap.Error(err))
		m.setStatus(ctx, order, domain.OrderStatusRejected)
		return
	}

	if m.dryRun {
		m.logger.Info("dry-run: order validated, not submitted",
			zap.String("id", order.ID), zap.Int("market", order.MarketID))
		m.setStatus(ctx, order, domain.OrderStatusCancelled)
		return
	}

	market := m.info.GetMarket(order.MarketID)
	baseUnits := baseAmountUnits(order.Size, sizeUnitOf(market))
	submitPrice := m.submitPrice(order)

	var res *domain.TxResult
	var err error
	if order.Type == domain.OrderTypeMarket {
		res, err = m.exchange.CreateMarketOrder(ctx, domain.CreateMarketOrderRequest{
			MarketIndex:            order.MarketID,
			ClientOrderIndex:       order.ClientOrderIndex,
			BaseAmount:             baseUnits,
			AvgExecutionPriceCents: priceCents(submitPrice),
			IsAsk:                  order.Side == domain.OrderSideSell,
		})
	} else {
		res, err = m.exchange.CreateOrder(ctx, domain.CreateOrderRequest{
			MarketIndex:      order.MarketID,
			ClientOrderIndex: order.ClientOrderIndex,
			BaseAmount:       baseUnits,
			PriceCents:       priceCents(submitPrice),
			IsAsk:            order.Side == domain.OrderSideSell,
			OrderType:        order.Type,
			TimeInForce:      "GTC",
			ReduceOnly:       order.ReduceOnly,
		})
	}

	if err != nil {
		m.logger.Error("order submission failed",
			zap.String("id", order.ID),
			zap.Int("market", order.MarketID),
			zap.Int64("base_amount", baseUnits),
			zap.Float64("submit_price", submitPrice),
			zap.Error(err))
		m.setStatus(ctx, order, domain.OrderStatusRejected)
		return
	}
	if res == nil || res.Err != nil {
		var resErr error
		if res != nil {
			resErr = res.Err
		} else {
			resErr = fmt.Errorf("nil tx result")
		}
		m.logger.Error("order rejected by exchange",
			zap.String("id", order.ID),
			zap.Int("market", order.MarketID),
			zap.Error(resErr))
		m.setStatus(ctx, order, domain.OrderStatusRejected)
		return
	}

	m.setStatus(ctx, order, domain.OrderStatusSubmitted)
	m.logger.Info("order submitted",
		zap.String("id", order.ID),
		zap.Int64("client_order_index", order.ClientOrderIndex),
		zap.String("tx_hash", res.TxHash))

	if m.observer != nil {
		m.observer.RecordOrder(time.Now())
	}

	m.wg.Add(1)
	go m.resyncWorker(ctx, order)
}

// resyncWorker waits for the exchange to show the expected position after a
// submission. Failure to observe one is logged, never fatal: fills are only
// ever confirmed from reconciled position state. Cancelling the parent
// context (engine shutdown) aborts the settle delay and retry gaps.
func (m *OrderManager) resyncWorker(ctx context.Context, order *domain.Order) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, resyncSettleDelay+resyncRetries*(resyncRetryGap+5*time.Second))
	defer cancel()

	if !sleepCtx(ctx, resyncSettleDelay) {
		return
	}

	for attempt := 1; attempt <= resyncRetries; attempt++ {
		if err := m.positions.UpdatePositions(ctx); err != nil {
			m.logger.Warn("post-submit position sync failed",
				zap.String("order_id", order.ID), zap.Int("attempt", attempt), zap.Error(err))
		} else if m.confirmAgainstPosition(ctx, order) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt < resyncRetries {
			if !sleepCtx(ctx, resyncRetryGap) {
				return
			}
		}
	}

	m.logger.Warn("expected position not observed after submission",
		zap.String("order_id", order.ID),
		zap.Int("market", order.MarketID),
		zap.String("side", string(order.Side)))
}

func (m *OrderManager) confirmAgainstPosition(ctx context.Context, order *domain.Order) bool {
	pos := m.positions.GetPosition(order.MarketID)

	if order.ReduceOnly {
		// A reducing order is confirmed by the position going flat or
		// flipping away from the reduced side.
		reducedSide := domain.SideLong
		if order.Side == domain.OrderSideBuy {
			reducedSide = domain.SideShort
		}
		if pos == nil || pos.Size == 0 || pos.Side != reducedSide {
			m.setStatus(ctx, order, domain.OrderStatusFilled)
			return true
		}
		return false
	}

	expectSide := domain.SideLong
	if order.Side == domain.OrderSideSell {
		expectSide = domain.SideShort
	}
	if pos != nil && pos.Side == expectSide && pos.Size > 0 {
		m.mu.Lock()
		if order.Status == domain.OrderStatusSubmitted {
			order.FilledSize = order.Size
			order.FilledPrice = pos.EntryPrice
		}
		m.mu.Unlock()
		m.setStatus(ctx, order, domain.OrderStatusFilled)
		return true
	}
	return false
}

// preflight runs the fatal validation chain in order: size and unit range,
// price, market-rule floors, slippage.
func (m *OrderManager) preflight(order *domain.Order) error {
	if order.Size <= 0 {
		return ErrSizeNotPositive
	}

	market := m.info.GetMarket(order.MarketID)
	units := baseAmountUnits(order.Size, sizeUnitOf(market))
	if units < 1 || units > maxBaseAmountUnits {
		return fmt.Errorf("%w: %d units", ErrBaseAmountRange, units)
	}

	if priceCents(order.Price) <= 0 {
		return ErrPriceNotPositive
	}

	if market != nil {
		minBase := market.MinBaseAmount()
		if v, ok := m.customMinBase[order.MarketID]; ok {
			minBase = v
		}
		minQuote := market.MinQuoteAmount()
		if v, ok := m.customMinQuote[order.MarketID]; ok {
			minQuote = v
		}
		if minBase > 0 && order.Size < minBase {
			return fmt.Errorf("%w: size %.8f < min %.8f", ErrBelowMinBase, order.Size, minBase)
		}
		if minQuote > 0 && order.Size*order.Price < minQuote {
			return fmt.Errorf("%w: value %.2f < min %.2f", ErrBelowMinQuote, order.Size*order.Price, minQuote)
		}
	} else {
		m.logger.Warn("market rules unknown, skipping floor checks", zap.Int("market", order.MarketID))
	}

	if order.Type == domain.OrderTypeMarket && order.SlippageEnabled {
		if err := m.checkSlippage(order); err != nil {
			return err
		}
	}
	return nil
}

func (m *OrderManager) checkSlippage(order *domain.Order) error {
	snap := m.info.GetSnapshot(order.MarketID)
	if snap == nil || snap.LastPrice == 0 {
		m.logger.Warn("no live price for slippage check, skipping", zap.Int("market", order.MarketID))
		return nil
	}
	current := snap.LastPrice
	tol := order.SlippageTolerance

	if order.Side == domain.OrderSideBuy && current > order.Price*(1+tol) {
		return fmt.Errorf("%w: current %.4f > limit %.4f", ErrSlippageExceeded, current, order.Price*(1+tol))
	}
	if order.Side == domain.OrderSideSell && current < order.Price*(1-tol) {
		return fmt.Errorf("%w: current %.4f < limit %.4f", ErrSlippageExceeded, current, order.Price*(1-tol))
	}
	return nil
}

// submitPrice computes the worst acceptable execution price: the tolerance
// band when slippage protection is on, a wide 0.5x/2x safety band when off
// so execution is guaranteed.
func (m *OrderManager) submitPrice(order *domain.Order) float64 {
	if order.Type != domain.OrderTypeMarket {
		return order.Price
	}
	if order.SlippageEnabled {
		if order.Side == domain.OrderSideBuy {
			return order.Price * (1 + order.SlippageTolerance)
		}
		return order.Price * (1 - order.SlippageTolerance)
	}
	if order.Side == domain.OrderSideBuy {
		return order.Price * 2
	}
	return order.Price * 0.5
}

func (m *OrderManager) setStatus(ctx context.Context, order *domain.Order, status domain.OrderStatus) {
	m.mu.Lock()
	order.Status = status
	cp := *order
	m.mu.Unlock()

	if m.repo != nil && status != domain.OrderStatusSubmitted {
		if err := m.repo.SaveOrder(ctx, &cp); err != nil {
			m.logger.Warn("failed to journal order", zap.String("id", cp.ID), zap.Error(err))
		}
	}
}

// --- accessors ---

func (m *OrderManager) getByStatus(statuses ...domain.OrderStatus) []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		for _, s := range statuses {
			if o.Status == s {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

func (m *OrderManager) GetPendingOrders() []*domain.Order {
	return m.getByStatus(domain.OrderStatusPending)
}

func (m *OrderManager) GetSubmittedOrders() []*domain.Order {
	return m.getByStatus(domain.OrderStatusSubmitted)
}

func (m *OrderManager) GetActiveOrders() []*domain.Order {
	return m.getByStatus(domain.OrderStatusPending, domain.OrderStatusSubmitted)
}

func (m *OrderManager) GetOrder(orderID string) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

// GetOrderSummary returns counts per status.
func (m *OrderManager) GetOrderSummary() map[domain.OrderStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := make(map[domain.OrderStatus]int)
	for _, o := range m.orders {
		summary[o.Status]++
	}
	return summary
}

// ClientOrderIndex reports the last assigned index.
func (m *OrderManager) ClientOrderIndex() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientOrderIndex
}

// Wait blocks until in-flight resync workers finish; used on shutdown.
func (m *OrderManager) Wait() {
	m.wg.Wait()
}

// --- unit conversions ---

func sizeUnitOf(market *domain.Market) float64 {
	if market == nil || market.SizeUnit <= 0 {
		return 1.0
	}
	return market.SizeUnit
}

func baseAmountUnits(size, sizeUnit float64) int64 {
	return int64(math.Round(size / sizeUnit))
}

func priceCents(price float64) int64 {
	return int64(math.Round(price * 100))
}

func centsToDecimal(cents int64) float64 {
	return float64(cents) / 100
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
