package domain

import "context"

// Exchange defines the interface for the perpetual-futures exchange.
type Exchange interface {
	// Market data (REST)
	GetOrderBooks(ctx context.Context) ([]Market, error)
	GetOrderBookOrders(ctx context.Context, marketID, limit int) (*OrderBook, error)
	GetRecentTrades(ctx context.Context, marketID, limit int) ([]PublicTrade, error)
	GetCandles(ctx context.Context, marketID int, resolution string, startTs, endTs int64, countBack int) ([]Candle, error)

	// Account (REST)
	GetAccount(ctx context.Context) (*Account, error)

	// Signed actions. All return a normalised TxResult; a nil result with a
	// nil error never happens.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*TxResult, error)
	CreateMarketOrder(ctx context.Context, req CreateMarketOrderRequest) (*TxResult, error)
	CancelOrder(ctx context.Context, marketID int, orderIndex int64) (*TxResult, error)

	// WebSocket
	OnOrderBookUpdate(callback func(marketID int, book *OrderBook))
	OnAccountUpdate(callback func(accountID int, raw []byte))
	Subscribe(marketIDs []int) error
	Close() error
}

// CreateOrderRequest carries exchange units: integer base amount and price
// in cents.
type CreateOrderRequest struct {
	MarketIndex      int
	ClientOrderIndex int64
	BaseAmount       int64
	PriceCents       int64
	IsAsk            bool
	OrderType        OrderType
	TimeInForce      string
	ReduceOnly       bool
	TriggerPrice     int64
}

type CreateMarketOrderRequest struct {
	MarketIndex      int
	ClientOrderIndex int64
	BaseAmount       int64
	// AvgExecutionPriceCents is the worst acceptable execution price.
	AvgExecutionPriceCents int64
	IsAsk                  bool
}

// CandleSource is an external (non-native) kline provider used only for
// strategy warm-up.
type CandleSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// OrderRepository journals terminal orders.
type OrderRepository interface {
	SaveOrder(ctx context.Context, order *Order) error
	ListOrders(ctx context.Context, limit int) ([]*Order, error)
}

// PositionRepository journals closed positions.
type PositionRepository interface {
	SavePositionHistory(ctx context.Context, history *PositionHistory) error
	ListPositionHistory(ctx context.Context, limit int) ([]*PositionHistory, error)
}
