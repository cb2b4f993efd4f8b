package domain

import "time"

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

type MarginMode string

const (
	MarginModeCross    MarginMode = "CROSS"
	MarginModeIsolated MarginMode = "ISOLATED"
)

// Order is a client-side order record. ClientOrderIndex is the monotonic
// counter passed to the exchange for idempotent identification.
type Order struct {
	ID               string
	ClientOrderIndex int64
	MarketID         int
	Side             OrderSide
	Type             OrderType
	Size             float64 // decimal asset quantity
	Price            float64
	FilledSize       float64
	FilledPrice      float64
	Status           OrderStatus
	Leverage         int
	MarginMode       MarginMode

	SlippageTolerance float64 // fraction, 0.01 = 1%
	SlippageEnabled   bool
	ReduceOnly        bool

	CreatedAt time.Time
}

func (o *Order) RemainingSize() float64 {
	return o.Size - o.FilledSize
}

func (o *Order) IsActive() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusSubmitted
}
