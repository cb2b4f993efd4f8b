package domain

import "time"

// Market holds per-market metadata as reported by the exchange, plus
// operator overrides for the order-size floors.
type Market struct {
	MarketID int
	Symbol   string // base asset, e.g. "ETH"; external feeds append "USDT"

	// SizeUnit converts a decimal asset quantity into the exchange's
	// integer base-amount units (0.0001 for ETH, 1.0 for DOGE).
	SizeUnit float64

	APIMinBaseAmount  float64
	APIMinQuoteAmount float64

	// Operator overrides from config; zero means "use the API value".
	CustomMinBaseAmount  float64
	CustomMinQuoteAmount float64
}

// MinBaseAmount returns the effective base-amount floor.
func (m *Market) MinBaseAmount() float64 {
	if m.CustomMinBaseAmount > 0 {
		return m.CustomMinBaseAmount
	}
	return m.APIMinBaseAmount
}

// MinQuoteAmount returns the effective quote-value floor.
func (m *Market) MinQuoteAmount() float64 {
	if m.CustomMinQuoteAmount > 0 {
		return m.CustomMinQuoteAmount
	}
	return m.APIMinQuoteAmount
}

type OrderBookEntry struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type OrderBook struct {
	MarketID int              `json:"market_id"`
	Bids     []OrderBookEntry `json:"bids"`
	Asks     []OrderBookEntry `json:"asks"`
}

// BestBid returns the top bid price, or 0 when the book side is empty.
func (ob *OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

func (ob *OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Tick is derived once per order-book update: mid price plus top-of-book.
type Tick struct {
	MarketID int       `json:"market_id"`
	Time     time.Time `json:"time"`
	Bid      float64   `json:"bid"`
	Ask      float64   `json:"ask"`
	Mid      float64   `json:"mid"`
	Spread   float64   `json:"spread"`
	BidSize  float64   `json:"bid_size"`
	AskSize  float64   `json:"ask_size"`
}

type Candle struct {
	Time   int64   `json:"time"` // bar open, unix seconds, UTC
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type PublicTrade struct {
	MarketID   int     `json:"market_id"`
	Price      float64 `json:"price"`
	Size       float64 `json:"size"`
	Time       int64   `json:"time"`
	IsMakerAsk bool    `json:"is_maker_ask"`
}

// MarketSnapshot is the live per-market cache owned by the market data hub.
// Candles are built from WS-derived ticks only; REST history never lands here.
type MarketSnapshot struct {
	MarketID  int
	Symbol    string
	LastPrice float64
	OrderBook OrderBook
	LastTick  Tick
	Candles   []Candle
}

// Copy returns a deep copy safe to hand to readers while the WS reader keeps
// mutating the original.
func (s *MarketSnapshot) Copy() *MarketSnapshot {
	cp := *s
	cp.OrderBook.Bids = append([]OrderBookEntry(nil), s.OrderBook.Bids...)
	cp.OrderBook.Asks = append([]OrderBookEntry(nil), s.OrderBook.Asks...)
	cp.Candles = append([]Candle(nil), s.Candles...)
	return &cp
}
