package web

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type statusResponse struct {
	Time            string                 `json:"time"`
	Markets         int                    `json:"markets"`
	ActiveOrders    int                    `json:"active_orders"`
	OrderCounts     map[string]int         `json:"order_counts"`
	OpenPositions   int                    `json:"open_positions"`
	TotalUnrealized float64                `json:"total_unrealized_pnl"`
	TotalMargin     float64                `json:"total_margin"`
	Risk            map[string]interface{} `json:"risk"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts := make(map[string]int)
	for status, n := range s.orders.GetOrderSummary() {
		counts[string(status)] = n
	}
	risk := s.risk.State()

	resp := statusResponse{
		Time:            time.Now().UTC().Format(time.RFC3339),
		Markets:         len(s.hub.Markets()),
		ActiveOrders:    len(s.orders.GetActiveOrders()),
		OrderCounts:     counts,
		OpenPositions:   len(s.positions.GetPositions()),
		TotalUnrealized: s.positions.GetTotalUnrealizedPnL(),
		TotalMargin:     s.positions.GetTotalMargin(),
		Risk: map[string]interface{}{
			"daily_pnl":          risk.DailyPnL,
			"max_equity":         risk.MaxEquity,
			"current_equity":     risk.CurrentEquity,
			"orders_last_minute": risk.OrderCountMin,
		},
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.orders.GetActiveOrders())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.positions.GetPositions())
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	type marketRow struct {
		MarketID int     `json:"market_id"`
		Symbol   string  `json:"symbol"`
		BestBid  float64 `json:"best_bid"`
		BestAsk  float64 `json:"best_ask"`
		Price    float64 `json:"price"`
	}
	markets := s.hub.Markets()
	rows := make([]marketRow, 0, len(markets))
	for _, m := range markets {
		row := marketRow{MarketID: m.MarketID, Symbol: m.Symbol}
		if snap := s.hub.GetSnapshot(m.MarketID); snap != nil {
			row.BestBid = snap.OrderBook.BestBid()
			row.BestAsk = snap.OrderBook.BestAsk()
			row.Price = snap.LastPrice
		}
		rows = append(rows, row)
	}
	s.writeJSON(w, rows)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
