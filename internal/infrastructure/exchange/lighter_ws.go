package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
)

const wsReconnectDelay = 5 * time.Second

func (a *LighterAdapter) OnOrderBookUpdate(callback func(marketID int, book *domain.OrderBook)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orderBookCbs = append(a.orderBookCbs, callback)
}

func (a *LighterAdapter) OnAccountUpdate(callback func(accountID int, raw []byte)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accountCbs = append(a.accountCbs, callback)
}

// Subscribe starts the WebSocket session for the given markets, or extends
// the subscription set if already connected. The reader reconnects with a
// fixed 5-second backoff and re-subscribes the full set.
func (a *LighterAdapter) Subscribe(marketIDs []int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing := make(map[int]bool, len(a.wsMarkets))
	for _, id := range a.wsMarkets {
		existing[id] = true
	}
	var added []int
	for _, id := range marketIDs {
		if !existing[id] {
			a.wsMarkets = append(a.wsMarkets, id)
			added = append(added, id)
		}
	}

	if a.wsConn == nil {
		if a.wsCancel == nil {
			ctx, cancel := context.WithCancel(context.Background())
			a.wsCancel = cancel
			go a.runWS(ctx)
		}
		return nil
	}
	if len(added) == 0 {
		return nil
	}
	return a.sendSubscribe(a.wsConn, added)
}

func (a *LighterAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wsCancel != nil {
		a.wsCancel()
		a.wsCancel = nil
	}
	if a.wsConn != nil {
		a.wsConn.Close()
		a.wsConn = nil
	}
	a.client.CloseIdleConnections()
	return nil
}

// runWS owns the connection for its whole life: dial, subscribe, read, and
// on any failure sleep and start over with the full subscription list.
func (a *LighterAdapter) runWS(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, a.wsURL, nil)
		if err != nil {
			a.logger.Warn("WS dial failed, retrying",
				zap.Error(err), zap.Duration("backoff", wsReconnectDelay))
			if !sleepCtx(ctx, wsReconnectDelay) {
				return
			}
			continue
		}

		a.mu.Lock()
		a.wsConn = conn
		markets := append([]int(nil), a.wsMarkets...)
		a.mu.Unlock()

		if err := a.sendSubscribe(conn, markets); err != nil {
			a.logger.Warn("WS subscribe failed", zap.Error(err))
			conn.Close()
			if !sleepCtx(ctx, wsReconnectDelay) {
				return
			}
			continue
		}

		a.readLoop(ctx, conn)

		a.mu.Lock()
		if a.wsConn == conn {
			a.wsConn = nil
		}
		a.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		a.logger.Info("WS disconnected, reconnecting", zap.Duration("backoff", wsReconnectDelay))
		if !sleepCtx(ctx, wsReconnectDelay) {
			return
		}
	}
}

func (a *LighterAdapter) sendSubscribe(conn *websocket.Conn, marketIDs []int) error {
	if len(marketIDs) == 0 && a.accountIndex == 0 {
		return nil
	}
	msg := map[string]interface{}{
		"type":           "subscribe",
		"order_book_ids": marketIDs,
		"account_ids":    []int{a.accountIndex},
	}
	return conn.WriteJSON(msg)
}

func (a *LighterAdapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("WS read error", zap.Error(err))
			}
			return
		}
		a.dispatch(message)
	}
}

type wsEnvelope struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	MarketID  json.Number     `json:"market_id"`
	AccountID int             `json:"account_id"`
	OrderBook json.RawMessage `json:"order_book"`
	Data      json.RawMessage `json:"data"`
}

func (a *LighterAdapter) dispatch(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		a.logger.Debug("WS unmarshal error", zap.Error(err))
		return
	}

	switch env.Type {
	case "update/order_book", "subscribed/order_book":
		marketID, err := strconv.Atoi(env.MarketID.String())
		if err != nil {
			return
		}
		book := parseWSOrderBook(marketID, env.OrderBook)
		if book == nil {
			return
		}
		a.mu.Lock()
		cbs := make([]func(int, *domain.OrderBook), len(a.orderBookCbs))
		copy(cbs, a.orderBookCbs)
		a.mu.Unlock()
		for _, cb := range cbs {
			cb(marketID, book)
		}
	case "update/account", "subscribed/account":
		a.mu.Lock()
		cbs := make([]func(int, []byte), len(a.accountCbs))
		copy(cbs, a.accountCbs)
		a.mu.Unlock()
		for _, cb := range cbs {
			cb(env.AccountID, env.Data)
		}
	}
}

func parseWSOrderBook(marketID int, raw json.RawMessage) *domain.OrderBook {
	if len(raw) == 0 {
		return nil
	}
	var payload struct {
		Bids []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"asks"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	book := &domain.OrderBook{
		MarketID: marketID,
		Bids:     make([]domain.OrderBookEntry, 0, len(payload.Bids)),
		Asks:     make([]domain.OrderBookEntry, 0, len(payload.Asks)),
	}
	for _, b := range payload.Bids {
		price, _ := strconv.ParseFloat(b.Price, 64)
		size, _ := strconv.ParseFloat(b.Size, 64)
		book.Bids = append(book.Bids, domain.OrderBookEntry{Price: price, Size: size})
	}
	for _, s := range payload.Asks {
		price, _ := strconv.ParseFloat(s.Price, 64)
		size, _ := strconv.ParseFloat(s.Size, 64)
		book.Asks = append(book.Asks, domain.OrderBookEntry{Price: price, Size: size})
	}
	return book
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
