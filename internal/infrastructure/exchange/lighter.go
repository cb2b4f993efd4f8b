package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://mainnet.zklighter.elliot.ai"
	DefaultWSURL   = "wss://mainnet.zklighter.elliot.ai/stream"
)

// LighterAdapter talks to the exchange over REST and keeps one WebSocket
// session for the live feed.
type LighterAdapter struct {
	baseURL      string
	wsURL        string
	privateKey   string
	accountIndex int
	apiKeyIndex  int

	client *http.Client
	logger *zap.Logger

	wsConn       *websocket.Conn
	wsCancel     context.CancelFunc
	wsMarkets    []int
	orderBookCbs []func(marketID int, book *domain.OrderBook)
	accountCbs   []func(accountID int, raw []byte)
	mu           sync.Mutex
}

func NewLighterAdapter(baseURL, wsURL, privateKey string, accountIndex, apiKeyIndex int, logger *zap.Logger) *LighterAdapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &LighterAdapter{
		baseURL:      baseURL,
		wsURL:        wsURL,
		privateKey:   privateKey,
		accountIndex: accountIndex,
		apiKeyIndex:  apiKeyIndex,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     5 * time.Minute,
			},
		},
		logger: logger,
	}
}

// --- REST ---

func (a *LighterAdapter) sign(params string, timestamp int64) string {
	toSign := fmt.Sprintf("%d%d%d%s", timestamp, a.accountIndex, a.apiKeyIndex, params)
	h := hmac.New(sha256.New, []byte(a.privateKey))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (a *LighterAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	timestamp := time.Now().UnixMilli()

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, _ := json.Marshal(payload)
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == http.MethodGet {
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-API-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-API-SIGN", a.sign(paramsStr, timestamp))
	req.Header.Set("X-API-ACCOUNT", strconv.Itoa(a.accountIndex))
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Body: string(respBody)}
	}
	if resp.StatusCode >= 500 {
		return nil, &TransientError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if resp.StatusCode >= 400 {
		return nil, &RequestError{Status: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

func (a *LighterAdapter) GetOrderBooks(ctx context.Context) ([]domain.Market, error) {
	resp, err := a.sendRequest(ctx, http.MethodGet, "/api/v1/orderBooks", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderBooks []struct {
			MarketID       int    `json:"market_id"`
			Symbol         string `json:"symbol"`
			SizeUnit       string `json:"size_unit"`
			MinBaseAmount  string `json:"min_base_amount"`
			MinQuoteAmount string `json:"min_quote_amount"`
		} `json:"order_books"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	var markets []domain.Market
	for _, raw := range result.OrderBooks {
		sizeUnit, _ := strconv.ParseFloat(raw.SizeUnit, 64)
		minBase, _ := strconv.ParseFloat(raw.MinBaseAmount, 64)
		minQuote, _ := strconv.ParseFloat(raw.MinQuoteAmount, 64)
		markets = append(markets, domain.Market{
			MarketID:          raw.MarketID,
			Symbol:            raw.Symbol,
			SizeUnit:          sizeUnit,
			APIMinBaseAmount:  minBase,
			APIMinQuoteAmount: minQuote,
		})
	}
	return markets, nil
}

func (a *LighterAdapter) GetOrderBookOrders(ctx context.Context, marketID, limit int) (*domain.OrderBook, error) {
	path := fmt.Sprintf("/api/v1/orderBookOrders?market_id=%d&limit=%d", marketID, limit)
	resp, err := a.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Bids []struct {
			Price               string `json:"price"`
			RemainingBaseAmount string `json:"remaining_base_amount"`
		} `json:"bids"`
		Asks []struct {
			Price               string `json:"price"`
			RemainingBaseAmount string `json:"remaining_base_amount"`
		} `json:"asks"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	book := &domain.OrderBook{
		MarketID: marketID,
		Bids:     make([]domain.OrderBookEntry, 0, len(result.Bids)),
		Asks:     make([]domain.OrderBookEntry, 0, len(result.Asks)),
	}
	for _, b := range result.Bids {
		price, _ := strconv.ParseFloat(b.Price, 64)
		size, _ := strconv.ParseFloat(b.RemainingBaseAmount, 64)
		book.Bids = append(book.Bids, domain.OrderBookEntry{Price: price, Size: size})
	}
	for _, s := range result.Asks {
		price, _ := strconv.ParseFloat(s.Price, 64)
		size, _ := strconv.ParseFloat(s.RemainingBaseAmount, 64)
		book.Asks = append(book.Asks, domain.OrderBookEntry{Price: price, Size: size})
	}
	return book, nil
}

func (a *LighterAdapter) GetRecentTrades(ctx context.Context, marketID, limit int) ([]domain.PublicTrade, error) {
	path := fmt.Sprintf("/api/v1/recentTrades?market_id=%d&limit=%d", marketID, limit)
	resp, err := a.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Trades []struct {
			Timestamp  int64  `json:"timestamp"`
			Price      string `json:"price"`
			Size       string `json:"size"`
			IsMakerAsk bool   `json:"is_maker_ask"`
		} `json:"trades"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	var trades []domain.PublicTrade
	for _, t := range result.Trades {
		price, _ := strconv.ParseFloat(t.Price, 64)
		size, _ := strconv.ParseFloat(t.Size, 64)
		trades = append(trades, domain.PublicTrade{
			MarketID:   marketID,
			Price:      price,
			Size:       size,
			Time:       t.Timestamp,
			IsMakerAsk: t.IsMakerAsk,
		})
	}
	return trades, nil
}

func (a *LighterAdapter) GetCandles(ctx context.Context, marketID int, resolution string, startTs, endTs int64, countBack int) ([]domain.Candle, error) {
	path := fmt.Sprintf("/api/v1/candlesticks?market_id=%d&resolution=%s&start_timestamp=%d&end_timestamp=%d&count_back=%d",
		marketID, resolution, startTs, endTs, countBack)
	resp, err := a.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Candlesticks []struct {
			Timestamp int64   `json:"timestamp"`
			Open      float64 `json:"open"`
			High      float64 `json:"high"`
			Low       float64 `json:"low"`
			Close     float64 `json:"close"`
			Volume0   float64 `json:"volume0"` // base-asset volume
		} `json:"candlesticks"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	var candles []domain.Candle
	for _, raw := range result.Candlesticks {
		candles = append(candles, domain.Candle{
			Time:   raw.Timestamp / 1000,
			Open:   raw.Open,
			High:   raw.High,
			Low:    raw.Low,
			Close:  raw.Close,
			Volume: raw.Volume0,
		})
	}
	return candles, nil
}

func (a *LighterAdapter) GetAccount(ctx context.Context) (*domain.Account, error) {
	path := fmt.Sprintf("/api/v1/account?by=index&value=%d", a.accountIndex)
	resp, err := a.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Accounts []struct {
			L1Address        string `json:"l1_address"`
			Collateral       string `json:"collateral"`
			AvailableBalance string `json:"available_balance"`
			TotalAssetValue  string `json:"total_asset_value"`
			Positions        []struct {
				MarketID      int    `json:"market_id"`
				Sign          int    `json:"sign"`
				Position      string `json:"position"`
				AvgEntryPrice string `json:"avg_entry_price"`
				PositionValue string `json:"position_value"`
				UnrealizedPnL string `json:"unrealized_pnl"`
				RealizedPnL   string `json:"realized_pnl"`
			} `json:"positions"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if len(result.Accounts) == 0 {
		return nil, fmt.Errorf("account %d not found", a.accountIndex)
	}

	raw := result.Accounts[0]
	collateral, _ := strconv.ParseFloat(raw.Collateral, 64)
	available, _ := strconv.ParseFloat(raw.AvailableBalance, 64)
	total, _ := strconv.ParseFloat(raw.TotalAssetValue, 64)

	account := &domain.Account{
		L1Address:        raw.L1Address,
		Collateral:       collateral,
		AvailableBalance: available,
		TotalAssetValue:  total,
	}
	for _, p := range raw.Positions {
		size, _ := strconv.ParseFloat(p.Position, 64)
		entry, _ := strconv.ParseFloat(p.AvgEntryPrice, 64)
		value, _ := strconv.ParseFloat(p.PositionValue, 64)
		upnl, _ := strconv.ParseFloat(p.UnrealizedPnL, 64)
		rpnl, _ := strconv.ParseFloat(p.RealizedPnL, 64)
		account.Positions = append(account.Positions, domain.AccountPosition{
			MarketID:      p.MarketID,
			Sign:          p.Sign,
			Position:      size,
			AvgEntryPrice: entry,
			PositionValue: value,
			UnrealizedPnL: upnl,
			RealizedPnL:   rpnl,
		})
	}
	return account, nil
}

// --- Signed actions ---

func (a *LighterAdapter) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.TxResult, error) {
	payload := map[string]interface{}{
		"market_index":       req.MarketIndex,
		"client_order_index": req.ClientOrderIndex,
		"base_amount":        req.BaseAmount,
		"price":              req.PriceCents,
		"is_ask":             req.IsAsk,
		"order_type":         strings.ToLower(string(req.OrderType)),
		"time_in_force":      req.TimeInForce,
		"reduce_only":        req.ReduceOnly,
	}
	if req.TriggerPrice > 0 {
		payload["trigger_price"] = req.TriggerPrice
	}
	resp, err := a.sendRequest(ctx, http.MethodPost, "/api/v1/createOrder", payload)
	if err != nil {
		return nil, err
	}
	return normalizeTxResponse(resp), nil
}

func (a *LighterAdapter) CreateMarketOrder(ctx context.Context, req domain.CreateMarketOrderRequest) (*domain.TxResult, error) {
	payload := map[string]interface{}{
		"market_index":        req.MarketIndex,
		"client_order_index":  req.ClientOrderIndex,
		"base_amount":         req.BaseAmount,
		"avg_execution_price": req.AvgExecutionPriceCents,
		"is_ask":              req.IsAsk,
	}
	resp, err := a.sendRequest(ctx, http.MethodPost, "/api/v1/createMarketOrder", payload)
	if err != nil {
		return nil, err
	}
	return normalizeTxResponse(resp), nil
}

func (a *LighterAdapter) CancelOrder(ctx context.Context, marketID int, orderIndex int64) (*domain.TxResult, error) {
	payload := map[string]interface{}{
		"market_index": marketID,
		"order_index":  orderIndex,
	}
	resp, err := a.sendRequest(ctx, http.MethodPost, "/api/v1/cancelOrder", payload)
	if err != nil {
		return nil, err
	}
	return normalizeTxResponse(resp), nil
}

// normalizeTxResponse folds the exchange's variable-shape signed-action
// responses (tx+hash+error, tx+hash, bare hash, or null) into one TxResult.
func normalizeTxResponse(body []byte) *domain.TxResult {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &domain.TxResult{Err: fmt.Errorf("exchange returned null tx response")}
	}

	var full struct {
		Tx     json.RawMessage `json:"tx"`
		TxHash string          `json:"tx_hash"`
		Error  string          `json:"error"`
		Code   int             `json:"code"`
	}
	if err := json.Unmarshal(trimmed, &full); err == nil {
		if full.Error != "" {
			return &domain.TxResult{Raw: full.Tx, TxHash: full.TxHash, Err: fmt.Errorf("exchange error (code %d): %s", full.Code, full.Error)}
		}
		if full.TxHash != "" || len(full.Tx) > 0 {
			return &domain.TxResult{Raw: full.Tx, TxHash: full.TxHash}
		}
	}

	// Bare string: the response is just the tx hash.
	var hash string
	if err := json.Unmarshal(trimmed, &hash); err == nil && hash != "" {
		return &domain.TxResult{TxHash: hash}
	}

	return &domain.TxResult{Err: fmt.Errorf("unrecognised tx response: %s", string(trimmed))}
}
