package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/crypto_ut_bot/internal/domain"
)

const binanceBaseURL = "https://api.binance.com"

// BinanceSource fetches public klines, used only for strategy warm-up when
// the primary source is not native.
type BinanceSource struct {
	baseURL string
	client  *http.Client
}

func NewBinanceSource(baseURL string) *BinanceSource {
	if baseURL == "" {
		baseURL = binanceBaseURL
	}
	return &BinanceSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetKlines returns OHLCV bars oldest-first. Binance encodes each kline as
// an array: index 0 open time (ms), 1-4 OHLC, 5 volume.
func (b *BinanceSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d", b.baseURL, symbol, interval, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance klines error (%d): %s", resp.StatusCode, string(body))
	}

	// Rows mix numeric open-time with string-typed OHLCV fields.
	var rows [][]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	var candles []domain.Candle
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime := int64(toFloat(row[0]))
		open := toFloat(row[1])
		high := toFloat(row[2])
		low := toFloat(row[3])
		closePrice := toFloat(row[4])
		volume := toFloat(row[5])

		candles = append(candles, domain.Candle{
			Time:   openTime / 1000,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}
	return candles, nil
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
