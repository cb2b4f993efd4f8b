package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitos/crypto_ut_bot/internal/domain"
)

const coingeckoBaseURL = "https://api.coingecko.com"

// CoinGeckoSource is the fallback kline provider. Granularity is coarser
// than Binance and no volume is reported, so volume defaults to 0.
type CoinGeckoSource struct {
	baseURL string
	client  *http.Client
}

func NewCoinGeckoSource(baseURL string) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = coingeckoBaseURL
	}
	return &CoinGeckoSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

var coingeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"DOGE":  "dogecoin",
	"LINK":  "chainlink",
	"AVAX":  "avalanche-2",
	"MATIC": "matic-network",
}

// GetKlines maps the feed symbol (e.g. "ETHUSDT") to a CoinGecko coin id and
// fetches 1-day OHLC. The interval argument is ignored; CoinGecko chooses
// granularity from the requested range.
func (c *CoinGeckoSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	base := strings.TrimSuffix(symbol, "USDT")
	coinID, ok := coingeckoIDs[base]
	if !ok {
		return nil, fmt.Errorf("no coingecko mapping for symbol %s", symbol)
	}

	url := fmt.Sprintf("%s/api/v3/coins/%s/ohlc?vs_currency=usd&days=1", c.baseURL, coinID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko ohlc error (%d): %s", resp.StatusCode, string(body))
	}

	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	var candles []domain.Candle
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		candles = append(candles, domain.Candle{
			Time:   int64(row[0]) / 1000,
			Open:   row[1],
			High:   row[2],
			Low:    row[3],
			Close:  row[4],
			Volume: 0,
		})
	}

	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}
