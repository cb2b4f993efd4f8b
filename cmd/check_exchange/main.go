package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_ut_bot/internal/config"
	"github.com/vitos/crypto_ut_bot/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

func main() {
	path := "config/config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1. Load Config
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing Lighter Interaction...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Lighter.BaseURL)
	fmt.Printf("Account Index: %d\n", cfg.Lighter.AccountIndex)

	adapter := exchange.NewLighterAdapter(
		cfg.Lighter.BaseURL,
		cfg.Lighter.WSURL,
		cfg.Lighter.APIKeyPrivateKey,
		cfg.Lighter.AccountIndex,
		cfg.Lighter.APIKeyIndex,
		zap.NewNop(),
	)
	defer adapter.Close()
	ctx := context.Background()

	// 2. Check Public Endpoints
	markets, err := adapter.GetOrderBooks(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get order books: %v\n", err)
	} else {
		fmt.Printf("✅ Order books: %d markets\n", len(markets))
		for _, m := range markets {
			fmt.Printf("   market %d %s min_base=%f min_quote=%f\n",
				m.MarketID, m.Symbol, m.MinBaseAmount(), m.MinQuoteAmount())
		}
	}

	book, err := adapter.GetOrderBookOrders(ctx, 0, 5)
	if err != nil {
		fmt.Printf("❌ Failed to get order book depth: %v\n", err)
	} else {
		fmt.Printf("✅ Market 0 best bid=%f best ask=%f\n", book.BestBid(), book.BestAsk())
	}

	end := time.Now().Unix()
	candles, err := adapter.GetCandles(ctx, 0, "1m", end-3600, end, 60)
	if err != nil {
		fmt.Printf("❌ Failed to get candles: %v\n", err)
	} else {
		fmt.Printf("✅ Candles: %d bars\n", len(candles))
	}

	// 3. Check Private Endpoint (Account)
	account, err := adapter.GetAccount(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get account: %v\n", err)
	} else {
		fmt.Printf("✅ Account: collateral=%f available=%f positions=%d\n",
			account.Collateral, account.AvailableBalance, len(account.Positions))
	}
}
