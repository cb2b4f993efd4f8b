package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitos/crypto_ut_bot/internal/config"
	"github.com/vitos/crypto_ut_bot/internal/domain"
	"github.com/vitos/crypto_ut_bot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_ut_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_ut_bot/internal/infrastructure/notify"
	"github.com/vitos/crypto_ut_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_ut_bot/internal/usecase"
	"github.com/vitos/crypto_ut_bot/internal/web"
	"go.uber.org/zap"
)

var (
	configPath   string
	strategyName string
	marketID     int
	dryRun       bool
)

func main() {
	root := &cobra.Command{
		Use:          "bot",
		Short:        "UT-Bot trading engine",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to config file")
	root.Flags().StringVarP(&strategyName, "strategy", "s", "", "run only the named strategy")
	root.Flags().IntVarP(&marketID, "market", "m", -1, "override the strategy market id")
	root.Flags().BoolVar(&dryRun, "dry-run", false, "validate orders but never submit")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore("bot.db")
	if err != nil {
		return fmt.Errorf("failed to init sqlite: %w", err)
	}
	defer store.Close()

	// 4. Init Exchange
	lighter := exchange.NewLighterAdapter(
		cfg.Lighter.BaseURL,
		cfg.Lighter.WSURL,
		cfg.Lighter.APIKeyPrivateKey,
		cfg.Lighter.AccountIndex,
		cfg.Lighter.APIKeyIndex,
		log,
	)
	defer lighter.Close()

	var external domain.CandleSource
	switch cfg.DataSources.Primary {
	case "binance":
		external = exchange.NewBinanceSource("")
	case "coingecko":
		external = exchange.NewCoinGeckoSource("")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Init Services
	hub := usecase.NewMarketDataHub(lighter, external, cfg.DataSources.MarketIDMapping, log)
	positions := usecase.NewPositionManager(lighter, hub, log)
	positions.SetJournal(store)
	risk := usecase.NewRiskManager(cfg.Risk, log)
	orders := usecase.NewOrderManager(lighter, hub, positions, log)
	orders.SetJournal(store)
	orders.SetObserver(risk)
	orders.SetDryRun(dryRun)
	orders.SetCustomMinimums(cfg.DataSources.CustomMinOrderSize, cfg.DataSources.CustomMinQuoteAmt)
	if dryRun {
		log.Info("Dry-run mode: orders are validated but not submitted")
	}

	notifier := notify.NewNotifier(cfg.Notifications, log)
	go notifier.Run(ctx)

	tickInterval := time.Duration(cfg.Trading.TickIntervalMs) * time.Millisecond
	engine := usecase.NewEngine(hub, orders, positions, risk, tickInterval, log)
	engine.SetNotifier(notifier)

	// 6. Init Strategies
	added := 0
	for name, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		if strategyName != "" && name != strategyName {
			continue
		}
		if marketID >= 0 {
			sc.MarketID = marketID
			sc.MarketIDs = nil
		}
		if len(sc.Markets()) > 1 {
			engine.AddStrategy(usecase.NewMultiMarketStrategy(name, sc, cfg.Trading.MaxConcurrentStrategies, log))
		} else {
			engine.AddStrategy(usecase.NewUTBotStrategy(name, sc, log))
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("no enabled strategies matched")
	}

	// 7. Init Web Server
	server := web.NewServer(cfg.Server.Port, orders, positions, hub, risk, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server failed", zap.Error(err))
		}
	}()

	// 8. Start Engine
	if err := engine.Initialize(ctx, cfg.DataSources.ExtraMarkets); err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	err = engine.Run(ctx)

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	return err
}
