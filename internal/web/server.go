package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/crypto_ut_bot/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	orders    *usecase.OrderManager
	positions *usecase.PositionManager
	hub       *usecase.MarketDataHub
	risk      *usecase.RiskManager
	logger    *zap.Logger
}

func NewServer(
	port int,
	orders *usecase.OrderManager,
	positions *usecase.PositionManager,
	hub *usecase.MarketDataHub,
	risk *usecase.RiskManager,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		orders:    orders,
		positions: positions,
		hub:       hub,
		risk:      risk,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /api/status", s.handleStatus)

	// Orders
	s.router.HandleFunc("GET /api/orders", s.handleOrders)

	// Positions
	s.router.HandleFunc("GET /api/positions", s.handlePositions)

	// Markets
	s.router.HandleFunc("GET /api/markets", s.handleMarkets)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
