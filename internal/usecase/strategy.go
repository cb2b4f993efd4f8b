package usecase

import (
	"context"

	"github.com/vitos/crypto_ut_bot/internal/domain"
)

// OrderRequest is what a strategy hands to the order manager. Sizes and
// prices are decimal; unit conversion happens at submission.
type OrderRequest struct {
	MarketID          int
	Side              domain.OrderSide
	Type              domain.OrderType
	Size              float64
	Price             float64
	Leverage          int
	MarginMode        domain.MarginMode
	SlippageTolerance float64
	SlippageEnabled   bool
	ReduceOnly        bool
}

// TradingHandle is the capability surface given to strategies: order submit,
// position read, snapshot read. Strategies hold no reference to the engine.
type TradingHandle interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*domain.Order, error)
	GetPosition(marketID int) *domain.Position
	GetSnapshot(marketID int) *domain.MarketSnapshot
	GetHistoricalCandles(ctx context.Context, marketID, limit int) ([]domain.Candle, error)
}

// Strategy is the lifecycle contract the engine drives.
type Strategy interface {
	Name() string
	Markets() []int

	Initialize(ctx context.Context, handle TradingHandle) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// OnTick runs once per engine tick with fresh snapshot copies.
	OnTick(ctx context.Context, snapshots map[int]*domain.MarketSnapshot) error

	// OnRealtimeTick runs between engine ticks for strategies that opt in.
	OnRealtimeTick(ctx context.Context, marketID int, tick domain.Tick)
	UsesRealtimeTicks() bool
}
