package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position mirrors the single net position held on a market. The exchange
// account endpoint is authoritative; local copies are overwritten on sync.
type Position struct {
	MarketID      int
	Side          Side
	Size          float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	RealizedPnL   float64
	Margin        float64
	Leverage      int
	UpdatedAt     time.Time
}

// PositionHistory records a closed position for the operational journal.
type PositionHistory struct {
	ID          int64
	MarketID    int
	Side        Side
	Size        float64
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
	Leverage    int
	ClosedAt    time.Time
}
