package domain

import "encoding/json"

// AccountPosition is a position entry as reported by the account endpoint.
// Sign is +1 for long, -1 for short.
type AccountPosition struct {
	MarketID      int     `json:"market_id"`
	Sign          int     `json:"sign"`
	Position      float64 `json:"position"` // asset quantity
	AvgEntryPrice float64 `json:"avg_entry_price"`
	PositionValue float64 `json:"position_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

type Account struct {
	L1Address        string            `json:"l1_address"`
	Collateral       float64           `json:"collateral"`
	AvailableBalance float64           `json:"available_balance"`
	TotalAssetValue  float64           `json:"total_asset_value"`
	Positions        []AccountPosition `json:"positions"`
}

// TxResult normalises the exchange SDK's variable-arity returns
// (three-tuple, two-tuple, single value, or null) into one shape.
type TxResult struct {
	TxHash string
	Raw    json.RawMessage
	Err    error
}
