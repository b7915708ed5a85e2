package model

import "time"

// Position represents a tracked trading position, keyed by (symbol, product).
// All money values are in paise.
type Position struct {
	Symbol      string    `json:"symbol"`
	Product     string    `json:"product"`      // I = intraday, M = overnight
	NetQty      int64     `json:"net_qty"`      // positive = long, negative = short
	AvgPrice    int64     `json:"avg_price"`    // defined only while NetQty != 0
	LastPrice   int64     `json:"last_price"`   // latest market price
	RealizedPnL int64     `json:"realized_pnl"` // cumulative for this position
	EntryTime   time.Time `json:"entry_time"`

	// Trailing stop-loss state. Active once the profit hurdle is crossed;
	// Breached is consumed by the engine as an exit trigger.
	TSLActive   bool  `json:"tsl_active"`
	TSLHwm      int64 `json:"tsl_hwm"`     // high-water mark price
	TSLTrigger  int64 `json:"tsl_trigger"` // exit trigger price
	TSLBreached bool  `json:"tsl_breached"`
}

// Key returns the unique position key: "symbol:product".
func (p *Position) Key() string {
	return p.Symbol + ":" + p.Product
}

// UnrealizedPnL computes unrealized profit/loss in paise at the given price.
// Returns 0 for a flat position.
func (p *Position) UnrealizedPnL(lastPrice int64) int64 {
	if p.NetQty == 0 {
		return 0
	}
	return (lastPrice - p.AvgPrice) * p.NetQty
}
