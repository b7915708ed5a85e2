package model

import "time"

// Mode tags whether an order/trade was simulated or routed to the broker.
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeReal  Mode = "REAL"
)

// PriceSource records how a trade's exit price was obtained. Real orders
// without a fill confirmation fall back to a spot proxy; summaries must
// present proxy-based P&L as an estimate, not a measurement.
type PriceSource string

const (
	PriceFromFill  PriceSource = "FILL"
	PriceFromProxy PriceSource = "PROXY"
)

// Trade is an immutable closed round-trip record, written exactly once when
// a position fully closes. Money values in paise.
type Trade struct {
	Symbol      string      `json:"symbol"`
	Qty         int64       `json:"qty"` // absolute round-trip quantity
	EntryPrice  int64       `json:"entry_price"`
	ExitPrice   int64       `json:"exit_price"`
	EntryTime   time.Time   `json:"entry_time"`
	ExitTime    time.Time   `json:"exit_time"`
	RealizedPnL int64       `json:"realized_pnl"`
	Mode        Mode        `json:"mode"`
	PriceSource PriceSource `json:"price_source"`
}
