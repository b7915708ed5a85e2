package model

import "time"

// Tick represents a single market data tick for an index constituent or the
// index itself. Price is stored as int64 in paise (1 INR = 100 paise) to
// avoid float drift.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  int64     `json:"price"`   // paise (LTP)
	Volume int64     `json:"volume"`  // cumulative session volume
	IsOpen bool      `json:"is_open"` // true for the session-open print
	TickTS time.Time `json:"tick_ts"` // UTC timestamp
}
