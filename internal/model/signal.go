package model

import "time"

// Direction is the discrete directional class of a strength signal.
type Direction string

const (
	DirBullish Direction = "BULLISH"
	DirBearish Direction = "BEARISH"
	DirNeutral Direction = "NEUTRAL"
)

// Signal is the per-tick output of the signal evaluator. Ephemeral; never
// persisted. Strength is a scalar conviction proxy: positive = bullish.
type Signal struct {
	TS              time.Time `json:"ts"`
	UnderlyingPrice int64     `json:"underlying_price"` // paise
	Strength        float64   `json:"strength"`
	Direction       Direction `json:"direction"`
	Reason          string    `json:"reason,omitempty"`
}
