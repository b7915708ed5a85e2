// Package strike maps (spot price, signal strength, option type) to a
// tradable option contract. Selection is a pure function of its inputs:
// the spot is rounded to the instrument's strike step, then offset
// out-of-the-money by conviction band. The expiry embedded in the symbol
// comes from the exchange calendar, never from a fixed offset off "today".
package strike

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// OptionType is the contract type: call (CE) or put (PE).
type OptionType string

const (
	OptionCE OptionType = "CE"
	OptionPE OptionType = "PE"
)

// Conviction bands for OTM offsets. Below BandATM the engine does not
// enter at all, so the selector does not special-case it.
const (
	BandDeepOTM = 8.0 // |strength| above this: 2 steps OTM
	BandOTM     = 6.5 // |strength| in [BandOTM, BandDeepOTM]: 1 step OTM
	BandATM     = 4.0 // |strength| in [BandATM, BandOTM): at the money
)

// Contract is a selected tradable option.
type Contract struct {
	Symbol     string     `json:"symbol"` // broker trading symbol
	Underlying string     `json:"underlying"`
	Strike     int64      `json:"strike"` // rupees
	Type       OptionType `json:"type"`
	Expiry     time.Time  `json:"expiry"`
	LotSize    int64      `json:"lot_size"`
}

// Selector picks option contracts for a single underlying.
type Selector struct {
	Underlying string // e.g. "BANKNIFTY"
	Step       int64  // strike step in rupees (100 for Bank Nifty)
	LotSize    int64
}

// NewBankNifty returns a Selector configured for Bank Nifty contracts.
func NewBankNifty(lotSize int64) *Selector {
	return &Selector{Underlying: "BANKNIFTY", Step: 100, LotSize: lotSize}
}

// ATMStrike rounds the spot (paise) to the nearest valid strike (rupees).
func (s *Selector) ATMStrike(spotPaise int64) int64 {
	stepPaise := s.Step * 100
	return (spotPaise + stepPaise/2) / stepPaise * s.Step
}

// OffsetSteps returns the OTM offset (in strike steps) for the given
// strength, banded by conviction. Higher conviction buys further OTM.
func OffsetSteps(strength float64) int64 {
	abs := math.Abs(strength)
	switch {
	case abs > BandDeepOTM:
		return 2
	case abs >= BandOTM:
		return 1
	default:
		return 0
	}
}

// Pick selects a contract for the given spot and strength. Calls are offset
// above spot, puts below. The returned symbol must only be recomputed for
// entries; exits always reuse the symbol recorded at entry so the closing
// order targets the exact instrument held.
func (s *Selector) Pick(spotPaise int64, strength float64, ot OptionType, now time.Time) (Contract, error) {
	if spotPaise <= 0 {
		return Contract{}, fmt.Errorf("strike: non-positive spot %d", spotPaise)
	}
	atm := s.ATMStrike(spotPaise)
	offset := OffsetSteps(strength) * s.Step

	var strike int64
	switch ot {
	case OptionCE:
		strike = atm + offset
	case OptionPE:
		strike = atm - offset
	default:
		return Contract{}, fmt.Errorf("strike: unknown option type %q", ot)
	}

	expiry := NextExpiry(now)
	return Contract{
		Symbol:     s.symbol(strike, ot, expiry),
		Underlying: s.Underlying,
		Strike:     strike,
		Type:       ot,
		Expiry:     expiry,
		LotSize:    s.LotSize,
	}, nil
}

// symbol builds the Shoonya NFO trading symbol,
// e.g. BANKNIFTY30DEC25C59700.
func (s *Selector) symbol(strike int64, ot OptionType, expiry time.Time) string {
	cp := "C"
	if ot == OptionPE {
		cp = "P"
	}
	return fmt.Sprintf("%s%02d%s%02d%s%d",
		s.Underlying,
		expiry.Day(),
		strings.ToUpper(expiry.Format("Jan")),
		expiry.Year()%100,
		cp,
		strike,
	)
}
