package book

import (
	"log"

	"bntrader/internal/model"
)

// TSLConfig configures the trailing stop-loss applied to open positions.
// The stop activates once profit reaches HurdlePct, then trails the
// high-water mark by TrailPct. A breach only raises a flag; the engine
// decides when to act on it.
type TSLConfig struct {
	Enabled   bool
	HurdlePct float64 // profit % required to arm the stop (e.g. 5.0)
	TrailPct  float64 // trail distance % from the high-water mark (e.g. 5.0)
}

// DefaultTSL returns the stock 5%/5% trailing stop.
func DefaultTSL() TSLConfig {
	return TSLConfig{Enabled: true, HurdlePct: 5.0, TrailPct: 5.0}
}

func (t *Tracker) resetTSL(pos *model.Position) {
	pos.TSLActive = false
	pos.TSLHwm = 0
	pos.TSLTrigger = 0
	pos.TSLBreached = false
}

// manageTSL advances trailing stop state for one position at the latest
// price. Caller holds t.mu.
func (t *Tracker) manageTSL(pos *model.Position, ltp int64) {
	if !t.tsl.Enabled || pos.NetQty == 0 || pos.AvgPrice == 0 {
		return
	}

	side := int64(1)
	if pos.NetQty < 0 {
		side = -1
	}
	profitPct := float64(side*(ltp-pos.AvgPrice)) / float64(pos.AvgPrice) * 100

	if !pos.TSLActive {
		if profitPct >= t.tsl.HurdlePct {
			pos.TSLActive = true
			pos.TSLHwm = ltp
			pos.TSLTrigger = trailTrigger(ltp, side, t.tsl.TrailPct)
			log.Printf("[book] TSL armed %s at %d (profit %.2f%%)", pos.Symbol, ltp, profitPct)
		}
		return
	}

	if side > 0 {
		if ltp > pos.TSLHwm {
			pos.TSLHwm = ltp
			pos.TSLTrigger = trailTrigger(ltp, side, t.tsl.TrailPct)
		} else if ltp < pos.TSLTrigger {
			pos.TSLBreached = true
			log.Printf("[book] TSL breached (long) %s at %d, trigger %d", pos.Symbol, ltp, pos.TSLTrigger)
		}
	} else {
		if ltp < pos.TSLHwm {
			pos.TSLHwm = ltp
			pos.TSLTrigger = trailTrigger(ltp, side, t.tsl.TrailPct)
		} else if ltp > pos.TSLTrigger {
			pos.TSLBreached = true
			log.Printf("[book] TSL breached (short) %s at %d, trigger %d", pos.Symbol, ltp, pos.TSLTrigger)
		}
	}
}

// trailTrigger computes the exit trigger: HWM minus trail% for longs,
// HWM plus trail% for shorts.
func trailTrigger(hwm, side int64, trailPct float64) int64 {
	delta := int64(float64(hwm) * trailPct / 100)
	return hwm - side*delta
}

// TSLBreached reports whether the position has breached its trailing stop.
func (t *Tracker) TSLBreached(symbol, product string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[key(symbol, product)]
	return ok && pos.TSLBreached
}
