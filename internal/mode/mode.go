// Package mode holds the process-wide trading mode flags (paper vs real,
// auto-trade enabled) and the daily P&L circuit breaker. Both flags are
// independently togglable and read atomically under one lock, so a flip
// mid-decision cannot misclassify an order's routing.
package mode

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"bntrader/internal/model"
)

// ErrBreakerTripped is returned when auto-trading cannot be re-enabled
// because the daily circuit breaker has fired. It clears on ResetDaily.
var ErrBreakerTripped = errors.New("mode: daily circuit breaker tripped")

// Limits configures the daily circuit breaker, in paise. A zero limit
// disables that bound.
type Limits struct {
	MaxDailyLoss   int64 // positive value, e.g. 500000 = ₹5,000
	MaxDailyProfit int64 // optional profit lock-in
}

// Validate rejects nonsensical limits.
func (l Limits) Validate() error {
	if l.MaxDailyLoss < 0 || l.MaxDailyProfit < 0 {
		return fmt.Errorf("mode: limits must be non-negative: %+v", l)
	}
	return nil
}

// Controller is the process-wide mode state.
type Controller struct {
	mu            sync.RWMutex
	paperMode     bool
	autoTrade     bool
	limits        Limits
	dailyRealized int64
	tripped       bool
}

// New creates a Controller. Paper mode defaults to on; flipping to real
// requires an explicit boundary call.
func New(paperMode, autoTrade bool, limits Limits) (*Controller, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Controller{paperMode: paperMode, autoTrade: autoTrade, limits: limits}, nil
}

// Snapshot returns both flags read under one lock.
func (c *Controller) Snapshot() (paperMode, autoTrade bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paperMode, c.autoTrade
}

// Mode returns the current routing mode tag.
func (c *Controller) Mode() model.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.paperMode {
		return model.ModePaper
	}
	return model.ModeReal
}

// SetPaperMode flips the paper/real routing flag.
func (c *Controller) SetPaperMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paperMode != on {
		log.Printf("[mode] paper_mode -> %v", on)
	}
	c.paperMode = on
}

// SetAutoTrade enables or disables automatic entries. Re-enabling while the
// daily breaker is tripped is rejected; manual exits are unaffected either
// way.
func (c *Controller) SetAutoTrade(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on && c.tripped {
		return ErrBreakerTripped
	}
	if c.autoTrade != on {
		log.Printf("[mode] auto_trade -> %v", on)
	}
	c.autoTrade = on
	return nil
}

// UpdateLimits swaps the breaker limits at runtime. Invalid limits are
// rejected and the previous configuration stays active.
func (c *Controller) UpdateLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits = l
	return nil
}

// RecordRealized accumulates realized P&L for the session and trips the
// breaker when a configured bound is breached. Returns true exactly once,
// on the crossing that trips it.
func (c *Controller) RecordRealized(pnl int64) (trippedNow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dailyRealized += pnl
	if c.tripped {
		return false
	}

	lossBreached := c.limits.MaxDailyLoss > 0 && c.dailyRealized <= -c.limits.MaxDailyLoss
	profitBreached := c.limits.MaxDailyProfit > 0 && c.dailyRealized >= c.limits.MaxDailyProfit
	if lossBreached || profitBreached {
		c.tripped = true
		c.autoTrade = false
		log.Printf("[mode] CIRCUIT BREAKER tripped: daily realized %d paise (loss limit %d, profit limit %d)",
			c.dailyRealized, c.limits.MaxDailyLoss, c.limits.MaxDailyProfit)
		return true
	}
	return false
}

// DailyRealized returns the session's accumulated realized P&L in paise.
func (c *Controller) DailyRealized() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dailyRealized
}

// Tripped reports whether the breaker has fired this session.
func (c *Controller) Tripped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tripped
}

// ResetDaily clears the daily P&L counter and the breaker at session start.
// Auto-trade is restored to the given value.
func (c *Controller) ResetDaily(autoTrade bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyRealized = 0
	c.tripped = false
	c.autoTrade = autoTrade
	log.Printf("[mode] daily reset (auto_trade=%v)", autoTrade)
}
