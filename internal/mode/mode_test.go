package mode

import (
	"errors"
	"testing"
)

func TestSnapshot_ReadsBothFlags(t *testing.T) {
	c, err := New(true, true, Limits{MaxDailyLoss: 500000})
	if err != nil {
		t.Fatal(err)
	}
	paper, auto := c.Snapshot()
	if !paper || !auto {
		t.Errorf("snapshot = (%v, %v), want (true, true)", paper, auto)
	}

	c.SetPaperMode(false)
	if c.Mode() != "REAL" {
		t.Errorf("mode = %s, want REAL", c.Mode())
	}
}

func TestCircuitBreaker_TripsOnLoss(t *testing.T) {
	c, _ := New(true, true, Limits{MaxDailyLoss: 500000})

	if tripped := c.RecordRealized(-200000); tripped {
		t.Error("tripped below the limit")
	}
	if tripped := c.RecordRealized(-300000); !tripped {
		t.Error("expected trip at -500000")
	}

	// Auto-trade forced off and stays off.
	if _, auto := c.Snapshot(); auto {
		t.Error("auto_trade should be forced off")
	}
	if err := c.SetAutoTrade(true); !errors.Is(err, ErrBreakerTripped) {
		t.Errorf("re-enable err = %v, want ErrBreakerTripped", err)
	}

	// Trips only once; later P&L still accumulates.
	if tripped := c.RecordRealized(-100000); tripped {
		t.Error("breaker should trip exactly once")
	}
	if c.DailyRealized() != -600000 {
		t.Errorf("daily realized = %d", c.DailyRealized())
	}
}

func TestCircuitBreaker_ProfitLockIn(t *testing.T) {
	c, _ := New(true, true, Limits{MaxDailyProfit: 1000000})
	if tripped := c.RecordRealized(1000000); !tripped {
		t.Error("expected trip at profit bound")
	}
}

func TestCircuitBreaker_ZeroLimitDisabled(t *testing.T) {
	c, _ := New(true, true, Limits{})
	if tripped := c.RecordRealized(-99999999); tripped {
		t.Error("zero limits must never trip")
	}
	if _, auto := c.Snapshot(); !auto {
		t.Error("auto_trade should stay on")
	}
}

func TestResetDaily_ClearsBreaker(t *testing.T) {
	c, _ := New(true, true, Limits{MaxDailyLoss: 100})
	c.RecordRealized(-100)
	if !c.Tripped() {
		t.Fatal("precondition: breaker tripped")
	}

	c.ResetDaily(true)
	if c.Tripped() || c.DailyRealized() != 0 {
		t.Error("reset should clear breaker and counter")
	}
	if err := c.SetAutoTrade(true); err != nil {
		t.Errorf("re-enable after reset: %v", err)
	}
}

func TestLimits_Validate(t *testing.T) {
	if _, err := New(true, true, Limits{MaxDailyLoss: -1}); err == nil {
		t.Error("negative loss limit should be rejected")
	}
	c, _ := New(true, true, Limits{MaxDailyLoss: 100})
	if err := c.UpdateLimits(Limits{MaxDailyProfit: -5}); err == nil {
		t.Error("invalid runtime update should be rejected")
	}
}
