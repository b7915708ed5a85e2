package book

import (
	"errors"
	"testing"
	"time"

	"bntrader/internal/model"
)

var t0 = time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)

func buy(sym string, qty, price int64, at time.Time) Fill {
	return Fill{Symbol: sym, Product: "I", Side: model.SideBuy, Qty: qty, Price: price, TS: at, Mode: model.ModePaper, PriceSource: model.PriceFromFill}
}

func sell(sym string, qty, price int64, at time.Time) Fill {
	return Fill{Symbol: sym, Product: "I", Side: model.SideSell, Qty: qty, Price: price, TS: at, Mode: model.ModePaper, PriceSource: model.PriceFromFill}
}

func TestApplyFill_RoundTrip(t *testing.T) {
	tr := New(TSLConfig{}, nil)

	// BUY 20 @ 100.00, SELL 20 @ 110.00 -> realized +200.00
	if _, err := tr.ApplyFill(buy("BANKNIFTY27JAN26C59700", 20, 10000, t0)); err != nil {
		t.Fatal(err)
	}
	realized, err := tr.ApplyFill(sell("BANKNIFTY27JAN26C59700", 20, 11000, t0.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if realized != 20000 { // (11000-10000)*20 paise
		t.Errorf("realized = %d, want 20000", realized)
	}

	pos, ok := tr.Position("BANKNIFTY27JAN26C59700", "I")
	if !ok {
		t.Fatal("position not tracked")
	}
	if pos.NetQty != 0 {
		t.Errorf("net qty = %d, want 0", pos.NetQty)
	}
	if pos.AvgPrice != 0 {
		t.Errorf("avg price = %d, want 0 (undefined while flat)", pos.AvgPrice)
	}

	trades := tr.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if trades[0].RealizedPnL != 20000 || trades[0].EntryPrice != 10000 || trades[0].ExitPrice != 11000 {
		t.Errorf("bad trade record: %+v", trades[0])
	}
}

func TestApplyFill_WeightedAverage(t *testing.T) {
	tr := New(TSLConfig{}, nil)

	tr.ApplyFill(buy("OPT", 10, 10000, t0))
	tr.ApplyFill(buy("OPT", 30, 12000, t0))

	pos, _ := tr.Position("OPT", "I")
	// (10*10000 + 30*12000) / 40 = 11500
	if pos.AvgPrice != 11500 {
		t.Errorf("avg = %d, want 11500", pos.AvgPrice)
	}
	if pos.NetQty != 40 {
		t.Errorf("qty = %d, want 40", pos.NetQty)
	}
}

func TestApplyFill_OrderIndependentAverage(t *testing.T) {
	// Same-direction fills in any order yield the same final average.
	fills := []Fill{
		buy("OPT", 5, 9800, t0),
		buy("OPT", 15, 10400, t0),
		buy("OPT", 10, 10100, t0),
	}
	perms := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}}

	var want int64 = -1
	for _, perm := range perms {
		tr := New(TSLConfig{}, nil)
		for _, i := range perm {
			if _, err := tr.ApplyFill(fills[i]); err != nil {
				t.Fatal(err)
			}
		}
		pos, _ := tr.Position("OPT", "I")
		if want == -1 {
			want = pos.AvgPrice
		} else if pos.AvgPrice != want {
			t.Errorf("perm %v: avg = %d, want %d", perm, pos.AvgPrice, want)
		}
	}
}

func TestApplyFill_PartialCloseThenFull(t *testing.T) {
	tr := New(TSLConfig{}, nil)

	tr.ApplyFill(buy("OPT", 40, 10000, t0))
	r1, _ := tr.ApplyFill(sell("OPT", 15, 10500, t0.Add(time.Minute)))
	if r1 != 7500 { // (10500-10000)*15
		t.Errorf("partial realized = %d, want 7500", r1)
	}
	if len(tr.Trades()) != 0 {
		t.Error("no trade record expected before full close")
	}

	r2, _ := tr.ApplyFill(sell("OPT", 25, 9800, t0.Add(2*time.Minute)))
	if r2 != -5000 { // (9800-10000)*25
		t.Errorf("final realized = %d, want -5000", r2)
	}

	trades := tr.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	// Round-trip record carries all P&L realized since entry.
	if trades[0].RealizedPnL != 2500 {
		t.Errorf("trade pnl = %d, want 2500", trades[0].RealizedPnL)
	}
	if tr.RealizedPnL() != 2500 {
		t.Errorf("book realized = %d, want 2500", tr.RealizedPnL())
	}
}

func TestApplyFill_OvershootFlipsPosition(t *testing.T) {
	tr := New(TSLConfig{}, nil)

	tr.ApplyFill(buy("OPT", 10, 10000, t0))
	realized, _ := tr.ApplyFill(sell("OPT", 25, 10400, t0.Add(time.Minute)))
	if realized != 4000 { // only the overlapping 10 realize
		t.Errorf("realized = %d, want 4000", realized)
	}

	pos, _ := tr.Position("OPT", "I")
	if pos.NetQty != -15 {
		t.Errorf("qty = %d, want -15", pos.NetQty)
	}
	// Remainder opens fresh at the fill price.
	if pos.AvgPrice != 10400 {
		t.Errorf("avg = %d, want 10400", pos.AvgPrice)
	}
	if len(tr.Trades()) != 1 {
		t.Errorf("the closed leg should produce one trade record")
	}
}

func TestApplyFill_ShortRoundTrip(t *testing.T) {
	tr := New(TSLConfig{}, nil)

	tr.ApplyFill(sell("OPT", 20, 11000, t0))
	realized, _ := tr.ApplyFill(buy("OPT", 20, 10000, t0.Add(time.Minute)))
	if realized != 20000 { // short: profit when price falls
		t.Errorf("realized = %d, want 20000", realized)
	}
}

func TestApplyFill_RejectsInvalid(t *testing.T) {
	tr := New(TSLConfig{}, nil)

	cases := []Fill{
		buy("OPT", 0, 10000, t0),
		buy("OPT", -5, 10000, t0),
		buy("OPT", 10, 0, t0),
		buy("OPT", 10, -100, t0),
	}
	for _, f := range cases {
		if _, err := tr.ApplyFill(f); !errors.Is(err, ErrInvalidFill) {
			t.Errorf("qty=%d price=%d: err = %v, want ErrInvalidFill", f.Qty, f.Price, err)
		}
	}
	if len(tr.Open()) != 0 {
		t.Error("rejected fills must not create positions")
	}
}

func TestUnrealizedPnL(t *testing.T) {
	tr := New(TSLConfig{}, nil)
	tr.ApplyFill(buy("OPT", 20, 10000, t0))

	if got := tr.UnrealizedPnL("OPT", "I", 10300); got != 6000 {
		t.Errorf("upl = %d, want 6000", got)
	}
	if got := tr.UnrealizedPnL("MISSING", "I", 10300); got != 0 {
		t.Errorf("upl for unknown = %d, want 0", got)
	}
}

func TestTSL_ArmAndBreach(t *testing.T) {
	tr := New(DefaultTSL(), nil)
	tr.ApplyFill(buy("OPT", 20, 10000, t0))

	// Below the hurdle: not armed.
	tr.UpdatePrice("OPT", 10200)
	if tr.TSLBreached("OPT", "I") {
		t.Fatal("breached before arming")
	}

	// 6% profit arms the stop; trail 5% off the HWM.
	tr.UpdatePrice("OPT", 10600)
	pos, _ := tr.Position("OPT", "I")
	if !pos.TSLActive {
		t.Fatal("TSL should be armed at 6% profit")
	}

	// New HWM raises the trigger.
	tr.UpdatePrice("OPT", 11000)
	pos, _ = tr.Position("OPT", "I")
	if pos.TSLHwm != 11000 {
		t.Errorf("hwm = %d, want 11000", pos.TSLHwm)
	}

	// Pull back through the trigger (11000 - 5% = 10450).
	tr.UpdatePrice("OPT", 10400)
	if !tr.TSLBreached("OPT", "I") {
		t.Error("expected TSL breach")
	}

	// Closing the position clears TSL state.
	tr.ApplyFill(sell("OPT", 20, 10400, t0.Add(time.Hour)))
	pos, _ = tr.Position("OPT", "I")
	if pos.TSLActive || pos.TSLBreached {
		t.Error("TSL state should reset on close")
	}
}

func TestGetDailySummary(t *testing.T) {
	tr := New(TSLConfig{}, nil)

	tr.ApplyFill(buy("A", 10, 10000, t0))
	tr.ApplyFill(sell("A", 10, 10500, t0.Add(time.Minute))) // +5000
	tr.ApplyFill(buy("B", 10, 20000, t0))
	tr.ApplyFill(sell("B", 10, 19000, t0.Add(time.Minute))) // -10000

	s := tr.GetDailySummary(t0, time.UTC)
	if s.TotalTrades != 2 || s.WinningTrades != 1 || s.LosingTrades != 1 {
		t.Errorf("summary counts = %+v", s)
	}
	if s.GrossPnL != -5000 {
		t.Errorf("gross = %d, want -5000", s.GrossPnL)
	}
	if s.WinRate != 50 {
		t.Errorf("win rate = %.1f, want 50", s.WinRate)
	}

	// Trades from another day are excluded.
	other := tr.GetDailySummary(t0.AddDate(0, 0, 1), time.UTC)
	if other.TotalTrades != 0 {
		t.Errorf("next-day summary should be empty, got %+v", other)
	}
}

func TestRestore(t *testing.T) {
	tr := New(TSLConfig{}, nil)
	tr.Restore([]model.Position{
		{Symbol: "OPT", Product: "I", NetQty: 20, AvgPrice: 10000, EntryTime: t0},
	}, 123400)

	pos, ok := tr.Position("OPT", "I")
	if !ok || pos.NetQty != 20 {
		t.Fatalf("restored position missing: %+v ok=%v", pos, ok)
	}
	if tr.RealizedPnL() != 123400 {
		t.Errorf("restored realized = %d", tr.RealizedPnL())
	}
}
