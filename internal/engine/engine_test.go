package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bntrader/internal/book"
	"bntrader/internal/gateway"
	"bntrader/internal/mode"
	"bntrader/internal/model"
	"bntrader/internal/strike"
)

// fakeGW fills every order at the requested price. When block is set, the
// first PlaceOrder call parks until the channel is closed, which lets tests
// race a panic against an in-flight decision.
type fakeGW struct {
	mu      sync.Mutex
	placed  []gateway.Request
	block   chan struct{}
	blocked bool
	failAll bool
}

func (g *fakeGW) Mode() model.Mode { return model.ModePaper }

func (g *fakeGW) PlaceOrder(ctx context.Context, req gateway.Request) (gateway.Result, error) {
	g.mu.Lock()
	shouldBlock := g.block != nil && !g.blocked
	if shouldBlock {
		g.blocked = true
	}
	g.placed = append(g.placed, req)
	n := len(g.placed)
	fail := g.failAll
	g.mu.Unlock()

	if shouldBlock {
		<-g.block
	}
	if fail {
		return gateway.Result{}, fmt.Errorf("%w: broker offline", gateway.ErrGateway)
	}
	return gateway.Result{
		OrderID:     fmt.Sprintf("FAKE-%d", n),
		Status:      model.StatusFilled,
		FillPrice:   req.Price,
		FillQty:     req.Qty,
		PriceSource: model.PriceFromFill,
	}, nil
}

func (g *fakeGW) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (g *fakeGW) requests() []gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gateway.Request, len(g.placed))
	copy(out, g.placed)
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		EntryThreshold: 5.5,
		ExitThreshold:  1.0,
		Cooldown:       60 * time.Second,
		Lots:           1,
		LotSize:        30,
		ProductType:    "I",
	}
}

func newTestEngine(t *testing.T, gw gateway.Gateway, limits mode.Limits) (*Engine, *mode.Controller, *book.Tracker, *fakeClock) {
	t.Helper()
	modes, err := mode.New(true, true, limits)
	if err != nil {
		t.Fatalf("mode.New: %v", err)
	}
	tracker := book.New(book.TSLConfig{}, nil)
	clock := &fakeClock{t: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	quote := func(symbol string) int64 { return 25000 }
	eng, err := New(testConfig(), modes, tracker, strike.NewBankNifty(30), gw, quote, WithClock(clock.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, modes, tracker, clock
}

func bullish(strength float64) model.Signal {
	return model.Signal{
		UnderlyingPrice: 5960000,
		Strength:        strength,
		Direction:       model.DirBullish,
		Reason:          "test",
	}
}

func bearish(strength float64) model.Signal {
	return model.Signal{
		UnderlyingPrice: 5960000,
		Strength:        -strength,
		Direction:       model.DirBearish,
		Reason:          "test",
	}
}

func neutral() model.Signal {
	return model.Signal{UnderlyingPrice: 5960000, Strength: 0.3, Direction: model.DirNeutral}
}

func TestEntryOnStrongBullishSignal(t *testing.T) {
	gw := &fakeGW{}
	eng, _, tracker, _ := newTestEngine(t, gw, mode.Limits{})

	if err := eng.OnSignal(context.Background(), bullish(7.5)); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}

	st := eng.State()
	if st.Side != SideCE {
		t.Fatalf("side = %s, want CE", st.Side)
	}
	if st.Symbol != "BANKNIFTY27JAN26C59700" {
		t.Errorf("symbol = %s, want BANKNIFTY27JAN26C59700", st.Symbol)
	}
	pos, ok := tracker.Position(st.Symbol, "I")
	if !ok || pos.NetQty != 30 {
		t.Fatalf("position qty = %d (ok=%v), want 30", pos.NetQty, ok)
	}
	if pos.AvgPrice != 25000 {
		t.Errorf("avg price = %d, want 25000", pos.AvgPrice)
	}
	reqs := gw.requests()
	if len(reqs) != 1 || reqs[0].Side != model.SideBuy || reqs[0].Tag != "AUTO_ENTRY" {
		t.Errorf("unexpected gateway requests: %+v", reqs)
	}
}

func TestBearishSignalBuysPut(t *testing.T) {
	gw := &fakeGW{}
	eng, _, _, _ := newTestEngine(t, gw, mode.Limits{})

	if err := eng.OnSignal(context.Background(), bearish(7.5)); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	st := eng.State()
	if st.Side != SidePE {
		t.Fatalf("side = %s, want PE", st.Side)
	}
	if st.Symbol != "BANKNIFTY27JAN26P59500" {
		t.Errorf("symbol = %s, want BANKNIFTY27JAN26P59500", st.Symbol)
	}
}

func TestWeakSignalStaysFlat(t *testing.T) {
	gw := &fakeGW{}
	eng, _, _, _ := newTestEngine(t, gw, mode.Limits{})

	if err := eng.OnSignal(context.Background(), bullish(4.0)); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	if st := eng.State(); st.Side != SideNone {
		t.Fatalf("side = %s, want NONE", st.Side)
	}
	if len(gw.requests()) != 0 {
		t.Error("no order should have been placed")
	}
}

func TestAutoTradeOffBlocksEntry(t *testing.T) {
	gw := &fakeGW{}
	eng, modes, _, _ := newTestEngine(t, gw, mode.Limits{})
	if err := modes.SetAutoTrade(false); err != nil {
		t.Fatalf("SetAutoTrade: %v", err)
	}

	err := eng.OnSignal(context.Background(), bullish(7.5))
	if !errors.Is(err, ErrAutoTradeOff) {
		t.Fatalf("err = %v, want ErrAutoTradeOff", err)
	}
	if len(gw.requests()) != 0 {
		t.Error("no order should have been placed")
	}
}

func TestCooldownBlocksImmediateExit(t *testing.T) {
	gw := &fakeGW{}
	eng, _, _, clock := newTestEngine(t, gw, mode.Limits{})
	ctx := context.Background()

	if err := eng.OnSignal(ctx, bullish(7.5)); err != nil {
		t.Fatalf("entry: %v", err)
	}
	clock.advance(10 * time.Second)

	err := eng.OnSignal(ctx, neutral())
	if !errors.Is(err, ErrCooldown) {
		t.Fatalf("err = %v, want ErrCooldown", err)
	}
	if st := eng.State(); st.Side != SideCE {
		t.Fatalf("position should still be held, side = %s", st.Side)
	}

	clock.advance(55 * time.Second)
	if err := eng.OnSignal(ctx, neutral()); err != nil {
		t.Fatalf("fade exit: %v", err)
	}
	if st := eng.State(); st.Side != SideNone {
		t.Fatalf("side = %s, want NONE after fade exit", st.Side)
	}
}

func TestReversalExitsThenOppositeEntry(t *testing.T) {
	gw := &fakeGW{}
	eng, _, tracker, clock := newTestEngine(t, gw, mode.Limits{})
	ctx := context.Background()

	if err := eng.OnSignal(ctx, bullish(7.5)); err != nil {
		t.Fatalf("entry: %v", err)
	}
	clock.advance(2 * time.Minute)

	err := eng.OnSignal(ctx, bearish(7.0))
	if err != nil {
		t.Fatalf("reversal exit: %v", err)
	}
	if st := eng.State(); st.Side != SideNone {
		t.Fatalf("side = %s, want NONE after reversal", st.Side)
	}
	if len(tracker.Trades()) != 1 {
		t.Fatalf("trades = %d, want 1", len(tracker.Trades()))
	}

	clock.advance(2 * time.Minute)
	if err := eng.OnSignal(ctx, bearish(7.0)); err != nil {
		t.Fatalf("opposite entry: %v", err)
	}
	if st := eng.State(); st.Side != SidePE {
		t.Fatalf("side = %s, want PE", st.Side)
	}
}

func TestCircuitBreakerDisablesEntries(t *testing.T) {
	gw := &fakeGW{}
	eng, modes, _, clock := newTestEngine(t, gw, mode.Limits{MaxDailyLoss: 100000})
	ctx := context.Background()

	if err := eng.OnSignal(ctx, bullish(7.5)); err != nil {
		t.Fatalf("entry: %v", err)
	}
	// crash the premium so the exit realizes a loss beyond the limit
	eng.quote = func(symbol string) int64 { return 20000 } // -5000 x 30 = -150000

	clock.advance(2 * time.Minute)
	if err := eng.OnSignal(ctx, neutral()); err != nil {
		t.Fatalf("fade exit: %v", err)
	}
	if !modes.Tripped() {
		t.Fatal("breaker should be tripped after -150000 paise realized")
	}

	clock.advance(2 * time.Minute)
	err := eng.OnSignal(ctx, bullish(8.0))
	if !errors.Is(err, ErrAutoTradeOff) {
		t.Fatalf("err = %v, want ErrAutoTradeOff after breaker trip", err)
	}
}

func TestPanicFlattensEverything(t *testing.T) {
	gw := &fakeGW{}
	eng, _, tracker, clock := newTestEngine(t, gw, mode.Limits{})
	ctx := context.Background()

	if err := eng.OnSignal(ctx, bullish(7.5)); err != nil {
		t.Fatalf("entry: %v", err)
	}
	clock.advance(time.Second)

	if err := eng.Panic(ctx); err != nil {
		t.Fatalf("Panic: %v", err)
	}
	if st := eng.State(); st.Side != SideNone {
		t.Fatalf("side = %s, want NONE after panic", st.Side)
	}
	if open := tracker.Open(); len(open) != 0 {
		t.Fatalf("open positions after panic: %+v", open)
	}
	reqs := gw.requests()
	last := reqs[len(reqs)-1]
	if last.Side != model.SideSell || last.Tag != "EXIT_panic" {
		t.Errorf("last request = %+v, want panic sell", last)
	}
}

func TestPanicPreemptsInFlightEntry(t *testing.T) {
	gw := &fakeGW{block: make(chan struct{})}
	eng, _, tracker, _ := newTestEngine(t, gw, mode.Limits{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- eng.OnSignal(ctx, bullish(7.5)) }()

	// wait for the entry order to be in flight
	for {
		if len(gw.requests()) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := eng.Panic(ctx); err != nil {
		t.Fatalf("Panic: %v", err)
	}
	close(gw.block)

	err := <-done
	if !errors.Is(err, ErrStaleState) {
		t.Fatalf("in-flight entry err = %v, want ErrStaleState", err)
	}
	if st := eng.State(); st.Side != SideNone {
		t.Fatalf("side = %s, want NONE", st.Side)
	}
	// the stray fill must be flattened by a follow-up close
	if open := tracker.Open(); len(open) != 0 {
		t.Fatalf("open positions after stale entry: %+v", open)
	}
	reqs := gw.requests()
	if len(reqs) != 2 || reqs[1].Side != model.SideSell {
		t.Fatalf("expected a flattening sell, got %+v", reqs)
	}
	// both the stray buy and its corrective close belong in the order log
	orders := eng.Orders()
	var stray, corrective bool
	for _, o := range orders {
		switch o.Tag {
		case "AUTO_ENTRY_STALE":
			if o.Side == model.SideBuy && o.Qty == 30 {
				stray = true
			}
		case "EXIT_panic":
			if o.Side == model.SideSell {
				corrective = true
			}
		}
	}
	if !stray {
		t.Errorf("stray buy missing from order log: %+v", orders)
	}
	if !corrective {
		t.Errorf("corrective close missing from order log: %+v", orders)
	}
}

func TestGatewayFailureIsNotRetried(t *testing.T) {
	gw := &fakeGW{failAll: true}
	eng, _, tracker, _ := newTestEngine(t, gw, mode.Limits{})

	err := eng.OnSignal(context.Background(), bullish(7.5))
	if !errors.Is(err, gateway.ErrGateway) {
		t.Fatalf("err = %v, want ErrGateway", err)
	}
	if st := eng.State(); st.Side != SideNone {
		t.Fatalf("side = %s, want NONE after rejection", st.Side)
	}
	if len(tracker.Open()) != 0 {
		t.Error("rejected order must not create a position")
	}
	if len(gw.requests()) != 1 {
		t.Errorf("placed %d orders, want exactly 1 attempt", len(gw.requests()))
	}
	orders := eng.Orders()
	if len(orders) != 1 || orders[0].Status != model.StatusRejected {
		t.Errorf("order log = %+v, want one REJECTED record", orders)
	}
}

func TestTrailingStopExit(t *testing.T) {
	gw := &fakeGW{}
	modes, err := mode.New(true, true, mode.Limits{})
	if err != nil {
		t.Fatalf("mode.New: %v", err)
	}
	tracker := book.New(book.DefaultTSL(), nil)
	clock := &fakeClock{t: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	eng, err := New(testConfig(), modes, tracker, strike.NewBankNifty(30), gw,
		func(string) int64 { return 20000 }, WithClock(clock.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := eng.OnSignal(ctx, bullish(7.5)); err != nil {
		t.Fatalf("entry: %v", err)
	}
	sym := eng.State().Symbol

	// ride up past the hurdle, then retrace through the trail
	tracker.UpdatePrice(sym, 22000)
	tracker.UpdatePrice(sym, 20500)
	if !tracker.TSLBreached(sym, "I") {
		t.Fatal("trailing stop should be breached")
	}

	clock.advance(2 * time.Minute)
	if err := eng.CheckTrailingStop(ctx); err != nil {
		t.Fatalf("CheckTrailingStop: %v", err)
	}
	if st := eng.State(); st.Side != SideNone {
		t.Fatalf("side = %s, want NONE after TSL exit", st.Side)
	}
}

func TestManualOrderDoesNotChangePosture(t *testing.T) {
	gw := &fakeGW{}
	eng, _, tracker, _ := newTestEngine(t, gw, mode.Limits{})

	o, err := eng.ManualOrder(context.Background(), "BANKNIFTY27JAN26C60000", model.SideBuy, 30, 15000)
	if err != nil {
		t.Fatalf("ManualOrder: %v", err)
	}
	if o.Status != model.StatusFilled {
		t.Errorf("status = %s, want FILLED", o.Status)
	}
	if st := eng.State(); st.Side != SideNone {
		t.Fatalf("manual order changed posture to %s", st.Side)
	}
	pos, ok := tracker.Position("BANKNIFTY27JAN26C60000", "I")
	if !ok || pos.NetQty != 30 {
		t.Fatalf("manual fill not booked: %+v (ok=%v)", pos, ok)
	}
}

func TestRejectedOrdersKeepSeparateAuditRecords(t *testing.T) {
	gw := &fakeGW{failAll: true}
	eng, _, _, _ := newTestEngine(t, gw, mode.Limits{})
	ctx := context.Background()

	// a rejection does not start the cooldown, so the next signal is
	// another full attempt with its own audit record
	for i := 0; i < 2; i++ {
		if err := eng.OnSignal(ctx, bullish(7.5)); !errors.Is(err, gateway.ErrGateway) {
			t.Fatalf("attempt %d: err = %v, want ErrGateway", i, err)
		}
	}

	orders := eng.Orders()
	if len(orders) != 2 {
		t.Fatalf("order log has %d records, want 2", len(orders))
	}
	if orders[0].ID == "" || orders[1].ID == "" {
		t.Fatalf("rejected orders must carry ids: %+v", orders)
	}
	if orders[0].ID == orders[1].ID {
		t.Fatalf("rejected orders share id %s, want distinct ids", orders[0].ID)
	}
	for _, o := range orders {
		if o.Status != model.StatusRejected || o.Symbol == "" || o.Qty != 30 {
			t.Errorf("incomplete rejection record: %+v", o)
		}
	}
}

func TestGTTOrderRestsAndCancels(t *testing.T) {
	eng, _, tracker, _ := newTestEngine(t, gateway.NewPaper(0), mode.Limits{})
	ctx := context.Background()

	o, err := eng.PlaceGTT(ctx, "BANKNIFTY27JAN26C60000", model.SideSell, 30, 15000, 14000)
	if err != nil {
		t.Fatalf("PlaceGTT: %v", err)
	}
	if o.Status != model.StatusGTTPlaced {
		t.Errorf("status = %s, want GTT_PLACED", o.Status)
	}
	if len(tracker.Open()) != 0 {
		t.Error("a resting GTT rule must not create a position")
	}

	if err := eng.CancelOrder(ctx, o.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	var got model.Order
	for _, rec := range eng.Orders() {
		if rec.ID == o.ID {
			got = rec
		}
	}
	if got.Status != model.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
	// the cancel is a status transition, not a new record
	if got.Symbol != "BANKNIFTY27JAN26C60000" || got.Qty != 30 || got.Price != 15000 {
		t.Errorf("cancel wiped the order record: %+v", got)
	}
}

func TestCancelRejectsTerminalOrder(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, gateway.NewPaper(0), mode.Limits{})
	ctx := context.Background()

	o, err := eng.ManualOrder(ctx, "BANKNIFTY27JAN26C60000", model.SideBuy, 30, 15000)
	if err != nil {
		t.Fatalf("ManualOrder: %v", err)
	}
	if err := eng.CancelOrder(ctx, o.ID); err == nil {
		t.Fatal("cancelling a filled order should fail")
	}
}

func TestGTTUnsupportedGateway(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, &fakeGW{}, mode.Limits{})

	_, err := eng.PlaceGTT(context.Background(), "BANKNIFTY27JAN26C60000", model.SideSell, 30, 15000, 14000)
	if !errors.Is(err, ErrGTTUnsupported) {
		t.Fatalf("err = %v, want ErrGTTUnsupported", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero entry", func(c *Config) { c.EntryThreshold = 0 }},
		{"exit above entry", func(c *Config) { c.ExitThreshold = 6.0 }},
		{"negative cooldown", func(c *Config) { c.Cooldown = -time.Second }},
		{"zero lots", func(c *Config) { c.Lots = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
