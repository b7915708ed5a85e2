// Package engine implements the position lifecycle state machine that turns
// strength signals into option entries and exits.
//
// The engine is FLAT, LONG_CE or LONG_PE at any time and holds at most one
// open contract. Decisions are serialized, but the engine lock is never held
// across a gateway call: each decision snapshots the state version, releases
// the lock for the order round-trip, then re-checks the version at commit.
// A decision whose version no longer matches is stale and must not commit;
// if its order already filled, the fill is flattened with a follow-up close.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bntrader/internal/book"
	"bntrader/internal/gateway"
	"bntrader/internal/metrics"
	"bntrader/internal/mode"
	"bntrader/internal/model"
	"bntrader/internal/notification"
	"bntrader/internal/strike"

	"github.com/google/uuid"
)

var (
	// ErrStaleState means the engine state changed while an order was in
	// flight and the decision was discarded.
	ErrStaleState = errors.New("engine: state changed mid-decision")
	// ErrNotFlat is returned when an entry is attempted with a position open.
	ErrNotFlat = errors.New("engine: position already open")
	// ErrFlat is returned when an exit is attempted with no position open.
	ErrFlat = errors.New("engine: no position open")
	// ErrAutoTradeOff means automatic entries are disabled.
	ErrAutoTradeOff = errors.New("engine: auto-trade disabled")
	// ErrCooldown means the minimum hold time since the last action has not
	// elapsed yet.
	ErrCooldown = errors.New("engine: cooldown active")
	// ErrNoQuote means no reference price is known for the contract.
	ErrNoQuote = errors.New("engine: no reference price for contract")
	// ErrGTTUnsupported means the active gateway cannot rest GTT orders.
	ErrGTTUnsupported = errors.New("engine: gateway does not support GTT orders")
)

// Side is the engine's directional posture.
type Side string

const (
	SideNone Side = "NONE"
	SideCE   Side = "CE"
	SidePE   Side = "PE"
)

// Exit reasons recorded on orders and metrics.
const (
	ReasonReversal = "reversal"
	ReasonFade     = "fade"
	ReasonTSL      = "tsl"
	ReasonPanic    = "panic"
	ReasonManual   = "manual"
)

// State is a snapshot of the engine posture. Version increments on every
// committed transition and every panic, and is the fence for in-flight
// decisions.
type State struct {
	Side       Side      `json:"side"`
	Symbol     string    `json:"symbol"`
	OrderID    string    `json:"order_id"`
	Version    uint64    `json:"version"`
	LastAction time.Time `json:"last_action"`
}

// Config holds the engine thresholds.
type Config struct {
	EntryThreshold float64       // minimum |strength| to open
	ExitThreshold  float64       // |strength| below which a position is faded out
	Cooldown       time.Duration // minimum hold between committed actions
	Lots           int64         // lots per entry
	LotSize        int64         // contracts per lot
	ProductType    string        // broker product code, e.g. "I" for intraday
}

// Validate checks the config for nonsensical values.
func (c Config) Validate() error {
	if c.EntryThreshold <= 0 {
		return fmt.Errorf("entry threshold must be positive, got %.2f", c.EntryThreshold)
	}
	if c.ExitThreshold < 0 || c.ExitThreshold >= c.EntryThreshold {
		return fmt.Errorf("exit threshold must be in [0, entry), got %.2f", c.ExitThreshold)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must be non-negative, got %s", c.Cooldown)
	}
	if c.Lots <= 0 || c.LotSize <= 0 {
		return fmt.Errorf("lots and lot size must be positive, got %d x %d", c.Lots, c.LotSize)
	}
	return nil
}

// OrderStore persists order records.
type OrderStore interface {
	SaveOrder(o model.Order) error
	UpdateOrderStatus(id string, status model.OrderStatus) error
}

// QuoteFunc returns the last known premium for an option symbol in paise,
// or 0 when no quote is available.
type QuoteFunc func(symbol string) int64

// Engine drives entries and exits for a single underlying.
type Engine struct {
	mu  sync.Mutex
	st  State
	cfg Config

	modes   *mode.Controller
	tracker *book.Tracker
	strikes *strike.Selector
	paperGW gateway.Gateway
	realGW  gateway.Gateway
	quote   QuoteFunc
	store   OrderStore
	notify  notification.Notifier
	prom    *metrics.Metrics
	now     func() time.Time

	orders []model.Order
}

// Option configures optional engine dependencies.
type Option func(*Engine)

// WithRealGateway wires the live broker gateway.
func WithRealGateway(gw gateway.Gateway) Option {
	return func(e *Engine) { e.realGW = gw }
}

// WithOrderStore wires order persistence.
func WithOrderStore(s OrderStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithNotifier wires alert delivery.
func WithNotifier(n notification.Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

// WithMetrics wires Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.prom = m }
}

// WithClock overrides the engine clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. The paper gateway, tracker, mode controller, strike
// selector and quote source are mandatory.
func New(cfg Config, modes *mode.Controller, tracker *book.Tracker, strikes *strike.Selector, paperGW gateway.Gateway, quote QuoteFunc, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		st:      State{Side: SideNone, Version: 1},
		modes:   modes,
		tracker: tracker,
		strikes: strikes,
		paperGW: paperGW,
		quote:   quote,
		notify:  notification.NewLogNotifier(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns a copy of the current engine posture.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

// Restore seeds the engine posture from persisted state, used at startup.
func (e *Engine) Restore(side Side, symbol, orderID string, lastAction time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.Side = side
	e.st.Symbol = symbol
	e.st.OrderID = orderID
	e.st.LastAction = lastAction
	e.st.Version++
}

// RestoreOrders seeds the in-memory order log, oldest first.
func (e *Engine) RestoreOrders(orders []model.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders = append(e.orders, orders...)
}

// Orders returns the order log, newest first.
func (e *Engine) Orders() []model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Order, len(e.orders))
	for i, o := range e.orders {
		out[len(e.orders)-1-i] = o
	}
	return out
}

// gw picks the active gateway for the current trading mode. The paper
// gateway is the fallback when no real gateway is wired.
func (e *Engine) gw() (gateway.Gateway, model.Mode) {
	m := e.modes.Mode()
	if m == model.ModeReal && e.realGW != nil {
		return e.realGW, model.ModeReal
	}
	return e.paperGW, model.ModePaper
}

// OnSignal is the automatic decision path. It is safe to call concurrently;
// decisions are serialized by the engine lock and versioned across the
// gateway round-trip.
func (e *Engine) OnSignal(ctx context.Context, sig model.Signal) error {
	if e.prom != nil {
		e.prom.SignalsTotal.Inc()
		defer func(start time.Time) {
			e.prom.DecisionLatency.Observe(time.Since(start).Seconds())
		}(e.now())
	}

	e.mu.Lock()
	snap := e.st
	e.mu.Unlock()

	switch snap.Side {
	case SideNone:
		return e.tryEnter(ctx, sig, snap)
	default:
		return e.tryExitOrReverse(ctx, sig, snap)
	}
}

// tryEnter opens a position when strength clears the entry threshold and the
// engine is allowed to trade.
func (e *Engine) tryEnter(ctx context.Context, sig model.Signal, snap State) error {
	var ot strike.OptionType
	switch {
	case sig.Strength >= e.cfg.EntryThreshold:
		ot = strike.OptionCE
	case sig.Strength <= -e.cfg.EntryThreshold:
		ot = strike.OptionPE
	default:
		return nil // not strong enough, stay flat
	}

	_, autoTrade := e.modes.Snapshot()
	if !autoTrade {
		return ErrAutoTradeOff
	}
	if !snap.LastAction.IsZero() && e.now().Sub(snap.LastAction) < e.cfg.Cooldown {
		return ErrCooldown
	}

	contract, err := e.strikes.Pick(sig.UnderlyingPrice, sig.Strength, ot, e.now())
	if err != nil {
		return fmt.Errorf("strike selection: %w", err)
	}
	px := e.quote(contract.Symbol)
	if px <= 0 {
		return fmt.Errorf("%w: %s", ErrNoQuote, contract.Symbol)
	}
	qty := e.cfg.Lots * e.cfg.LotSize

	gw, gwMode := e.gw()
	res, err := gw.PlaceOrder(ctx, gateway.Request{
		Symbol:      contract.Symbol,
		Side:        model.SideBuy,
		Qty:         qty,
		Price:       px,
		ProductType: e.cfg.ProductType,
		Tag:         "AUTO_ENTRY",
	})
	if err != nil {
		e.recordOrder(model.Order{
			ID: res.OrderID, Symbol: contract.Symbol, Side: model.SideBuy,
			Qty: qty, Price: px, ProductType: e.cfg.ProductType,
			Status: model.StatusRejected, Mode: gwMode, Tag: "AUTO_ENTRY",
			Reason: err.Error(), Timestamp: e.now(),
		})
		e.alert(ctx, notification.AlertWarning, "Entry rejected",
			fmt.Sprintf("%s BUY %d: %v", contract.Symbol, qty, err))
		if e.prom != nil {
			e.prom.GatewayFailures.Inc()
		}
		return fmt.Errorf("place entry: %w", err)
	}

	e.mu.Lock()
	if e.st.Version != snap.Version {
		e.mu.Unlock()
		if e.prom != nil {
			e.prom.StaleDecisions.Inc()
		}
		// the buy executed even though the decision lost its commit race;
		// it moved money, so it goes in the order log before the unwind
		e.recordOrder(model.Order{
			ID: res.OrderID, Symbol: contract.Symbol, Side: model.SideBuy,
			Qty: qty, Price: fillOr(res, px), ProductType: e.cfg.ProductType,
			Status: res.Status, Mode: gwMode, Tag: "AUTO_ENTRY_STALE",
			Reason: sig.Reason, Timestamp: e.now(),
		})
		e.flattenStray(ctx, contract.Symbol, model.SideBuy, qty, fillOr(res, px), res.PriceSource)
		return ErrStaleState
	}
	e.st.Side = Side(ot)
	e.st.Symbol = contract.Symbol
	e.st.OrderID = res.OrderID
	e.st.Version++
	e.st.LastAction = e.now()
	e.mu.Unlock()

	order := model.Order{
		ID: res.OrderID, Symbol: contract.Symbol, Side: model.SideBuy,
		Qty: qty, Price: fillOr(res, px), ProductType: e.cfg.ProductType,
		Status: res.Status, Mode: gwMode, Tag: "AUTO_ENTRY",
		Reason: sig.Reason, Timestamp: e.now(),
	}
	e.recordOrder(order)

	if _, err := e.tracker.ApplyFill(book.Fill{
		Symbol: contract.Symbol, Product: e.cfg.ProductType, Side: model.SideBuy,
		Qty: qty, Price: fillOr(res, px), TS: e.now(), Mode: gwMode,
		PriceSource: res.PriceSource,
	}); err != nil {
		log.Printf("[engine] entry fill not booked: %v", err)
	}

	if e.prom != nil {
		e.prom.EntriesTotal.WithLabelValues(string(ot)).Inc()
		e.prom.OrdersTotal.WithLabelValues(string(res.Status)).Inc()
	}
	log.Printf("[engine] entered %s %s qty=%d px=%d strength=%.2f", ot, contract.Symbol, qty, fillOr(res, px), sig.Strength)
	return nil
}

// tryExitOrReverse closes the open position when the signal fades below the
// exit threshold or flips against it. A reversal only closes; the next
// strong signal opens the opposite side on a fresh decision.
func (e *Engine) tryExitOrReverse(ctx context.Context, sig model.Signal, snap State) error {
	against := (snap.Side == SideCE && sig.Direction == model.DirBearish && sig.Strength <= -e.cfg.ExitThreshold) ||
		(snap.Side == SidePE && sig.Direction == model.DirBullish && sig.Strength >= e.cfg.ExitThreshold)
	faded := absf(sig.Strength) < e.cfg.ExitThreshold

	if !against && !faded {
		return nil // keep holding
	}
	if !snap.LastAction.IsZero() && e.now().Sub(snap.LastAction) < e.cfg.Cooldown {
		return ErrCooldown
	}
	reason := ReasonFade
	if against {
		reason = ReasonReversal
	}
	return e.exit(ctx, snap, reason)
}

// CheckTrailingStop exits the open position when its trailing stop has been
// breached. Called periodically by the price poller.
func (e *Engine) CheckTrailingStop(ctx context.Context) error {
	e.mu.Lock()
	snap := e.st
	e.mu.Unlock()
	if snap.Side == SideNone {
		return nil
	}
	if !e.tracker.TSLBreached(snap.Symbol, e.cfg.ProductType) {
		return nil
	}
	return e.exit(ctx, snap, ReasonTSL)
}

// ExitPosition closes the current position on explicit command.
func (e *Engine) ExitPosition(ctx context.Context) error {
	e.mu.Lock()
	snap := e.st
	e.mu.Unlock()
	if snap.Side == SideNone {
		return ErrFlat
	}
	return e.exit(ctx, snap, ReasonManual)
}

// exit places the closing order for the snapshot's position and commits the
// transition back to FLAT. Stale commits still book the sell, then issue a
// corrective order if the book is left unbalanced.
func (e *Engine) exit(ctx context.Context, snap State, reason string) error {
	pos, ok := e.tracker.Position(snap.Symbol, e.cfg.ProductType)
	if !ok || pos.NetQty == 0 {
		// posture says open but the book is flat, repair the posture
		e.mu.Lock()
		if e.st.Version == snap.Version {
			e.st.Side = SideNone
			e.st.Symbol = ""
			e.st.OrderID = ""
			e.st.Version++
		}
		e.mu.Unlock()
		return ErrFlat
	}

	px := e.quote(snap.Symbol)
	if px <= 0 {
		px = pos.LastPrice
	}
	if px <= 0 {
		return fmt.Errorf("%w: %s", ErrNoQuote, snap.Symbol)
	}

	gw, gwMode := e.gw()
	res, err := gw.PlaceOrder(ctx, gateway.Request{
		Symbol:      snap.Symbol,
		Side:        model.SideSell,
		Qty:         pos.NetQty,
		Price:       px,
		ProductType: e.cfg.ProductType,
		Tag:         "EXIT_" + reason,
	})
	if err != nil {
		e.recordOrder(model.Order{
			ID: res.OrderID, Symbol: snap.Symbol, Side: model.SideSell,
			Qty: pos.NetQty, Price: px, ProductType: e.cfg.ProductType,
			Status: model.StatusRejected, Mode: gwMode, Tag: "EXIT_" + reason,
			Reason: err.Error(), Timestamp: e.now(),
		})
		e.alert(ctx, notification.AlertCritical, "Exit rejected",
			fmt.Sprintf("%s SELL %d: %v", snap.Symbol, pos.NetQty, err))
		if e.prom != nil {
			e.prom.GatewayFailures.Inc()
		}
		return fmt.Errorf("place exit: %w", err)
	}

	fillPx := fillOr(res, px)
	realized, bookErr := e.tracker.ApplyFill(book.Fill{
		Symbol: snap.Symbol, Product: e.cfg.ProductType, Side: model.SideSell,
		Qty: pos.NetQty, Price: fillPx, TS: e.now(), Mode: gwMode,
		PriceSource: res.PriceSource,
	})
	if bookErr != nil {
		log.Printf("[engine] exit fill not booked: %v", bookErr)
	}

	e.mu.Lock()
	stale := e.st.Version != snap.Version
	if !stale {
		e.st.Side = SideNone
		e.st.Symbol = ""
		e.st.OrderID = ""
		e.st.Version++
		e.st.LastAction = e.now()
	}
	e.mu.Unlock()

	e.recordOrder(model.Order{
		ID: res.OrderID, Symbol: snap.Symbol, Side: model.SideSell,
		Qty: pos.NetQty, Price: fillPx, ProductType: e.cfg.ProductType,
		Status: res.Status, Mode: gwMode, Tag: "EXIT_" + reason,
		Timestamp: e.now(),
	})

	if tripped := e.modes.RecordRealized(realized); tripped {
		e.alert(ctx, notification.AlertCritical, "Circuit breaker tripped",
			fmt.Sprintf("daily realized %d paise, auto-trade disabled", e.modes.DailyRealized()))
		if e.prom != nil {
			e.prom.BreakerTripped.Set(1)
		}
	}

	if e.prom != nil {
		e.prom.ExitsTotal.WithLabelValues(reason).Inc()
		e.prom.OrdersTotal.WithLabelValues(string(res.Status)).Inc()
		e.prom.RealizedPnL.Set(float64(e.tracker.RealizedPnL()))
	}
	log.Printf("[engine] exited %s qty=%d px=%d realized=%d reason=%s", snap.Symbol, pos.NetQty, fillPx, realized, reason)

	if stale {
		// a panic or manual action won the race; the sell above is real and
		// booked, so only a leftover imbalance needs correcting
		if e.prom != nil {
			e.prom.StaleDecisions.Inc()
		}
		e.correctImbalance(ctx, snap.Symbol)
		return ErrStaleState
	}
	return nil
}

// Panic flattens everything immediately. It bumps the version first so every
// in-flight decision loses its commit race, then closes each open position.
// Errors are aggregated; a position whose close fails stays on the book.
func (e *Engine) Panic(ctx context.Context) error {
	e.mu.Lock()
	e.st.Side = SideNone
	e.st.Symbol = ""
	e.st.OrderID = ""
	e.st.Version++
	e.st.LastAction = e.now()
	e.mu.Unlock()

	if e.prom != nil {
		e.prom.PanicsTotal.Inc()
	}
	e.alert(ctx, notification.AlertCritical, "Panic exit", "closing all open positions")

	var errs []error
	for _, pos := range e.tracker.Open() {
		if err := e.closePosition(ctx, pos, ReasonPanic); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pos.Symbol, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("panic exit incomplete: %w", errors.Join(errs...))
	}
	log.Printf("[engine] panic exit complete")
	return nil
}

// closePosition places a closing order for one position and books the fill.
func (e *Engine) closePosition(ctx context.Context, pos model.Position, reason string) error {
	// a long closes on the opposite side of the buy that opened it; a
	// short the other way around
	held := model.SideBuy
	qty := pos.NetQty
	if qty < 0 {
		held = model.SideSell
		qty = -qty
	}
	side := held.Opposite()
	px := e.quote(pos.Symbol)
	if px <= 0 {
		px = pos.LastPrice
	}
	if px <= 0 {
		return fmt.Errorf("%w: %s", ErrNoQuote, pos.Symbol)
	}

	gw, gwMode := e.gw()
	res, err := gw.PlaceOrder(ctx, gateway.Request{
		Symbol: pos.Symbol, Side: side, Qty: qty, Price: px,
		ProductType: pos.Product, Tag: "EXIT_" + reason,
	})
	if err != nil {
		if e.prom != nil {
			e.prom.GatewayFailures.Inc()
		}
		return err
	}
	realized, bookErr := e.tracker.ApplyFill(book.Fill{
		Symbol: pos.Symbol, Product: pos.Product, Side: side,
		Qty: qty, Price: fillOr(res, px), TS: e.now(), Mode: gwMode,
		PriceSource: res.PriceSource,
	})
	if bookErr != nil {
		return bookErr
	}
	e.recordOrder(model.Order{
		ID: res.OrderID, Symbol: pos.Symbol, Side: side, Qty: qty,
		Price: fillOr(res, px), ProductType: pos.Product, Status: res.Status,
		Mode: gwMode, Tag: "EXIT_" + reason, Timestamp: e.now(),
	})
	e.modes.RecordRealized(realized)
	if e.prom != nil {
		e.prom.ExitsTotal.WithLabelValues(reason).Inc()
		e.prom.RealizedPnL.Set(float64(e.tracker.RealizedPnL()))
	}
	return nil
}

// ManualOrder places an ad-hoc order outside the automatic lifecycle. It
// books the fill but does not change the engine posture.
func (e *Engine) ManualOrder(ctx context.Context, symbol string, side model.Side, qty, price int64) (model.Order, error) {
	if price <= 0 {
		price = e.quote(symbol)
	}
	gw, gwMode := e.gw()
	res, err := gw.PlaceOrder(ctx, gateway.Request{
		Symbol: symbol, Side: side, Qty: qty, Price: price,
		ProductType: e.cfg.ProductType, Tag: "MANUAL",
	})
	if err != nil {
		o := model.Order{
			ID: uuid.NewString(), Symbol: symbol, Side: side, Qty: qty, Price: price,
			ProductType: e.cfg.ProductType, Status: model.StatusRejected,
			Mode: gwMode, Tag: "MANUAL", Reason: err.Error(), Timestamp: e.now(),
		}
		e.recordOrder(o)
		if e.prom != nil {
			e.prom.GatewayFailures.Inc()
		}
		return o, err
	}
	o := model.Order{
		ID: res.OrderID, Symbol: symbol, Side: side, Qty: qty,
		Price: fillOr(res, price), ProductType: e.cfg.ProductType,
		Status: res.Status, Mode: gwMode, Tag: "MANUAL", Timestamp: e.now(),
	}
	e.recordOrder(o)
	realized, bookErr := e.tracker.ApplyFill(book.Fill{
		Symbol: symbol, Product: e.cfg.ProductType, Side: side,
		Qty: qty, Price: fillOr(res, price), TS: e.now(), Mode: gwMode,
		PriceSource: res.PriceSource,
	})
	if bookErr != nil {
		return o, bookErr
	}
	e.modes.RecordRealized(realized)
	if e.prom != nil {
		e.prom.OrdersTotal.WithLabelValues(string(res.Status)).Inc()
	}
	return o, nil
}

// CancelOrder forwards a cancel to the active gateway and updates the
// order's status in place, keeping the original record intact.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	for i := range e.orders {
		if e.orders[i].ID == orderID && e.orders[i].Status.Terminal() {
			st := e.orders[i].Status
			e.mu.Unlock()
			return fmt.Errorf("engine: order %s already %s", orderID, st)
		}
	}
	e.mu.Unlock()

	gw, _ := e.gw()
	if err := gw.CancelOrder(ctx, orderID); err != nil {
		if e.prom != nil {
			e.prom.GatewayFailures.Inc()
		}
		return err
	}

	e.mu.Lock()
	for i := range e.orders {
		if e.orders[i].ID == orderID {
			e.orders[i].Status = model.StatusCancelled
			break
		}
	}
	e.mu.Unlock()
	if e.store != nil {
		if err := e.store.UpdateOrderStatus(orderID, model.StatusCancelled); err != nil {
			log.Printf("[engine] persist cancel failed: %v", err)
		}
	}
	return nil
}

// PlaceGTT rests a good-till-triggered order at the active gateway. The
// order is recorded as GTT_PLACED; nothing is booked until it triggers.
func (e *Engine) PlaceGTT(ctx context.Context, symbol string, side model.Side, qty, price, triggerPrice int64) (model.Order, error) {
	gw, gwMode := e.gw()
	gp, ok := gw.(gateway.GTTPlacer)
	if !ok {
		return model.Order{}, ErrGTTUnsupported
	}
	res, err := gp.PlaceGTT(ctx, gateway.Request{
		Symbol: symbol, Side: side, Qty: qty, Price: price,
		ProductType: e.cfg.ProductType, Tag: "GTT",
	}, triggerPrice)
	if err != nil {
		o := model.Order{
			ID: uuid.NewString(), Symbol: symbol, Side: side, Qty: qty, Price: price,
			ProductType: e.cfg.ProductType, Status: model.StatusRejected,
			Mode: gwMode, Tag: "GTT", Reason: err.Error(), Timestamp: e.now(),
		}
		e.recordOrder(o)
		if e.prom != nil {
			e.prom.GatewayFailures.Inc()
		}
		return o, err
	}
	o := model.Order{
		ID: res.OrderID, Symbol: symbol, Side: side, Qty: qty, Price: price,
		ProductType: e.cfg.ProductType, Status: res.Status, Mode: gwMode,
		Tag: "GTT", Timestamp: e.now(),
	}
	e.recordOrder(o)
	if e.prom != nil {
		e.prom.OrdersTotal.WithLabelValues(string(res.Status)).Inc()
	}
	return o, nil
}

// flattenStray unwinds a fill that committed after the engine moved on,
// typically an entry racing a panic. The stray fill is booked, then an
// opposite order closes it out.
func (e *Engine) flattenStray(ctx context.Context, symbol string, side model.Side, qty, price int64, src model.PriceSource) {
	_, gwMode := e.gw()
	if _, err := e.tracker.ApplyFill(book.Fill{
		Symbol: symbol, Product: e.cfg.ProductType, Side: side,
		Qty: qty, Price: price, TS: e.now(), Mode: gwMode, PriceSource: src,
	}); err != nil {
		log.Printf("[engine] stray fill not booked: %v", err)
		return
	}
	log.Printf("[engine] flattening stray fill %s %s %d", symbol, side, qty)
	e.correctImbalance(ctx, symbol)
}

// correctImbalance closes out whatever net quantity remains on a symbol.
func (e *Engine) correctImbalance(ctx context.Context, symbol string) {
	pos, ok := e.tracker.Position(symbol, e.cfg.ProductType)
	if !ok || pos.NetQty == 0 {
		return
	}
	if err := e.closePosition(ctx, pos, ReasonPanic); err != nil {
		log.Printf("[engine] imbalance correction failed for %s: %v", symbol, err)
		e.alert(ctx, notification.AlertCritical, "Unbalanced position",
			fmt.Sprintf("%s net %d could not be flattened: %v", symbol, pos.NetQty, err))
	}
}

func (e *Engine) recordOrder(o model.Order) {
	// rejections never reach the gateway's id space; give them a local id
	// so the audit log keeps one row per attempt
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	e.mu.Lock()
	e.orders = append(e.orders, o)
	e.mu.Unlock()
	if e.store != nil {
		if err := e.store.SaveOrder(o); err != nil {
			log.Printf("[engine] persist order failed: %v", err)
		}
	}
}

func (e *Engine) alert(ctx context.Context, level notification.AlertLevel, title, msg string) {
	if e.notify == nil {
		return
	}
	if err := e.notify.Send(ctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		log.Printf("[engine] alert delivery failed: %v", err)
	}
}

// fillOr returns the gateway fill price when known, else the fallback.
func fillOr(res gateway.Result, fallback int64) int64 {
	if res.FillPrice > 0 {
		return res.FillPrice
	}
	return fallback
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
