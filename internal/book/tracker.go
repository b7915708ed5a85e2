// Package book owns the book of open and closed positions. It applies order
// fills, computes realized and unrealized P&L, and records one immutable
// trade per closed round-trip. All money values are int64 paise.
//
// The tracker is the only writer of position state; reporting pollers read
// through snapshot copies taken under the read lock, so a partially applied
// fill is never observable.
package book

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bntrader/internal/model"
)

// ErrInvalidFill is returned for fills with non-positive quantity or price.
// Such fills are rejected at the boundary and must not touch position state.
var ErrInvalidFill = errors.New("book: invalid fill")

// Store persists tracker state across restarts. A nil Store disables
// persistence (used by tests and the backtest path).
type Store interface {
	SavePosition(p model.Position) error
	SaveTrade(t model.Trade) error
	SaveRealizedPnL(total int64) error
}

// Fill is a confirmed execution applied to the book.
type Fill struct {
	Symbol      string
	Product     string // I = intraday, M = overnight
	Side        model.Side
	Qty         int64
	Price       int64 // paise
	TS          time.Time
	Mode        model.Mode
	PriceSource model.PriceSource
}

// Tracker tracks all positions and the session trade log.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
	trades    []model.Trade // closed round-trips, session scope
	realized  int64         // total realized P&L across all positions

	// Realized P&L since the current entry, per position key. Reset when a
	// position opens; rolled into the trade record on full close.
	sinceEntry map[string]int64

	tsl   TSLConfig
	store Store
}

// New creates an empty Tracker. store may be nil.
func New(tsl TSLConfig, store Store) *Tracker {
	return &Tracker{
		positions:  make(map[string]*model.Position),
		trades:     make([]model.Trade, 0, 64),
		sinceEntry: make(map[string]int64),
		tsl:        tsl,
		store:      store,
	}
}

// Restore loads previously persisted positions and realized P&L, so a
// restart resumes with open positions intact.
func (t *Tracker) Restore(positions []model.Position, realized int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range positions {
		p := positions[i]
		t.positions[p.Key()] = &p
	}
	t.realized = realized
}

func key(symbol, product string) string { return symbol + ":" + product }

// ApplyFill updates or creates a position for the fill. Same-direction
// fills recompute the quantity-weighted average price; opposite-direction
// fills realize P&L on the overlapping quantity and, on overshoot, flip the
// position with a fresh average from the remainder. Returns the P&L
// realized by this fill.
func (t *Tracker) ApplyFill(f Fill) (int64, error) {
	if f.Qty <= 0 || f.Price <= 0 {
		return 0, fmt.Errorf("%w: qty=%d price=%d", ErrInvalidFill, f.Qty, f.Price)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(f.Symbol, f.Product)
	pos, ok := t.positions[k]
	if !ok {
		pos = &model.Position{Symbol: f.Symbol, Product: f.Product}
		t.positions[k] = pos
	}

	signed := f.Qty
	if f.Side == model.SideSell {
		signed = -f.Qty
	}

	var realized int64
	switch {
	case pos.NetQty == 0:
		// Opening a fresh position.
		pos.NetQty = signed
		pos.AvgPrice = f.Price
		pos.EntryTime = f.TS
		t.sinceEntry[k] = 0
		t.resetTSL(pos)

	case (pos.NetQty > 0) == (signed > 0):
		// Adding in the same direction: quantity-weighted average.
		totalCost := pos.AvgPrice*pos.NetQty + f.Price*signed
		pos.NetQty += signed
		pos.AvgPrice = totalCost / pos.NetQty

	default:
		// Reducing, closing, or flipping.
		closing := f.Qty
		held := pos.NetQty
		if held < 0 {
			held = -held
		}
		if closing > held {
			closing = held
		}

		sign := int64(1)
		if pos.NetQty < 0 {
			sign = -1
		}
		realized = (f.Price - pos.AvgPrice) * closing * sign
		pos.RealizedPnL += realized
		t.realized += realized
		t.sinceEntry[k] += realized

		entryPrice := pos.AvgPrice
		entryTime := pos.EntryTime
		pos.NetQty += signed

		if pos.NetQty == 0 {
			t.closeLocked(pos, k, closing, entryPrice, entryTime, f)
		} else if (pos.NetQty > 0) != (sign > 0) {
			// Overshot flat: the old round-trip closed, the remainder
			// opens a new position at the fill price.
			t.closeLocked(pos, k, closing, entryPrice, entryTime, f)
			pos.AvgPrice = f.Price
			pos.EntryTime = f.TS
			t.sinceEntry[k] = 0
			t.resetTSL(pos)
		}
	}

	pos.LastPrice = f.Price

	if t.store != nil {
		if err := t.store.SavePosition(*pos); err != nil {
			return realized, fmt.Errorf("book: persist position: %w", err)
		}
		if err := t.store.SaveRealizedPnL(t.realized); err != nil {
			return realized, fmt.Errorf("book: persist realized pnl: %w", err)
		}
	}
	return realized, nil
}

// closeLocked records an immutable trade for a fully closed round-trip.
// Caller holds t.mu.
func (t *Tracker) closeLocked(pos *model.Position, k string, qty, entryPrice int64, entryTime time.Time, f Fill) {
	trade := model.Trade{
		Symbol:      pos.Symbol,
		Qty:         qty,
		EntryPrice:  entryPrice,
		ExitPrice:   f.Price,
		EntryTime:   entryTime,
		ExitTime:    f.TS,
		RealizedPnL: t.sinceEntry[k],
		Mode:        f.Mode,
		PriceSource: f.PriceSource,
	}
	t.trades = append(t.trades, trade)
	t.sinceEntry[k] = 0

	// Average price is undefined while flat.
	pos.AvgPrice = 0
	pos.EntryTime = time.Time{}
	t.resetTSL(pos)

	if t.store != nil {
		if err := t.store.SaveTrade(trade); err != nil {
			// The in-memory book is authoritative for the session; a failed
			// append is surfaced but does not roll back the fill.
			log.Printf("[book] persist trade failed: %v", err)
		}
	}
}

// UnrealizedPnL returns (lastPrice - avgPrice) * netQty for the position,
// or 0 when flat or unknown.
func (t *Tracker) UnrealizedPnL(symbol, product string, lastPrice int64) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[key(symbol, product)]
	if !ok {
		return 0
	}
	return pos.UnrealizedPnL(lastPrice)
}

// UpdatePrice refreshes the last traded price for every position in the
// symbol and advances trailing stop-loss state.
func (t *Tracker) UpdatePrice(symbol string, price int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pos := range t.positions {
		if pos.Symbol != symbol || pos.NetQty == 0 {
			continue
		}
		pos.LastPrice = price
		t.manageTSL(pos, price)
	}
}

// Position returns a copy of the position, if tracked.
func (t *Tracker) Position(symbol, product string) (model.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[key(symbol, product)]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

// Open returns copies of all positions with non-zero quantity.
func (t *Tracker) Open() []model.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		if pos.NetQty != 0 {
			out = append(out, *pos)
		}
	}
	return out
}

// Snapshot returns copies of all tracked positions (including flat ones
// retained for history) plus the aggregate total P&L (realized across the
// book + unrealized at last prices).
func (t *Tracker) Snapshot() ([]model.Position, int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Position, 0, len(t.positions))
	total := t.realized
	for _, pos := range t.positions {
		out = append(out, *pos)
		total += pos.UnrealizedPnL(pos.LastPrice)
	}
	return out, total
}

// RealizedPnL returns the total realized P&L across the book.
func (t *Tracker) RealizedPnL() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.realized
}

// Trades returns a copy of the session's closed round-trips.
func (t *Tracker) Trades() []model.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make([]model.Trade, len(t.trades))
	copy(cp, t.trades)
	return cp
}
