// Package feed supplies market data ticks. The simulator generates a random
// walk over the index constituents and prices subscribed option contracts
// off the simulated spot, which makes the whole stack runnable without a
// broker session.
package feed

import (
	"context"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"bntrader/internal/model"
	"bntrader/internal/strike"
)

// Handler receives every generated tick.
type Handler func(model.Tick)

// DefaultBasePrices seeds the random walk, in paise.
var DefaultBasePrices = map[string]int64{
	"BANKNIFTY":  4800000, // 48000.00
	"HDFCBANK":   165000,
	"ICICIBANK":  105000,
	"SBIN":       75000,
	"AXISBANK":   105000,
	"KOTAKBANK":  180000,
	"INDUSINDBK": 150000,
	"BANDHANBNK": 18000,
	"FEDERALBNK": 15000,
	"IDFCFIRSTB": 8500,
	"PNB":        10000,
	"AUBANK":     70000,
}

// Simulator is a random-walk tick generator with on-demand option pricing.
type Simulator struct {
	mu       sync.Mutex
	prices   map[string]int64 // paise
	volumes  map[string]int64 // cumulative
	options  map[string]strike.Contract
	emitted  map[string]bool // session-open sent
	handler  Handler
	interval time.Duration
	rnd      *rand.Rand
	now      func() time.Time

	spotSymbol string
}

// SimOption configures the simulator.
type SimOption func(*Simulator)

// WithInterval overrides the tick interval (default 500ms).
func WithInterval(d time.Duration) SimOption {
	return func(s *Simulator) { s.interval = d }
}

// WithSeed makes the walk deterministic.
func WithSeed(seed int64) SimOption {
	return func(s *Simulator) { s.rnd = rand.New(rand.NewSource(seed)) }
}

// WithSimClock overrides the simulator clock. Used by tests.
func WithSimClock(now func() time.Time) SimOption {
	return func(s *Simulator) { s.now = now }
}

// NewSimulator creates a simulator over the given base prices (paise). A nil
// map selects DefaultBasePrices. spotSymbol names the index whose spot
// drives option pricing.
func NewSimulator(spotSymbol string, base map[string]int64, handler Handler, opts ...SimOption) *Simulator {
	if base == nil {
		base = DefaultBasePrices
	}
	prices := make(map[string]int64, len(base))
	for sym, px := range base {
		prices[sym] = px
	}
	s := &Simulator{
		prices:     prices,
		volumes:    make(map[string]int64),
		options:    make(map[string]strike.Contract),
		emitted:    make(map[string]bool),
		handler:    handler,
		interval:   500 * time.Millisecond,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		spotSymbol: spotSymbol,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TrackOption subscribes an option contract so the simulator prices it on
// every step.
func (s *Simulator) TrackOption(c strike.Contract) {
	s.mu.Lock()
	s.options[c.Symbol] = c
	s.mu.Unlock()
}

// DropOption stops pricing a contract.
func (s *Simulator) DropOption(symbol string) {
	s.mu.Lock()
	delete(s.options, symbol)
	delete(s.prices, symbol)
	s.mu.Unlock()
}

// Quote returns the last simulated price for a symbol in paise, pricing an
// untracked option on demand when its symbol parses. Returns 0 when the
// symbol is unknown.
func (s *Simulator) Quote(symbol string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if px, ok := s.prices[symbol]; ok {
		return px
	}
	c, err := strike.ParseSymbol(symbol)
	if err != nil {
		return 0
	}
	spot, ok := s.prices[c.Underlying]
	if !ok {
		return 0
	}
	return s.optionPrice(spot, c)
}

// Run generates ticks until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	log.Printf("[feed] simulator started, interval=%s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[feed] simulator stopped")
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step advances the walk by one tick for every symbol. Exported so tests can
// drive the simulator deterministically.
func (s *Simulator) Step() {
	s.mu.Lock()
	ts := s.now()
	var out []model.Tick

	for sym, px := range s.prices {
		if _, isOpt := s.options[sym]; isOpt {
			continue
		}
		// geometric walk, ~0.01% sigma per tick
		change := s.rnd.NormFloat64() * 0.0001
		drift := (s.rnd.Float64() - 0.5) * 0.0002
		next := int64(float64(px) * (1 + change + drift))
		if next < 1 {
			next = 1
		}
		s.prices[sym] = next
		s.volumes[sym] += int64(s.rnd.Intn(5000))
		out = append(out, model.Tick{
			Symbol: sym,
			Price:  next,
			Volume: s.volumes[sym],
			IsOpen: !s.emitted[sym],
			TickTS: ts,
		})
		s.emitted[sym] = true
	}

	spot := s.prices[s.spotSymbol]
	for sym, c := range s.options {
		px := s.optionPrice(spot, c)
		s.prices[sym] = px
		out = append(out, model.Tick{Symbol: sym, Price: px, TickTS: ts})
	}
	s.mu.Unlock()

	for _, t := range out {
		s.handler(t)
	}
}

// optionPrice approximates a premium as intrinsic value plus a time value
// that peaks at the money and decays with distance, with a little noise for
// IV flutter. Caller holds the lock.
func (s *Simulator) optionPrice(spot int64, c strike.Contract) int64 {
	strikePaise := c.Strike * 100
	var intrinsic int64
	if c.Type == strike.OptionCE {
		intrinsic = spot - strikePaise
	} else {
		intrinsic = strikePaise - spot
	}
	if intrinsic < 0 {
		intrinsic = 0
	}

	distPct := math.Abs(float64(spot-strikePaise)) / float64(spot)
	timeValue := float64(spot) * 0.006 * math.Exp(-200*distPct*distPct)
	noise := (s.rnd.Float64()*0.04 - 0.02) * timeValue

	px := intrinsic + int64(timeValue+noise)
	if px < 5 {
		px = 5
	}
	return px
}
