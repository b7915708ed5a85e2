// Package signal derives a directional strength score for the Bank Nifty
// from constituent price action, spot momentum and macro context. The score
// is smoothed over a short confirmation buffer before it is handed to the
// trading engine.
package signal

import (
	"sync"

	"bntrader/internal/model"
)

// WeightCalc tracks constituent prices against their session open and
// produces the weighted percent-change sum of the index.
type WeightCalc struct {
	mu      sync.Mutex
	weights map[string]float64
	open    map[string]int64 // paise, session open
	last    map[string]int64 // paise
}

// NewWeightCalc creates a calculator over the given weight map. A nil map
// selects the Bank Nifty constituents.
func NewWeightCalc(weights map[string]float64) *WeightCalc {
	if weights == nil {
		weights = BankNiftyWeights
	}
	return &WeightCalc{
		weights: weights,
		open:    make(map[string]int64),
		last:    make(map[string]int64),
	}
}

// SetOpenPrice seeds the session open for a constituent, e.g. from history.
func (w *WeightCalc) SetOpenPrice(symbol string, paise int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.weights[symbol]; !ok {
		return
	}
	w.open[symbol] = paise
}

// Update records a constituent tick. The first tick for a symbol, or any
// tick flagged as the session open, resets the open price.
func (w *WeightCalc) Update(t model.Tick) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.weights[t.Symbol]; !ok {
		return
	}
	w.last[t.Symbol] = t.Price
	if t.IsOpen {
		w.open[t.Symbol] = t.Price
		return
	}
	if _, ok := w.open[t.Symbol]; !ok {
		w.open[t.Symbol] = t.Price
	}
}

// Strength returns the weighted percent-change sum across constituents.
// A uniform +0.2% move across the index yields roughly +20.
func (w *WeightCalc) Strength() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total float64
	for sym, weight := range w.weights {
		open, okO := w.open[sym]
		last, okL := w.last[sym]
		if !okO || !okL || open == 0 {
			continue
		}
		pct := float64(last-open) / float64(open) * 100
		total += pct * weight
	}
	return total
}

// Coverage returns how many constituents have both an open and a last price.
func (w *WeightCalc) Coverage() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for sym := range w.weights {
		if _, ok := w.open[sym]; !ok {
			continue
		}
		if _, ok := w.last[sym]; ok {
			n++
		}
	}
	return n
}
