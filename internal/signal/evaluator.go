package signal

import (
	"fmt"
	"sync"
	"time"

	"bntrader/internal/model"
)

// Factor contributions. The composite score spans roughly -10..+10:
// constituents up to +-4, momentum up to +-3, VWAP and macro +-1.5 each.
const (
	factorVWAP  = 1.5
	factorMacro = 1.5
)

// Config holds evaluator tuning.
type Config struct {
	Confirmation int           // smoothing buffer length
	Lookback     time.Duration // momentum lookback
	Retain       time.Duration // momentum history retention
}

// DefaultConfig mirrors the stock tuning: 5-tick confirmation, 2-minute
// momentum lookback over 10 minutes of history.
func DefaultConfig() Config {
	return Config{
		Confirmation: 5,
		Lookback:     2 * time.Minute,
		Retain:       10 * time.Minute,
	}
}

// Evaluator combines constituent strength, spot momentum, VWAP position and
// macro trend into a smoothed directional score.
type Evaluator struct {
	mu      sync.Mutex
	cfg     Config
	weights *WeightCalc
	mom     *momentumWindow
	scores  []float64
	macro   model.Direction

	// running VWAP accumulation over spot ticks
	cumPV  float64
	cumVol float64
}

// NewEvaluator creates an evaluator. A zero Confirmation falls back to the
// default config value.
func NewEvaluator(cfg Config, weights *WeightCalc) *Evaluator {
	def := DefaultConfig()
	if cfg.Confirmation <= 0 {
		cfg.Confirmation = def.Confirmation
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.Retain <= 0 {
		cfg.Retain = def.Retain
	}
	if weights == nil {
		weights = NewWeightCalc(nil)
	}
	return &Evaluator{
		cfg:     cfg,
		weights: weights,
		mom:     newMomentumWindow(cfg.Lookback, cfg.Retain),
		macro:   model.DirNeutral,
	}
}

// Weights exposes the constituent calculator for feed wiring.
func (e *Evaluator) Weights() *WeightCalc { return e.weights }

// SetMacroTrend updates the hourly macro context.
func (e *Evaluator) SetMacroTrend(d model.Direction) {
	e.mu.Lock()
	e.macro = d
	e.mu.Unlock()
}

// OnConstituentTick folds a constituent tick into the weighted strength.
func (e *Evaluator) OnConstituentTick(t model.Tick) {
	e.weights.Update(t)
}

// OnSpotTick folds a spot tick into momentum and VWAP, computes the
// composite score and returns a smoothed signal. ok is false until the
// confirmation buffer has filled.
func (e *Evaluator) OnSpotTick(t model.Tick) (model.Signal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t.Volume > 0 {
		e.cumPV += float64(t.Price) * float64(t.Volume)
		e.cumVol += float64(t.Volume)
	}

	ws := e.weights.Strength()
	mom := e.mom.score(t.TickTS, t.Price)

	score := constituentFactor(ws) + mom
	if e.cumVol > 0 {
		vwap := e.cumPV / e.cumVol
		if float64(t.Price) > vwap {
			score += factorVWAP
		} else if float64(t.Price) < vwap {
			score -= factorVWAP
		}
	}
	switch e.macro {
	case model.DirBullish:
		score += factorMacro
	case model.DirBearish:
		score -= factorMacro
	}

	e.scores = append(e.scores, score)
	if len(e.scores) > e.cfg.Confirmation {
		e.scores = e.scores[1:]
	}
	if len(e.scores) < e.cfg.Confirmation {
		return model.Signal{}, false
	}

	var sum float64
	for _, s := range e.scores {
		sum += s
	}
	avg := sum / float64(len(e.scores))

	return model.Signal{
		TS:              t.TickTS,
		UnderlyingPrice: t.Price,
		Strength:        avg,
		Direction:       classify(avg),
		Reason:          fmt.Sprintf("score %.1f (ws %.1f, mom %+.1f)", avg, ws, mom),
	}, true
}

// constituentFactor maps the weighted percent-change sum onto the composite
// scale.
func constituentFactor(ws float64) float64 {
	switch {
	case ws >= 40:
		return 4
	case ws >= 20:
		return 3
	case ws >= 10:
		return 1
	case ws <= -40:
		return -4
	case ws <= -20:
		return -3
	case ws <= -10:
		return -1
	default:
		return 0
	}
}

func classify(score float64) model.Direction {
	switch {
	case score > 0.5:
		return model.DirBullish
	case score < -0.5:
		return model.DirBearish
	default:
		return model.DirNeutral
	}
}
