package signal

import "time"

// Momentum thresholds in paise. A 30-point Bank Nifty move in two minutes is
// a mild push, 60 points a strong one.
const (
	momMild   = 3000 // 30 index points
	momStrong = 6000 // 60 index points
)

type pricePoint struct {
	ts    time.Time
	price int64
}

// momentumWindow keeps a short spot price history and scores the change over
// the lookback interval. Not safe for concurrent use; the evaluator
// serializes access.
type momentumWindow struct {
	points   []pricePoint
	lookback time.Duration
	retain   time.Duration
}

func newMomentumWindow(lookback, retain time.Duration) *momentumWindow {
	return &momentumWindow{lookback: lookback, retain: retain}
}

// score appends the tick and returns the momentum score for the move since
// the lookback horizon.
func (m *momentumWindow) score(ts time.Time, price int64) float64 {
	m.points = append(m.points, pricePoint{ts: ts, price: price})
	cutoff := ts.Add(-m.retain)
	for len(m.points) > 0 && m.points[0].ts.Before(cutoff) {
		m.points = m.points[1:]
	}
	if len(m.points) < 2 {
		return 0
	}

	horizon := ts.Add(-m.lookback)
	old := m.points[0].price
	for i := len(m.points) - 1; i >= 0; i-- {
		if !m.points[i].ts.After(horizon) {
			old = m.points[i].price
			break
		}
	}

	change := price - old
	switch {
	case change >= momStrong:
		return 3
	case change >= momMild:
		return 1
	case change <= -momStrong:
		return -3
	case change <= -momMild:
		return -1
	default:
		return 0
	}
}
