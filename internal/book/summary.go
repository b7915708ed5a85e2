package book

import (
	"fmt"
	"time"

	"bntrader/internal/model"
)

// DailySummary aggregates the closed round-trips for one trading date.
// A trade counts as winning when its realized P&L is strictly positive.
type DailySummary struct {
	Date          string  `json:"date"` // YYYY-MM-DD
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // percent
	GrossPnL      int64   `json:"gross_pnl"`

	// ProxyPriced counts trades whose exit price was a spot proxy rather
	// than an actual fill; their P&L contribution is an estimate.
	ProxyPriced int `json:"proxy_priced"`
}

// String renders a one-line human summary, P&L in rupees.
func (s DailySummary) String() string {
	return fmt.Sprintf("%s: %d trades, %d W / %d L (%.1f%%), gross ₹%.2f, %d proxy-priced",
		s.Date, s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate,
		float64(s.GrossPnL)/100, s.ProxyPriced)
}

// Summarize aggregates trades closed on the given date (in loc).
func Summarize(trades []model.Trade, date time.Time, loc *time.Location) DailySummary {
	day := date.In(loc).Format("2006-01-02")
	s := DailySummary{Date: day}

	for _, tr := range trades {
		if tr.ExitTime.In(loc).Format("2006-01-02") != day {
			continue
		}
		s.TotalTrades++
		s.GrossPnL += tr.RealizedPnL
		if tr.RealizedPnL > 0 {
			s.WinningTrades++
		} else if tr.RealizedPnL < 0 {
			s.LosingTrades++
		}
		if tr.PriceSource == model.PriceFromProxy {
			s.ProxyPriced++
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	return s
}

// GetDailySummary aggregates the tracker's session trades for the date.
func (t *Tracker) GetDailySummary(date time.Time, loc *time.Location) DailySummary {
	return Summarize(t.Trades(), date, loc)
}
