package strike

import (
	"time"

	"bntrader/internal/markethours"
)

// Bank Nifty trades monthly contracts expiring on the last Tuesday of the
// month (NSE discontinued the weekly cycle). When the scheduled expiry falls
// on a holiday the contract expires on the previous trading day, so the
// calendar must consult the exchange holiday list rather than assume a fixed
// weekday offset.

// MonthlyExpiry returns the expiry date for the contract month containing t:
// the last Tuesday of the month, rolled back to the previous trading day if
// the exchange is closed.
func MonthlyExpiry(t time.Time) time.Time {
	ist := t.In(markethours.IST)
	// Last day of the month, then walk back to Tuesday.
	d := time.Date(ist.Year(), ist.Month(), 1, 0, 0, 0, 0, markethours.IST).
		AddDate(0, 1, -1)
	for d.Weekday() != time.Tuesday {
		d = d.AddDate(0, 0, -1)
	}
	return markethours.LastTradingDayOnOrBefore(d)
}

// NextExpiry returns the nearest expiry on or after t's date. If the current
// month's expiry has already passed, the next month's contract is used.
func NextExpiry(t time.Time) time.Time {
	ist := t.In(markethours.IST)
	today := time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, markethours.IST)

	e := MonthlyExpiry(today)
	if !e.Before(today) {
		return e
	}
	// Current month's contract already expired: roll to next month.
	firstOfNext := time.Date(ist.Year(), ist.Month(), 1, 0, 0, 0, 0, markethours.IST).AddDate(0, 1, 0)
	return MonthlyExpiry(firstOfNext)
}
