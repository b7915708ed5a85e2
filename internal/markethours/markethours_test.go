package markethours

import (
	"testing"
	"time"
)

func ist(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"mid session", ist(2026, time.January, 15, 11, 0), true}, // Thursday
		{"exact open", ist(2026, time.January, 15, 9, 15), true},
		{"before open", ist(2026, time.January, 15, 9, 14), false},
		{"exact close", ist(2026, time.January, 15, 15, 30), false},
		{"last minute", ist(2026, time.January, 15, 15, 29), true},
		{"saturday", ist(2026, time.January, 17, 11, 0), false},
		{"sunday", ist(2026, time.January, 18, 11, 0), false},
		{"republic day", ist(2026, time.January, 26, 11, 0), false}, // Monday holiday
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketOpen(tt.t); got != tt.want {
				t.Errorf("IsMarketOpen(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestIsMarketOpenConvertsZone(t *testing.T) {
	// 05:30 UTC == 11:00 IST on a trading Thursday
	utc := time.Date(2026, time.January, 15, 5, 30, 0, 0, time.UTC)
	if !IsMarketOpen(utc) {
		t.Error("expected UTC instant inside IST session to count as open")
	}
}

func TestLastTradingDayOnOrBefore(t *testing.T) {
	// Sunday 2026-01-18 rolls back to Friday the 16th
	got := LastTradingDayOnOrBefore(ist(2026, time.January, 18, 12, 0))
	if got.Day() != 16 || got.Month() != time.January {
		t.Errorf("expected Jan 16, got %v", got)
	}

	// Republic Day Monday 2026-01-26 rolls back over the weekend to Friday the 23rd
	got = LastTradingDayOnOrBefore(ist(2026, time.January, 26, 12, 0))
	if got.Day() != 23 {
		t.Errorf("expected Jan 23, got %v", got)
	}

	// a plain trading day maps to itself at midnight
	got = LastTradingDayOnOrBefore(ist(2026, time.January, 15, 14, 0))
	if got.Day() != 15 || got.Hour() != 0 {
		t.Errorf("expected Jan 15 00:00 IST, got %v", got)
	}
}

func TestNextOpen(t *testing.T) {
	// before open on a trading day: today 9:15
	got := NextOpen(ist(2026, time.January, 15, 8, 0))
	want := ist(2026, time.January, 15, 9, 15)
	if !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}

	// Friday after close: Monday 9:15
	got = NextOpen(ist(2026, time.January, 16, 16, 0))
	want = ist(2026, time.January, 19, 9, 15)
	if !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}

	// Friday the 23rd after close: the following Monday is Republic Day,
	// so open is Tuesday the 27th
	got = NextOpen(ist(2026, time.January, 23, 16, 0))
	want = ist(2026, time.January, 27, 9, 15)
	if !got.Equal(want) {
		t.Errorf("NextOpen over holiday = %v, want %v", got, want)
	}
}

func TestTimeUntilClose(t *testing.T) {
	d := TimeUntilClose(ist(2026, time.January, 15, 15, 0))
	if d != 30*time.Minute {
		t.Errorf("expected 30m, got %v", d)
	}
	if d := TimeUntilClose(ist(2026, time.January, 15, 16, 0)); d != 0 {
		t.Errorf("expected 0 after close, got %v", d)
	}
}

func TestIsHoliday(t *testing.T) {
	if !IsHoliday(ist(2026, time.December, 25, 10, 0)) {
		t.Error("Christmas 2026 should be a holiday")
	}
	if !IsHoliday(ist(2025, time.October, 21, 10, 0)) {
		t.Error("Diwali 2025 should be a holiday")
	}
	if IsHoliday(ist(2026, time.January, 15, 10, 0)) {
		t.Error("regular Thursday should not be a holiday")
	}
}
