package strike

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSymbol decodes a Shoonya NFO option symbol back into a Contract,
// e.g. BANKNIFTY27JAN26C59700. The expiry carries no intraday component
// and LotSize is not encoded in the symbol, so it is left zero.
func ParseSymbol(symbol string) (Contract, error) {
	i := strings.IndexFunc(symbol, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return Contract{}, fmt.Errorf("strike: no expiry in symbol %q", symbol)
	}
	underlying := symbol[:i]
	rest := symbol[i:]
	// DD MMM YY C|P STRIKE
	if len(rest) < 9 {
		return Contract{}, fmt.Errorf("strike: truncated symbol %q", symbol)
	}
	day, err := strconv.Atoi(rest[:2])
	if err != nil {
		return Contract{}, fmt.Errorf("strike: bad day in %q: %w", symbol, err)
	}
	month, err := time.Parse("Jan", rest[2:3]+strings.ToLower(rest[3:5]))
	if err != nil {
		return Contract{}, fmt.Errorf("strike: bad month in %q: %w", symbol, err)
	}
	year, err := strconv.Atoi(rest[5:7])
	if err != nil {
		return Contract{}, fmt.Errorf("strike: bad year in %q: %w", symbol, err)
	}

	var ot OptionType
	switch rest[7] {
	case 'C':
		ot = OptionCE
	case 'P':
		ot = OptionPE
	default:
		return Contract{}, fmt.Errorf("strike: bad option type %q in %q", rest[7], symbol)
	}

	strikeRupees, err := strconv.ParseInt(rest[8:], 10, 64)
	if err != nil || strikeRupees <= 0 {
		return Contract{}, fmt.Errorf("strike: bad strike in %q", symbol)
	}

	return Contract{
		Symbol:     symbol,
		Underlying: underlying,
		Strike:     strikeRupees,
		Type:       ot,
		Expiry:     time.Date(2000+year, month.Month(), day, 0, 0, 0, 0, time.UTC),
	}, nil
}
