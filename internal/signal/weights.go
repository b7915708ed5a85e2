package signal

// BankNiftyWeights holds the approximate index weights of the Bank Nifty
// constituents, in percent. The weights drift with free-float reviews so
// they are deliberately coarse.
var BankNiftyWeights = map[string]float64{
	"HDFCBANK":   28.0,
	"ICICIBANK":  24.0,
	"KOTAKBANK":  12.0,
	"AXISBANK":   11.0,
	"SBIN":       10.0,
	"INDUSINDBK": 5.0,
	"BANDHANBNK": 2.5,
	"PNB":        2.0,
	"FEDERALBNK": 2.0,
	"AUBANK":     2.0,
	"IDFCFIRSTB": 1.5,
}
