// cmd/report prints a P&L report from the trade log in SQLite: per-trade
// rows plus the daily aggregate. Useful after a session, or over the whole
// history with --all.
//
// Usage:
//
//	go run ./cmd/report --db=data/trader.db --date=2026-08-28
//	go run ./cmd/report --all
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"bntrader/internal/book"
	"bntrader/internal/markethours"
	"bntrader/internal/model"
	sqlitestore "bntrader/internal/store/sqlite"
)

func main() {
	log.SetFlags(0)

	dbPath := flag.String("db", "data/trader.db", "Path to SQLite database")
	dateStr := flag.String("date", "", "Trading date YYYY-MM-DD (default: today IST)")
	all := flag.Bool("all", false, "Report over every recorded trade")
	flag.Parse()

	store, err := sqlitestore.New(sqlitestore.Config{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[report] sqlite open failed: %v", err)
	}
	defer store.Close()

	if *all {
		trades, err := store.LoadAllTrades()
		if err != nil {
			log.Fatalf("[report] load failed: %v", err)
		}
		printTrades(trades)
		printTotals(trades)
		return
	}

	day := time.Now().In(markethours.IST)
	if *dateStr != "" {
		day, err = time.ParseInLocation("2006-01-02", *dateStr, markethours.IST)
		if err != nil {
			log.Fatalf("[report] bad --date %q: %v", *dateStr, err)
		}
	}

	trades, err := store.LoadTradesByDate(day, markethours.IST)
	if err != nil {
		log.Fatalf("[report] load failed: %v", err)
	}
	printTrades(trades)
	fmt.Println(book.Summarize(trades, day, markethours.IST))
}

func printTrades(trades []model.Trade) {
	if len(trades) == 0 {
		fmt.Println("no trades")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXIT TIME (IST)\tSYMBOL\tQTY\tENTRY\tEXIT\tP&L (₹)\tSRC")
	for _, tr := range trades {
		src := ""
		if tr.PriceSource == model.PriceFromProxy {
			src = "proxy"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.2f\t%+.2f\t%s\n",
			tr.ExitTime.In(markethours.IST).Format("2006-01-02 15:04:05"),
			tr.Symbol, tr.Qty,
			float64(tr.EntryPrice)/100, float64(tr.ExitPrice)/100,
			float64(tr.RealizedPnL)/100, src)
	}
	w.Flush()
}

func printTotals(trades []model.Trade) {
	var gross int64
	wins, losses := 0, 0
	for _, tr := range trades {
		gross += tr.RealizedPnL
		if tr.RealizedPnL > 0 {
			wins++
		} else if tr.RealizedPnL < 0 {
			losses++
		}
	}
	fmt.Printf("\n%d trades, %d W / %d L, gross ₹%+.2f\n",
		len(trades), wins, losses, float64(gross)/100)
}
