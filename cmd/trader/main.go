// Command trader runs the Bank Nifty options lifecycle engine: market data
// in (simulated in paper mode), strength signals, automatic entries/exits,
// position tracking, persistence and the dashboard surface.
package main

import (
	"context"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"bntrader/config"
	"bntrader/internal/book"
	"bntrader/internal/dashboard"
	"bntrader/internal/engine"
	"bntrader/internal/feed"
	"bntrader/internal/gateway"
	"bntrader/internal/markethours"
	"bntrader/internal/metrics"
	"bntrader/internal/mode"
	"bntrader/internal/model"
	"bntrader/internal/notification"
	"bntrader/internal/ringbuf"
	"bntrader/internal/signal"
	"bntrader/internal/strike"
	redisstore "bntrader/internal/store/redis"
	sqlitestore "bntrader/internal/store/sqlite"
	"bntrader/pkg/shoonya"
)

const spotSymbol = "BANKNIFTY"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[trader] starting...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[trader] bad config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Persistence ----
	os.MkdirAll("data", 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[trader] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Redis + metrics ----
	pub, err := redisstore.New(redisstore.Config{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[trader] redis init failed: %v", err)
	}
	defer pub.Close()

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSQLiteOK(true)
	health.SetRedisConnected(true)
	health.StartLivenessChecker(ctx, pub.Client(), store.DB(), 15*time.Second)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Mode controller (persisted flags win over env defaults) ----
	paperMode, autoTrade := cfg.PaperMode, cfg.AutoTrade
	if flags, ok, err := store.LoadModeFlags(); err != nil {
		log.Printf("[trader] mode flags restore failed: %v", err)
	} else if ok {
		paperMode, autoTrade = flags.PaperMode, flags.AutoTrade
		log.Printf("[trader] restored mode flags paper=%v auto=%v", paperMode, autoTrade)
	}
	modes, err := mode.New(paperMode, autoTrade, mode.Limits{
		MaxDailyLoss:   cfg.MaxDailyLoss,
		MaxDailyProfit: cfg.MaxDailyProfit,
	})
	if err != nil {
		log.Fatalf("[trader] mode init failed: %v", err)
	}

	// ---- Position tracker, restored from disk ----
	tracker := book.New(book.TSLConfig{
		Enabled:   cfg.TSLEnabled,
		HurdlePct: cfg.TSLHurdle,
		TrailPct:  cfg.TSLTrail,
	}, store)
	restoreBook(store, tracker)

	// ---- Alerts ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	notify := notification.NewMultiNotifier(backends...)

	// ---- Market data ----
	evaluator := signal.NewEvaluator(signal.Config{
		Confirmation: cfg.SignalConfirm,
		Lookback:     time.Duration(cfg.MomentumLookSec) * time.Second,
	}, signal.NewWeightCalc(nil))

	spotRing := ringbuf.New(4096)
	sim := feed.NewSimulator(spotSymbol, nil, func(t model.Tick) {
		switch {
		case t.Symbol == spotSymbol:
			if !spotRing.Push(t) {
				log.Printf("[trader] spot ring full, tick dropped")
			}
		case isConstituent(t.Symbol):
			evaluator.OnConstituentTick(t)
		default:
			// option tick: drive the book's LTP and trailing stop
			tracker.UpdatePrice(t.Symbol, t.Price)
		}
	}, feed.WithInterval(cfg.TickInterval()))
	health.SetFeedConnected(true)

	// ---- Gateways ----
	paperGW := gateway.NewPaper(cfg.SlippageBps)
	opts := []engine.Option{
		engine.WithOrderStore(store),
		engine.WithNotifier(notify),
		engine.WithMetrics(prom),
	}
	if !cfg.PaperMode {
		client := shoonya.New(shoonya.Config{
			UserID:     cfg.ShoonyaUserID,
			Password:   cfg.ShoonyaPassword,
			APIKey:     cfg.ShoonyaAPIKey,
			VendorCode: cfg.ShoonyaVendorCode,
			IMEI:       cfg.ShoonyaIMEI,
			TOTPSecret: cfg.ShoonyaTOTPSecret,
		})
		if err := client.Login(ctx); err != nil {
			log.Fatalf("[trader] shoonya login failed: %v", err)
		}
		opts = append(opts, engine.WithRealGateway(gateway.NewBroker(client)))
	}

	// ---- Engine ----
	selector := strike.NewBankNifty(cfg.LotSize)
	eng, err := engine.New(engine.Config{
		EntryThreshold: cfg.EntryThreshold,
		ExitThreshold:  cfg.ExitThreshold,
		Cooldown:       cfg.Cooldown(),
		Lots:           cfg.Lots,
		LotSize:        cfg.LotSize,
		ProductType:    cfg.ProductType,
	}, modes, tracker, selector, paperGW, sim.Quote, opts...)
	if err != nil {
		log.Fatalf("[trader] engine init failed: %v", err)
	}
	restoreEngine(store, eng)

	// ---- Dashboard ----
	hub := dashboard.NewHub(pub)
	go hub.Run(ctx)
	poller := dashboard.NewPoller(pub, eng, tracker, modes, prom, markethours.IST, cfg.SnapshotInterval())
	go poller.Run(ctx)
	srv := dashboard.NewServer(cfg.DashboardAddr, eng, tracker, modes, hub, store, markethours.IST)
	srv.Start()

	// ---- Daily schedule (IST) ----
	sched := cron.New(cron.WithLocation(markethours.IST))
	sched.AddFunc("0 9 * * MON-FRI", func() {
		modes.ResetDaily(cfg.AutoTrade)
		log.Printf("[trader] daily reset complete")
	})
	sched.AddFunc("35 15 * * MON-FRI", func() {
		sum := tracker.GetDailySummary(time.Now().In(markethours.IST), markethours.IST)
		notify.Send(ctx, notification.Alert{
			Level:   notification.AlertInfo,
			Title:   "Daily summary",
			Message: sum.String(),
		})
	})
	sched.Start()
	defer sched.Stop()

	// ---- Feed + decision loop ----
	go sim.Run(ctx)
	go decisionLoop(ctx, spotRing, evaluator, eng, modes, sim, poller, health)
	go persistLoop(ctx, store, eng, modes)

	log.Printf("[trader] up: dashboard=%s metrics=%s paper=%v", cfg.DashboardAddr, cfg.MetricsAddr, paperMode)
	<-sigCh
	log.Println("[trader] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	saveState(store, eng, modes)
	log.Println("[trader] bye")
}

// decisionLoop drains spot ticks, evaluates signals and drives the engine.
// Decisions stay serial: one signal is fully handled before the next.
func decisionLoop(ctx context.Context, ring *ringbuf.Ring, evaluator *signal.Evaluator, eng *engine.Engine, modes *mode.Controller, sim *feed.Simulator, poller *dashboard.Poller, health *metrics.HealthStatus) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	tslTick := time.NewTicker(2 * time.Second)
	defer tslTick.Stop()

	// symbol whose premium the simulator is currently pricing for us
	tracked := ""
	syncOptionFeed := func() {
		st := eng.State()
		switch {
		case st.Side == engine.SideNone && tracked != "":
			sim.DropOption(tracked)
			tracked = ""
		case st.Side != engine.SideNone && st.Symbol != tracked:
			if tracked != "" {
				sim.DropOption(tracked)
			}
			c, err := strike.ParseSymbol(st.Symbol)
			if err != nil {
				log.Printf("[trader] cannot track %s: %v", st.Symbol, err)
				return
			}
			sim.TrackOption(c)
			tracked = st.Symbol
		}
	}
	syncOptionFeed() // posture may have been restored from disk

	for {
		select {
		case <-ctx.Done():
			return
		case <-tslTick.C:
			if err := eng.CheckTrailingStop(ctx); err != nil {
				log.Printf("[trader] tsl exit failed: %v", err)
			}
			syncOptionFeed()
		case <-ticker.C:
			for {
				t, ok := ring.Pop()
				if !ok {
					break
				}
				sig, ready := evaluator.OnSpotTick(t)
				if !ready {
					continue
				}
				health.SetLastSignalTime(time.Now())
				poller.RecordSignal(sig)

				// live sessions only trade inside market hours; the paper
				// simulator runs around the clock
				paper, _ := modes.Snapshot()
				if !paper && !markethours.IsMarketOpen(time.Now().In(markethours.IST)) {
					continue
				}
				if err := eng.OnSignal(ctx, sig); err != nil {
					switch err {
					case engine.ErrCooldown, engine.ErrAutoTradeOff:
						// routine, stay quiet
					default:
						log.Printf("[trader] decision error: %v", err)
					}
				}
				syncOptionFeed()
			}
		}
	}
}

// persistLoop checkpoints engine posture and mode flags every few seconds.
func persistLoop(ctx context.Context, store *sqlitestore.Store, eng *engine.Engine, modes *mode.Controller) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveState(store, eng, modes)
		}
	}
}

func saveState(store *sqlitestore.Store, eng *engine.Engine, modes *mode.Controller) {
	st := eng.State()
	if err := store.SaveEngineState(sqlitestore.EngineState{
		Side:       string(st.Side),
		Symbol:     st.Symbol,
		OrderID:    st.OrderID,
		LastAction: st.LastAction,
	}); err != nil {
		log.Printf("[trader] engine state save failed: %v", err)
	}
	paper, auto := modes.Snapshot()
	if err := store.SaveModeFlags(sqlitestore.ModeFlags{PaperMode: paper, AutoTrade: auto}); err != nil {
		log.Printf("[trader] mode flags save failed: %v", err)
	}
}

func restoreBook(store *sqlitestore.Store, tracker *book.Tracker) {
	positions, err := store.LoadOpenPositions()
	if err != nil {
		log.Printf("[trader] position restore failed: %v", err)
		return
	}
	realized, err := store.LoadRealizedPnL()
	if err != nil {
		log.Printf("[trader] realized restore failed: %v", err)
	}
	tracker.Restore(positions, realized)
	if len(positions) > 0 || realized != 0 {
		log.Printf("[trader] restored %d open positions, realized=%d paise", len(positions), realized)
	}
}

func restoreEngine(store *sqlitestore.Store, eng *engine.Engine) {
	st, ok, err := store.LoadEngineState()
	if err != nil {
		log.Printf("[trader] engine state restore failed: %v", err)
		return
	}
	if !ok || st.Side == "" || st.Side == string(engine.SideNone) {
		return
	}
	eng.Restore(engine.Side(st.Side), st.Symbol, st.OrderID, st.LastAction)
	log.Printf("[trader] restored engine posture %s %s", st.Side, st.Symbol)
}

func isConstituent(symbol string) bool {
	_, ok := signal.BankNiftyWeights[symbol]
	return ok
}
