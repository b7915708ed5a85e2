package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"bntrader/internal/book"
	"bntrader/internal/engine"
	"bntrader/internal/metrics"
	"bntrader/internal/mode"
	"bntrader/internal/model"
	"bntrader/internal/store/redis"
)

// Poller periodically snapshots the trader and publishes the snapshots over
// Redis so the hub (and any other subscriber) can fan them out.
type Poller struct {
	pub      *redis.Publisher
	eng      *engine.Engine
	tracker  *book.Tracker
	modes    *mode.Controller
	prom     *metrics.Metrics
	loc      *time.Location
	interval time.Duration

	mu         sync.Mutex
	lastSignal model.Signal
	hasSignal  bool
}

// NewPoller creates a snapshot poller. prom may be nil.
func NewPoller(pub *redis.Publisher, eng *engine.Engine, tracker *book.Tracker, modes *mode.Controller, prom *metrics.Metrics, loc *time.Location, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		pub:      pub,
		eng:      eng,
		tracker:  tracker,
		modes:    modes,
		prom:     prom,
		loc:      loc,
		interval: interval,
	}
}

// RecordSignal stores the latest evaluated signal for publication.
func (p *Poller) RecordSignal(sig model.Signal) {
	p.mu.Lock()
	p.lastSignal = sig
	p.hasSignal = true
	p.mu.Unlock()
}

// Run publishes snapshots until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	log.Printf("[dashboard] snapshot poller started, interval=%s", p.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishAll(ctx)
		}
	}
}

func (p *Poller) publishAll(ctx context.Context) {
	start := time.Now()

	positions, total := p.tracker.Snapshot()
	p.publish(ctx, redis.ChannelPositions, map[string]any{
		"positions": positions,
		"total_pnl": total,
		"realized":  p.tracker.RealizedPnL(),
		"state":     p.eng.State(),
	})

	orders := p.eng.Orders()
	if len(orders) > 50 {
		orders = orders[:50]
	}
	p.publish(ctx, redis.ChannelOrders, map[string]any{"orders": orders})

	paper, auto := p.modes.Snapshot()
	p.publish(ctx, redis.ChannelMode, map[string]any{
		"paper_mode":     paper,
		"auto_trade":     auto,
		"tripped":        p.modes.Tripped(),
		"daily_realized": p.modes.DailyRealized(),
	})

	p.mu.Lock()
	sig, has := p.lastSignal, p.hasSignal
	p.mu.Unlock()
	if has {
		p.publish(ctx, redis.ChannelSignal, sig)
	}

	now := time.Now().In(p.loc)
	p.publish(ctx, redis.ChannelSummary, p.tracker.GetDailySummary(now, p.loc))

	if p.prom != nil {
		p.prom.OpenPositions.Set(float64(len(p.tracker.Open())))
		p.prom.RealizedPnL.Set(float64(p.tracker.RealizedPnL()))
		if p.modes.Tripped() {
			p.prom.BreakerTripped.Set(1)
		} else {
			p.prom.BreakerTripped.Set(0)
		}
		p.prom.PaperModeOn.Set(boolGauge(paper))
		p.prom.AutoTradeOn.Set(boolGauge(auto))
		p.prom.SnapshotLag.Set(time.Since(start).Seconds())
	}
}

func (p *Poller) publish(ctx context.Context, channel string, payload any) {
	if err := p.pub.Publish(ctx, channel, payload); err != nil {
		log.Printf("[dashboard] publish %s failed: %v", channel, err)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
