package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"

	"bntrader/internal/model"
)

// Paper simulates order execution without broker calls. Every order fills
// immediately at the requested price plus a small deterministic slippage
// (buys fill higher, sells lower), so paper P&L stays slightly pessimistic.
type Paper struct {
	mu          sync.Mutex
	orderSeq    int64
	slippageBps int64 // basis points, e.g. 5 = 0.05%
}

// NewPaper creates a paper gateway with the given simulated slippage.
func NewPaper(slippageBps int64) *Paper {
	return &Paper{slippageBps: slippageBps}
}

func (p *Paper) Mode() model.Mode { return model.ModePaper }

func (p *Paper) PlaceOrder(ctx context.Context, req Request) (Result, error) {
	if req.Qty <= 0 {
		return Result{}, fmt.Errorf("%w: non-positive qty %d", ErrGateway, req.Qty)
	}
	if req.Price <= 0 {
		// The simulator has no order book to price a market order against;
		// callers pass the last traded price as the requested price.
		return Result{}, fmt.Errorf("%w: paper fill needs a reference price", ErrGateway)
	}

	p.mu.Lock()
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)
	p.mu.Unlock()

	fillPrice := req.Price
	if p.slippageBps > 0 {
		slip := fillPrice * p.slippageBps / 10000
		if req.Side == model.SideBuy {
			fillPrice += slip
		} else {
			fillPrice -= slip
		}
	}

	log.Printf("[paper] %s %s qty=%d fill=%d order=%s tag=%s",
		req.Side, req.Symbol, req.Qty, fillPrice, orderID, req.Tag)

	return Result{
		OrderID:     orderID,
		Status:      model.StatusFilled,
		FillPrice:   fillPrice,
		FillQty:     req.Qty,
		PriceSource: model.PriceFromFill,
	}, nil
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	// Immediate-fill orders never rest; only GTT rules can be live here.
	log.Printf("[paper] cancel %s", orderID)
	return nil
}

// PlaceGTT rests a simulated good-till-triggered rule. Paper GTT rules
// never trigger on their own; they exist so the audit and cancel flows can
// be exercised without a broker session.
func (p *Paper) PlaceGTT(ctx context.Context, req Request, triggerPrice int64) (Result, error) {
	if req.Qty <= 0 {
		return Result{}, fmt.Errorf("%w: non-positive qty %d", ErrGateway, req.Qty)
	}
	if triggerPrice <= 0 {
		return Result{}, fmt.Errorf("%w: GTT needs a trigger price", ErrGateway)
	}

	p.mu.Lock()
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-GTT-%d", p.orderSeq)
	p.mu.Unlock()

	log.Printf("[paper] GTT %s %s qty=%d trigger=%d order=%s",
		req.Side, req.Symbol, req.Qty, triggerPrice, orderID)

	return Result{
		OrderID:     orderID,
		Status:      model.StatusGTTPlaced,
		PriceSource: model.PriceFromProxy,
	}, nil
}
