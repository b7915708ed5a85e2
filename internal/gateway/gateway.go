// Package gateway abstracts order placement and cancellation. Two
// implementations exist: a paper simulator that manufactures immediate
// fills, and a broker-backed gateway routing real orders. Both feed the
// same position tracker; only the mode tag differs.
package gateway

import (
	"context"
	"errors"

	"bntrader/internal/model"
)

// ErrGateway wraps every placement/cancellation failure. The engine never
// retries automatically on it: the prior state is kept, the failure is
// surfaced, and the next qualifying tick (or a manual action) re-decides.
var ErrGateway = errors.New("gateway: order failed")

// Request describes an order to place.
type Request struct {
	Symbol      string
	Side        model.Side
	Qty         int64
	Price       int64 // paise; 0 = market
	ProductType string
	Tag         string // AUTO, MANUAL, PANIC_EXIT, TSL_EXIT
}

// Result is the outcome of a successful placement. Paper fills carry the
// authoritative fill price; broker placements report PLACED and a zero
// FillPrice, in which case the caller falls back to a spot-proxy price and
// must tag the resulting P&L as an estimate.
type Result struct {
	OrderID     string
	Status      model.OrderStatus
	FillPrice   int64 // paise; 0 if no fill confirmation yet
	FillQty     int64
	PriceSource model.PriceSource
}

// Gateway places and cancels orders.
type Gateway interface {
	// Mode tags the routing of this gateway's orders.
	Mode() model.Mode

	// PlaceOrder submits an order. A non-nil error always wraps
	// ErrGateway; no state may be assumed placed on error.
	PlaceOrder(ctx context.Context, req Request) (Result, error)

	// CancelOrder cancels a resting order by id.
	CancelOrder(ctx context.Context, orderID string) error
}

// GTTPlacer is implemented by gateways that support good-till-triggered
// orders resting at the broker.
type GTTPlacer interface {
	PlaceGTT(ctx context.Context, req Request, triggerPrice int64) (Result, error)
}
