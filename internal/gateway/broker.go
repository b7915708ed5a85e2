package gateway

import (
	"context"
	"fmt"
	"log"

	"bntrader/internal/model"
	"bntrader/pkg/shoonya"
)

// BrokerAPI is the slice of the Shoonya client the gateway needs.
type BrokerAPI interface {
	PlaceOrder(ctx context.Context, req shoonya.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	PlaceGTT(ctx context.Context, req shoonya.GTTRequest) (string, error)
}

// Broker routes orders to the live broker. Placements report PLACED, not
// FILLED: fill confirmation arrives out-of-band, so callers treat the
// requested/last price as a proxy until then.
type Broker struct {
	api BrokerAPI
}

// NewBroker wraps a Shoonya session as an order gateway.
func NewBroker(api BrokerAPI) *Broker {
	return &Broker{api: api}
}

func (b *Broker) Mode() model.Mode { return model.ModeReal }

func (b *Broker) PlaceOrder(ctx context.Context, req Request) (Result, error) {
	if req.Qty <= 0 {
		return Result{}, fmt.Errorf("%w: non-positive qty %d", ErrGateway, req.Qty)
	}

	orderID, err := b.api.PlaceOrder(ctx, shoonya.OrderRequest{
		Exchange:      "NFO",
		TradingSymbol: req.Symbol,
		BuyOrSell:     sideCode(req.Side),
		Quantity:      req.Qty,
		ProductType:   req.ProductType,
		PriceType:     "MKT",
		Remarks:       req.Tag,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	log.Printf("[broker] placed %s %s qty=%d order=%s tag=%s",
		req.Side, req.Symbol, req.Qty, orderID, req.Tag)

	return Result{
		OrderID:     orderID,
		Status:      model.StatusPlaced,
		FillQty:     req.Qty,
		PriceSource: model.PriceFromProxy,
	}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	if err := b.api.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("%w: cancel %s: %v", ErrGateway, orderID, err)
	}
	return nil
}

// PlaceGTT rests a good-till-triggered order at the broker.
func (b *Broker) PlaceGTT(ctx context.Context, req Request, triggerPrice int64) (Result, error) {
	orderID, err := b.api.PlaceGTT(ctx, shoonya.GTTRequest{
		Exchange:      "NFO",
		TradingSymbol: req.Symbol,
		BuyOrSell:     sideCode(req.Side),
		Quantity:      req.Qty,
		ProductType:   req.ProductType,
		AlertType:     "LTP_ABOVE",
		TriggerPrice:  triggerPrice,
		Remarks:       "GTT-" + string(req.Side),
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: gtt: %v", ErrGateway, err)
	}
	return Result{OrderID: orderID, Status: model.StatusGTTPlaced, PriceSource: model.PriceFromProxy}, nil
}

func sideCode(s model.Side) string {
	if s == model.SideSell {
		return "S"
	}
	return "B"
}
