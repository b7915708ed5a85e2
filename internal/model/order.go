package model

import "time"

// Side is the transaction side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of an order.
// FILLED, REJECTED and CANCELLED are terminal.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPlaced    OrderStatus = "PLACED"
	StatusFilled    OrderStatus = "FILLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusGTTPlaced OrderStatus = "GTT_PLACED"
)

// Terminal reports whether the status is a terminal order state.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusCancelled
}

// Order represents a broker (or simulated) order.
type Order struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Qty         int64       `json:"qty"`
	Price       int64       `json:"price"` // requested price in paise (0 for market)
	ProductType string      `json:"product_type"`
	Status      OrderStatus `json:"status"`
	Mode        Mode        `json:"mode"`
	Tag         string      `json:"tag"` // AUTO, MANUAL, PANIC_EXIT, TSL_EXIT
	Reason      string      `json:"reason,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}
