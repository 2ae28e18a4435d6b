package models

import "time"

// OrderRequest is the immutable description of an order to be placed.
type OrderRequest struct {
	Exchange     Exchange
	Symbol       string
	Quantity     int
	Price        float64 // zero only for MARKET / SL-M
	OrderType    OrderType
	Transaction  TransactionType
	Product      ProductType
	Retention    Retention
	TriggerPrice float64 // required > 0 for SL and SL-M, zero otherwise
	Remarks      string
}

// Notional returns quantity * price, the value-based risk measure.
func (r OrderRequest) Notional() float64 {
	return float64(r.Quantity) * r.Price
}

// OrderPatch carries the fields a modify may change. Nil fields keep the
// current value.
type OrderPatch struct {
	Quantity     *int
	Price        *float64
	OrderType    *OrderType
	TriggerPrice *float64
	Retention    *Retention
}

// Apply merges the patch onto a copy of the request.
func (p OrderPatch) Apply(r OrderRequest) OrderRequest {
	if p.Quantity != nil {
		r.Quantity = *p.Quantity
	}
	if p.Price != nil {
		r.Price = *p.Price
	}
	if p.OrderType != nil {
		r.OrderType = *p.OrderType
	}
	if p.TriggerPrice != nil {
		r.TriggerPrice = *p.TriggerPrice
	}
	if p.Retention != nil {
		r.Retention = *p.Retention
	}
	return r
}

// OrderState represents the lifecycle state of a tracked order.
type OrderState string

const (
	StatePendingSubmit   OrderState = "PENDING_SUBMIT"
	StateOpen            OrderState = "OPEN"
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	StateFilled          OrderState = "FILLED"
	StateCancelled       OrderState = "CANCELLED"
	StateRejected        OrderState = "REJECTED"
	StatePendingModify   OrderState = "PENDING_MODIFY"
	StatePendingCancel   OrderState = "PENDING_CANCEL"
)

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateRejected
}

// Order is the ledger's view of one order submitted by this process.
// LocalID is generated before submission; BrokerOrderID arrives with the
// broker acknowledgment and is set exactly once.
type Order struct {
	LocalID       string
	BrokerOrderID string
	Request       OrderRequest
	State         OrderState
	FilledQty     int
	AvgFillPrice  float64
	LastUpdate    time.Time
	RejectReason  string
}

// Snapshot returns a copy safe to hand outside the ledger.
func (o *Order) Snapshot() Order {
	return *o
}

// OrderBookEntry is an upstream order-book row reshaped into bridge terms.
type OrderBookEntry struct {
	BrokerOrderID string
	Symbol        string
	Exchange      Exchange
	Transaction   TransactionType
	OrderType     OrderType
	Product       ProductType
	Quantity      int
	Price         float64
	TriggerPrice  float64
	FilledQty     int
	AveragePrice  float64
	Status        string
	PlacedAt      time.Time
}
