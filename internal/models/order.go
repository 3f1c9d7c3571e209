package models

import "time"

// OrderStatus is the engine's closed set of order states. The terminal emits
// a wider, mixed-case vocabulary (Accepted, Sending, Executed, Canceled,
// Triggered, Hold); NormalizeStatus folds those into this set.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// NormalizeStatus maps a raw terminal status token to the engine's status
// set. Unrecognized tokens map to StatusPending so an unknown intermediate
// state never looks terminal.
func NormalizeStatus(raw string) OrderStatus {
	switch raw {
	case "PENDING", "Hold", "Sending", "Triggered":
		return StatusPending
	case "NEW", "Accepted", "Open":
		return StatusNew
	case "PARTIALLY_FILLED", "Partial":
		return StatusPartiallyFilled
	case "Executed", "FILLED", "Filled":
		return StatusFilled
	case "Canceled", "Cancelled", "CANCELLED", "EXPIRED", "Closed":
		return StatusCancelled
	case "Rejected", "REJECTED":
		return StatusRejected
	}
	return StatusPending
}

// Order is the tracked state of a single order.
type Order struct {
	ID         string
	Symbol     string
	Side       OrderSide
	Quantity   int64
	FilledQty  int64
	Type       OrderType
	LimitPrice float64
	StopPrice  float64
	AvgPrice   float64
	TIF        TimeInForce
	Route      Route
	Status     OrderStatus
	PlacedAt   time.Time
	UpdatedAt  time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int64 { return o.Quantity - o.FilledQty }

// IsOpen reports whether the order can still receive fills.
func (o Order) IsOpen() bool { return !o.Status.IsTerminal() }

// Fill is one execution against an order: the newly filled shares and
// their marginal price.
type Fill struct {
	Order    Order
	Quantity int64
	Price    float64
	Time     time.Time
}

// OrderRequest describes a new order to submit.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Quantity   int64
	Type       OrderType
	LimitPrice float64
	StopPrice  float64
	TIF        TimeInForce
	Route      Route
}

// ModifyRequest describes a replace of an existing order.
type ModifyRequest struct {
	OrderID    string
	Quantity   int64
	LimitPrice float64
	StopPrice  float64
}
