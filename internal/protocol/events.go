package protocol

import (
	"time"

	"github.com/jefrnc/das-bridge/internal/models"
)

// EventKind tags the concrete type of a parsed event.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindOrder
	KindOrderAction
	KindPosition
	KindBuyingPower
	KindShortInfo
	KindLocateInfo
	KindLocateQuote
	KindLocateOrder
	KindLocateAvail
	KindTrade
	KindQuote
	KindDepth
	KindTimeSales
	KindChartBar
	KindLimitDownUp
	KindRouteStatus
	KindPlainReply
	KindErrorReply
)

// String returns a short name for the kind.
func (k EventKind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindOrderAction:
		return "order_action"
	case KindPosition:
		return "position"
	case KindBuyingPower:
		return "buying_power"
	case KindShortInfo:
		return "short_info"
	case KindLocateInfo:
		return "locate_info"
	case KindLocateQuote:
		return "locate_quote"
	case KindLocateOrder:
		return "locate_order"
	case KindLocateAvail:
		return "locate_avail"
	case KindTrade:
		return "trade"
	case KindQuote:
		return "quote"
	case KindDepth:
		return "depth"
	case KindTimeSales:
		return "time_sales"
	case KindChartBar:
		return "chart_bar"
	case KindLimitDownUp:
		return "limit_down_up"
	case KindRouteStatus:
		return "route_status"
	case KindPlainReply:
		return "plain_reply"
	case KindErrorReply:
		return "error_reply"
	}
	return "unknown"
}

// Event is a single classified protocol line. Events are immutable once
// constructed and carry the raw line for diagnostics.
type Event interface {
	Kind() EventKind
	RawLine() string
}

type raw struct {
	Raw string
}

func (r raw) RawLine() string { return r.Raw }

// OrderEvent is an %ORDER (or watch-mode %IORDER) update.
type OrderEvent struct {
	raw
	OrderID      string
	Symbol       string
	Side         models.OrderSide
	Quantity     int64
	Price        float64
	OrderType    models.OrderType
	Status       models.OrderStatus
	RawStatus    string
	FilledQty    int64
	AvgPrice     float64
	RemainingQty int64
	Timestamp    time.Time
	Watch        bool
}

func (OrderEvent) Kind() EventKind { return KindOrder }

// OrderActionEvent is an %OrderAct acknowledgement for a cancel/replace.
type OrderActionEvent struct {
	raw
	OrderID string
	Action  string
	Status  string
	Details string
}

func (OrderActionEvent) Kind() EventKind { return KindOrderAction }

// PositionEvent is a %POS (or watch-mode %IPOS) snapshot.
type PositionEvent struct {
	raw
	Symbol       string
	Quantity     int64
	AverageCost  float64
	CurrentPrice float64
	PnL          float64
	Watch        bool
}

func (PositionEvent) Kind() EventKind { return KindPosition }

// BuyingPowerEvent is a %BP account snapshot.
type BuyingPowerEvent struct {
	raw
	BuyingPower  float64
	DayTradingBP float64
	OvernightBP  float64
	Cash         float64
}

func (BuyingPowerEvent) Kind() EventKind { return KindBuyingPower }

// ShortInfoEvent is a %SHORTINFO reply.
type ShortInfoEvent struct {
	raw
	Symbol          string
	Shortable       bool
	Rate            float64
	AvailableShares int64
}

func (ShortInfoEvent) Kind() EventKind { return KindShortInfo }

// LocateInfoEvent is a %LOCATEINFO holding snapshot.
type LocateInfoEvent struct {
	raw
	Symbol   string
	Located  bool
	Quantity int64
	Rate     float64
	LocateID string
}

func (LocateInfoEvent) Kind() EventKind { return KindLocateInfo }

// LocateQuoteEvent is a %SLRET price inquiry result.
type LocateQuoteEvent struct {
	raw
	Symbol    string
	Quantity  int64
	Rate      float64
	Available bool
	Route     models.Route
}

func (LocateQuoteEvent) Kind() EventKind { return KindLocateQuote }

// LocateOrderEvent is a %SLOrder locate purchase update.
type LocateOrderEvent struct {
	raw
	LocateID string
	Symbol   string
	Status   string
	Details  string
	Located  bool
}

func (LocateOrderEvent) Kind() EventKind { return KindLocateOrder }

// LocateAvailEvent is a $SLAvailQueryRet availability reply.
type LocateAvailEvent struct {
	raw
	Account         string
	Symbol          string
	AvailableShares int64
	Rate            float64
}

func (LocateAvailEvent) Kind() EventKind { return KindLocateAvail }

// TradeEvent is a watch-mode %ITRADE execution print.
type TradeEvent struct {
	raw
	OrderID   string
	Symbol    string
	Side      models.OrderSide
	Quantity  int64
	Price     float64
	Timestamp time.Time
}

func (TradeEvent) Kind() EventKind { return KindTrade }

// QuoteEvent is a $Quote level-1 tick.
type QuoteEvent struct {
	raw
	Quote models.Quote
}

func (QuoteEvent) Kind() EventKind { return KindQuote }

// DepthEvent is a $Lv2 book update.
type DepthEvent struct {
	raw
	Update models.DepthUpdate
}

func (DepthEvent) Kind() EventKind { return KindDepth }

// TimeSalesEvent is a $T&S print.
type TimeSalesEvent struct {
	raw
	Sale models.TimeSale
}

func (TimeSalesEvent) Kind() EventKind { return KindTimeSales }

// ChartBarEvent is a $Chart/$Bar historical bar.
type ChartBarEvent struct {
	raw
	Bar models.ChartBar
}

func (ChartBarEvent) Kind() EventKind { return KindChartBar }

// LimitDownUpEvent is a $LDLU band update.
type LimitDownUpEvent struct {
	raw
	Symbol    string
	LimitDown float64
	LimitUp   float64
}

func (LimitDownUpEvent) Kind() EventKind { return KindLimitDownUp }

// RouteStatusEvent is a $RouteStatus line.
type RouteStatusEvent struct {
	raw
	Route  string
	Status string
}

func (RouteStatusEvent) Kind() EventKind { return KindRouteStatus }

// PlainReply is an uprefixed text line, attributed to the most recent
// plain-text command.
type PlainReply struct {
	raw
	Text string
}

func (PlainReply) Kind() EventKind { return KindPlainReply }

// ErrorReply is an explicit ERROR/WARNING line from the server, or the
// diagnostic downgrade of a malformed line. Malformed lines never escape the
// parser as failures.
type ErrorReply struct {
	raw
	Severity string // ERROR, WARNING or PARSE
	Message  string
}

func (ErrorReply) Kind() EventKind { return KindErrorReply }
