// Package models provides domain models shared across the engine.
package models

import (
	"time"
)

// Route identifies an execution venue. The same identifiers select locate
// offers on the short-locate side.
type Route string

const (
	RouteAuto   Route = "AUTO"
	RouteNYSE   Route = "NYSE"
	RouteNasdaq Route = "NASDAQ"
	RouteARCA   Route = "ARCA"
	RouteBATS   Route = "BATS"
	RouteIEX    Route = "IEX"
	RouteEDGX   Route = "EDGX"
	RouteDark   Route = "DARK"

	// RouteAll is the only route the terminal reliably serves for locate
	// price inquiries. Per-venue inquiries crash the server.
	RouteAll Route = "ALLROUTE"
)

// OrderSide represents the side of an order, using the terminal's codes.
type OrderSide string

const (
	SideBuy         OrderSide = "B"
	SideSell        OrderSide = "S"
	SideShort       OrderSide = "SS"
	SideBuyToOpen   OrderSide = "BO"
	SideBuyToClose  OrderSide = "BC"
	SideSellToOpen  OrderSide = "SO"
	SideSellToClose OrderSide = "SC"
)

// IsBuy reports whether the side increases long exposure.
func (s OrderSide) IsBuy() bool {
	switch s {
	case SideBuy, SideBuyToOpen, SideBuyToClose:
		return true
	}
	return false
}

// OrderType represents the order type vocabulary of the terminal.
type OrderType string

const (
	TypeMarket     OrderType = "MKT"
	TypeLimit      OrderType = "LIMIT"
	TypeStopMarket OrderType = "STOPMKT"
	TypeStopLimit  OrderType = "STOPLMT"
	TypeStopTrail  OrderType = "STOPTRAILING"
	TypeStopRange  OrderType = "STOPRANGE"
	TypeStopRangeM OrderType = "STOPRANGEMKT"
	TypePegMid     OrderType = "PEG MID"
	TypePegAgg     OrderType = "PEG AGG"
	TypePegPrimary OrderType = "PEG PRIM"
	TypePegLast    OrderType = "PEG LAST"
	TypeHidden     OrderType = "HIDDEN"
	TypeReserve    OrderType = "RESERVE"
)

// TimeInForce represents order validity.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
	TIFMOO TimeInForce = "MOO"
	TIFMOC TimeInForce = "MOC"
)

// MarketDataLevel is a market data subscription level.
type MarketDataLevel string

const (
	LevelQuote     MarketDataLevel = "Lv1"
	LevelDepth     MarketDataLevel = "Lv2"
	LevelTimeSales MarketDataLevel = "T&S"
	LevelDayChart  MarketDataLevel = "DAYCHART"
	LevelMinChart  MarketDataLevel = "MINCHART"
	LevelTickChart MarketDataLevel = "TICKCHART"
)

// ChartType selects historical bar granularity.
type ChartType string

const (
	ChartDay    ChartType = "DAY"
	ChartMinute ChartType = "MINUTE"
	ChartTick   ChartType = "TICK"
)

// Quote is a level-1 snapshot for a symbol.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Volume    int64
	BidSize   int64
	AskSize   int64
	Timestamp time.Time
}

// Spread returns the bid/ask spread.
func (q Quote) Spread() float64 { return q.Ask - q.Bid }

// Mid returns the midpoint price.
func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// DepthUpdate is a single level-2 book entry keyed by market maker.
type DepthUpdate struct {
	Symbol    string
	Side      string // "BID" or "ASK"
	Price     float64
	Size      int64
	MMID      string
	Timestamp time.Time
}

// DepthBook is a sorted snapshot of the level-2 book.
type DepthBook struct {
	Symbol string
	Bids   []DepthUpdate // descending by price
	Asks   []DepthUpdate // ascending by price
}

// TimeSale is a single time-and-sales print.
type TimeSale struct {
	Symbol    string
	Price     float64
	Size      int64
	Condition string
	Timestamp time.Time
}

// ChartBar is one historical OHLCV bar.
type ChartBar struct {
	Symbol    string
	Type      ChartType
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Timestamp time.Time
}

// Position is the live state of a symbol's exposure. Quantity is signed:
// positive long, negative short.
type Position struct {
	Symbol        string
	Quantity      int64
	AverageCost   float64
	RealizedPnL   float64
	UnrealizedPnL float64
	LastPrice     float64
	UpdatedAt     time.Time
}

// MarketValue returns the current notional value of the position.
func (p Position) MarketValue() float64 {
	return float64(p.Quantity) * p.LastPrice
}

// BuyingPower is the account buying-power snapshot.
type BuyingPower struct {
	BuyingPower  float64
	DayTradingBP float64
	OvernightBP  float64
	Cash         float64
	UpdatedAt    time.Time
}

// ShortInfo describes shortability of a symbol.
type ShortInfo struct {
	Symbol          string
	Shortable       bool
	Rate            float64
	AvailableShares int64
}
