package models

import "time"

// LocateQuote is a cached locate price inquiry result. At most one is held
// per symbol per connection; the cache is dropped on reconnect.
type LocateQuote struct {
	Symbol       string
	Shares       int64
	Route        Route
	RatePerShare float64
	Available    bool
	EasyToBorrow bool
	QuotedAt     time.Time
}

// TotalCost returns the full locate cost at the quoted rate.
func (q LocateQuote) TotalCost() float64 {
	if q.EasyToBorrow {
		return 0
	}
	return q.RatePerShare * float64(q.Shares)
}

// LocateRecommendation is the outcome of a locate analysis.
type LocateRecommendation string

const (
	LocateApprove LocateRecommendation = "APPROVE"
	LocateReject  LocateRecommendation = "REJECT"
)

// LocateAnalysis is the result of evaluating a locate against the volume and
// cost guards.
type LocateAnalysis struct {
	Symbol         string
	DesiredShares  int64
	AllowedShares  int64 // after the volume guard
	LocateShares   int64 // rounded up to the block size
	CurrentPrice   float64
	DailyVolume    int64
	PositionValue  float64
	Rate           float64
	TotalCost      float64
	CostPercent    float64 // of position value
	EasyToBorrow   bool
	Approved       bool
	Recommendation LocateRecommendation
	Reasons        []string
}

// LocateOrder is the state of a locate purchase submitted via the wire.
type LocateOrder struct {
	LocateID  string
	Symbol    string
	Status    string
	Details   string
	Located   bool
	UpdatedAt time.Time
}
