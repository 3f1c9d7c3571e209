package protocol

import (
	"strconv"
	"strings"
	"time"

	"github.com/jefrnc/das-bridge/internal/models"
)

// Parse classifies a single protocol line into a typed event. It is a pure
// function and never fails: unknown or malformed lines come back as an
// ErrorReply so one bad line cannot take down the read loop.
func Parse(line string) Event {
	trimmed := strings.TrimRight(line, "\r\n")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ErrorReply{raw: raw{trimmed}, Severity: "PARSE", Message: "empty line"}
	}

	switch {
	case strings.HasPrefix(fields[0], "%"):
		return parseControl(trimmed, fields)
	case strings.HasPrefix(fields[0], "$"):
		return parseData(trimmed, fields)
	case fields[0] == PrefixError:
		return ErrorReply{raw: raw{trimmed}, Severity: PrefixError, Message: rest(trimmed, PrefixError)}
	case fields[0] == PrefixWarning:
		return ErrorReply{raw: raw{trimmed}, Severity: PrefixWarning, Message: rest(trimmed, PrefixWarning)}
	default:
		return PlainReply{raw: raw{trimmed}, Text: trimmed}
	}
}

func parseControl(line string, fields []string) Event {
	args := fields[1:]
	switch fields[0] {
	case PrefixOrder:
		return parseOrder(line, args, false)
	case PrefixWatchOrder:
		return parseOrder(line, args, true)
	case PrefixOrderAction:
		return parseOrderAction(line, args)
	case PrefixPosition:
		return parsePosition(line, args, false)
	case PrefixWatchPos:
		return parsePosition(line, args, true)
	case PrefixWatchTrade:
		return parseTrade(line, args)
	case PrefixBuyingPower:
		return parseBuyingPower(line, args)
	case PrefixShortInfo:
		return parseShortInfo(line, args)
	case PrefixLocateInfo:
		return parseLocateInfo(line, args)
	case PrefixLocateRet:
		return parseLocateQuote(line, args)
	case PrefixLocateOrder:
		return parseLocateOrder(line, args)
	}
	return ErrorReply{raw: raw{line}, Severity: "PARSE", Message: "unknown control event " + fields[0]}
}

func parseData(line string, fields []string) Event {
	args := fields[1:]
	switch fields[0] {
	case PrefixQuote:
		return parseQuote(line, args)
	case PrefixDepth:
		return parseDepth(line, args)
	case PrefixTimeSales:
		return parseTimeSales(line, args)
	case PrefixChart, PrefixBar:
		return parseChartBar(line, args)
	case PrefixLimitDownUp:
		return parseLimitDownUp(line, args)
	case PrefixLocateAvail:
		return parseLocateAvail(line, args)
	case PrefixRouteStatus:
		return parseRouteStatus(line, args)
	}
	return ErrorReply{raw: raw{line}, Severity: "PARSE", Message: "unknown data event " + fields[0]}
}

// fieldReader walks positional whitespace-delimited fields, recording the
// first decode failure instead of returning it at every call site.
type fieldReader struct {
	fields []string
	pos    int
	err    string
}

func newFieldReader(fields []string) *fieldReader {
	return &fieldReader{fields: fields}
}

func (r *fieldReader) str() string {
	if r.pos >= len(r.fields) {
		r.fail("missing field")
		return ""
	}
	s := r.fields[r.pos]
	r.pos++
	return s
}

// optStr returns the next field or "" without recording an error.
func (r *fieldReader) optStr() string {
	if r.pos >= len(r.fields) {
		return ""
	}
	s := r.fields[r.pos]
	r.pos++
	return s
}

func (r *fieldReader) int64() int64 {
	s := r.str()
	if r.err != "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.fail("bad integer " + strconv.Quote(s))
		return 0
	}
	return v
}

func (r *fieldReader) optInt64() int64 {
	s := r.optStr()
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.fail("bad integer " + strconv.Quote(s))
		return 0
	}
	return v
}

func (r *fieldReader) float() float64 {
	s := r.str()
	if r.err != "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail("bad number " + strconv.Quote(s))
		return 0
	}
	return v
}

func (r *fieldReader) optFloat() float64 {
	s := r.optStr()
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail("bad number " + strconv.Quote(s))
		return 0
	}
	return v
}

// optTime consumes up to two trailing tokens as a timestamp. Missing or
// unrecognized timestamps yield the zero time without error; stamps are
// advisory on most lines.
func (r *fieldReader) optTime() time.Time {
	remaining := len(r.fields) - r.pos
	if remaining <= 0 {
		return time.Time{}
	}
	n := remaining
	if n > 2 {
		n = 2
	}
	joined := strings.Join(r.fields[r.pos:r.pos+n], " ")
	if ts, ok := parseTimestamp(joined); ok {
		r.pos += n
		return ts
	}
	if ts, ok := parseTimestamp(r.fields[r.pos]); ok {
		r.pos++
		return ts
	}
	return time.Time{}
}

func (r *fieldReader) fail(reason string) {
	if r.err == "" {
		r.err = reason
	}
}

var timestampFormats = []string{
	"20060102 15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
	"20060102150405",
	"15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func rest(line, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, prefix))
}

func parseError(line, reason string) ErrorReply {
	return ErrorReply{raw: raw{line}, Severity: "PARSE", Message: reason}
}

// %ORDER OrderID Symbol Side Qty Price Type Status Filled AvgPrice Remaining [Timestamp]
func parseOrder(line string, args []string, watch bool) Event {
	r := newFieldReader(args)
	ev := OrderEvent{
		raw:     raw{line},
		OrderID: r.str(),
		Symbol:  r.str(),
		Side:    models.OrderSide(r.str()),
		Watch:   watch,
	}
	ev.Quantity = r.int64()
	ev.Price = r.float()
	ev.OrderType = models.OrderType(r.str())
	ev.RawStatus = r.str()
	ev.Status = models.NormalizeStatus(ev.RawStatus)
	ev.FilledQty = r.optInt64()
	ev.AvgPrice = r.optFloat()
	ev.RemainingQty = r.optInt64()
	ev.Timestamp = r.optTime()
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ev
}

// %OrderAct OrderID Action Status [Details...]
func parseOrderAction(line string, args []string) Event {
	r := newFieldReader(args)
	ev := OrderActionEvent{
		raw:     raw{line},
		OrderID: r.str(),
		Action:  r.str(),
		Status:  r.str(),
	}
	if r.err != "" {
		return parseError(line, r.err)
	}
	if r.pos < len(args) {
		ev.Details = strings.Join(args[r.pos:], " ")
	}
	return ev
}

// %POS Symbol Qty AvgCost CurrentPrice [PnL] [PnL%]
func parsePosition(line string, args []string, watch bool) Event {
	r := newFieldReader(args)
	ev := PositionEvent{
		raw:    raw{line},
		Symbol: r.str(),
		Watch:  watch,
	}
	ev.Quantity = r.int64()
	ev.AverageCost = r.float()
	ev.CurrentPrice = r.optFloat()
	ev.PnL = r.optFloat()
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ev
}

// %ITRADE OrderID Symbol Side Qty Price [Timestamp]
func parseTrade(line string, args []string) Event {
	r := newFieldReader(args)
	ev := TradeEvent{
		raw:     raw{line},
		OrderID: r.str(),
		Symbol:  r.str(),
		Side:    models.OrderSide(r.str()),
	}
	ev.Quantity = r.int64()
	ev.Price = r.float()
	ev.Timestamp = r.optTime()
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ev
}

// %BP BuyingPower DayTradingBP [OvernightBP] [Cash]
func parseBuyingPower(line string, args []string) Event {
	r := newFieldReader(args)
	ev := BuyingPowerEvent{raw: raw{line}}
	ev.BuyingPower = r.float()
	ev.DayTradingBP = r.optFloat()
	ev.OvernightBP = r.optFloat()
	ev.Cash = r.optFloat()
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ev
}

// %SHORTINFO Symbol Shortable Rate [AvailableShares]
func parseShortInfo(line string, args []string) Event {
	r := newFieldReader(args)
	ev := ShortInfoEvent{
		raw:    raw{line},
		Symbol: r.str(),
	}
	ev.Shortable = strings.EqualFold(r.str(), "YES")
	ev.Rate = r.optFloat()
	ev.AvailableShares = r.optInt64()
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ev
}

// %LOCATEINFO Symbol Located Qty Rate [LocateID]
func parseLocateInfo(line string, args []string) Event {
	r := newFieldReader(args)
	ev := LocateInfoEvent{
		raw:    raw{line},
		Symbol: r.str(),
	}
	ev.Located = strings.EqualFold(r.str(), "YES")
	ev.Quantity = r.int64()
	ev.Rate = r.optFloat()
	ev.LocateID = r.optStr()
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ev
}

// %SLRET Symbol Qty Rate Available [Route]
func parseLocateQuote(line string, args []string) Event {
	r := newFieldReader(args)
	ev := LocateQuoteEvent{
		raw:    raw{line},
		Symbol: r.str(),
	}
	ev.Quantity = r.int64()
	ev.Rate = r.float()
	ev.Available = strings.EqualFold(r.str(), "YES")
	ev.Route = models.Route(r.optStr())
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ev
}

// %SLOrder LocateID Symbol Status [Details...]
func parseLocateOrder(line string, args []string) Event {
	r := newFieldReader(args)
	ev := LocateOrderEvent{
		raw:      raw{line},
		LocateID: r.str(),
		Symbol:   r.str(),
		Status:   r.str(),
	}
	if r.err != "" {
		return parseError(line, r.err)
	}
	ev.Located = strings.EqualFold(ev.Status, "ACCEPTED")
	if r.pos < len(args) {
		ev.Details = strings.Join(args[r.pos:], " ")
	}
	return ev
}

// $SLAvailQueryRet Account Symbol AvailableShares [Rate]
func parseLocateAvail(line string, args []string) Event {
	r := newFieldReader(args)
	ev := LocateAvailEvent{
		raw:     raw{line},
		Account: r.str(),
		Symbol:  r.str(),
	}
	ev.AvailableShares = r.int64()
	ev.Rate = r.optFloat()
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ev
}

// $Quote Symbol Bid Ask Last Volume [BidSize] [AskSize] [Timestamp]
func parseQuote(line string, args []string) Event {
	r := newFieldReader(args)
	q := models.Quote{Symbol: r.str()}
	q.Bid = r.float()
	q.Ask = r.float()
	q.Last = r.float()
	q.Volume = r.int64()
	q.BidSize = r.optInt64()
	q.AskSize = r.optInt64()
	q.Timestamp = r.optTime()
	if r.err != "" {
		return parseError(line, r.err)
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	return QuoteEvent{raw: raw{line}, Quote: q}
}

// $Lv2 Symbol Side Price Size MMID [Timestamp]
func parseDepth(line string, args []string) Event {
	r := newFieldReader(args)
	u := models.DepthUpdate{Symbol: r.str()}
	u.Side = strings.ToUpper(r.str())
	u.Price = r.float()
	u.Size = r.int64()
	u.MMID = r.str()
	u.Timestamp = r.optTime()
	if r.err != "" {
		return parseError(line, r.err)
	}
	if u.Side != "BID" && u.Side != "ASK" {
		return parseError(line, "bad depth side "+strconv.Quote(u.Side))
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}
	return DepthEvent{raw: raw{line}, Update: u}
}

// $T&S Symbol Price Size [Time] [Condition]
func parseTimeSales(line string, args []string) Event {
	r := newFieldReader(args)
	s := models.TimeSale{Symbol: r.str()}
	s.Price = r.float()
	s.Size = r.int64()
	s.Timestamp = r.optTime()
	s.Condition = r.optStr()
	if r.err != "" {
		return parseError(line, r.err)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	return TimeSalesEvent{raw: raw{line}, Sale: s}
}

// $Chart Symbol Type Open High Low Close Volume [Time]
func parseChartBar(line string, args []string) Event {
	r := newFieldReader(args)
	b := models.ChartBar{Symbol: r.str()}
	b.Type = models.ChartType(r.str())
	b.Open = r.float()
	b.High = r.float()
	b.Low = r.float()
	b.Close = r.float()
	b.Volume = r.int64()
	b.Timestamp = r.optTime()
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ChartBarEvent{raw: raw{line}, Bar: b}
}

// $LDLU Symbol LimitDown LimitUp
func parseLimitDownUp(line string, args []string) Event {
	r := newFieldReader(args)
	ev := LimitDownUpEvent{raw: raw{line}, Symbol: r.str()}
	ev.LimitDown = r.float()
	ev.LimitUp = r.float()
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ev
}

// $RouteStatus Route Status
func parseRouteStatus(line string, args []string) Event {
	r := newFieldReader(args)
	ev := RouteStatusEvent{raw: raw{line}, Route: r.str()}
	ev.Status = r.optStr()
	if r.err != "" {
		return parseError(line, r.err)
	}
	return ev
}
