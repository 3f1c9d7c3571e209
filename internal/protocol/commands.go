package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/jefrnc/das-bridge/internal/models"
)

// FormatPrice renders a price for the wire.
func FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 4, 64)
}

// NewToken generates a client-side order token. The terminal echoes it back
// in the first field of %ORDER lines, which is what correlates concurrent
// order commands with their replies.
func NewToken() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%016x", 0)
	}
	return hex.EncodeToString(b[:])
}

// BuildLogin formats the LOGIN handshake command.
func BuildLogin(username, password, account string) string {
	return strings.Join([]string{CmdLogin, username, password, account}, " ")
}

// BuildWatch formats the watch-mode CLIENT registration.
func BuildWatch(account string) string {
	return strings.Join([]string{CmdClient, account, "WATCH"}, " ")
}

// BuildNewOrder formats a NEWORDER command. The token becomes the order id.
func BuildNewOrder(token string, req models.OrderRequest) string {
	parts := []string{CmdNewOrder, token, string(req.Side), req.Symbol, strconv.FormatInt(req.Quantity, 10)}

	switch req.Type {
	case models.TypeMarket:
		parts = append(parts, string(models.TypeMarket))
	case models.TypeLimit:
		parts = append(parts, string(models.TypeLimit), FormatPrice(req.LimitPrice))
	case models.TypeStopMarket:
		parts = append(parts, string(models.TypeStopMarket), FormatPrice(req.StopPrice))
	case models.TypeStopLimit:
		parts = append(parts, string(models.TypeStopLimit), FormatPrice(req.StopPrice), FormatPrice(req.LimitPrice))
	default:
		parts = append(parts, string(req.Type))
		if req.LimitPrice > 0 {
			parts = append(parts, FormatPrice(req.LimitPrice))
		}
	}

	route := req.Route
	if route == "" {
		route = models.RouteAuto
	}
	tif := req.TIF
	if tif == "" {
		tif = models.TIFDay
	}
	parts = append(parts, string(route), string(tif))
	return strings.Join(parts, " ")
}

// BuildCancel formats a CANCEL for a single order.
func BuildCancel(orderID string) string {
	return CmdCancelOrder + " " + orderID
}

// BuildCancelAll formats a CANCELALL.
func BuildCancelAll() string { return CmdCancelAll }

// BuildReplace formats a REPLACE of quantity/price on a live order.
func BuildReplace(req models.ModifyRequest) string {
	parts := []string{CmdReplace, req.OrderID, strconv.FormatInt(req.Quantity, 10)}
	if req.LimitPrice > 0 {
		parts = append(parts, FormatPrice(req.LimitPrice))
	}
	if req.StopPrice > 0 {
		parts = append(parts, "STOP", FormatPrice(req.StopPrice))
	}
	return strings.Join(parts, " ")
}

// BuildSubscribe formats an SB subscription command.
func BuildSubscribe(symbol string, level models.MarketDataLevel) string {
	return strings.Join([]string{CmdSubscribe, symbol, string(level)}, " ")
}

// BuildUnsubscribe formats an UNSB command.
func BuildUnsubscribe(symbol string, level models.MarketDataLevel) string {
	return strings.Join([]string{CmdUnsubscribe, symbol, string(level)}, " ")
}

// BuildGetQuote formats a one-shot GETQUOTE.
func BuildGetQuote(symbol string) string {
	return CmdGetQuote + " " + symbol
}

// BuildGetChart formats a GETCHART history request.
func BuildGetChart(symbol string, chartType models.ChartType, bars int) string {
	return strings.Join([]string{CmdGetChart, symbol, string(chartType), "BARS=" + strconv.Itoa(bars)}, " ")
}

// BuildGetShortInfo formats a GET SHORTINFO request.
func BuildGetShortInfo(symbol string) string {
	return CmdGetShortInfo + " " + symbol
}

// BuildLocateInquire formats the SLPRICEINQUIRE price inquiry.
func BuildLocateInquire(symbol string, shares int64, route models.Route) string {
	return strings.Join([]string{CmdLocateInquire, symbol, strconv.FormatInt(shares, 10), string(route)}, " ")
}

// BuildLocateOrder formats an SLNEWORDER locate purchase. The offer is
// identified by route; the command takes no price parameter.
func BuildLocateOrder(symbol string, shares int64, route models.Route) string {
	return strings.Join([]string{CmdLocateNew, symbol, strconv.FormatInt(shares, 10), string(route)}, " ")
}

// BuildLocateAvail formats an SLAvailQuery availability check.
func BuildLocateAvail(account, symbol string) string {
	return strings.Join([]string{CmdLocateAvail, account, symbol}, " ")
}

// ValidateSymbol reports whether a ticker symbol is wire-safe: 1-8
// alphanumeric (or dot) characters.
func ValidateSymbol(symbol string) bool {
	if len(symbol) < 1 || len(symbol) > 8 {
		return false
	}
	for _, c := range symbol {
		ok := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.'
		if !ok {
			return false
		}
	}
	return true
}
