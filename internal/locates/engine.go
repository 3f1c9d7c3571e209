// Package locates implements short-locate analysis and purchase: price
// inquiry, the volume and cost guards, easy-to-borrow detection, and
// reconciliation of locate holdings.
package locates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/config"
	"github.com/jefrnc/das-bridge/internal/dispatch"
	"github.com/jefrnc/das-bridge/internal/errors"
	"github.com/jefrnc/das-bridge/internal/logging"
	"github.com/jefrnc/das-bridge/internal/marketdata"
	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/protocol"
)

// etbThreshold is the rate below which a locate is treated as easy to
// borrow and therefore free.
const etbThreshold = 0.00001

// Engine evaluates and places short locates. All locate traffic uses the
// aggregate route; routing a locate anywhere else is rejected before it
// reaches the wire.
type Engine struct {
	disp    *dispatch.Dispatcher
	md      *marketdata.Manager
	cfg     config.LocateConfig
	log     zerolog.Logger
	account string

	mu       sync.RWMutex
	quotes   map[string]models.LocateQuote // last inquiry per symbol
	holdings map[string]models.LocateOrder
}

// NewEngine creates a locate engine.
func NewEngine(disp *dispatch.Dispatcher, md *marketdata.Manager, cfg config.LocateConfig, account string, logger zerolog.Logger) *Engine {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 100
	}
	return &Engine{
		disp:     disp,
		md:       md,
		cfg:      cfg,
		log:      logger.With().Str("component", "locates").Logger(),
		account:  account,
		quotes:   make(map[string]models.LocateQuote),
		holdings: make(map[string]models.LocateOrder),
	}
}

// Inquire asks the terminal for a locate price. The terminal crashes on a
// second inquiry in the same connection, so the dispatcher enforces one
// wire-level send per session; a repeat call fails fast with a policy error
// and returns the cached quote when one exists.
func (e *Engine) Inquire(ctx context.Context, symbol string, shares int64, route models.Route) (models.LocateQuote, error) {
	if !protocol.ValidateSymbol(symbol) {
		return models.LocateQuote{}, errors.ErrInvalidSymbol
	}
	if route != models.RouteAll {
		return models.LocateQuote{}, errors.NewLocateError(symbol, shares,
			[]string{fmt.Sprintf("locates only trade on %s, got %s", models.RouteAll, route)},
			errors.ErrPolicyBlocked)
	}

	blocked := e.roundToBlock(shares)

	ev, err := e.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindLocateInquire,
		Text: protocol.BuildLocateInquire(symbol, blocked, route),
		Match: func(ev protocol.Event) bool {
			ret, ok := ev.(protocol.LocateQuoteEvent)
			return ok && ret.Symbol == symbol
		},
	})
	if err != nil {
		if errors.Is(err, errors.ErrPolicyBlocked) {
			if cached, ok := e.cachedQuote(symbol); ok {
				return cached, nil
			}
		}
		return models.LocateQuote{}, err
	}

	ret := ev.(protocol.LocateQuoteEvent)
	quote := models.LocateQuote{
		Symbol:       ret.Symbol,
		Shares:       blocked,
		Route:        route,
		RatePerShare: ret.Rate,
		Available:    ret.Available,
		EasyToBorrow: ret.Rate < etbThreshold,
		QuotedAt:     time.Now(),
	}

	e.mu.Lock()
	e.quotes[symbol] = quote
	e.mu.Unlock()
	return quote, nil
}

// Analyze evaluates a locate for the desired share count against the
// guards: the volume cap, the absolute cost cap, and the cost-to-position
// cap. Easy-to-borrow symbols bypass the cost guards entirely.
func (e *Engine) Analyze(ctx context.Context, symbol string, desiredShares int64) (models.LocateAnalysis, error) {
	if desiredShares <= 0 {
		return models.LocateAnalysis{}, errors.NewLocateError(symbol, desiredShares,
			[]string{"share count must be positive"}, errors.ErrInvalidOrder)
	}

	analysis := models.LocateAnalysis{
		Symbol:        symbol,
		DesiredShares: desiredShares,
	}

	quote, ok := e.md.Quote(symbol)
	if !ok {
		fetched, err := e.md.FetchQuote(ctx, symbol)
		if err != nil {
			return analysis, errors.Wrap(err, "locate analysis needs a quote")
		}
		quote = fetched
	}
	analysis.CurrentPrice = quote.Last
	analysis.DailyVolume = quote.Volume

	// Volume guard: a request above the cap is rejected as asked; the
	// analysis still carries the largest permitted share count and its
	// cost so the caller can retry at that size.
	allowed := desiredShares
	volumeCapped := false
	if analysis.DailyVolume > 0 {
		maxByVolume := int64(float64(analysis.DailyVolume) * e.cfg.MaxVolumePercent / 100)
		if allowed > maxByVolume {
			allowed = maxByVolume
			volumeCapped = true
			analysis.Reasons = append(analysis.Reasons,
				fmt.Sprintf("request exceeds %.2f%% of daily volume, at most %d of %d shares permitted", e.cfg.MaxVolumePercent, allowed, desiredShares))
		}
	}
	analysis.AllowedShares = allowed
	analysis.LocateShares = e.roundToBlock(allowed)

	if analysis.LocateShares <= 0 {
		analysis.Recommendation = models.LocateReject
		analysis.Reasons = append(analysis.Reasons, "volume guard leaves no shares to locate")
		e.logDecision(analysis)
		return analysis, nil
	}

	locateQuote, err := e.Inquire(ctx, symbol, analysis.LocateShares, models.RouteAll)
	if err != nil {
		return analysis, err
	}
	analysis.Rate = locateQuote.RatePerShare
	analysis.EasyToBorrow = locateQuote.EasyToBorrow
	analysis.TotalCost = locateQuote.RatePerShare * float64(analysis.LocateShares)
	analysis.PositionValue = analysis.CurrentPrice * float64(analysis.LocateShares)
	if analysis.PositionValue > 0 {
		analysis.CostPercent = analysis.TotalCost / analysis.PositionValue * 100
	}

	if !locateQuote.Available {
		analysis.Recommendation = models.LocateReject
		analysis.Reasons = append(analysis.Reasons, "no shares available to locate")
		e.logDecision(analysis)
		return analysis, nil
	}

	if analysis.EasyToBorrow {
		analysis.TotalCost = 0
		analysis.CostPercent = 0
		analysis.Approved = !volumeCapped
		analysis.Reasons = append(analysis.Reasons, "easy to borrow, no locate fee")
		if analysis.Approved {
			analysis.Recommendation = models.LocateApprove
		} else {
			analysis.Recommendation = models.LocateReject
		}
		e.logDecision(analysis)
		return analysis, nil
	}

	approved := !volumeCapped
	if analysis.TotalCost > e.cfg.MaxTotalCost {
		approved = false
		analysis.Reasons = append(analysis.Reasons,
			fmt.Sprintf("total cost $%.4f exceeds cap $%.2f", analysis.TotalCost, e.cfg.MaxTotalCost))
	}
	if analysis.CostPercent > e.cfg.MaxCostPercent {
		approved = false
		analysis.Reasons = append(analysis.Reasons,
			fmt.Sprintf("cost %.3f%% of position value exceeds cap %.2f%%", analysis.CostPercent, e.cfg.MaxCostPercent))
	}

	analysis.Approved = approved
	if approved {
		analysis.Recommendation = models.LocateApprove
		analysis.Reasons = append(analysis.Reasons,
			fmt.Sprintf("cost $%.4f within caps", analysis.TotalCost))
	} else {
		analysis.Recommendation = models.LocateReject
	}
	e.logDecision(analysis)
	return analysis, nil
}

// Ensure analyzes a locate and, when approved, purchases it. Confirmation
// is best effort: the terminal's %SLOrder reply is unreliable, so a quiet
// wire after the send still counts as submitted.
func (e *Engine) Ensure(ctx context.Context, symbol string, desiredShares int64) (models.LocateAnalysis, error) {
	analysis, err := e.Analyze(ctx, symbol, desiredShares)
	if err != nil {
		return analysis, err
	}
	if !analysis.Approved {
		return analysis, errors.NewLocateError(symbol, desiredShares, analysis.Reasons, errors.ErrRejected)
	}
	if analysis.EasyToBorrow {
		// Nothing to buy.
		return analysis, nil
	}
	if err := e.Purchase(ctx, symbol, analysis.LocateShares); err != nil {
		return analysis, err
	}
	return analysis, nil
}

// Purchase submits the locate order on the aggregate route. The command
// carries the route, never a price; the terminal prices it from the
// standing inquiry.
func (e *Engine) Purchase(ctx context.Context, symbol string, shares int64) error {
	_, err := e.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindLocateOrder,
		Text: protocol.BuildLocateOrder(symbol, shares, models.RouteAll),
	})
	if err != nil {
		return errors.NewLocateError(symbol, shares, nil, err)
	}
	e.log.Info().Str("symbol", symbol).Int64("shares", shares).Msg("locate order submitted")
	return nil
}

// Availability queries how many located shares the account currently holds
// for a symbol.
func (e *Engine) Availability(ctx context.Context, symbol string) (int64, error) {
	ev, err := e.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindLocateAvail,
		Text: protocol.BuildLocateAvail(e.account, symbol),
		Match: func(ev protocol.Event) bool {
			ret, ok := ev.(protocol.LocateAvailEvent)
			return ok && ret.Symbol == symbol
		},
	})
	if err != nil {
		return 0, err
	}
	return ev.(protocol.LocateAvailEvent).AvailableShares, nil
}

// RefreshHoldings asks the terminal to replay the account's locate
// holdings; the %LOCATEINFO events land in ApplyLocateInfo.
func (e *Engine) RefreshHoldings(ctx context.Context) error {
	_, err := e.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindGetLocateInfo,
		Text: protocol.CmdGetLocateInfo,
		Match: func(ev protocol.Event) bool {
			_, ok := ev.(protocol.LocateInfoEvent)
			return ok
		},
	})
	return err
}

// ApplyLocateInfo folds a %LOCATEINFO holding snapshot in.
func (e *Engine) ApplyLocateInfo(ev protocol.LocateInfoEvent) {
	e.mu.Lock()
	e.holdings[ev.Symbol] = models.LocateOrder{
		LocateID:  ev.LocateID,
		Symbol:    ev.Symbol,
		Located:   ev.Located,
		Status:    holdingStatus(ev.Located),
		UpdatedAt: time.Now(),
	}
	e.mu.Unlock()
}

// ApplyLocateOrder folds a %SLOrder purchase update in.
func (e *Engine) ApplyLocateOrder(ev protocol.LocateOrderEvent) {
	e.mu.Lock()
	e.holdings[ev.Symbol] = models.LocateOrder{
		LocateID:  ev.LocateID,
		Symbol:    ev.Symbol,
		Status:    ev.Status,
		Details:   ev.Details,
		Located:   ev.Located,
		UpdatedAt: time.Now(),
	}
	e.mu.Unlock()
	e.log.Info().Str("symbol", ev.Symbol).Str("status", ev.Status).Bool("located", ev.Located).Msg("locate order update")
}

// Holding returns the known locate state for a symbol.
func (e *Engine) Holding(symbol string) (models.LocateOrder, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	holding, ok := e.holdings[symbol]
	return holding, ok
}

// Holdings returns every known locate holding.
func (e *Engine) Holdings() []models.LocateOrder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.LocateOrder, 0, len(e.holdings))
	for _, holding := range e.holdings {
		out = append(out, holding)
	}
	return out
}

// DropQuoteCache clears cached inquiry results. The session calls it on
// reconnect, when the inquiry exclusivity also resets.
func (e *Engine) DropQuoteCache() {
	e.mu.Lock()
	e.quotes = make(map[string]models.LocateQuote)
	e.mu.Unlock()
}

func (e *Engine) cachedQuote(symbol string) (models.LocateQuote, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	quote, ok := e.quotes[symbol]
	return quote, ok
}

// roundToBlock rounds shares up to the next block multiple.
func (e *Engine) roundToBlock(shares int64) int64 {
	block := e.cfg.BlockSize
	if shares%block == 0 {
		return shares
	}
	return (shares/block + 1) * block
}

func (e *Engine) logDecision(analysis models.LocateAnalysis) {
	logging.LogLocate(e.log, analysis.Symbol, analysis.LocateShares, analysis.Rate, analysis.Approved, analysis.Reasons)
}

func holdingStatus(located bool) string {
	if located {
		return "Located"
	}
	return "Pending"
}
