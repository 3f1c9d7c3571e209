// Package client is the engine facade: one Client wires the session, the
// dispatcher, the trackers, market data, locates and the fan-out hub into a
// single trading surface.
package client

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/config"
	"github.com/jefrnc/das-bridge/internal/dispatch"
	"github.com/jefrnc/das-bridge/internal/errors"
	"github.com/jefrnc/das-bridge/internal/locates"
	"github.com/jefrnc/das-bridge/internal/marketdata"
	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/notify"
	"github.com/jefrnc/das-bridge/internal/orders"
	"github.com/jefrnc/das-bridge/internal/positions"
	"github.com/jefrnc/das-bridge/internal/protocol"
	"github.com/jefrnc/das-bridge/internal/risk"
	"github.com/jefrnc/das-bridge/internal/session"
	"github.com/jefrnc/das-bridge/internal/store"
	"github.com/jefrnc/das-bridge/internal/stream"
)

// Client is the trading engine. Create it with New, connect with Connect,
// and shut down with Close. All methods are safe for concurrent use.
type Client struct {
	settings config.Settings
	log      zerolog.Logger

	disp      *dispatch.Dispatcher
	sess      *session.Session
	orders    *orders.Tracker
	positions *positions.Tracker
	md        *marketdata.Manager
	locates   *locates.Engine
	risk      *risk.Checker
	hub       *stream.Hub
	notifier  notify.Notifier
	journal   store.Journal

	hubCancel context.CancelFunc
}

// New assembles an engine from settings. It does not touch the network.
func New(settings config.Settings, logger zerolog.Logger) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	disp := dispatch.New(logger, settings.Connection.CommandTimeout)
	md := marketdata.NewManager(disp, settings.MarketData, logger)

	c := &Client{
		settings:  settings,
		log:       logger.With().Str("component", "client").Logger(),
		disp:      disp,
		orders:    orders.NewTracker(logger),
		positions: positions.NewTracker(logger),
		md:        md,
		locates:   locates.NewEngine(disp, md, settings.Locates, settings.Credentials.Account, logger),
		risk:      risk.NewChecker(risk.Limits{}, logger),
		hub:       stream.NewHub(),
		notifier:  notify.NewNoOpNotifier(),
		journal:   store.NoOpJournal{},
	}

	if settings.Notifications.Enabled {
		mn := notify.NewMultiNotifier(settings.Notifications)
		mn.AddChannel(notify.NewTerminalChannel())
		c.notifier = mn
	}
	if settings.Store.Enabled {
		journal, err := store.NewSQLiteJournal(settings.Store.Path)
		if err != nil {
			return nil, errors.Wrap(err, "open journal")
		}
		c.journal = journal
	}

	c.sess = session.New(settings.Connection, settings.Credentials, disp, logger)
	c.sess.SetEventHandler(c.handleEvent)
	c.sess.SetStateHandler(c.handleState)
	c.sess.SetReadyHook(c.onReady)

	// Journal writes and notifications run as a hub consumer, off the
	// read loop's apply path.
	c.hub.RegisterConsumer(stream.NewConsumerFunc(
		[]stream.Topic{stream.TopicOrders, stream.TopicFills, stream.TopicLocates, stream.TopicSession},
		c.recordMessage))

	c.orders.SetUpdateHandler(c.onOrderUpdate)
	c.orders.SetFillHandler(c.onFill)
	c.positions.SetUpdateHandler(c.onPositionUpdate)
	c.md.SetQuoteHandler(c.onQuote)
	c.md.SetTimeSaleHandler(c.onTimeSale)
	c.md.SetDepthHandler(c.onDepth)

	return c, nil
}

// SetRiskLimits replaces the pre-trade risk limits.
func (c *Client) SetRiskLimits(limits risk.Limits) {
	c.risk = risk.NewChecker(limits, c.log)
}

// Connect dials the terminal, authenticates and starts the background
// machinery. It returns once the session is ready.
func (c *Client) Connect(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(context.Background())
	c.hubCancel = cancel
	c.hub.Start(hubCtx)

	if err := c.sess.Connect(ctx); err != nil {
		cancel()
		return err
	}
	return nil
}

// Close shuts the engine down: session, hub, journal.
func (c *Client) Close() error {
	err := c.sess.Close()
	if c.hubCancel != nil {
		c.hubCancel()
	}
	c.hub.Stop()
	if jerr := c.journal.Close(); err == nil {
		err = jerr
	}
	return err
}

// State returns the session lifecycle state.
func (c *Client) State() session.State {
	return c.sess.State()
}

// Hub exposes the fan-out hub for channel consumers.
func (c *Client) Hub() *stream.Hub {
	return c.hub
}

// Ping round-trips an ECHO through the terminal.
func (c *Client) Ping(ctx context.Context) error {
	token := protocol.NewToken()
	_, err := c.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindEcho,
		Text: protocol.CmdEcho + " " + token,
		Match: func(ev protocol.Event) bool {
			reply, ok := ev.(protocol.PlainReply)
			return ok && strings.Contains(reply.Text, token)
		},
	})
	return err
}

// PlaceOrder validates and submits an order, returning its state after the
// terminal's first acknowledgement. The order carries a client-generated
// token the terminal echoes back, which is how the reply is correlated.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	if !protocol.ValidateSymbol(req.Symbol) {
		return models.Order{}, errors.ErrInvalidSymbol
	}
	if req.Quantity <= 0 {
		return models.Order{}, errors.ErrInvalidOrder
	}

	price := req.LimitPrice
	if price <= 0 {
		if quote, ok := c.md.Quote(req.Symbol); ok {
			price = quote.Last
		}
	}
	if err := c.risk.ValidateOrder(req, price, c.positions.BuyingPower()); err != nil {
		return models.Order{}, err
	}

	token := protocol.NewToken()
	order := c.orders.Register(token, req)

	ev, err := c.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindNewOrder,
		Text: protocol.BuildNewOrder(token, req),
		Match: func(ev protocol.Event) bool {
			switch e := ev.(type) {
			case protocol.OrderEvent:
				return e.OrderID == token
			case protocol.ErrorReply:
				return e.Severity == protocol.PrefixError
			}
			return false
		},
	})
	if err != nil {
		if errors.Is(err, errors.ErrRejected) {
			// The tracker should reflect the rejection too.
			c.orders.Apply(protocol.OrderEvent{
				OrderID: token, Symbol: req.Symbol, Side: req.Side,
				Quantity: req.Quantity, Status: models.StatusRejected,
				RawStatus: "Rejected",
			})
		}
		return order, errors.NewOrderError(token, req.Symbol, "place", "order not acknowledged", err)
	}

	if _, ok := ev.(protocol.OrderEvent); ok {
		if tracked, found := c.orders.Get(token); found {
			return tracked, nil
		}
	}
	return order, nil
}

// CancelOrder asks the terminal to cancel an order and waits for the
// acknowledgement.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if _, ok := c.orders.Get(orderID); !ok {
		return errors.ErrUnknownOrder
	}
	_, err := c.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindCancel,
		Text: protocol.BuildCancel(orderID),
		Match: func(ev protocol.Event) bool {
			switch e := ev.(type) {
			case protocol.OrderActionEvent:
				return e.OrderID == orderID
			case protocol.OrderEvent:
				return e.OrderID == orderID && e.Status.IsTerminal()
			}
			return false
		},
	})
	if err != nil {
		return errors.NewOrderError(orderID, "", "cancel", "cancel not acknowledged", err)
	}
	return nil
}

// CancelAll cancels every open order. Fire and forget; the terminal
// reports results through %ORDER updates.
func (c *Client) CancelAll(ctx context.Context) error {
	_, err := c.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindCancelAll,
		Text: protocol.BuildCancelAll(),
	})
	return err
}

// ReplaceOrder modifies a live order's price or size.
func (c *Client) ReplaceOrder(ctx context.Context, req models.ModifyRequest) (models.Order, error) {
	order, ok := c.orders.Get(req.OrderID)
	if !ok {
		return models.Order{}, errors.ErrUnknownOrder
	}
	if order.Status.IsTerminal() {
		return order, errors.NewOrderError(req.OrderID, order.Symbol, "replace", "order already terminal", errors.ErrInvalidOrder)
	}

	_, err := c.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindReplace,
		Text: protocol.BuildReplace(req),
		Match: func(ev protocol.Event) bool {
			switch e := ev.(type) {
			case protocol.OrderActionEvent:
				return e.OrderID == req.OrderID
			case protocol.OrderEvent:
				return e.OrderID == req.OrderID
			}
			return false
		},
	})
	if err != nil {
		return order, errors.NewOrderError(req.OrderID, order.Symbol, "replace", "replace not acknowledged", err)
	}
	updated, _ := c.orders.Get(req.OrderID)
	return updated, nil
}

// Order returns one tracked order.
func (c *Client) Order(orderID string) (models.Order, bool) {
	return c.orders.Get(orderID)
}

// Orders returns every tracked order.
func (c *Client) Orders() []models.Order {
	return c.orders.All()
}

// OpenOrders returns tracked orders that can still fill.
func (c *Client) OpenOrders() []models.Order {
	return c.orders.Open()
}

// Position returns the position for a symbol.
func (c *Client) Position(symbol string) (models.Position, bool) {
	return c.positions.Get(symbol)
}

// Positions returns every nonzero position.
func (c *Client) Positions() []models.Position {
	return c.positions.Open()
}

// RefreshPositions asks the terminal to replay position snapshots. The
// %POS events land asynchronously.
func (c *Client) RefreshPositions(ctx context.Context) error {
	_, err := c.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindPosRefresh,
		Text: protocol.CmdPosRefresh,
	})
	return err
}

// BuyingPower fetches a fresh account snapshot.
func (c *Client) BuyingPower(ctx context.Context) (models.BuyingPower, error) {
	ev, err := c.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindGetBP,
		Text: protocol.CmdGetBP,
		Match: func(ev protocol.Event) bool {
			_, ok := ev.(protocol.BuyingPowerEvent)
			return ok
		},
	})
	if err != nil {
		return models.BuyingPower{}, err
	}
	c.positions.SetBuyingPower(ev.(protocol.BuyingPowerEvent))
	return c.positions.BuyingPower(), nil
}

// CachedBuyingPower returns the last %BP snapshot without a wire trip.
func (c *Client) CachedBuyingPower() models.BuyingPower {
	return c.positions.BuyingPower()
}

// ShortInfo fetches shortability for a symbol.
func (c *Client) ShortInfo(ctx context.Context, symbol string) (models.ShortInfo, error) {
	if !protocol.ValidateSymbol(symbol) {
		return models.ShortInfo{}, errors.ErrInvalidSymbol
	}
	ev, err := c.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindGetShortInfo,
		Text: protocol.BuildGetShortInfo(symbol),
		Match: func(ev protocol.Event) bool {
			info, ok := ev.(protocol.ShortInfoEvent)
			return ok && info.Symbol == symbol
		},
	})
	if err != nil {
		return models.ShortInfo{}, err
	}
	info := ev.(protocol.ShortInfoEvent)
	return models.ShortInfo{
		Symbol:          info.Symbol,
		Shortable:       info.Shortable,
		Rate:            info.Rate,
		AvailableShares: info.AvailableShares,
	}, nil
}

// RouteStatus fetches the current route table.
func (c *Client) RouteStatus(ctx context.Context) ([]protocol.RouteStatusEvent, error) {
	ev, err := c.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindRouteStatus,
		Text: protocol.CmdRouteStatus,
		Match: func(ev protocol.Event) bool {
			_, ok := ev.(protocol.RouteStatusEvent)
			return ok
		},
	})
	if err != nil {
		return nil, err
	}
	return []protocol.RouteStatusEvent{ev.(protocol.RouteStatusEvent)}, nil
}

// Subscribe starts streaming market data for a symbol at a level.
func (c *Client) Subscribe(ctx context.Context, symbol string, level models.MarketDataLevel) error {
	return c.md.Subscribe(ctx, symbol, level)
}

// Unsubscribe stops one reference to a streaming subscription.
func (c *Client) Unsubscribe(ctx context.Context, symbol string, level models.MarketDataLevel) error {
	return c.md.Unsubscribe(ctx, symbol, level)
}

// Quote returns the cached level-1 quote.
func (c *Client) Quote(symbol string) (models.Quote, bool) {
	return c.md.Quote(symbol)
}

// GetQuote fetches a one-shot quote from the terminal.
func (c *Client) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	return c.md.FetchQuote(ctx, symbol)
}

// GetChart fetches historical bars.
func (c *Client) GetChart(ctx context.Context, symbol string, chartType models.ChartType, count int) ([]models.ChartBar, error) {
	return c.md.FetchChart(ctx, symbol, chartType, count)
}

// TimeSales returns the buffered prints for a symbol.
func (c *Client) TimeSales(symbol string) []models.TimeSale {
	return c.md.TimeSales(symbol)
}

// Depth returns the level-2 book snapshot.
func (c *Client) Depth(symbol string) models.DepthBook {
	return c.md.Depth(symbol)
}

// AnalyzeLocate evaluates a short locate without buying it.
func (c *Client) AnalyzeLocate(ctx context.Context, symbol string, shares int64) (models.LocateAnalysis, error) {
	analysis, err := c.locates.Analyze(ctx, symbol, shares)
	if err == nil {
		c.publishLocate(analysis)
	}
	return analysis, err
}

// EnsureLocate analyzes and, when approved, purchases a short locate.
func (c *Client) EnsureLocate(ctx context.Context, symbol string, shares int64) (models.LocateAnalysis, error) {
	analysis, err := c.locates.Ensure(ctx, symbol, shares)
	c.publishLocate(analysis)
	return analysis, err
}

// LocateAvailability queries located shares held for a symbol.
func (c *Client) LocateAvailability(ctx context.Context, symbol string) (int64, error) {
	return c.locates.Availability(ctx, symbol)
}

// LocateHoldings returns every known locate holding.
func (c *Client) LocateHoldings() []models.LocateOrder {
	return c.locates.Holdings()
}

// handleEvent routes every inbound event to its state manager. It runs on
// the read loop goroutine, before dispatcher correlation, so state always
// reflects arrival order.
func (c *Client) handleEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.OrderEvent:
		c.orders.Apply(e)
	case protocol.OrderActionEvent:
		c.orders.ApplyAction(e)
	case protocol.TradeEvent:
		c.positions.ApplyFill(e.Symbol, e.Side, e.Quantity, e.Price)
	case protocol.PositionEvent:
		c.positions.ApplySnapshot(e)
	case protocol.BuyingPowerEvent:
		c.positions.SetBuyingPower(e)
	case protocol.QuoteEvent:
		c.md.ApplyQuote(e)
		c.positions.MarkPrice(e.Quote.Symbol, e.Quote.Last)
	case protocol.DepthEvent:
		c.md.ApplyDepth(e)
	case protocol.TimeSalesEvent:
		c.md.ApplyTimeSale(e)
	case protocol.ChartBarEvent:
		c.md.ApplyBar(e)
	case protocol.LimitDownUpEvent:
		c.md.ApplyLimitBand(e)
	case protocol.LocateInfoEvent:
		c.locates.ApplyLocateInfo(e)
	case protocol.LocateOrderEvent:
		c.locates.ApplyLocateOrder(e)
		c.hub.Publish(stream.Message{Topic: stream.TopicLocates, Symbol: e.Symbol, Payload: e})
	case protocol.ErrorReply:
		if e.Severity == "PARSE" {
			c.log.Warn().Str("raw", e.RawLine()).Msg("unparseable line")
		} else if e.Severity == protocol.PrefixError {
			c.log.Error().Str("message", e.Message).Msg("server error")
		}
	}
}

// handleState reacts to session transitions.
func (c *Client) handleState(st session.State) {
	c.hub.Publish(stream.Message{Topic: stream.TopicSession, Payload: st.String()})
}

// onReady rebuilds per-connection state after each login. Subscriptions
// are replayed from refcounts; snapshots are refreshed once; cached locate
// quotes are dropped along with the inquiry exclusivity.
func (c *Client) onReady(ctx context.Context, reconnect bool) error {
	if reconnect {
		c.locates.DropQuoteCache()
		if err := c.md.Resubscribe(ctx); err != nil {
			return err
		}
	}
	if err := c.RefreshPositions(ctx); err != nil {
		return err
	}
	// Snapshot buying power in the background; the reply lands in the
	// position tracker either way.
	go func() {
		bpCtx, cancel := context.WithTimeout(context.Background(), c.settings.Connection.CommandTimeout)
		defer cancel()
		if _, err := c.BuyingPower(bpCtx); err != nil {
			c.log.Warn().Err(err).Msg("buying power refresh failed")
		}
	}()
	return nil
}

func (c *Client) onOrderUpdate(order models.Order) {
	c.hub.Publish(stream.Message{Topic: stream.TopicOrders, Symbol: order.Symbol, Payload: order})
}

func (c *Client) onFill(order models.Order, delta int64, price float64) {
	c.positions.ApplyFill(order.Symbol, order.Side, delta, price)
	c.hub.Publish(stream.Message{Topic: stream.TopicFills, Symbol: order.Symbol, Payload: models.Fill{
		Order:    order,
		Quantity: delta,
		Price:    price,
		Time:     time.Now(),
	}})
}

func (c *Client) onPositionUpdate(pos models.Position) {
	c.hub.Publish(stream.Message{Topic: stream.TopicPositions, Symbol: pos.Symbol, Payload: pos})
}

func (c *Client) onQuote(quote models.Quote) {
	c.hub.Publish(stream.Message{Topic: stream.TopicQuotes, Symbol: quote.Symbol, Payload: quote})
}

func (c *Client) onTimeSale(sale models.TimeSale) {
	c.hub.Publish(stream.Message{Topic: stream.TopicTimeSales, Symbol: sale.Symbol, Payload: sale})
}

func (c *Client) onDepth(update models.DepthUpdate) {
	c.hub.Publish(stream.Message{Topic: stream.TopicDepth, Symbol: update.Symbol, Payload: update})
}

func (c *Client) publishLocate(analysis models.LocateAnalysis) {
	if analysis.Symbol == "" {
		return
	}
	c.hub.Publish(stream.Message{Topic: stream.TopicLocates, Symbol: analysis.Symbol, Payload: analysis})
}

// recordMessage journals and notifies hub traffic. The hub runs each
// delivery in its own goroutine, so a slow disk or webhook never stalls
// the read loop, heartbeats, or command resolution.
func (c *Client) recordMessage(msg stream.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch p := msg.Payload.(type) {
	case models.Order:
		if err := c.journal.RecordOrder(ctx, p); err != nil {
			c.log.Warn().Err(err).Str("order_id", p.ID).Msg("journal order failed")
		}
		if p.Status.IsTerminal() {
			if err := c.notifier.SendOrder(ctx, p); err != nil {
				c.log.Warn().Err(err).Msg("order notification failed")
			}
		}
	case models.Fill:
		if err := c.journal.RecordFill(ctx, store.FillRecord{
			OrderID:   p.Order.ID,
			Symbol:    p.Order.Symbol,
			Side:      p.Order.Side,
			Quantity:  p.Quantity,
			Price:     p.Price,
			Timestamp: p.Time,
		}); err != nil {
			c.log.Warn().Err(err).Str("order_id", p.Order.ID).Msg("journal fill failed")
		}
		if err := c.notifier.SendFill(ctx, p.Order, p.Quantity, p.Price); err != nil {
			c.log.Warn().Err(err).Msg("fill notification failed")
		}
	case models.LocateAnalysis:
		if err := c.journal.RecordLocate(ctx, p); err != nil {
			c.log.Warn().Err(err).Msg("journal locate failed")
		}
		if err := c.notifier.SendLocate(ctx, p); err != nil {
			c.log.Warn().Err(err).Msg("locate notification failed")
		}
	case string:
		// Session state transitions travel as strings.
		if err := c.journal.RecordSessionEvent(ctx, p); err != nil {
			c.log.Warn().Err(err).Msg("journal session event failed")
		}
		if err := c.notifier.SendSession(ctx, p); err != nil {
			c.log.Warn().Err(err).Msg("session notification failed")
		}
	}
}
