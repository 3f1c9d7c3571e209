// Package marketdata manages market data subscriptions and the in-memory
// caches they feed: level-1 quotes, the level-2 book, bounded time-and-sales
// history, chart bars and limit bands.
package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/config"
	"github.com/jefrnc/das-bridge/internal/dispatch"
	"github.com/jefrnc/das-bridge/internal/errors"
	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/protocol"
)

// QuoteHandler receives level-1 ticks.
type QuoteHandler func(quote models.Quote)

// TimeSaleHandler receives time-and-sales prints.
type TimeSaleHandler func(sale models.TimeSale)

// DepthHandler receives level-2 book updates.
type DepthHandler func(update models.DepthUpdate)

type subKey struct {
	symbol string
	level  models.MarketDataLevel
}

// bookKey identifies one level-2 line: a market maker on one side.
type bookKey struct {
	side string
	mmid string
}

// Manager owns subscription refcounts and the market data caches. The wire
// only ever carries one SB per symbol and level no matter how many engine
// consumers asked for it.
type Manager struct {
	disp *dispatch.Dispatcher
	cfg  config.MarketDataConfig
	log  zerolog.Logger

	mu     sync.RWMutex
	subs   map[subKey]int
	quotes map[string]models.Quote
	sales  map[string]*saleRing
	books  map[string]map[bookKey]models.DepthUpdate
	bars   map[string][]models.ChartBar
	bands  map[string]protocol.LimitDownUpEvent

	onQuote    QuoteHandler
	onTimeSale TimeSaleHandler
	onDepth    DepthHandler
}

// NewManager creates a market data manager.
func NewManager(disp *dispatch.Dispatcher, cfg config.MarketDataConfig, logger zerolog.Logger) *Manager {
	if cfg.TimeSalesCap <= 0 {
		cfg.TimeSalesCap = 1000
	}
	if cfg.DepthCap <= 0 {
		cfg.DepthCap = 200
	}
	return &Manager{
		disp:   disp,
		cfg:    cfg,
		log:    logger.With().Str("component", "marketdata").Logger(),
		subs:   make(map[subKey]int),
		quotes: make(map[string]models.Quote),
		sales:  make(map[string]*saleRing),
		books:  make(map[string]map[bookKey]models.DepthUpdate),
		bars:   make(map[string][]models.ChartBar),
		bands:  make(map[string]protocol.LimitDownUpEvent),
	}
}

// SetQuoteHandler installs the level-1 tick callback.
func (m *Manager) SetQuoteHandler(h QuoteHandler) {
	m.mu.Lock()
	m.onQuote = h
	m.mu.Unlock()
}

// SetTimeSaleHandler installs the time-and-sales callback.
func (m *Manager) SetTimeSaleHandler(h TimeSaleHandler) {
	m.mu.Lock()
	m.onTimeSale = h
	m.mu.Unlock()
}

// SetDepthHandler installs the level-2 callback.
func (m *Manager) SetDepthHandler(h DepthHandler) {
	m.mu.Lock()
	m.onDepth = h
	m.mu.Unlock()
}

// Subscribe adds one reference to (symbol, level); the first reference
// sends SB on the wire.
func (m *Manager) Subscribe(ctx context.Context, symbol string, level models.MarketDataLevel) error {
	if !protocol.ValidateSymbol(symbol) {
		return errors.ErrInvalidSymbol
	}
	key := subKey{symbol, level}

	m.mu.Lock()
	m.subs[key]++
	first := m.subs[key] == 1
	m.mu.Unlock()

	if !first {
		return nil
	}

	_, err := m.disp.Submit(ctx, dispatch.Command{
		Kind:   dispatch.KindSubscribe,
		Symbol: symbol,
		Text:   protocol.BuildSubscribe(symbol, level),
	})
	if err != nil {
		m.mu.Lock()
		m.subs[key]--
		if m.subs[key] <= 0 {
			delete(m.subs, key)
		}
		m.mu.Unlock()
		return err
	}
	m.log.Debug().Str("symbol", symbol).Str("level", string(level)).Msg("subscribed")
	return nil
}

// Unsubscribe drops one reference; the last reference sends UNSB. Extra
// unsubscribes are ignored.
func (m *Manager) Unsubscribe(ctx context.Context, symbol string, level models.MarketDataLevel) error {
	key := subKey{symbol, level}

	m.mu.Lock()
	count, ok := m.subs[key]
	if !ok {
		m.mu.Unlock()
		return errors.ErrNotSubscribed
	}
	count--
	last := count == 0
	if last {
		delete(m.subs, key)
	} else {
		m.subs[key] = count
	}
	m.mu.Unlock()

	if !last {
		return nil
	}

	_, err := m.disp.Submit(ctx, dispatch.Command{
		Kind:   dispatch.KindUnsubscribe,
		Symbol: symbol,
		Text:   protocol.BuildUnsubscribe(symbol, level),
	})
	if err != nil {
		// The wire subscription is still live; restore the reference so
		// state and wire agree and a reconnect replays it.
		m.mu.Lock()
		m.subs[key]++
		m.mu.Unlock()
		return err
	}
	m.log.Debug().Str("symbol", symbol).Str("level", string(level)).Msg("unsubscribed")
	return nil
}

// Resubscribe re-issues SB for every live subscription. The session calls
// it after a reconnect; refcounts are preserved, only the wire state is
// rebuilt.
func (m *Manager) Resubscribe(ctx context.Context) error {
	m.mu.RLock()
	keys := make([]subKey, 0, len(m.subs))
	for key := range m.subs {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	for _, key := range keys {
		_, err := m.disp.Submit(ctx, dispatch.Command{
			Kind:   dispatch.KindSubscribe,
			Symbol: key.symbol,
			Text:   protocol.BuildSubscribe(key.symbol, key.level),
		})
		if err != nil {
			return errors.Wrapf(err, "resubscribe %s %s", key.symbol, key.level)
		}
	}
	if len(keys) > 0 {
		m.log.Info().Int("count", len(keys)).Msg("resubscribed market data")
	}
	return nil
}

// SubscriptionCount returns the refcount for (symbol, level).
func (m *Manager) SubscriptionCount(symbol string, level models.MarketDataLevel) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subs[subKey{symbol, level}]
}

// ApplyQuote folds a $Quote tick into the cache.
func (m *Manager) ApplyQuote(ev protocol.QuoteEvent) {
	m.mu.Lock()
	m.quotes[ev.Quote.Symbol] = ev.Quote
	handler := m.onQuote
	m.mu.Unlock()
	if handler != nil {
		handler(ev.Quote)
	}
}

// ApplyTimeSale appends a $T&S print to the bounded ring.
func (m *Manager) ApplyTimeSale(ev protocol.TimeSalesEvent) {
	m.mu.Lock()
	ring, ok := m.sales[ev.Sale.Symbol]
	if !ok {
		ring = newSaleRing(m.cfg.TimeSalesCap)
		m.sales[ev.Sale.Symbol] = ring
	}
	ring.push(ev.Sale)
	handler := m.onTimeSale
	m.mu.Unlock()
	if handler != nil {
		handler(ev.Sale)
	}
}

// ApplyDepth folds a $Lv2 line into the book. A size of zero removes the
// market maker's line from that side.
func (m *Manager) ApplyDepth(ev protocol.DepthEvent) {
	update := ev.Update
	key := bookKey{side: update.Side, mmid: update.MMID}

	m.mu.Lock()
	book, ok := m.books[update.Symbol]
	if !ok {
		book = make(map[bookKey]models.DepthUpdate)
		m.books[update.Symbol] = book
	}
	if update.Size == 0 {
		delete(book, key)
	} else if len(book) < m.cfg.DepthCap || hasKey(book, key) {
		book[key] = update
	}
	handler := m.onDepth
	m.mu.Unlock()
	if handler != nil {
		handler(update)
	}
}

// ApplyBar appends a $Chart bar to the symbol's collection.
func (m *Manager) ApplyBar(ev protocol.ChartBarEvent) {
	m.mu.Lock()
	m.bars[ev.Bar.Symbol] = append(m.bars[ev.Bar.Symbol], ev.Bar)
	m.mu.Unlock()
}

// ApplyLimitBand stores a $LDLU band update.
func (m *Manager) ApplyLimitBand(ev protocol.LimitDownUpEvent) {
	m.mu.Lock()
	m.bands[ev.Symbol] = ev
	m.mu.Unlock()
}

// Quote returns the cached level-1 quote for a symbol.
func (m *Manager) Quote(symbol string) (models.Quote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	quote, ok := m.quotes[symbol]
	return quote, ok
}

// FetchQuote asks the terminal for a one-shot quote, bypassing streaming
// subscriptions, and waits for the reply.
func (m *Manager) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if !protocol.ValidateSymbol(symbol) {
		return models.Quote{}, errors.ErrInvalidSymbol
	}
	ev, err := m.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindGetQuote,
		Text: protocol.BuildGetQuote(symbol),
		Match: func(ev protocol.Event) bool {
			quote, ok := ev.(protocol.QuoteEvent)
			return ok && quote.Quote.Symbol == symbol
		},
	})
	if err != nil {
		return models.Quote{}, err
	}
	return ev.(protocol.QuoteEvent).Quote, nil
}

// FetchChart requests historical bars and collects them as they stream in.
// The terminal does not delimit the reply, so collection ends when the
// stream goes quiet or the context expires; whatever arrived is returned.
func (m *Manager) FetchChart(ctx context.Context, symbol string, chartType models.ChartType, count int) ([]models.ChartBar, error) {
	if !protocol.ValidateSymbol(symbol) {
		return nil, errors.ErrInvalidSymbol
	}

	m.mu.Lock()
	delete(m.bars, symbol)
	m.mu.Unlock()

	_, err := m.disp.Submit(ctx, dispatch.Command{
		Kind: dispatch.KindGetChart,
		Text: protocol.BuildGetChart(symbol, chartType, count),
	})
	if err != nil {
		return nil, err
	}

	const quiet = 500 * time.Millisecond
	ticker := time.NewTicker(quiet)
	defer ticker.Stop()

	last := 0
	for {
		select {
		case <-ctx.Done():
			return m.Bars(symbol), nil
		case <-ticker.C:
		}
		n := len(m.Bars(symbol))
		if n > 0 && n == last {
			return m.Bars(symbol), nil
		}
		last = n
	}
}

// TimeSales returns the buffered prints for a symbol, oldest first.
func (m *Manager) TimeSales(symbol string) []models.TimeSale {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ring, ok := m.sales[symbol]
	if !ok {
		return nil
	}
	return ring.snapshot()
}

// Depth returns a sorted snapshot of the level-2 book: bids descending,
// asks ascending.
func (m *Manager) Depth(symbol string) models.DepthBook {
	m.mu.RLock()
	book := m.books[symbol]
	snapshot := models.DepthBook{Symbol: symbol}
	for _, update := range book {
		if update.Side == "BID" {
			snapshot.Bids = append(snapshot.Bids, update)
		} else {
			snapshot.Asks = append(snapshot.Asks, update)
		}
	}
	m.mu.RUnlock()

	sort.Slice(snapshot.Bids, func(i, j int) bool { return snapshot.Bids[i].Price > snapshot.Bids[j].Price })
	sort.Slice(snapshot.Asks, func(i, j int) bool { return snapshot.Asks[i].Price < snapshot.Asks[j].Price })
	return snapshot
}

// Bars returns the collected chart bars for a symbol.
func (m *Manager) Bars(symbol string) []models.ChartBar {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bars := m.bars[symbol]
	out := make([]models.ChartBar, len(bars))
	copy(out, bars)
	return out
}

// LimitBand returns the last $LDLU band for a symbol.
func (m *Manager) LimitBand(symbol string) (down, up float64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	band, ok := m.bands[symbol]
	return band.LimitDown, band.LimitUp, ok
}

func hasKey(book map[bookKey]models.DepthUpdate, key bookKey) bool {
	_, ok := book[key]
	return ok
}
