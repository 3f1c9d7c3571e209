package marketdata

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/config"
	"github.com/jefrnc/das-bridge/internal/dispatch"
	"github.com/jefrnc/das-bridge/internal/errors"
	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/protocol"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (r *lineRecorder) WriteLine(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.lines = append(r.lines, line)
	return nil
}

func (r *lineRecorder) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *lineRecorder) written() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func newManager(t *testing.T) (*Manager, *lineRecorder) {
	t.Helper()
	d := dispatch.New(zerolog.Nop(), 0)
	w := &lineRecorder{}
	d.Bind(w)
	m := NewManager(d, config.MarketDataConfig{TimeSalesCap: 5, DepthCap: 3}, zerolog.Nop())
	return m, w
}

func TestSubscribeSendsOnFirstReferenceOnly(t *testing.T) {
	m, w := newManager(t)
	ctx := context.Background()

	if err := m.Subscribe(ctx, "AAPL", models.LevelQuote); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := m.Subscribe(ctx, "AAPL", models.LevelQuote); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}

	if lines := w.written(); len(lines) != 1 || lines[0] != "SB AAPL Lv1" {
		t.Fatalf("written = %v, want one SB", lines)
	}
	if got := m.SubscriptionCount("AAPL", models.LevelQuote); got != 2 {
		t.Errorf("refcount = %d, want 2", got)
	}
}

func TestUnsubscribeSendsOnLastReferenceOnly(t *testing.T) {
	m, w := newManager(t)
	ctx := context.Background()

	m.Subscribe(ctx, "AAPL", models.LevelQuote)
	m.Subscribe(ctx, "AAPL", models.LevelQuote)

	if err := m.Unsubscribe(ctx, "AAPL", models.LevelQuote); err != nil {
		t.Fatalf("first unsubscribe: %v", err)
	}
	if lines := w.written(); len(lines) != 1 {
		t.Fatalf("UNSB sent before refcount hit zero: %v", lines)
	}

	if err := m.Unsubscribe(ctx, "AAPL", models.LevelQuote); err != nil {
		t.Fatalf("last unsubscribe: %v", err)
	}
	lines := w.written()
	if len(lines) != 2 || lines[1] != "UNSB AAPL Lv1" {
		t.Fatalf("written = %v, want trailing UNSB", lines)
	}
}

func TestUnsubscribeRestoresRefcountOnWriteFailure(t *testing.T) {
	m, w := newManager(t)
	ctx := context.Background()

	if err := m.Subscribe(ctx, "AAPL", models.LevelQuote); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	w.setErr(io.ErrClosedPipe)
	if err := m.Unsubscribe(ctx, "AAPL", models.LevelQuote); err == nil {
		t.Fatal("Unsubscribe succeeded with a failing writer")
	}
	// The wire subscription never went away, so the reference must
	// survive for a later retry or reconnect replay.
	if got := m.SubscriptionCount("AAPL", models.LevelQuote); got != 1 {
		t.Fatalf("refcount = %d, want 1", got)
	}

	w.setErr(nil)
	if err := m.Unsubscribe(ctx, "AAPL", models.LevelQuote); err != nil {
		t.Fatalf("retry unsubscribe: %v", err)
	}
	lines := w.written()
	if len(lines) == 0 || lines[len(lines)-1] != "UNSB AAPL Lv1" {
		t.Errorf("written = %v, want trailing UNSB", lines)
	}
	if got := m.SubscriptionCount("AAPL", models.LevelQuote); got != 0 {
		t.Errorf("refcount = %d, want 0", got)
	}
}

func TestUnsubscribeWithoutSubscription(t *testing.T) {
	m, _ := newManager(t)
	err := m.Unsubscribe(context.Background(), "AAPL", models.LevelQuote)
	if !errors.Is(err, errors.ErrNotSubscribed) {
		t.Fatalf("err = %v, want ErrNotSubscribed", err)
	}
}

func TestSubscribeRejectsBadSymbol(t *testing.T) {
	m, w := newManager(t)
	err := m.Subscribe(context.Background(), "BAD SYMBOL", models.LevelQuote)
	if !errors.Is(err, errors.ErrInvalidSymbol) {
		t.Fatalf("err = %v, want ErrInvalidSymbol", err)
	}
	if len(w.written()) != 0 {
		t.Error("invalid symbol reached the wire")
	}
}

func TestResubscribeReplaysAllLevels(t *testing.T) {
	m, w := newManager(t)
	ctx := context.Background()

	m.Subscribe(ctx, "AAPL", models.LevelQuote)
	m.Subscribe(ctx, "AAPL", models.LevelDepth)
	m.Subscribe(ctx, "TSLA", models.LevelQuote)
	// Extra references must not multiply the replay.
	m.Subscribe(ctx, "TSLA", models.LevelQuote)

	before := len(w.written())
	if err := m.Resubscribe(ctx); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}

	replayed := w.written()[before:]
	if len(replayed) != 3 {
		t.Fatalf("replayed %d lines, want 3: %v", len(replayed), replayed)
	}
	want := map[string]bool{"SB AAPL Lv1": true, "SB AAPL Lv2": true, "SB TSLA Lv1": true}
	for _, line := range replayed {
		if !want[line] {
			t.Errorf("unexpected replay line %q", line)
		}
	}
}

func TestQuoteCache(t *testing.T) {
	m, _ := newManager(t)

	var ticks []models.Quote
	m.SetQuoteHandler(func(q models.Quote) { ticks = append(ticks, q) })

	ev := protocol.Parse("$Quote AAPL 185.48 185.52 185.50 42000000").(protocol.QuoteEvent)
	m.ApplyQuote(ev)

	q, ok := m.Quote("AAPL")
	if !ok || q.Last != 185.5 {
		t.Fatalf("cached quote = %+v, ok=%v", q, ok)
	}
	if len(ticks) != 1 {
		t.Errorf("quote handler fired %d times, want 1", len(ticks))
	}
	if _, ok := m.Quote("TSLA"); ok {
		t.Error("uncached symbol returned a quote")
	}
}

func TestTimeSalesRingIsBounded(t *testing.T) {
	m, _ := newManager(t) // cap 5

	for i := 0; i < 8; i++ {
		ev := protocol.Parse("$T&S AAPL 185.50 100").(protocol.TimeSalesEvent)
		ev.Sale.Size = int64(i + 1)
		m.ApplyTimeSale(ev)
	}

	sales := m.TimeSales("AAPL")
	if len(sales) != 5 {
		t.Fatalf("ring holds %d prints, want 5", len(sales))
	}
	// Oldest first; the first three prints were evicted.
	if sales[0].Size != 4 || sales[4].Size != 8 {
		t.Errorf("ring contents = %+v", sales)
	}
}

func TestDepthBookMaintenance(t *testing.T) {
	m, _ := newManager(t)

	apply := func(line string) {
		t.Helper()
		ev, ok := protocol.Parse(line).(protocol.DepthEvent)
		if !ok {
			t.Fatalf("line %q did not parse as depth", line)
		}
		m.ApplyDepth(ev)
	}

	apply("$Lv2 AAPL BID 185.48 300 ARCA")
	apply("$Lv2 AAPL BID 185.47 500 EDGX")
	apply("$Lv2 AAPL ASK 185.52 200 ARCA")

	book := m.Depth("AAPL")
	if len(book.Bids) != 2 || len(book.Asks) != 1 {
		t.Fatalf("book = %+v", book)
	}
	// Bids descend.
	if book.Bids[0].Price != 185.48 || book.Bids[1].Price != 185.47 {
		t.Errorf("bid ordering = %+v", book.Bids)
	}

	// Same maker same side replaces in place.
	apply("$Lv2 AAPL BID 185.49 400 ARCA")
	book = m.Depth("AAPL")
	if len(book.Bids) != 2 || book.Bids[0].Price != 185.49 {
		t.Errorf("replace failed: %+v", book.Bids)
	}

	// Zero size removes the line.
	apply("$Lv2 AAPL BID 185.49 0 ARCA")
	book = m.Depth("AAPL")
	if len(book.Bids) != 1 || book.Bids[0].MMID != "EDGX" {
		t.Errorf("removal failed: %+v", book.Bids)
	}
}

func TestDepthBookRespectsCap(t *testing.T) {
	m, _ := newManager(t) // cap 3

	lines := []string{
		"$Lv2 AAPL BID 185.48 300 ARCA",
		"$Lv2 AAPL BID 185.47 300 EDGX",
		"$Lv2 AAPL BID 185.46 300 BATS",
		"$Lv2 AAPL BID 185.45 300 IEX",
	}
	for _, line := range lines {
		m.ApplyDepth(protocol.Parse(line).(protocol.DepthEvent))
	}

	book := m.Depth("AAPL")
	if len(book.Bids) != 3 {
		t.Errorf("book grew past cap: %d lines", len(book.Bids))
	}
}

func TestLimitBand(t *testing.T) {
	m, _ := newManager(t)
	m.ApplyLimitBand(protocol.Parse("$LDLU AAPL 170.00 200.00").(protocol.LimitDownUpEvent))

	down, up, ok := m.LimitBand("AAPL")
	if !ok || down != 170 || up != 200 {
		t.Errorf("band = %v/%v ok=%v", down, up, ok)
	}
	if _, _, ok := m.LimitBand("TSLA"); ok {
		t.Error("unknown symbol reported a band")
	}
}

func TestFetchQuote(t *testing.T) {
	d := dispatch.New(zerolog.Nop(), 0)
	w := &lineRecorder{}
	d.Bind(w)
	m := NewManager(d, config.MarketDataConfig{}, zerolog.Nop())

	done := make(chan struct{})
	var quote models.Quote
	var err error
	go func() {
		defer close(done)
		quote, err = m.FetchQuote(context.Background(), "AAPL")
	}()

	// Replies for other symbols must not satisfy the request.
	waitFor(t, func() bool { return len(w.written()) == 1 })
	if d.Deliver(protocol.Parse("$Quote TSLA 240.00 240.10 240.05 98000000")) {
		t.Fatal("foreign symbol consumed by pending quote fetch")
	}
	d.Deliver(protocol.Parse("$Quote AAPL 185.48 185.52 185.50 42000000"))

	<-done
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if quote.Symbol != "AAPL" || quote.Last != 185.5 {
		t.Errorf("quote = %+v", quote)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}
