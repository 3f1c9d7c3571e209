package dispatch

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/errors"
	"github.com/jefrnc/das-bridge/internal/protocol"
)

// fakeWriter records written lines and can simulate write failures.
type fakeWriter struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (w *fakeWriter) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.lines = append(w.lines, line)
	return nil
}

func (w *fakeWriter) written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.lines))
	copy(out, w.lines)
	return out
}

func newDispatcher(t *testing.T, timeout time.Duration) (*Dispatcher, *fakeWriter) {
	t.Helper()
	d := New(zerolog.Nop(), timeout)
	w := &fakeWriter{}
	d.Bind(w)
	return d, w
}

func matchBuyingPower(ev protocol.Event) bool {
	return ev.Kind() == protocol.KindBuyingPower
}

func TestSubmitResolvesOnMatchingEvent(t *testing.T) {
	d, w := newDispatcher(t, time.Second)

	done := make(chan struct{})
	var ev protocol.Event
	var err error
	go func() {
		defer close(done)
		ev, err = d.Submit(context.Background(), Command{
			Kind:  KindGetBP,
			Text:  "GET BP",
			Match: matchBuyingPower,
		})
	}()

	waitForWrite(t, w, "GET BP")

	reply := protocol.Parse("%BP 100000.00 400000.00")
	if !d.Deliver(reply) {
		t.Fatal("Deliver did not consume the matching reply")
	}

	<-done
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	bp, ok := ev.(protocol.BuyingPowerEvent)
	if !ok {
		t.Fatalf("Submit returned %T, want BuyingPowerEvent", ev)
	}
	if bp.BuyingPower != 100000 {
		t.Errorf("BuyingPower = %v, want 100000", bp.BuyingPower)
	}
	if d.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after resolve, want 0", d.PendingCount())
	}
}

func TestSubmitTimesOut(t *testing.T) {
	d, _ := newDispatcher(t, time.Second)

	_, err := d.Submit(context.Background(), Command{
		Kind:    KindGetBP,
		Text:    "GET BP",
		Timeout: 20 * time.Millisecond,
		Match:   matchBuyingPower,
	})
	if !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("Submit error = %v, want ErrTimeout", err)
	}
	if d.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after timeout, want 0", d.PendingCount())
	}
}

// A reply arriving after its command timed out must be discarded, not matched
// against a newer command of the same shape.
func TestLateReplyDiscardedAfterTimeout(t *testing.T) {
	d, _ := newDispatcher(t, time.Second)

	_, err := d.Submit(context.Background(), Command{
		Kind:    KindGetBP,
		Text:    "GET BP",
		Timeout: 20 * time.Millisecond,
		Match:   matchBuyingPower,
	})
	if !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("first submit error = %v, want ErrTimeout", err)
	}

	// Second command of the same kind goes out while the first one's reply
	// is still owed by the wire.
	done := make(chan struct{})
	var ev protocol.Event
	go func() {
		defer close(done)
		ev, _ = d.Submit(context.Background(), Command{
			Kind:  KindGetBP,
			Text:  "GET BP",
			Match: matchBuyingPower,
		})
	}()

	waitForPending(t, d, 1)

	// Late reply to the first command: consumed as a zombie, not matched.
	stale := protocol.Parse("%BP 1.00 1.00")
	if !d.Deliver(stale) {
		t.Fatal("stale reply was not consumed by the discard counter")
	}
	if d.PendingCount() != 1 {
		t.Fatalf("stale reply resolved the pending command")
	}

	fresh := protocol.Parse("%BP 100000.00 400000.00")
	if !d.Deliver(fresh) {
		t.Fatal("fresh reply was not delivered")
	}
	<-done

	bp, ok := ev.(protocol.BuyingPowerEvent)
	if !ok {
		t.Fatalf("second submit resolved with %T, want BuyingPowerEvent", ev)
	}
	if bp.BuyingPower != 100000 {
		t.Errorf("second submit got the stale reply: BuyingPower = %v", bp.BuyingPower)
	}
}

func TestExclusiveSessionSecondSubmitBlocked(t *testing.T) {
	d, w := newDispatcher(t, time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Submit(context.Background(), Command{
			Kind: KindLocateInquire,
			Text: "SLPRICEINQUIRE GSIT 100 ALLROUTE",
			Match: func(ev protocol.Event) bool {
				return ev.Kind() == protocol.KindLocateQuote
			},
		})
	}()
	waitForWrite(t, w, "SLPRICEINQUIRE GSIT 100 ALLROUTE")

	// Second inquiry this session must fail without touching the wire.
	_, err := d.Submit(context.Background(), Command{
		Kind: KindLocateInquire,
		Text: "SLPRICEINQUIRE AAPL 100 ALLROUTE",
		Match: func(ev protocol.Event) bool {
			return ev.Kind() == protocol.KindLocateQuote
		},
	})
	if !errors.Is(err, errors.ErrPolicyBlocked) {
		t.Fatalf("second submit error = %v, want ErrPolicyBlocked", err)
	}
	if lines := w.written(); len(lines) != 1 {
		t.Fatalf("second inquiry reached the wire: %v", lines)
	}

	d.Deliver(protocol.Parse("%SLRET GSIT 100 0.000625 YES ALLROUTE"))
	<-done

	// Reconnect clears the session gate.
	d.Reset()
	d.Bind(w)
	go d.Submit(context.Background(), Command{
		Kind: KindLocateInquire,
		Text: "SLPRICEINQUIRE GSIT 200 ALLROUTE",
		Match: func(ev protocol.Event) bool {
			return ev.Kind() == protocol.KindLocateQuote
		},
	})
	waitForWrite(t, w, "SLPRICEINQUIRE GSIT 200 ALLROUTE")
	d.Deliver(protocol.Parse("%SLRET GSIT 200 0.000625 YES ALLROUTE"))
}

func TestExclusiveKindSerializes(t *testing.T) {
	d, w := newDispatcher(t, time.Second)

	first := make(chan struct{})
	go func() {
		defer close(first)
		d.Submit(context.Background(), Command{Kind: KindGetBP, Text: "GET BP", Match: matchBuyingPower})
	}()
	waitForWrite(t, w, "GET BP")

	// The second same-kind command must not reach the wire while the first
	// is in flight.
	second := make(chan struct{})
	go func() {
		defer close(second)
		d.Submit(context.Background(), Command{Kind: KindGetBP, Text: "GET BP", Match: matchBuyingPower})
	}()

	time.Sleep(50 * time.Millisecond)
	if lines := w.written(); len(lines) != 1 {
		t.Fatalf("second exclusive-kind command reached the wire early: %v", lines)
	}

	d.Deliver(protocol.Parse("%BP 1.00 1.00"))
	<-first

	waitForWriteCount(t, w, 2)
	d.Deliver(protocol.Parse("%BP 2.00 2.00"))
	<-second
}

func TestFireAndForgetResolvesOnWrite(t *testing.T) {
	d, w := newDispatcher(t, time.Second)

	ev, err := d.Submit(context.Background(), Command{Kind: KindCancelAll, Text: "CANCELALL"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if ev != nil {
		t.Fatalf("fire-and-forget returned event %v", ev)
	}
	if lines := w.written(); len(lines) != 1 || lines[0] != "CANCELALL" {
		t.Fatalf("written = %v", lines)
	}
	if d.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", d.PendingCount())
	}
}

func TestErrorReplyFailsCommand(t *testing.T) {
	d, _ := newDispatcher(t, time.Second)

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = d.Submit(context.Background(), Command{
			Kind: KindNewOrder,
			Text: "NEWORDER tok AAPL B 100 MKT",
			Match: func(ev protocol.Event) bool {
				return ev.Kind() == protocol.KindErrorReply
			},
		})
	}()
	waitForPending(t, d, 1)

	d.Deliver(protocol.Parse("ERROR insufficient buying power"))
	<-done

	if !errors.Is(err, errors.ErrRejected) {
		t.Fatalf("Submit error = %v, want ErrRejected", err)
	}
}

func TestExclusiveSessionBudgetSurvivesWriteFailure(t *testing.T) {
	d, w := newDispatcher(t, time.Second)
	w.mu.Lock()
	w.err = io.ErrClosedPipe
	w.mu.Unlock()

	_, err := d.Submit(context.Background(), Command{
		Kind: KindLocateInquire,
		Text: "SLPRICEINQUIRE GSIT 100 ALLROUTE",
		Match: func(ev protocol.Event) bool {
			return ev.Kind() == protocol.KindLocateQuote
		},
	})
	if err == nil {
		t.Fatal("Submit succeeded with a failing writer")
	}
	if errors.Is(err, errors.ErrPolicyBlocked) {
		t.Fatalf("write failure reported as policy block: %v", err)
	}

	// The inquiry never reached the wire, so the once-per-session send
	// is still available.
	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Submit(context.Background(), Command{
			Kind: KindLocateInquire,
			Text: "SLPRICEINQUIRE GSIT 100 ALLROUTE",
			Match: func(ev protocol.Event) bool {
				return ev.Kind() == protocol.KindLocateQuote
			},
		})
	}()
	waitForWrite(t, w, "SLPRICEINQUIRE GSIT 100 ALLROUTE")
	d.Reset()
	<-done
}

func TestResetFailsPendingCommands(t *testing.T) {
	d, _ := newDispatcher(t, time.Second)

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = d.Submit(context.Background(), Command{Kind: KindGetBP, Text: "GET BP", Match: matchBuyingPower})
	}()
	waitForPending(t, d, 1)

	d.Reset()
	<-done

	if !errors.Is(err, errors.ErrConnectionLost) {
		t.Fatalf("Submit error after Reset = %v, want ErrConnectionLost", err)
	}
}

func TestSubmitWithoutWriter(t *testing.T) {
	d := New(zerolog.Nop(), time.Second)
	_, err := d.Submit(context.Background(), Command{Kind: KindCancelAll, Text: "CANCELALL"})
	if !errors.Is(err, errors.ErrNotConnected) {
		t.Fatalf("Submit error = %v, want ErrNotConnected", err)
	}
}

func TestContextCancellation(t *testing.T) {
	d, _ := newDispatcher(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = d.Submit(ctx, Command{Kind: KindGetBP, Text: "GET BP", Match: matchBuyingPower})
	}()
	waitForPending(t, d, 1)

	cancel()
	<-done
	if !errors.Is(err, errors.ErrCancelled) {
		t.Fatalf("Submit error = %v, want ErrCancelled", err)
	}
}

func TestSerializedSymbolIndependentSymbols(t *testing.T) {
	d, w := newDispatcher(t, time.Second)

	var wg sync.WaitGroup
	for _, text := range []string{"SB AAPL Lv1", "SB TSLA Lv1"} {
		wg.Add(1)
		symbol := text[3:7]
		go func(text, symbol string) {
			defer wg.Done()
			d.Submit(context.Background(), Command{
				Kind:   KindSubscribe,
				Text:   text,
				Symbol: symbol,
				Match: func(ev protocol.Event) bool {
					q, ok := ev.(protocol.QuoteEvent)
					return ok && q.Quote.Symbol == symbol
				},
			})
		}(text, symbol)
	}

	// Different symbols do not gate each other: both reach the wire before
	// either reply arrives.
	waitForWriteCount(t, w, 2)

	d.Deliver(protocol.Parse("$Quote AAPL 185.48 185.52 185.50 42000000"))
	d.Deliver(protocol.Parse("$Quote TSLA 240.00 240.10 240.05 98000000"))
	wg.Wait()
}

func waitForWrite(t *testing.T, w *fakeWriter, line string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, l := range w.written() {
			if l == line {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("line %q never written; got %v", line, w.written())
}

func waitForWriteCount(t *testing.T, w *fakeWriter, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.written()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("only %d lines written, want %d: %v", len(w.written()), n, w.written())
}

func waitForPending(t *testing.T, d *Dispatcher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.PendingCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("PendingCount = %d, want %d", d.PendingCount(), n)
}
