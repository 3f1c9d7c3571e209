package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/config"
	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/store"
)

// gatedJournal blocks every write until the gate opens, recording what
// it saw.
type gatedJournal struct {
	store.NoOpJournal
	gate chan struct{}

	mu     sync.Mutex
	orders []string
	fills  []store.FillRecord
	states []string
}

func (j *gatedJournal) RecordOrder(ctx context.Context, order models.Order) error {
	<-j.gate
	j.mu.Lock()
	j.orders = append(j.orders, order.ID)
	j.mu.Unlock()
	return nil
}

func (j *gatedJournal) RecordFill(ctx context.Context, fill store.FillRecord) error {
	<-j.gate
	j.mu.Lock()
	j.fills = append(j.fills, fill)
	j.mu.Unlock()
	return nil
}

func (j *gatedJournal) RecordSessionEvent(ctx context.Context, state string) error {
	<-j.gate
	j.mu.Lock()
	j.states = append(j.states, state)
	j.mu.Unlock()
	return nil
}

func (j *gatedJournal) counts() (int, int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.orders), len(j.fills), len(j.states)
}

func TestApplyPathDoesNotBlockOnJournal(t *testing.T) {
	c, err := New(config.DefaultSettings(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j := &gatedJournal{gate: make(chan struct{})}
	c.journal = j

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.hub.Start(ctx)

	order := models.Order{
		ID: "a1", Symbol: "AAPL", Side: models.SideBuy,
		Quantity: 100, FilledQty: 100, AvgPrice: 185.49,
		Status: models.StatusFilled,
	}

	// With the journal wedged shut, the tracker callbacks must still
	// return promptly: persistence rides the hub, not the apply path.
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.onOrderUpdate(order)
		c.onFill(order, 100, 185.49)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("apply-path callbacks blocked on the journal")
	}

	// Once the journal unblocks, the records land.
	close(j.gate)
	deadline := time.Now().Add(2 * time.Second)
	for {
		orders, fills, _ := j.counts()
		if orders == 1 && fills == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal received %d orders and %d fills, want 1 and 1", orders, fills)
		}
		time.Sleep(time.Millisecond)
	}

	fill := j.fills[0]
	if fill.OrderID != "a1" || fill.Quantity != 100 {
		t.Errorf("fill record = %+v", fill)
	}
}
