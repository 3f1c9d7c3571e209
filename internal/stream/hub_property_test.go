package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jefrnc/das-bridge/internal/models"
)

// Property: for any number of subscribers and any stream of quote messages,
// every fast subscriber sees every message. Slow consumers may lose messages
// so the read path never blocks, but with generous buffers nothing drops.
func TestProperty_AllSubscribersReceiveMessages(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"AAPL", "TSLA", "AMD", "NVDA", "SPY"}

	subscriberCountGen := gen.IntRange(1, 5)
	msgCountGen := gen.IntRange(1, 20)
	symbolIdxGen := gen.IntRange(0, len(symbols)-1)
	priceGen := gen.Float64Range(1.0, 500.0)

	properties.Property("fast subscribers receive all quote messages", prop.ForAll(
		func(subscriberCount int, msgCount int, symbolIdx int, basePrice float64) bool {
			symbol := symbols[symbolIdx]

			hub := NewHubWithConfig(HubConfig{
				BufferSize:           1000,
				SubscriberBufferSize: 100,
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			hub.Start(ctx)
			defer hub.Stop()

			var wg sync.WaitGroup
			receivedCounts := make([]int64, subscriberCount)

			channels := make([]<-chan Message, subscriberCount)
			for i := 0; i < subscriberCount; i++ {
				channels[i] = hub.Subscribe(TopicQuotes)
			}

			for i := 0; i < subscriberCount; i++ {
				wg.Add(1)
				go func(idx int, ch <-chan Message) {
					defer wg.Done()
					timeout := time.After(5 * time.Second)
					for {
						select {
						case _, ok := <-ch:
							if !ok {
								return
							}
							atomic.AddInt64(&receivedCounts[idx], 1)
							if atomic.LoadInt64(&receivedCounts[idx]) >= int64(msgCount) {
								return
							}
						case <-timeout:
							return
						}
					}
				}(i, channels[i])
			}

			time.Sleep(10 * time.Millisecond)

			for i := 0; i < msgCount; i++ {
				hub.Publish(Message{
					Topic:  TopicQuotes,
					Symbol: symbol,
					Payload: models.Quote{
						Symbol:    symbol,
						Bid:       basePrice - 0.01,
						Ask:       basePrice + 0.01,
						Last:      basePrice + float64(i)*0.05,
						Timestamp: time.Now(),
					},
				})
				time.Sleep(1 * time.Millisecond)
			}

			wg.Wait()

			for i := 0; i < subscriberCount; i++ {
				received := atomic.LoadInt64(&receivedCounts[i])
				if received != int64(msgCount) {
					// Allow a small number of timing-related drops.
					if float64(received)/float64(msgCount) < 0.9 {
						return false
					}
				}
			}
			return true
		},
		subscriberCountGen,
		msgCountGen,
		symbolIdxGen,
		priceGen,
	))

	properties.TestingRun(t)
}

// A subscriber that never reads its channel must not stall delivery to the
// others.
func TestProperty_SlowConsumersDoNotBlockOthers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"AAPL", "TSLA", "AMD"}

	properties.Property("slow consumers do not block fast consumers", prop.ForAll(
		func(symbolIdx int, basePrice float64) bool {
			symbol := symbols[symbolIdx%len(symbols)]

			hub := NewHubWithConfig(HubConfig{
				BufferSize:           100,
				SubscriberBufferSize: 5,
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			hub.Start(ctx)
			defer hub.Stop()

			fastCh := hub.Subscribe(TopicQuotes)
			var fastReceived int64

			// Slow subscriber: never reads.
			_ = hub.Subscribe(TopicQuotes)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				timeout := time.After(2 * time.Second)
				for {
					select {
					case _, ok := <-fastCh:
						if !ok {
							return
						}
						atomic.AddInt64(&fastReceived, 1)
						if atomic.LoadInt64(&fastReceived) >= 10 {
							return
						}
					case <-timeout:
						return
					}
				}
			}()

			time.Sleep(10 * time.Millisecond)

			for i := 0; i < 20; i++ {
				hub.Publish(Message{
					Topic:   TopicQuotes,
					Symbol:  symbol,
					Payload: models.Quote{Symbol: symbol, Last: basePrice + float64(i)*0.05},
				})
			}

			wg.Wait()

			return atomic.LoadInt64(&fastReceived) > 0
		},
		gen.IntRange(0, 2),
		gen.Float64Range(1.0, 500.0),
	))

	properties.TestingRun(t)
}

// Symbol-filtered subscribers only see their own symbol's messages.
func TestProperty_SymbolFilteredSubscribers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"AAPL", "TSLA", "AMD", "NVDA", "SPY"}

	properties.Property("subscribers only receive their subscribed symbol", prop.ForAll(
		func(subscribedIdx int, publishedIdx int) bool {
			subscribedSymbol := symbols[subscribedIdx%len(symbols)]
			publishedSymbol := symbols[publishedIdx%len(symbols)]

			hub := NewHub()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			hub.Start(ctx)
			defer hub.Stop()

			ch := hub.SubscribeSymbol(TopicQuotes, subscribedSymbol)

			var received int64
			var receivedSymbol string
			var mu sync.Mutex

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				timeout := time.After(500 * time.Millisecond)
				select {
				case msg, ok := <-ch:
					if ok {
						atomic.AddInt64(&received, 1)
						mu.Lock()
						receivedSymbol = msg.Symbol
						mu.Unlock()
					}
				case <-timeout:
				}
			}()

			time.Sleep(10 * time.Millisecond)

			hub.Publish(Message{
				Topic:   TopicQuotes,
				Symbol:  publishedSymbol,
				Payload: models.Quote{Symbol: publishedSymbol, Last: 100.0},
			})

			wg.Wait()

			if atomic.LoadInt64(&received) > 0 {
				mu.Lock()
				defer mu.Unlock()
				return receivedSymbol == subscribedSymbol
			}
			return subscribedSymbol != publishedSymbol
		},
		gen.IntRange(0, 4),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	ch := hub.Subscribe(TopicOrders)
	if got := hub.SubscriberCount(TopicOrders); got != 1 {
		t.Fatalf("subscriber count = %d, want 1", got)
	}

	hub.Unsubscribe(TopicOrders, ch)
	if got := hub.SubscriberCount(TopicOrders); got != 0 {
		t.Fatalf("subscriber count after unsubscribe = %d, want 0", got)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestConsumerReceivesTopics(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	var orderMsgs int64
	done := make(chan struct{})
	consumer := NewConsumerFunc([]Topic{TopicOrders}, func(msg Message) {
		if atomic.AddInt64(&orderMsgs, 1) == 1 {
			close(done)
		}
	})
	hub.RegisterConsumer(consumer)

	hub.Publish(Message{Topic: TopicQuotes, Symbol: "AAPL", Payload: models.Quote{Symbol: "AAPL"}})
	hub.Publish(Message{Topic: TopicOrders, Payload: models.Order{ID: "1"}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never received order message")
	}
	if got := atomic.LoadInt64(&orderMsgs); got != 1 {
		t.Fatalf("consumer received %d messages, want 1", got)
	}
}
