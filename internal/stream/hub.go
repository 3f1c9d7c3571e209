// Package stream fans engine events out to multiple consumers. A single
// connection feeds any number of subscribers via buffered channels; slow
// consumers drop messages instead of blocking the read path.
package stream

import (
	"context"
	"sync"
	"time"
)

// Topic classifies hub messages.
type Topic string

const (
	TopicQuotes    Topic = "quotes"
	TopicDepth     Topic = "depth"
	TopicTimeSales Topic = "timesales"
	TopicOrders    Topic = "orders"
	TopicFills     Topic = "fills"
	TopicPositions Topic = "positions"
	TopicLocates   Topic = "locates"
	TopicSession   Topic = "session"
)

// Message is one fanned-out engine event. Payload holds the concrete
// update: models.Quote, models.Order, models.Fill, models.Position,
// models.TimeSale, models.DepthUpdate, models.LocateAnalysis, a locate
// order update, or a session state string.
type Message struct {
	Topic   Topic
	Symbol  string
	Payload interface{}
	Time    time.Time
}

// HubConfig holds configuration for the hub.
type HubConfig struct {
	// BufferSize is the size of the internal message channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Hub distributes engine events to subscribers. It implements a fan-out
// pattern where messages from the single session are distributed to
// multiple subscribers via channels.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[Topic][]*Subscriber
	msgChan     chan Message
	done        chan struct{}
	started     bool
	consumers   []Consumer
	consumersMu sync.RWMutex

	metricsMu sync.RWMutex
	received  uint64
	delivered uint64
	dropped   uint64
}

// Subscriber is one channel subscriber with metadata. An empty Symbol
// receives every message on the topic.
type Subscriber struct {
	ID           string
	Symbol       string
	Channel      chan Message
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = 1
	}
	return &Hub{
		config:      config,
		subscribers: make(map[Topic][]*Subscriber),
		msgChan:     make(chan Message, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg := <-h.msgChan:
			h.metricsMu.Lock()
			h.received++
			h.metricsMu.Unlock()

			h.broadcast(msg)
			h.notifyConsumers(msg)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for topic, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, topic)
	}
}

// Subscribe returns a channel receiving every message on a topic.
func (h *Hub) Subscribe(topic Topic) <-chan Message {
	return h.SubscribeSymbol(topic, "")
}

// SubscribeSymbol returns a channel receiving a topic filtered to one
// symbol. An empty symbol receives everything on the topic.
func (h *Hub) SubscribeSymbol(topic Topic, symbol string) <-chan Message {
	ch := make(chan Message, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		Symbol:    symbol,
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[topic] = append(h.subscribers[topic], sub)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel from a topic and closes it.
func (h *Hub) Unsubscribe(topic Topic, ch <-chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[topic]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[topic]) == 0 {
		delete(h.subscribers, topic)
	}
}

// Publish offers a message for distribution. Non-blocking: if the internal
// buffer is full the message is dropped, never the read loop.
func (h *Hub) Publish(msg Message) {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	select {
	case h.msgChan <- msg:
	default:
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()
	}
}

// broadcast sends a message to the topic's subscribers. Non-blocking sends
// keep a slow consumer from stalling the rest.
func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	subs := h.subscribers[msg.Topic]
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.Symbol != "" && sub.Symbol != msg.Symbol {
			continue
		}
		select {
		case sub.Channel <- msg:
			h.metricsMu.Lock()
			h.delivered++
			h.metricsMu.Unlock()
		default:
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.dropped++
			h.metricsMu.Unlock()
		}
	}
}

// SubscriberCount returns the number of subscribers for a topic.
func (h *Hub) SubscriberCount(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}

// TotalSubscriberCount returns the subscriber count across all topics.
func (h *Hub) TotalSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()
	return HubMetrics{
		Received:    h.received,
		Delivered:   h.delivered,
		Dropped:     h.dropped,
		Subscribers: h.TotalSubscriberCount(),
	}
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Received    uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

// IsStarted reports whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Consumer processes messages without a channel; each delivery runs in its
// own goroutine.
type Consumer interface {
	OnMessage(msg Message)
	// Topics returns the topics this consumer wants. Nil means all.
	Topics() []Topic
}

// RegisterConsumer adds a consumer.
func (h *Hub) RegisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, consumer)
	h.consumersMu.Unlock()
}

// UnregisterConsumer removes a consumer.
func (h *Hub) UnregisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	defer h.consumersMu.Unlock()
	for i, c := range h.consumers {
		if c == consumer {
			h.consumers = append(h.consumers[:i], h.consumers[i+1:]...)
			break
		}
	}
}

func (h *Hub) notifyConsumers(msg Message) {
	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()

	for _, consumer := range consumers {
		topics := consumer.Topics()
		if len(topics) == 0 || containsTopic(topics, msg.Topic) {
			go consumer.OnMessage(msg)
		}
	}
}

func containsTopic(topics []Topic, topic Topic) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc struct {
	topics []Topic
	fn     func(Message)
}

// NewConsumerFunc creates a ConsumerFunc.
func NewConsumerFunc(topics []Topic, fn func(Message)) *ConsumerFunc {
	return &ConsumerFunc{topics: topics, fn: fn}
}

// OnMessage implements Consumer.
func (c *ConsumerFunc) OnMessage(msg Message) {
	if c.fn != nil {
		c.fn(msg)
	}
}

// Topics implements Consumer.
func (c *ConsumerFunc) Topics() []Topic {
	return c.topics
}
