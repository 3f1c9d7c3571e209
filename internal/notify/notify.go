// Package notify pushes engine events to outside channels: a webhook
// endpoint and the local terminal.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jefrnc/das-bridge/internal/config"
	"github.com/jefrnc/das-bridge/internal/models"
)

// Notifier is the engine-facing notification surface.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendOrder(ctx context.Context, order models.Order) error
	SendFill(ctx context.Context, order models.Order, delta int64, price float64) error
	SendLocate(ctx context.Context, analysis models.LocateAnalysis) error
	SendSession(ctx context.Context, state string) error
	SendError(ctx context.Context, err error, errContext string) error
}

// Channel is one notification transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification is a single outbound message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType classifies notifications for level filtering.
type NotificationType string

const (
	NotificationOrder   NotificationType = "order"
	NotificationFill    NotificationType = "fill"
	NotificationLocate  NotificationType = "locate"
	NotificationSession NotificationType = "session"
	NotificationError   NotificationType = "error"
	NotificationInfo    NotificationType = "info"
)

// Level filters which notification types go out.
type Level string

const (
	LevelAll        Level = "all"
	LevelTradesOnly Level = "trades_only"
	LevelErrorsOnly Level = "errors_only"
)

// MultiNotifier fans notifications out to every enabled channel.
type MultiNotifier struct {
	channels []Channel
	level    Level
	mu       sync.RWMutex
}

// NewMultiNotifier builds the notifier from configuration.
func NewMultiNotifier(cfg config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{level: Level(cfg.Level)}
	if mn.level == "" {
		mn.level = LevelAll
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		mn.AddChannel(NewWebhookChannel(cfg.Webhook))
	}
	return mn
}

// AddChannel registers a transport.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	mn.channels = append(mn.channels, ch)
	mn.mu.Unlock()
}

func (mn *MultiNotifier) shouldSend(t NotificationType) bool {
	switch mn.level {
	case LevelErrorsOnly:
		return t == NotificationError
	case LevelTradesOnly:
		return t == NotificationOrder || t == NotificationFill || t == NotificationError
	}
	return true
}

// Send delivers a notification to every enabled channel. Channel failures
// are collected, not fatal.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := make([]Channel, len(mn.channels))
	copy(channels, mn.channels)
	mn.mu.RUnlock()

	var firstErr error
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(ctx, n); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("notify via %s: %w", ch.Name(), err)
		}
	}
	return firstErr
}

// SendOrder notifies an order status change.
func (mn *MultiNotifier) SendOrder(ctx context.Context, order models.Order) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationOrder,
		Title:   fmt.Sprintf("Order %s %s", order.ID, order.Status),
		Message: fmt.Sprintf("%s %s %d %s", order.Side, order.Symbol, order.Quantity, order.Status),
		Data: map[string]interface{}{
			"order_id": order.ID,
			"symbol":   order.Symbol,
			"side":     string(order.Side),
			"quantity": order.Quantity,
			"filled":   order.FilledQty,
			"status":   string(order.Status),
		},
	})
}

// SendFill notifies an execution.
func (mn *MultiNotifier) SendFill(ctx context.Context, order models.Order, delta int64, price float64) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationFill,
		Title:   fmt.Sprintf("Fill %s", order.Symbol),
		Message: fmt.Sprintf("%s %d %s @ $%.4f (%d/%d filled)", order.Side, delta, order.Symbol, price, order.FilledQty, order.Quantity),
		Data: map[string]interface{}{
			"order_id": order.ID,
			"symbol":   order.Symbol,
			"delta":    delta,
			"price":    price,
		},
	})
}

// SendLocate notifies a locate decision.
func (mn *MultiNotifier) SendLocate(ctx context.Context, analysis models.LocateAnalysis) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationLocate,
		Title:   fmt.Sprintf("Locate %s: %s", analysis.Symbol, analysis.Recommendation),
		Message: fmt.Sprintf("%d shares @ %.6f = $%.4f", analysis.LocateShares, analysis.Rate, analysis.TotalCost),
		Data: map[string]interface{}{
			"symbol":   analysis.Symbol,
			"shares":   analysis.LocateShares,
			"rate":     analysis.Rate,
			"cost":     analysis.TotalCost,
			"approved": analysis.Approved,
			"reasons":  analysis.Reasons,
		},
	})
}

// SendSession notifies a session state change.
func (mn *MultiNotifier) SendSession(ctx context.Context, state string) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationSession,
		Title:   "Session " + state,
		Message: "connection state changed to " + state,
	})
}

// SendError notifies an engine error.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   "Error: " + errContext,
		Message: err.Error(),
	})
}

// WebhookChannel POSTs notifications as JSON to a configured URL.
type WebhookChannel struct {
	cfg    config.WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	return &WebhookChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return "webhook" }

// IsEnabled implements Channel.
func (w *WebhookChannel) IsEnabled() bool { return w.cfg.Enabled && w.cfg.URL != "" }

// Send implements Channel.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"type":      string(n.Type),
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// NoOpNotifier discards everything. Used when notifications are disabled.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a no-op notifier.
func NewNoOpNotifier() *NoOpNotifier { return &NoOpNotifier{} }

func (NoOpNotifier) Send(context.Context, Notification) error { return nil }
func (NoOpNotifier) SendOrder(context.Context, models.Order) error {
	return nil
}
func (NoOpNotifier) SendFill(context.Context, models.Order, int64, float64) error {
	return nil
}
func (NoOpNotifier) SendLocate(context.Context, models.LocateAnalysis) error { return nil }
func (NoOpNotifier) SendSession(context.Context, string) error               { return nil }
func (NoOpNotifier) SendError(context.Context, error, string) error          { return nil }
