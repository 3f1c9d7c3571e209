package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// TerminalChannel prints notifications to the terminal with color.
type TerminalChannel struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	colored bool
}

// NewTerminalChannel creates a terminal channel writing to stdout.
func NewTerminalChannel() *TerminalChannel {
	return &TerminalChannel{
		out:     os.Stdout,
		enabled: true,
		colored: true,
	}
}

// SetOutput redirects the channel, mainly for tests.
func (t *TerminalChannel) SetOutput(w io.Writer) {
	t.mu.Lock()
	t.out = w
	t.mu.Unlock()
}

// SetColorEnabled toggles ANSI colors.
func (t *TerminalChannel) SetColorEnabled(enabled bool) {
	t.mu.Lock()
	t.colored = enabled
	t.mu.Unlock()
}

// Name implements Channel.
func (t *TerminalChannel) Name() string { return "terminal" }

// IsEnabled implements Channel.
func (t *TerminalChannel) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Send implements Channel.
func (t *TerminalChannel) Send(_ context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := fmt.Sprintf("[%s] %s  %s", n.Timestamp.Format("15:04:05"), n.Title, n.Message)
	if t.colored {
		line = t.colorize(n.Type, line)
	}
	_, err := fmt.Fprintln(t.out, line)
	return err
}

func (t *TerminalChannel) colorize(typ NotificationType, line string) string {
	switch typ {
	case NotificationFill:
		return color.GreenString(line)
	case NotificationError:
		return color.RedString(line)
	case NotificationLocate:
		return color.CyanString(line)
	case NotificationSession:
		return color.YellowString(line)
	case NotificationOrder:
		return color.WhiteString(line)
	}
	return line
}
