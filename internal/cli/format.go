package cli

import (
	"fmt"
	"strings"
	"time"
)

// FormatCurrency formats a dollar amount with thousands grouping.
func FormatCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	result := "$" + groupThousands(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts commas every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	lead := n % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPnL formats a signed P&L amount.
func FormatPnL(pnl float64) string {
	formatted := FormatCurrency(pnl)
	if pnl > 0 {
		formatted = "+" + formatted
	}
	return formatted
}

// FormatPercent formats a percentage with two decimals.
func FormatPercent(value float64) string {
	return fmt.Sprintf("%.2f%%", value)
}

// FormatQuantity formats a share count with thousands grouping.
func FormatQuantity(qty int64) string {
	negative := qty < 0
	if negative {
		qty = -qty
	}
	result := groupThousands(fmt.Sprintf("%d", qty))
	if negative {
		result = "-" + result
	}
	return result
}

// FormatVolume formats volume compactly (1.2M, 350K).
func FormatVolume(volume int64) string {
	switch {
	case volume >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(volume)/1_000_000)
	case volume >= 1_000:
		return fmt.Sprintf("%.0fK", float64(volume)/1_000)
	}
	return fmt.Sprintf("%d", volume)
}

// FormatPrice formats a price with up to four decimals, trimming trailing
// zeros past the cent.
func FormatPrice(price float64) string {
	s := fmt.Sprintf("%.4f", price)
	s = strings.TrimRight(s, "0")
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 < 2 {
		s = fmt.Sprintf("%.2f", price)
	}
	return "$" + s
}

// FormatRate formats a per-share locate rate.
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.6f", rate)
}

// FormatTime formats a time as HH:MM:SS.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("15:04:05")
}

// FormatDateTime formats a full timestamp.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// FormatBidAsk formats a bid/ask pair.
func FormatBidAsk(bid, ask float64) string {
	return fmt.Sprintf("%.2f x %.2f", bid, ask)
}

// TruncateString shortens a string to maxLen with an ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PadRight pads a string to a width with spaces.
func PadRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}
