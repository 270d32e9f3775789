package advisory

import (
	"fmt"
	"strings"

	"fuel-price-alerts/internal/trend"
)

// Instructions is the fixed system instruction sent with every prompt.
const Instructions = "You are an AI language model who creates concise fuel buying advice push notifications."

// PromptInput is everything the prompt embeds.
type PromptInput struct {
	Region    string
	Grade     string
	Statistic string
	// Series is in display units (cents/L), oldest first.
	Series   []float64
	Features trend.Features
}

// BuildPrompt renders the analyst prompt. Output depends only on the input.
func BuildPrompt(in PromptInput) string {
	values := make([]string, len(in.Series))
	for i, v := range in.Series {
		values[i] = fmt.Sprintf("%.1f", v)
	}

	var b strings.Builder
	b.WriteString("You are a fuel-price analyst who delivers super succinct push notifications with the daily pct-change.\n")
	fmt.Fprintf(&b, "Daily %s %s prices for %s (cents/L), oldest-to-newest:\n\n", in.Statistic, in.Grade, in.Region)
	b.WriteString(strings.Join(values, ", "))
	b.WriteString("\n\n")

	f := in.Features
	fmt.Fprintf(&b, "Last trough: %.1f ¢ (%d days ago)\n", f.TroughValue, f.TroughAgeDays)
	fmt.Fprintf(&b, "Last peak: %.1f ¢ (%d days ago)\n", f.PeakValue, f.PeakAgeDays)
	for _, w := range trend.Windows {
		if m, ok := f.Slope(w); ok {
			fmt.Fprintf(&b, "Slope %d-day: %+.3f ¢/day\n", w, m)
		}
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "In less than 12 words, predict how %s's cyclical trend is likely to move over the following week.", in.Region)
	return b.String()
}

// Ordinal renders a percentile rank as "5th", "21st", "92nd".
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
