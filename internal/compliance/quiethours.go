package compliance

import (
	"strconv"
	"strings"
)

const (
	defaultWindowStart = 9
	defaultWindowEnd   = 18
)

// Window is a daily span of hours [Start, End) during which sends are
// permitted. Start > End wraps past midnight.
type Window struct {
	Start int
	End   int
}

// DefaultWindow is used when a window cannot be parsed.
var DefaultWindow = Window{Start: defaultWindowStart, End: defaultWindowEnd}

// ParseWindow parses specs such as "9am-6pm", "8-17" or "10pm-6am". The
// second result is false when text is blank, meaning no restriction.
// Malformed specs yield DefaultWindow.
func ParseWindow(text string) (Window, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Window{}, false
	}

	start, end, found := strings.Cut(text, "-")
	if !found {
		return DefaultWindow, true
	}
	w := Window{Start: parseHour(start, defaultWindowStart), End: parseHour(end, defaultWindowEnd)}
	if w.Start == w.End {
		return DefaultWindow, true
	}
	return w, true
}

// parseHour reads "6pm", "6 PM", "18" or "12am" as an hour of day.
func parseHour(s string, fallback int) int {
	s = strings.ToLower(strings.TrimSpace(s))
	meridiem := ""
	switch {
	case strings.HasSuffix(s, "am"):
		meridiem, s = "am", strings.TrimSpace(strings.TrimSuffix(s, "am"))
	case strings.HasSuffix(s, "pm"):
		meridiem, s = "pm", strings.TrimSpace(strings.TrimSuffix(s, "pm"))
	}
	// Minutes are ignored: "9:30am" counts from 9.
	if h, _, ok := strings.Cut(s, ":"); ok {
		s = h
	}

	h, err := strconv.Atoi(s)
	if err != nil || h < 0 || h > 24 {
		return fallback
	}
	switch meridiem {
	case "am":
		if h == 0 || h > 12 {
			return fallback
		}
		if h == 12 {
			h = 0
		}
	case "pm":
		if h == 0 || h > 12 {
			return fallback
		}
		if h != 12 {
			h += 12
		}
	}
	return h % 24
}

// Contains reports whether hour falls inside the window.
func (w Window) Contains(hour int) bool {
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}
