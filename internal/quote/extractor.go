// Package quote turns inbound provider replies into structured quotes.
package quote

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/contractr/contractr/internal/model"
)

// Extractor parses a message body into a Quote. ProviderID, ThreadID and
// MessageID are left for the caller to fill.
type Extractor interface {
	Extract(ctx context.Context, body string) (model.Quote, error)
}

const notesLimit = 200

var (
	amountPattern = regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d{2})?)`)
	// hourlyPattern matches "hr" only as a word or after a slash, so a body
	// containing "three" stays a fixed quote.
	hourlyPattern = regexp.MustCompile(`(?i)hourly|per hour|/\s*hr\b|\bhrs?\b`)
)

// RegexExtractor pulls the first dollar figure from a body. It never
// returns an error.
type RegexExtractor struct{}

func (RegexExtractor) Extract(_ context.Context, body string) (model.Quote, error) {
	return extractRegex(body), nil
}

func extractRegex(body string) model.Quote {
	q := model.Quote{
		PriceType: model.PriceTypeFixed,
		Notes:     truncate(body, notesLimit),
		Source:    model.QuoteSourceRegex,
	}
	if m := amountPattern.FindStringSubmatch(body); m != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
			q.TotalEstimated = &v
		}
	}
	if hourlyPattern.MatchString(body) {
		q.PriceType = model.PriceTypeHourly
	}
	return q
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var stopKeywords = []string{"stop", "unsubscribe", "opt out", "cancel"}

// IsStopRequest reports whether body asks to end contact. Matching is a
// case-insensitive substring test, so "the job is stopped" matches too.
func IsStopRequest(body string) bool {
	folded := cases.Fold().String(body)
	for _, kw := range stopKeywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}
