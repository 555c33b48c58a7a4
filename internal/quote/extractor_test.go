package quote

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractr/contractr/internal/model"
)

func TestRegexExtractor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantTotal *float64
		wantType  model.PriceType
	}{
		{"flat fee", "Quote: $350 flat fee", ptr(350), model.PriceTypeFixed},
		{"hourly slash", "$45/hr for 3 hours", ptr(45), model.PriceTypeHourly},
		{"hourly word", "We charge $80 hourly, two hour minimum.", ptr(80), model.PriceTypeHourly},
		{"thousands and cents", "Total comes to $ 12,450.50 including materials.", ptr(12450.50), model.PriceTypeFixed},
		{"first amount wins", "Labor $900, materials $300.", ptr(900), model.PriceTypeFixed},
		{"three days is not hourly", "$500 for three days of work", ptr(500), model.PriceTypeFixed},
		{"no amount", "Thanks, we'll get back to you next week.", nil, model.PriceTypeFixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := RegexExtractor{}.Extract(context.Background(), tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, q.PriceType)
			assert.Equal(t, model.QuoteSourceRegex, q.Source)
			if tt.wantTotal == nil {
				assert.Nil(t, q.TotalEstimated)
				return
			}
			require.NotNil(t, q.TotalEstimated)
			assert.InDelta(t, *tt.wantTotal, *q.TotalEstimated, 0.001)
		})
	}
}

func TestRegexExtractor_NotesTruncated(t *testing.T) {
	t.Parallel()
	body := "$100 " + strings.Repeat("x", 400)
	q, _ := RegexExtractor{}.Extract(context.Background(), body)
	assert.Len(t, q.Notes, 200)
	assert.Empty(t, q.Items)
	assert.Empty(t, q.LeadTime)
}

func TestIsStopRequest(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		"STOP",
		"please STOP texting me",
		"Unsubscribe",
		"I want to opt out",
		"Cancel this",
		"the job is stopped",
	} {
		assert.True(t, IsStopRequest(body), body)
	}
	for _, body := range []string{
		"Sounds good, $300 works",
		"Can you do Thursday?",
		"",
	} {
		assert.False(t, IsStopRequest(body), body)
	}
}

func ptr(v float64) *float64 { return &v }
