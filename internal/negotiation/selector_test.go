package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractr/contractr/internal/model"
)

func quoteOf(provider string, total float64) model.Quote {
	return model.Quote{ProviderID: provider, TotalEstimated: &total}
}

func TestSelect_PriceMatchCitesLowest(t *testing.T) {
	t.Parallel()
	s := NewSelector(model.StrategyFeeWaiver)

	d := s.Select(quoteOf("a", 1000), []model.Quote{
		quoteOf("b", 950),
		quoteOf("c", 800),
		{ProviderID: "d"},
	}, &model.Project{})

	assert.Equal(t, model.StrategyPriceMatch, d.Strategy)
	require.NotNil(t, d.Competitor)
	assert.Equal(t, "c", d.Competitor.ProviderID)
	assert.InDelta(t, 800, *d.Competitor.TotalEstimated, 0.001)
}

func TestSelect_EqualCompetitorIsNotLower(t *testing.T) {
	t.Parallel()
	s := NewSelector(model.StrategyFeeWaiver)

	d := s.Select(quoteOf("a", 800), []model.Quote{quoteOf("b", 800)}, &model.Project{})
	assert.Equal(t, model.StrategyFeeWaiver, d.Strategy)
	assert.Nil(t, d.Competitor)
}

func TestSelect_IgnoresOwnQuotes(t *testing.T) {
	t.Parallel()
	s := NewSelector(model.StrategyFeeWaiver)

	d := s.Select(quoteOf("a", 1000), []model.Quote{quoteOf("a", 700)}, &model.Project{})
	assert.Equal(t, model.StrategyFeeWaiver, d.Strategy)
}

func TestSelect_Bundle(t *testing.T) {
	t.Parallel()
	s := NewSelector(model.StrategyFeeWaiver)
	project := &model.Project{MustHaves: []string{"licensed", "insured"}}

	d := s.Select(quoteOf("a", 500), []model.Quote{quoteOf("b", 600)}, project)
	assert.Equal(t, model.StrategyBundle, d.Strategy)

	// No total on the current quote: no price comparison possible.
	d = s.Select(model.Quote{ProviderID: "a"}, []model.Quote{quoteOf("b", 100)}, project)
	assert.Equal(t, model.StrategyBundle, d.Strategy)
}

func TestSelect_Fallback(t *testing.T) {
	t.Parallel()

	d := NewSelector(model.StrategyOffPeak).Select(quoteOf("a", 500), nil, &model.Project{MustHaves: []string{"one"}})
	assert.Equal(t, model.StrategyOffPeak, d.Strategy)

	d = NewSelector("").Select(quoteOf("a", 500), nil, nil)
	assert.Equal(t, model.StrategyFeeWaiver, d.Strategy)
}
