// Package negotiation picks the counter-offer strategy for a received quote.
package negotiation

import (
	"github.com/contractr/contractr/internal/model"
)

// Decision is the selected strategy and, for price_match, the competing
// quote it cites.
type Decision struct {
	Strategy   model.Strategy
	Competitor *model.Quote
}

// Selector chooses strategies. It has no side effects.
type Selector struct {
	fallback model.Strategy
}

// NewSelector returns a Selector whose last-resort strategy is fallback.
// Anything other than fee_waiver or off_peak is treated as fee_waiver.
func NewSelector(fallback model.Strategy) *Selector {
	if fallback != model.StrategyOffPeak {
		fallback = model.StrategyFeeWaiver
	}
	return &Selector{fallback: fallback}
}

// Select prefers price_match when a competitor is strictly cheaper, then
// bundle when the project lists at least two must-haves.
func (s *Selector) Select(current model.Quote, competitors []model.Quote, project *model.Project) Decision {
	if current.HasTotal() {
		var lowest *model.Quote
		for i := range competitors {
			c := &competitors[i]
			if !c.HasTotal() || (current.ProviderID != "" && c.ProviderID == current.ProviderID) {
				continue
			}
			if lowest == nil || *c.TotalEstimated < *lowest.TotalEstimated {
				lowest = c
			}
		}
		if lowest != nil && *lowest.TotalEstimated < *current.TotalEstimated {
			cp := *lowest
			return Decision{Strategy: model.StrategyPriceMatch, Competitor: &cp}
		}
	}

	if project != nil && len(project.MustHaves) >= 2 {
		return Decision{Strategy: model.StrategyBundle}
	}
	return Decision{Strategy: s.fallback}
}
