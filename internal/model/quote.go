package model

import "time"

// PriceType describes how a quote is priced.
type PriceType string

const (
	PriceTypeFixed    PriceType = "fixed"
	PriceTypeHourly   PriceType = "hourly"
	PriceTypeEstimate PriceType = "estimate"
)

// QuoteSource records which extractor produced a quote.
type QuoteSource string

const (
	QuoteSourceRegex QuoteSource = "regex"
	QuoteSourceLLM   QuoteSource = "llm"
)

// LineItem is a named amount inside a quote.
type LineItem struct {
	Description string   `json:"description"`
	Amount      *float64 `json:"amount,omitempty"`
}

// Quote is structured pricing extracted from an inbound message.
type Quote struct {
	ID             string      `json:"id"`
	ProviderID     string      `json:"provider_id"`
	ThreadID       string      `json:"thread_id,omitempty"`
	MessageID      string      `json:"message_id,omitempty"`
	TotalEstimated *float64    `json:"total_estimated"`
	PriceType      PriceType   `json:"price_type"`
	LeadTime       string      `json:"lead_time,omitempty"`
	Warranty       string      `json:"warranty,omitempty"`
	Items          []LineItem  `json:"items"`
	Fees           []LineItem  `json:"fees"`
	Discounts      []LineItem  `json:"discounts"`
	Notes          string      `json:"notes,omitempty"`
	ValidUntil     *time.Time  `json:"valid_until,omitempty"`
	Source         QuoteSource `json:"source"`
	CreatedAt      time.Time   `json:"created_at"`
}

// HasTotal reports whether the quote carries a total amount.
func (q *Quote) HasTotal() bool {
	return q != nil && q.TotalEstimated != nil
}

// Strategy is a negotiation tactic.
type Strategy string

const (
	StrategyPriceMatch Strategy = "price_match"
	StrategyBundle     Strategy = "bundle"
	StrategyOffPeak    Strategy = "off_peak"
	StrategyFeeWaiver  Strategy = "fee_waiver"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyPriceMatch, StrategyBundle, StrategyOffPeak, StrategyFeeWaiver:
		return true
	}
	return false
}
