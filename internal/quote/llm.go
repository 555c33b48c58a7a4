package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/pkg/anthropic"
)

const systemPrompt = `You extract pricing from contractor replies to a quote request.
Respond with a single JSON object and nothing else, using these fields:
total_estimated (number or null), price_type ("fixed", "hourly" or "estimate"),
lead_time (string), warranty (string), items, fees, discounts (arrays of
{"description": string, "amount": number or null}), notes (string, short),
valid_until (YYYY-MM-DD or null). Use null or empty values for anything the
message does not state. Never invent figures.`

var quoteSchema = `{
  "type": "object",
  "required": ["total_estimated", "price_type"],
  "properties": {
    "total_estimated": {"type": ["number", "null"], "minimum": 0},
    "price_type": {"enum": ["fixed", "hourly", "estimate"]},
    "lead_time": {"type": ["string", "null"]},
    "warranty": {"type": ["string", "null"]},
    "items": {"$ref": "#/$defs/lines"},
    "fees": {"$ref": "#/$defs/lines"},
    "discounts": {"$ref": "#/$defs/lines"},
    "notes": {"type": ["string", "null"]},
    "valid_until": {"type": ["string", "null"]}
  },
  "$defs": {
    "lines": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["description"],
        "properties": {
          "description": {"type": "string"},
          "amount": {"type": ["number", "null"]}
        }
      }
    }
  }
}`

type llmQuote struct {
	TotalEstimated *float64         `json:"total_estimated"`
	PriceType      model.PriceType  `json:"price_type"`
	LeadTime       string           `json:"lead_time"`
	Warranty       string           `json:"warranty"`
	Items          []model.LineItem `json:"items"`
	Fees           []model.LineItem `json:"fees"`
	Discounts      []model.LineItem `json:"discounts"`
	Notes          string           `json:"notes"`
	ValidUntil     *string          `json:"valid_until"`
}

// LLMExtractor asks Claude for a structured quote and falls back to
// RegexExtractor whenever the call or its output is unusable.
type LLMExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	schema    *jsonschema.Schema
}

// NewLLMExtractor compiles the response schema and returns an extractor.
func NewLLMExtractor(client anthropic.Client, model string, maxTokens int64, timeout time.Duration) (*LLMExtractor, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("quote.json", strings.NewReader(quoteSchema)); err != nil {
		return nil, eris.Wrap(err, "quote: add schema")
	}
	schema, err := compiler.Compile("quote.json")
	if err != nil {
		return nil, eris.Wrap(err, "quote: compile schema")
	}
	return &LLMExtractor{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		schema:    schema,
	}, nil
}

func (e *LLMExtractor) Extract(ctx context.Context, body string) (model.Quote, error) {
	q, err := e.extract(ctx, body)
	if err != nil {
		zap.L().Warn("quote: llm extraction failed, using regex", zap.Error(err))
		return extractRegex(body), nil
	}
	return q, nil
}

func (e *LLMExtractor) extract(ctx context.Context, body string) (model.Quote, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	temp := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: body}},
		Temperature: &temp,
	})
	if err != nil {
		return model.Quote{}, eris.Wrap(model.ErrUpstreamUnavailable, err.Error())
	}
	resp.Usage.LogCost(e.model, "quote_extract")

	raw := []byte(stripFences(resp.Text()))
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Quote{}, eris.Wrap(err, "quote: response is not json")
	}
	if err := e.schema.Validate(doc); err != nil {
		return model.Quote{}, eris.Wrap(err, "quote: response does not match schema")
	}

	var lq llmQuote
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&lq); err != nil {
		return model.Quote{}, eris.Wrap(err, "quote: decode response")
	}

	q := model.Quote{
		TotalEstimated: lq.TotalEstimated,
		PriceType:      lq.PriceType,
		LeadTime:       lq.LeadTime,
		Warranty:       lq.Warranty,
		Items:          lq.Items,
		Fees:           lq.Fees,
		Discounts:      lq.Discounts,
		Notes:          truncate(lq.Notes, notesLimit),
		Source:         model.QuoteSourceLLM,
	}
	if q.Notes == "" {
		q.Notes = truncate(body, notesLimit)
	}
	if lq.ValidUntil != nil {
		if t, err := time.Parse(time.DateOnly, *lq.ValidUntil); err == nil {
			q.ValidUntil = &t
		}
	}
	return q, nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
