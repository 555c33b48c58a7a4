// Package compose writes outbound outreach and negotiation messages.
package compose

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/contractr/contractr/internal/compliance"
	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/negotiation"
	"github.com/contractr/contractr/pkg/anthropic"
)

// Signature closes every templated message.
const Signature = "Contractr.AI Assistant"

// Draft is a message ready for the compliance footer and transport.
type Draft struct {
	Subject string
	Body    string
}

// CounterInput carries what a counter-offer may reference.
type CounterInput struct {
	Project      *model.Project
	ProviderName string
	Current      model.Quote
	Decision     negotiation.Decision
}

// Options configures the optional LLM writer.
type Options struct {
	Client  anthropic.Client
	Model   string
	Timeout time.Duration
}

// Composer builds message drafts. With a nil client every draft comes from
// templates.
type Composer struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

// New creates a Composer.
func New(opts Options) *Composer {
	return &Composer{client: opts.Client, model: opts.Model, timeout: opts.Timeout}
}

var printer = message.NewPrinter(language.English)

// FormatMoney renders v as "$1,250" or "$1,250.50".
func FormatMoney(v float64) string {
	if v == math.Trunc(v) {
		return printer.Sprintf("$%d", int64(v))
	}
	return printer.Sprintf("$%.2f", v)
}

// Subject is the thread subject for a project.
func Subject(p *model.Project) string {
	return fmt.Sprintf("Quote Request: %s - %s", p.Type, p.City)
}

// Initial drafts the first message to a provider.
func (c *Composer) Initial(p *model.Project, _ *model.Provider) Draft {
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	fmt.Fprintf(&b, "I'm reaching out on behalf of my client who needs %s services.\n\n", strings.ToLower(p.Type))

	b.WriteString("Details:\n")
	loc := p.Address
	if p.City != "" {
		if loc != "" {
			loc += ", "
		}
		loc += p.City
	}
	if p.Zip != "" {
		loc += " " + p.Zip
	}
	fmt.Fprintf(&b, "- Location: %s\n", loc)
	if p.DateWindow != "" {
		fmt.Fprintf(&b, "- Desired timeframe: %s\n", p.DateWindow)
	}
	if p.BudgetMax != nil {
		fmt.Fprintf(&b, "- Budget: Under %s\n", FormatMoney(*p.BudgetMax))
	}
	if len(p.MustHaves) > 0 {
		fmt.Fprintf(&b, "- Requirements: %s\n", strings.Join(p.MustHaves, ", "))
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "- Additional notes: %s\n", p.Description)
	}

	b.WriteString("\nCould you please provide:\n")
	b.WriteString("1. An itemized quote\n")
	b.WriteString("2. Your availability\n")
	b.WriteString("3. Any fees or deposits\n")
	b.WriteString("4. Timeline for completion\n\n")
	b.WriteString("I'm comparing multiple providers to ensure the best value. ")
	b.WriteString("Feel free to let me know if you have any questions.\n\n")
	b.WriteString("Best regards,\n")
	b.WriteString(Signature)

	return Draft{Subject: Subject(p), Body: b.String()}
}

// Ask returns the one-line request for a strategy. price_match without a
// competitor to cite gets the generic ask.
func Ask(d negotiation.Decision) string {
	switch d.Strategy {
	case model.StrategyPriceMatch:
		if d.Competitor != nil && d.Competitor.HasTotal() {
			return "Would you be able to match or beat this competitive offer?"
		}
	case model.StrategyBundle:
		return "Could you offer a bundle discount for additional services?"
	case model.StrategyOffPeak:
		return "Could we get a discount for scheduling during off-peak hours?"
	case model.StrategyFeeWaiver:
		return "Is there any way you could reduce or waive the setup/deposit fees?"
	}
	return "Would you be open to negotiating the terms?"
}

// CounterOffer drafts a short negotiation reply. The LLM writer is tried
// first when configured; any failure uses the template.
func (c *Composer) CounterOffer(ctx context.Context, in CounterInput) (Draft, error) {
	subject := ""
	if in.Project != nil {
		subject = "Re: " + Subject(in.Project)
	}

	if c.client != nil {
		body, err := c.writeWithLLM(ctx, in)
		if err == nil {
			return Draft{Subject: subject, Body: body}, nil
		}
		zap.L().Warn("compose: llm counter-offer failed, using template",
			zap.String("strategy", string(in.Decision.Strategy)),
			zap.Error(err),
		)
	}
	return Draft{Subject: subject, Body: templateCounter(in)}, nil
}

func templateCounter(in CounterInput) string {
	var parts []string
	if in.Current.HasTotal() {
		parts = append(parts, fmt.Sprintf("Thank you for your quote of %s.", FormatMoney(*in.Current.TotalEstimated)))
	} else {
		parts = append(parts, "Thank you for your quote.")
	}
	if c := in.Decision.Competitor; in.Decision.Strategy == model.StrategyPriceMatch && c != nil && c.HasTotal() {
		parts = append(parts, fmt.Sprintf("We have received another offer of %s for the same work.", FormatMoney(*c.TotalEstimated)))
	}
	parts = append(parts, Ask(in.Decision))
	return strings.Join(parts, " ") + "\n\nBest regards,\n" + Signature
}

var figurePattern = regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d+)?)`)

func (c *Composer) writeWithLLM(ctx context.Context, in CounterInput) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	temp := 0.7
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   500,
		Messages:    []anthropic.Message{{Role: "user", Content: negotiationPrompt(in)}},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "compose: llm counter-offer")
	}
	resp.Usage.LogCost(c.model, "counter_offer")

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", eris.New("compose: empty llm response")
	}
	if err := checkFigures(text, in); err != nil {
		return "", err
	}
	return text + "\n\nBest regards,\n" + Signature, nil
}

// checkFigures rejects text quoting dollar amounts other than the current
// and competitor totals.
func checkFigures(text string, in CounterInput) error {
	known := map[float64]bool{}
	if in.Current.HasTotal() {
		known[*in.Current.TotalEstimated] = true
	}
	if c := in.Decision.Competitor; c != nil && c.HasTotal() {
		known[*c.TotalEstimated] = true
	}
	for _, m := range figurePattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil || !known[v] {
			return eris.Errorf("compose: unsupported figure %q", m[0])
		}
	}
	return nil
}

func negotiationPrompt(in CounterInput) string {
	current := "N/A"
	if in.Current.HasTotal() {
		current = FormatMoney(*in.Current.TotalEstimated)
	}
	competitor := "none"
	if c := in.Decision.Competitor; c != nil && c.HasTotal() {
		competitor = FormatMoney(*c.TotalEstimated)
	}

	var b strings.Builder
	b.WriteString("You are negotiating a contract on behalf of your client. ")
	b.WriteString("Be professional, polite, and truthful. Never fabricate information.\n\n")
	fmt.Fprintf(&b, "Provider: %s\n", in.ProviderName)
	fmt.Fprintf(&b, "Current quote: %s\n", current)
	fmt.Fprintf(&b, "Competitor quote for comparison: %s\n", competitor)
	fmt.Fprintf(&b, "Strategy: %s\n\n", in.Decision.Strategy)
	b.WriteString("Write a short message (2-3 sentences) that acknowledges the quote, ")
	b.WriteString("mentions the competitor's offer only if one is given above, and makes this request: ")
	b.WriteString(Ask(in.Decision))
	b.WriteString("\nDo not add a greeting line, signature, or any dollar amount not listed above.")
	return b.String()
}

// Finalize applies the compliance footer to a draft.
func (c *Composer) Finalize(d Draft, decision compliance.Decision) Draft {
	d.Body = compliance.ApplyFooter(d.Body, decision)
	return d
}
