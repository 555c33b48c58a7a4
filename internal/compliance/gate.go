// Package compliance decides whether an outbound message may be sent and
// which footers it must carry.
package compliance

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/model"
)

// Rejection reasons reported in Decision.Reason.
const (
	ReasonContactDisallowed = "contact is not permitted for outreach"
	ReasonUnsubscribed      = "thread is unsubscribed"
	ReasonQuietHours        = "outside permitted sending hours"
	ReasonRateLimited       = "rate limit exceeded for destination"
)

// DefaultDisclosure is appended to messages that do not already disclose
// automated sending.
const DefaultDisclosure = "(This message was sent by Contractr.AI on behalf of our user.)"

// FooterKind identifies a required footer.
type FooterKind string

const (
	FooterDisclosure  FooterKind = "disclosure"
	FooterOptOut      FooterKind = "opt_out"
	FooterUnsubscribe FooterKind = "unsubscribe"
)

// Footer is text that must appear in an outbound body.
type Footer struct {
	Kind FooterKind
	Text string
}

// Decision is the outcome of evaluating one send.
type Decision struct {
	Allowed        bool
	Reason         string
	RequiredFooter []Footer
}

// Options configures a Gate.
type Options struct {
	Disclosure        string
	DefaultQuietHours string
	FrontendBaseURL   string
	Limiter           RateLimiter
}

// Gate applies the send rules. Evaluate is pure; Authorize additionally
// consumes a rate-limit slot.
type Gate struct {
	disclosure   string
	defaultQuiet string
	frontend     string
	limiter      RateLimiter
}

// NewGate creates a Gate. A nil limiter disables rate limiting.
func NewGate(opts Options) *Gate {
	g := &Gate{
		disclosure:   opts.Disclosure,
		defaultQuiet: opts.DefaultQuietHours,
		frontend:     strings.TrimRight(opts.FrontendBaseURL, "/"),
		limiter:      opts.Limiter,
	}
	if g.disclosure == "" {
		g.disclosure = DefaultDisclosure
	}
	return g
}

// Evaluate checks contact permission, thread unsubscribe state and the
// project's sending window, in that order. thread may be nil for a first
// contact.
func (g *Gate) Evaluate(contact model.ContactMethod, thread *model.Thread, project *model.Project, now time.Time) Decision {
	if !contact.Allowed {
		return Decision{Reason: ReasonContactDisallowed}
	}
	if thread != nil && thread.Unsubscribe {
		return Decision{Reason: ReasonUnsubscribed}
	}

	text := g.defaultQuiet
	if project != nil && strings.TrimSpace(project.QuietHours) != "" {
		text = project.QuietHours
	}
	if w, ok := ParseWindow(text); ok && !w.Contains(now.Hour()) {
		return Decision{Reason: ReasonQuietHours}
	}

	footers := []Footer{{Kind: FooterDisclosure, Text: g.disclosure}}
	switch contact.Kind {
	case model.ChannelSMS:
		footers = append(footers, Footer{Kind: FooterOptOut, Text: "Reply STOP to opt out."})
	case model.ChannelEmail:
		if project != nil {
			footers = append(footers, Footer{
				Kind: FooterUnsubscribe,
				Text: "To stop receiving these emails, unsubscribe here: " + g.UnsubscribeURL(project.ID),
			})
		}
	}
	return Decision{Allowed: true, RequiredFooter: footers}
}

// Authorize runs Evaluate and, when the send is otherwise permitted, takes
// a rate-limit slot for the destination. A limiter error is returned as-is
// and the send must not proceed.
func (g *Gate) Authorize(ctx context.Context, contact model.ContactMethod, thread *model.Thread, project *model.Project, now time.Time) (Decision, error) {
	d := g.Evaluate(contact, thread, project, now)
	if !d.Allowed || g.limiter == nil {
		return d, nil
	}

	ok, err := g.limiter.Allow(ctx, LimitKey(contact))
	if err != nil {
		return Decision{}, eris.Wrap(err, "compliance: rate limit check")
	}
	if !ok {
		zap.L().Info("compliance: rate limited",
			zap.String("provider_id", contact.ProviderID),
			zap.String("channel", string(contact.Kind)),
		)
		return Decision{Reason: ReasonRateLimited}, nil
	}
	return d, nil
}

// Release returns the rate-limit slot taken by Authorize for a send that
// did not go out.
func (g *Gate) Release(ctx context.Context, contact model.ContactMethod) {
	if g.limiter == nil {
		return
	}
	if err := g.limiter.Release(ctx, LimitKey(contact)); err != nil {
		zap.L().Warn("compliance: release rate limit slot", zap.Error(err))
	}
}

// UnsubscribeURL is the client-facing link recipients use to opt out.
func (g *Gate) UnsubscribeURL(projectID string) string {
	return g.frontend + "/projects/" + projectID + "/unsubscribe"
}

// LimitKey is the rate-limit key for a destination.
func LimitKey(contact model.ContactMethod) string {
	return string(contact.Kind) + ":" + model.NormalizeAddress(contact.Kind, contact.Value)
}

// ApplyFooter appends each required footer the body does not already
// satisfy.
func ApplyFooter(body string, d Decision) string {
	out := strings.TrimRight(body, " \n")
	for _, f := range d.RequiredFooter {
		if satisfied(out, f) {
			continue
		}
		out += "\n\n" + f.Text
	}
	return out
}

func satisfied(body string, f Footer) bool {
	lower := strings.ToLower(body)
	switch f.Kind {
	case FooterDisclosure:
		return strings.Contains(lower, strings.ToLower(f.Text))
	case FooterOptOut:
		return strings.Contains(lower, "stop") ||
			strings.Contains(lower, "opt out") ||
			strings.Contains(lower, "opt-out") ||
			strings.Contains(lower, "unsubscribe")
	case FooterUnsubscribe:
		return strings.Contains(lower, "unsubscribe")
	}
	return false
}
