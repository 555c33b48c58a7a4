package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractr/contractr/internal/model"
)

func at(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC)
}

func smsContact(allowed bool) model.ContactMethod {
	return model.ContactMethod{ID: "c1", ProviderID: "prov1", Kind: model.ChannelSMS, Value: "(303) 555-0100", Allowed: allowed}
}

func newTestGate(limiter RateLimiter) *Gate {
	return NewGate(Options{FrontendBaseURL: "https://app.contractr.ai/", Limiter: limiter})
}

func TestEvaluate_RuleOrder(t *testing.T) {
	t.Parallel()
	g := newTestGate(nil)
	project := &model.Project{ID: "p1", QuietHours: "9am-6pm"}
	unsub := &model.Thread{Unsubscribe: true}

	d := g.Evaluate(smsContact(false), unsub, project, at(20))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonContactDisallowed, d.Reason)

	d = g.Evaluate(smsContact(true), unsub, project, at(20))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnsubscribed, d.Reason)

	d = g.Evaluate(smsContact(true), &model.Thread{}, project, at(20))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonQuietHours, d.Reason)

	d = g.Evaluate(smsContact(true), nil, project, at(12))
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestEvaluate_QuietHours(t *testing.T) {
	t.Parallel()

	g := newTestGate(nil)
	noWindow := &model.Project{ID: "p1"}
	assert.True(t, g.Evaluate(smsContact(true), nil, noWindow, at(3)).Allowed, "no window means no restriction")

	malformed := &model.Project{ID: "p1", QuietHours: "whenever"}
	assert.False(t, g.Evaluate(smsContact(true), nil, malformed, at(20)).Allowed)
	assert.True(t, g.Evaluate(smsContact(true), nil, malformed, at(10)).Allowed)

	withDefault := NewGate(Options{DefaultQuietHours: "8am-5pm"})
	assert.False(t, withDefault.Evaluate(smsContact(true), nil, noWindow, at(17)).Allowed)
	overridden := &model.Project{ID: "p1", QuietHours: "8am-8pm"}
	assert.True(t, withDefault.Evaluate(smsContact(true), nil, overridden, at(17)).Allowed)
}

func TestEvaluate_Footers(t *testing.T) {
	t.Parallel()
	g := newTestGate(nil)
	project := &model.Project{ID: "p1"}

	sms := g.Evaluate(smsContact(true), nil, project, at(12))
	require.True(t, sms.Allowed)
	require.Len(t, sms.RequiredFooter, 2)
	assert.Equal(t, FooterDisclosure, sms.RequiredFooter[0].Kind)
	assert.Equal(t, DefaultDisclosure, sms.RequiredFooter[0].Text)
	assert.Equal(t, FooterOptOut, sms.RequiredFooter[1].Kind)

	email := model.ContactMethod{Kind: model.ChannelEmail, Value: "bob@acme.com", Allowed: true}
	d := g.Evaluate(email, nil, project, at(12))
	require.Len(t, d.RequiredFooter, 2)
	assert.Equal(t, FooterUnsubscribe, d.RequiredFooter[1].Kind)
	assert.Contains(t, d.RequiredFooter[1].Text, "https://app.contractr.ai/projects/p1/unsubscribe")
}

func TestApplyFooter(t *testing.T) {
	t.Parallel()
	g := newTestGate(nil)
	project := &model.Project{ID: "p1"}
	d := g.Evaluate(smsContact(true), nil, project, at(12))

	out := ApplyFooter("Hi, could you quote a roof repair?\n", d)
	assert.Equal(t, "Hi, could you quote a roof repair?\n\n"+DefaultDisclosure+"\n\nReply STOP to opt out.", out)

	// Already references opt-out and disclosure.
	body := "Quote please. " + DefaultDisclosure + " Text STOP to end."
	assert.Equal(t, body, ApplyFooter(body, d))

	// Idempotent.
	assert.Equal(t, out, ApplyFooter(out, d))
}

func TestAuthorize_RateLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemoryLimiter(1, time.Minute)
	g := newTestGate(l)
	project := &model.Project{ID: "p1"}

	d, err := g.Authorize(ctx, smsContact(true), nil, project, at(12))
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Same number, different formatting.
	other := smsContact(true)
	other.Value = "+1 303 555 0100"
	d, err = g.Authorize(ctx, other, nil, project, at(12))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimited, d.Reason)

	g.Release(ctx, other)
	d, err = g.Authorize(ctx, smsContact(true), nil, project, at(12))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAuthorize_RejectedDoesNotConsume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemoryLimiter(1, time.Minute)
	g := newTestGate(l)

	d, err := g.Authorize(ctx, smsContact(false), nil, &model.Project{ID: "p1"}, at(12))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = g.Authorize(ctx, smsContact(true), nil, &model.Project{ID: "p1"}, at(12))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
