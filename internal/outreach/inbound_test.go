package outreach

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/transport"
)

func eventTypes(t *testing.T, f *fixture, projectID string) []string {
	t.Helper()
	events, err := f.store.ListEvents(context.Background(), projectID)
	require.NoError(t, err)
	var out []string
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func (f *fixture) contacted(t *testing.T, providerID string) *Result {
	t.Helper()
	f.sender.On("Send", mock.Anything, mock.Anything).Return(transport.Receipt{From: "assistant@contractr.ai"}, nil).Once()
	res, err := f.orch.Initiate(context.Background(), providerID)
	require.NoError(t, err)
	return res
}

func TestHandleInbound_ExtractsQuoteAndDispatchesCounter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	d := &recordingDispatcher{}
	f.orch.SetDispatcher(d)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelEmail)
	prov := f.provider(t, p.ID, "acme.com", email("bob@acme.com", true))
	sent := f.contacted(t, prov.ID)

	res, err := f.orch.HandleInbound(ctx, InboundMessage{
		Channel: model.ChannelEmail,
		From:    "Bob@Acme.com",
		Subject: "Re: Quote Request",
		Body:    "We can do the job for $1,250 including materials.",
	})
	require.NoError(t, err)
	assert.True(t, res.Routed)
	require.NotNil(t, res.Append)
	require.NotNil(t, res.Append.Quote)
	assert.InDelta(t, 1250.0, *res.Append.Quote.TotalEstimated, 0.001)
	assert.Equal(t, prov.ID, res.Append.Quote.ProviderID)
	assert.Equal(t, sent.Thread.ID, res.Append.Message.ThreadID)
	assert.True(t, res.Append.CounterDispatched)
	assert.Equal(t, []string{sent.Thread.ID}, d.threads)

	types := eventTypes(t, f, p.ID)
	assert.Contains(t, types, model.EventMessageReceived)
	assert.Contains(t, types, model.EventQuoteReceived)
}

func TestHandleInbound_NoCounterWithoutAutopilot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	d := &recordingDispatcher{}
	f.orch.SetDispatcher(d)
	p := &model.Project{Type: "Roofing", City: "Denver", ChannelsAllowed: []model.Channel{model.ChannelEmail},
		Status: model.ProjectStatusOutreach}
	require.NoError(t, f.store.CreateProject(ctx, p))
	prov := f.provider(t, p.ID, "acme.com", email("bob@acme.com", true))
	f.contacted(t, prov.ID)

	res, err := f.orch.HandleInbound(ctx, InboundMessage{Channel: model.ChannelEmail, From: "bob@acme.com", Body: "About $900."})
	require.NoError(t, err)
	require.NotNil(t, res.Append.Quote)
	assert.False(t, res.Append.CounterDispatched)
	assert.Empty(t, d.threads)
}

func TestHandleInbound_UnknownSender(t *testing.T) {
	f := newFixture(t, 10)
	res, err := f.orch.HandleInbound(context.Background(), InboundMessage{
		Channel: model.ChannelEmail, From: "stranger@example.com", Body: "hello",
	})
	require.NoError(t, err)
	assert.False(t, res.Routed)
	assert.Nil(t, res.Append)
}

func TestHandleInbound_RejectsMissingSender(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.orch.HandleInbound(context.Background(), InboundMessage{Channel: model.ChannelSMS, Body: "hi"})
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestHandleInbound_SMSStopOptsOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelSMS)
	prov := f.provider(t, p.ID, "acme.com", phone("(303) 555-0100", true))
	sent := f.contacted(t, prov.ID)

	res, err := f.orch.HandleInbound(ctx, InboundMessage{Channel: model.ChannelSMS, From: "+13035550100", Body: " Stop "})
	require.NoError(t, err)
	assert.True(t, res.OptedOut)
	assert.False(t, res.Routed)
	require.NotNil(t, res.OptOut)
	assert.EqualValues(t, 1, res.OptOut.Threads)
	assert.EqualValues(t, 1, res.OptOut.Contacts)

	thread, err := f.store.GetThread(ctx, sent.Thread.ID)
	require.NoError(t, err)
	assert.True(t, thread.Unsubscribe)

	contacts, err := f.store.ListContacts(ctx, prov.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.False(t, contacts[0].Allowed)
	assert.Contains(t, eventTypes(t, f, p.ID), model.EventContactOptedOut)

	_, err = f.orch.Initiate(ctx, prov.ID)
	require.ErrorIs(t, err, model.ErrNoAllowedContact)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestSendCounterOffer_PriceMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	p := f.project(t, model.ProjectStatusNegotiating, model.ChannelEmail)
	a := f.provider(t, p.ID, "a.com", email("a@a.com", true))
	b := f.provider(t, p.ID, "b.com", email("b@b.com", true))
	sent := f.contacted(t, a.ID)

	high, low := 1500.0, 1200.0
	require.NoError(t, f.store.SaveQuote(ctx, &model.Quote{ProviderID: a.ID, TotalEstimated: &high, PriceType: model.PriceTypeFixed, Source: model.QuoteSourceRegex}))
	require.NoError(t, f.store.SaveQuote(ctx, &model.Quote{ProviderID: b.ID, TotalEstimated: &low, PriceType: model.PriceTypeFixed, Source: model.QuoteSourceRegex}))

	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(m transport.Outbound) bool {
		return m.To == "a@a.com" && m.ThreadID == sent.Thread.ID
	})).Return(transport.Receipt{From: "assistant@contractr.ai"}, nil).Once()

	res, err := f.orch.SendCounterOffer(ctx, sent.Thread.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StrategyPriceMatch, res.Strategy)
	assert.Equal(t, "Re: Quote Request: Painting - Boise", res.Message.Subject)
	assert.Contains(t, res.Message.BodyText, "$1,500")
	assert.Contains(t, res.Message.BodyText, "$1,200")
	assert.Contains(t, res.Message.BodyText, "unsubscribe")
	assert.Contains(t, eventTypes(t, f, p.ID), model.EventCounterSent)

	msgs, err := f.store.ListMessages(ctx, sent.Thread.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestSendCounterOffer_NoQuote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	p := f.project(t, model.ProjectStatusNegotiating, model.ChannelEmail)
	prov := f.provider(t, p.ID, "a.com", email("a@a.com", true))
	sent := f.contacted(t, prov.ID)

	_, err := f.orch.SendCounterOffer(ctx, sent.Thread.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestAppendMessage_Validation(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.orch.AppendMessage(context.Background(), "t1", MessageInput{Direction: "sideways", BodyText: "x"})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.orch.AppendMessage(context.Background(), "t1", MessageInput{Direction: model.DirectionIn, BodyText: "  "})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.orch.AppendMessage(context.Background(), "missing", MessageInput{Direction: model.DirectionIn, BodyText: "hi"})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestAppendMessage_NoTotalStoresNoQuote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelEmail)
	prov := f.provider(t, p.ID, "a.com", email("a@a.com", true))
	sent := f.contacted(t, prov.ID)

	res, err := f.orch.AppendMessage(ctx, sent.Thread.ID, MessageInput{
		Direction: model.DirectionIn, Sender: "a@a.com", BodyText: "Thanks, we will look at the job this week.",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Quote)

	quotes, err := f.store.ListQuotes(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, quotes)
}
