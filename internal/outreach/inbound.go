package outreach

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/quote"
)

// InboundMessage is a reply received by a webhook.
type InboundMessage struct {
	Channel model.Channel
	From    string
	Subject string
	Body    string
}

// InboundResult reports what happened to an inbound message.
type InboundResult struct {
	OptedOut bool          `json:"opted_out"`
	Routed   bool          `json:"routed"`
	Append   *AppendResult `json:"append,omitempty"`
	OptOut   *OptOutResult `json:"opt_out,omitempty"`
}

// MessageInput is a message recorded against a thread.
type MessageInput struct {
	Direction model.Direction `json:"direction"`
	Sender    string          `json:"sender"`
	Subject   string          `json:"subject"`
	BodyText  string          `json:"body_text"`
}

// AppendResult is the stored message plus any quote extracted from it.
type AppendResult struct {
	Message           *model.Message `json:"message"`
	Quote             *model.Quote   `json:"quote,omitempty"`
	CounterDispatched bool           `json:"counter_dispatched"`
}

// OptOutResult counts what an opt-out touched.
type OptOutResult struct {
	Threads  int64 `json:"threads"`
	Contacts int64 `json:"contacts"`
}

// HandleInbound routes a reply to the sender's open thread. SMS stop
// keywords opt the sender out instead.
func (o *Orchestrator) HandleInbound(ctx context.Context, in InboundMessage) (*InboundResult, error) {
	if !in.Channel.Valid() || strings.TrimSpace(in.From) == "" {
		return nil, eris.Wrap(model.ErrInvalidInput, "outreach: inbound message needs channel and sender")
	}

	if in.Channel == model.ChannelSMS && quote.IsStopRequest(in.Body) {
		res, err := o.OptOut(ctx, in.Channel, in.From)
		if err != nil {
			return nil, err
		}
		return &InboundResult{OptedOut: true, OptOut: res}, nil
	}

	thread, err := o.routeInbound(ctx, in.Channel, in.From)
	if errors.Is(err, model.ErrNotFound) {
		zap.L().Info("outreach: inbound message has no open thread", zap.String("channel", string(in.Channel)))
		return &InboundResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	appended, err := o.AppendMessage(ctx, thread.ID, MessageInput{
		Direction: model.DirectionIn,
		Sender:    in.From,
		Subject:   in.Subject,
		BodyText:  in.Body,
	})
	if err != nil {
		return nil, err
	}
	return &InboundResult{Routed: true, Append: appended}, nil
}

// routeInbound finds the open thread of a provider whose contact matches the
// sender.
func (o *Orchestrator) routeInbound(ctx context.Context, ch model.Channel, from string) (*model.Thread, error) {
	contacts, err := o.store.FindContacts(ctx, ch, from)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: find contacts")
	}
	seen := map[string]bool{}
	var newest *model.Thread
	for _, c := range contacts {
		if seen[c.ProviderID] {
			continue
		}
		seen[c.ProviderID] = true
		t, err := o.store.FindOpenThread(ctx, c.ProviderID, ch)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, eris.Wrap(err, "outreach: find thread")
		}
		if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
			newest = t
		}
	}
	if newest == nil {
		return nil, eris.Wrapf(model.ErrNotFound, "outreach: open thread for %s sender", ch)
	}
	return newest, nil
}

// OptOut unsubscribes every thread reached through the address and bars its
// contacts from further outreach.
func (o *Orchestrator) OptOut(ctx context.Context, ch model.Channel, address string) (*OptOutResult, error) {
	contacts, err := o.store.FindContacts(ctx, ch, address)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: find contacts")
	}
	threads, err := o.store.UnsubscribeThreads(ctx, ch, address)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: unsubscribe threads")
	}
	disallowed, err := o.store.DisallowContacts(ctx, ch, address)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: disallow contacts")
	}

	projects := map[string][]string{}
	for _, c := range contacts {
		prov, err := o.store.GetProvider(ctx, c.ProviderID)
		if err != nil {
			continue
		}
		projects[prov.ProjectID] = append(projects[prov.ProjectID], prov.ID)
	}
	for projectID, providers := range projects {
		o.event(ctx, projectID, model.EventContactOptedOut, map[string]any{
			"channel":   string(ch),
			"providers": providers,
		})
	}

	zap.L().Info("outreach: contact opted out",
		zap.String("channel", string(ch)),
		zap.Int64("threads", threads),
		zap.Int64("contacts", disallowed),
	)
	return &OptOutResult{Threads: threads, Contacts: disallowed}, nil
}

// AppendMessage records a message on a thread. Inbound messages are scanned
// for a quote; on autopilot projects a found quote schedules a
// counter-offer.
func (o *Orchestrator) AppendMessage(ctx context.Context, threadID string, in MessageInput) (*AppendResult, error) {
	if in.Direction != model.DirectionIn && in.Direction != model.DirectionOut {
		return nil, eris.Wrapf(model.ErrInvalidInput, "outreach: direction %q", in.Direction)
	}
	if strings.TrimSpace(in.BodyText) == "" {
		return nil, eris.Wrap(model.ErrInvalidInput, "outreach: empty message body")
	}

	thread, err := o.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	prov, err := o.store.GetProvider(ctx, thread.ProviderID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ThreadID:  thread.ID,
		Direction: in.Direction,
		Sender:    in.Sender,
		Subject:   in.Subject,
		BodyText:  in.BodyText,
		Timestamp: o.now().UTC(),
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return nil, eris.Wrap(err, "outreach: append message")
	}
	res := &AppendResult{Message: msg}
	if in.Direction != model.DirectionIn {
		return res, nil
	}

	o.event(ctx, prov.ProjectID, model.EventMessageReceived, map[string]any{
		"provider_id": prov.ID,
		"thread_id":   thread.ID,
		"message_id":  msg.ID,
	})

	q, err := o.extractor.Extract(ctx, in.BodyText)
	if err != nil || !q.HasTotal() {
		return res, nil
	}
	q.ProviderID = prov.ID
	q.ThreadID = thread.ID
	q.MessageID = msg.ID
	if err := o.store.SaveQuote(ctx, &q); err != nil {
		return nil, eris.Wrap(err, "outreach: save quote")
	}
	res.Quote = &q
	o.event(ctx, prov.ProjectID, model.EventQuoteReceived, map[string]any{
		"provider_id":     prov.ID,
		"thread_id":       thread.ID,
		"quote_id":        q.ID,
		"total_estimated": *q.TotalEstimated,
		"price_type":      string(q.PriceType),
	})

	res.CounterDispatched = o.maybeCounter(ctx, prov.ProjectID, thread)
	return res, nil
}

func (o *Orchestrator) maybeCounter(ctx context.Context, projectID string, thread *model.Thread) bool {
	if o.dispatcher == nil || thread.Unsubscribe || thread.Status != model.ThreadStatusOpen {
		return false
	}
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil || !project.Autopilot || !project.Status.Active() {
		return false
	}
	if err := o.dispatcher.DispatchCounter(ctx, thread.ID); err != nil {
		zap.L().Warn("outreach: counter-offer dispatch failed",
			zap.String("project_id", projectID),
			zap.String("thread_id", thread.ID),
			zap.Error(err),
		)
		return false
	}
	return true
}
