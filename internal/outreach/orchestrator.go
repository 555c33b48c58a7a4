// Package outreach sends initial requests and counter-offers to providers
// and routes their replies.
package outreach

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/compliance"
	"github.com/contractr/contractr/internal/compose"
	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/negotiation"
	"github.com/contractr/contractr/internal/quote"
	"github.com/contractr/contractr/internal/store"
	"github.com/contractr/contractr/internal/transport"
)

const (
	// claimTTL is how long an unfinished initial send blocks other callers.
	// A claim older than this is treated as abandoned.
	claimTTL       = 15 * time.Minute
	releaseTimeout = 10 * time.Second
)

// Lifecycle is the part of the lifecycle controller outreach depends on.
type Lifecycle interface {
	IsActive(ctx context.Context, projectID string) (bool, error)
	MarkNegotiating(ctx context.Context, projectID string) error
}

// Dispatcher schedules counter-offers for autopilot projects.
type Dispatcher interface {
	DispatchCounter(ctx context.Context, threadID string) error
}

// Result describes one outbound send.
type Result struct {
	Thread   *model.Thread        `json:"thread"`
	Message  *model.Message       `json:"message,omitempty"`
	Contact  *model.ContactMethod `json:"contact,omitempty"`
	Reused   bool                 `json:"reused"`
	Strategy model.Strategy       `json:"strategy,omitempty"`
}

// Deps are the Orchestrator's collaborators.
type Deps struct {
	Store     store.Store
	Lifecycle Lifecycle
	Gate      *compliance.Gate
	Composer  *compose.Composer
	Sender    transport.Sender
	Extractor quote.Extractor
	Selector  *negotiation.Selector
}

// Orchestrator runs outreach for providers.
type Orchestrator struct {
	store      store.Store
	lifecycle  Lifecycle
	gate       *compliance.Gate
	composer   *compose.Composer
	sender     transport.Sender
	extractor  quote.Extractor
	selector   *negotiation.Selector
	dispatcher Dispatcher
	now        func() time.Time
}

// New creates an Orchestrator. Extractor and Selector fall back to the
// regex extractor and a fee_waiver selector when nil.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		store:     d.Store,
		lifecycle: d.Lifecycle,
		gate:      d.Gate,
		composer:  d.Composer,
		sender:    d.Sender,
		extractor: d.Extractor,
		selector:  d.Selector,
		now:       time.Now,
	}
	if o.extractor == nil {
		o.extractor = quote.RegexExtractor{}
	}
	if o.selector == nil {
		o.selector = negotiation.NewSelector(model.StrategyFeeWaiver)
	}
	if o.composer == nil {
		o.composer = compose.New(compose.Options{})
	}
	return o
}

// SetDispatcher binds the counter-offer dispatcher.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

// Initiate sends the first quote request to a provider. A provider whose
// open thread already carries an outbound message, or whose first send is
// claimed by a concurrent caller, is left alone.
func (o *Orchestrator) Initiate(ctx context.Context, providerID string) (*Result, error) {
	prov, err := o.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	project, err := o.store.GetProject(ctx, prov.ProjectID)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("project_id", project.ID), zap.String("provider_id", prov.ID))

	if err := o.ensureActive(ctx, project.ID); err != nil {
		return nil, err
	}

	contact, err := o.selectContact(ctx, prov.ID, project)
	if err != nil {
		return nil, err
	}

	thread, err := o.openThread(ctx, prov.ID, contact.Kind)
	if err != nil {
		return nil, err
	}
	msgs, err := o.store.ListMessages(ctx, thread.ID)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: list messages")
	}
	for _, m := range msgs {
		if m.Direction == model.DirectionOut {
			log.Info("outreach: already contacted", zap.String("thread_id", thread.ID))
			return &Result{Thread: thread, Contact: contact, Reused: true}, nil
		}
	}

	now := o.now()
	claimed, err := o.store.ClaimThread(ctx, thread.ID, now, now.Add(-claimTTL))
	if err != nil {
		return nil, eris.Wrap(err, "outreach: claim thread")
	}
	if !claimed {
		log.Info("outreach: initial send already in progress", zap.String("thread_id", thread.ID))
		return &Result{Thread: thread, Contact: contact, Reused: true}, nil
	}

	draft := o.composer.Initial(project, prov)
	msg, err := o.deliver(ctx, project, thread, contact, draft)
	if err != nil {
		o.release(ctx, thread.ID)
		o.event(ctx, project.ID, model.EventOutreachFailed, map[string]any{
			"provider_id": prov.ID,
			"thread_id":   thread.ID,
			"error":       err.Error(),
		})
		return nil, err
	}

	o.event(ctx, project.ID, model.EventOutreachSent, map[string]any{
		"provider_id": prov.ID,
		"thread_id":   thread.ID,
		"channel":     string(contact.Kind),
	})
	if err := o.lifecycle.MarkNegotiating(ctx, project.ID); err != nil {
		log.Warn("outreach: mark negotiating", zap.Error(err))
	}
	log.Info("outreach: initial request sent", zap.String("thread_id", thread.ID), zap.String("channel", string(contact.Kind)))
	return &Result{Thread: thread, Message: msg, Contact: contact}, nil
}

// SendCounterOffer replies on a thread with a negotiation message based on
// the provider's latest quote and competing quotes on the same project.
func (o *Orchestrator) SendCounterOffer(ctx context.Context, threadID string) (*Result, error) {
	thread, err := o.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Status != model.ThreadStatusOpen {
		return nil, eris.Wrapf(model.ErrProjectInactive, "outreach: thread %s is closed", threadID)
	}
	prov, err := o.store.GetProvider(ctx, thread.ProviderID)
	if err != nil {
		return nil, err
	}
	project, err := o.store.GetProject(ctx, prov.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := o.ensureActive(ctx, project.ID); err != nil {
		return nil, err
	}

	current, err := o.store.LatestQuote(ctx, prov.ID)
	if err != nil {
		return nil, err
	}
	competitors, err := o.competingQuotes(ctx, project.ID, prov.ID)
	if err != nil {
		return nil, err
	}
	decision := o.selector.Select(*current, competitors, project)

	contact, err := o.contactFor(ctx, prov.ID, thread.Channel)
	if err != nil {
		return nil, err
	}

	draft, err := o.composer.CounterOffer(ctx, compose.CounterInput{
		Project:      project,
		ProviderName: prov.Name,
		Current:      *current,
		Decision:     decision,
	})
	if err != nil {
		return nil, eris.Wrap(err, "outreach: compose counter-offer")
	}

	msg, err := o.deliver(ctx, project, thread, contact, draft)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"provider_id": prov.ID,
		"thread_id":   thread.ID,
		"strategy":    string(decision.Strategy),
	}
	if decision.Competitor != nil && decision.Competitor.HasTotal() {
		payload["competitor_total"] = *decision.Competitor.TotalEstimated
	}
	o.event(ctx, project.ID, model.EventCounterSent, payload)
	zap.L().Info("outreach: counter-offer sent",
		zap.String("project_id", project.ID),
		zap.String("thread_id", thread.ID),
		zap.String("strategy", string(decision.Strategy)),
	)
	return &Result{Thread: thread, Message: msg, Contact: contact, Strategy: decision.Strategy}, nil
}

// deliver authorizes, finalizes, sends and records one outbound message.
func (o *Orchestrator) deliver(ctx context.Context, project *model.Project, thread *model.Thread, contact *model.ContactMethod, draft compose.Draft) (*model.Message, error) {
	now := o.now()
	decision, err := o.gate.Authorize(ctx, *contact, thread, project, now)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, model.NewComplianceError(decision.Reason)
	}
	draft = o.composer.Finalize(draft, decision)
	if contact.Kind == model.ChannelSMS {
		draft.Subject = ""
	}

	receipt, err := o.sender.Send(ctx, transport.Outbound{
		Channel:  contact.Kind,
		To:       contact.Value,
		Subject:  draft.Subject,
		Body:     draft.Body,
		ThreadID: thread.ID,
	})
	if err != nil {
		o.gate.Release(ctx, *contact)
		return nil, model.TransportFailure(err)
	}

	msg := &model.Message{
		ThreadID:  thread.ID,
		Direction: model.DirectionOut,
		Sender:    receipt.From,
		Subject:   draft.Subject,
		BodyText:  draft.Body,
		Timestamp: now.UTC(),
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return nil, eris.Wrap(err, "outreach: record message")
	}
	return msg, nil
}

// release lets a later attempt claim the thread after a failed send.
func (o *Orchestrator) release(ctx context.Context, threadID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := o.store.ReleaseThread(ctx, threadID); err != nil {
		zap.L().Error("outreach: release thread", zap.String("thread_id", threadID), zap.Error(err))
	}
}

func (o *Orchestrator) ensureActive(ctx context.Context, projectID string) error {
	active, err := o.lifecycle.IsActive(ctx, projectID)
	if err != nil {
		return err
	}
	if !active {
		return eris.Wrapf(model.ErrProjectInactive, "outreach: project %s", projectID)
	}
	return nil
}

// selectContact prefers an allowed email when the project permits email,
// then an allowed phone when it permits sms.
func (o *Orchestrator) selectContact(ctx context.Context, providerID string, project *model.Project) (*model.ContactMethod, error) {
	contacts, err := o.store.ListContacts(ctx, providerID)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: list contacts")
	}
	for _, ch := range []model.Channel{model.ChannelEmail, model.ChannelSMS} {
		if !project.AllowsChannel(ch) {
			continue
		}
		if c := bestContact(contacts, ch); c != nil {
			return c, nil
		}
	}
	return nil, eris.Wrapf(model.ErrNoAllowedContact, "outreach: provider %s", providerID)
}

func (o *Orchestrator) contactFor(ctx context.Context, providerID string, ch model.Channel) (*model.ContactMethod, error) {
	contacts, err := o.store.ListContacts(ctx, providerID)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: list contacts")
	}
	if c := bestContact(contacts, ch); c != nil {
		return c, nil
	}
	return nil, eris.Wrapf(model.ErrNoAllowedContact, "outreach: provider %s on %s", providerID, ch)
}

func bestContact(contacts []model.ContactMethod, ch model.Channel) *model.ContactMethod {
	var best *model.ContactMethod
	for i := range contacts {
		c := &contacts[i]
		if c.Kind != ch || !c.Allowed {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

// openThread returns the provider's open thread on ch, creating it if
// needed.
func (o *Orchestrator) openThread(ctx context.Context, providerID string, ch model.Channel) (*model.Thread, error) {
	t, err := o.store.FindOpenThread(ctx, providerID, ch)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, eris.Wrap(err, "outreach: find thread")
	}

	t = &model.Thread{ProviderID: providerID, Channel: ch, Status: model.ThreadStatusOpen}
	if err := o.store.CreateThread(ctx, t); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return o.store.FindOpenThread(ctx, providerID, ch)
		}
		return nil, eris.Wrap(err, "outreach: create thread")
	}
	return t, nil
}

// competingQuotes returns the latest quote of every other provider on the
// project.
func (o *Orchestrator) competingQuotes(ctx context.Context, projectID, providerID string) ([]model.Quote, error) {
	all, err := o.store.ListQuotes(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: list quotes")
	}
	latest := map[string]model.Quote{}
	for _, q := range all {
		if q.ProviderID == providerID {
			continue
		}
		if cur, ok := latest[q.ProviderID]; !ok || !q.CreatedAt.Before(cur.CreatedAt) {
			latest[q.ProviderID] = q
		}
	}
	out := make([]model.Quote, 0, len(latest))
	for _, q := range latest {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}

func (o *Orchestrator) event(ctx context.Context, projectID, typ string, payload map[string]any) {
	if err := o.store.AppendEvent(ctx, &model.Event{ProjectID: projectID, Type: typ, Payload: payload}); err != nil {
		zap.L().Error("outreach: append event", zap.String("type", typ), zap.Error(err))
	}
}
