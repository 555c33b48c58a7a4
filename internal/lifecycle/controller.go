// Package lifecycle owns project status transitions and the commands that
// drive them.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/sourcing"
	"github.com/contractr/contractr/internal/store"
)

// revertTimeout bounds the cleanup writes after a failed sourcing run.
const revertTimeout = 10 * time.Second

// Dispatcher schedules background work. Queue-backed implementations return
// once the job is enqueued; inline ones after it has run.
type Dispatcher interface {
	DispatchSourcing(ctx context.Context, projectID string) error
	DispatchOutreach(ctx context.Context, providerID string) error
}

// Sourcer runs the sourcing pipeline for a project.
type Sourcer interface {
	Run(ctx context.Context, project *model.Project) (*sourcing.RunResult, error)
}

// OutreachBatch reports how a StartOutreach fan-out went.
type OutreachBatch struct {
	Providers  int `json:"providers"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
}

// Controller moves projects through their lifecycle.
type Controller struct {
	store      store.Store
	sourcer    Sourcer
	dispatcher Dispatcher
}

// NewController creates a Controller. The dispatcher may be bound later
// with SetDispatcher.
func NewController(st store.Store, sourcer Sourcer) *Controller {
	return &Controller{store: st, sourcer: sourcer}
}

// SetDispatcher binds the job dispatcher.
func (c *Controller) SetDispatcher(d Dispatcher) {
	c.dispatcher = d
}

// CreateProject validates intake and stores a draft project.
func (c *Controller) CreateProject(ctx context.Context, in ProjectInput) (*model.Project, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p := in.Project()
	if err := c.store.CreateProject(ctx, p); err != nil {
		return nil, eris.Wrap(err, "lifecycle: create project")
	}
	c.event(ctx, p.ID, model.EventProjectCreated, map[string]any{
		"type":     p.Type,
		"city":     p.City,
		"channels": p.ChannelsAllowed,
	})
	zap.L().Info("lifecycle: project created", zap.String("project_id", p.ID), zap.String("type", p.Type))
	return p, nil
}

// StartSourcing moves a draft project to sourcing and dispatches the job.
// The returned project reflects the status after dispatch.
func (c *Controller) StartSourcing(ctx context.Context, projectID string) (*model.Project, error) {
	p, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := c.transition(ctx, p, model.ProjectStatusSourcing, nil); err != nil {
		return nil, err
	}

	if err := c.dispatch().DispatchSourcing(ctx, projectID); err != nil {
		zap.L().Warn("lifecycle: sourcing dispatch failed", zap.String("project_id", projectID), zap.Error(err))
		c.revertSourcing(ctx, projectID, err)
		if !model.IsSourcingFailure(err) {
			err = &model.SourcingError{Err: err}
		}
		return nil, eris.Wrap(err, "lifecycle: dispatch sourcing")
	}
	return c.store.GetProject(ctx, projectID)
}

// RunSourcing is the sourcing job body. A project no longer in sourcing is
// skipped, which makes redelivery harmless.
func (c *Controller) RunSourcing(ctx context.Context, projectID string) (*sourcing.RunResult, error) {
	log := zap.L().With(zap.String("project_id", projectID), zap.String("job", "sourcing"))

	p, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.ProjectStatusSourcing {
		log.Info("lifecycle: sourcing skipped", zap.String("status", string(p.Status)))
		return nil, nil
	}

	res, err := c.sourcer.Run(ctx, p)
	if err != nil {
		log.Error("lifecycle: sourcing failed", zap.Error(err))
		c.revertSourcing(ctx, projectID, err)
		return nil, &model.SourcingError{Err: err}
	}

	c.event(ctx, projectID, model.EventSourcingCompleted, map[string]any{
		"candidates_found": res.CandidatesFound,
		"created":          res.Created,
		"mocked":           res.Mocked,
	})
	if err := c.transition(ctx, p, model.ProjectStatusAwaitingApproval, nil); err != nil {
		return res, err
	}
	return res, nil
}

// StartOutreach approves a sourced project and dispatches outreach to each
// provider. Dispatch failures are counted, not returned.
func (c *Controller) StartOutreach(ctx context.Context, projectID string) (*OutreachBatch, error) {
	p, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := c.transition(ctx, p, model.ProjectStatusOutreach, nil); err != nil {
		return nil, err
	}

	providers, err := c.store.ListProviders(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: list providers")
	}

	batch := &OutreachBatch{Providers: len(providers)}
	d := c.dispatch()
	for _, prov := range providers {
		if err := d.DispatchOutreach(ctx, prov.ID); err != nil {
			batch.Failed++
			zap.L().Warn("lifecycle: outreach dispatch failed",
				zap.String("project_id", projectID),
				zap.String("provider_id", prov.ID),
				zap.Error(err),
			)
			continue
		}
		batch.Dispatched++
	}
	zap.L().Info("lifecycle: outreach started",
		zap.String("project_id", projectID),
		zap.Int("providers", batch.Providers),
		zap.Int("dispatched", batch.Dispatched),
		zap.Int("failed", batch.Failed),
	)
	return batch, nil
}

// MarkNegotiating records that the first message went out. Calling it on a
// project already negotiating is a no-op.
func (c *Controller) MarkNegotiating(ctx context.Context, projectID string) error {
	p, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.Status == model.ProjectStatusNegotiating {
		return nil
	}
	err = c.transition(ctx, p, model.ProjectStatusNegotiating, nil)
	if errors.Is(err, model.ErrInvalidTransition) {
		// A concurrent send may have won the race.
		if cur, gerr := c.store.GetProject(ctx, projectID); gerr == nil && cur.Status == model.ProjectStatusNegotiating {
			return nil
		}
	}
	return err
}

// Close ends a project from any non-terminal status and closes its threads.
func (c *Controller) Close(ctx context.Context, projectID, reason string) (*model.Project, error) {
	p, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	extra := map[string]any{}
	if reason != "" {
		extra["reason"] = reason
	}
	if err := c.transition(ctx, p, model.ProjectStatusClosed, extra); err != nil {
		return nil, err
	}
	n, err := c.store.CloseProjectThreads(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: close threads")
	}
	zap.L().Info("lifecycle: project closed",
		zap.String("project_id", projectID),
		zap.Int64("threads_closed", n),
		zap.String("reason", reason),
	)
	return p, nil
}

// IsActive reports whether sends are currently permitted for the project.
func (c *Controller) IsActive(ctx context.Context, projectID string) (bool, error) {
	p, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return false, err
	}
	return p.Status.Active(), nil
}

// revertSourcing records a sourcing failure and moves a project still in
// sourcing back to draft. It runs detached from ctx so that a cancelled
// request or an expired task deadline cannot strand the project.
func (c *Controller) revertSourcing(ctx context.Context, projectID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revertTimeout)
	defer cancel()

	cur, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		zap.L().Error("lifecycle: revert to draft", zap.String("project_id", projectID), zap.Error(err))
		return
	}
	if cur.Status != model.ProjectStatusSourcing {
		return
	}
	c.event(ctx, projectID, model.EventSourcingFailed, map[string]any{"error": cause.Error()})
	if err := c.transition(ctx, cur, model.ProjectStatusDraft, nil); err != nil {
		zap.L().Error("lifecycle: revert to draft", zap.String("project_id", projectID), zap.Error(err))
	}
}

// transition applies one lifecycle edge with compare-and-set and records it.
func (c *Controller) transition(ctx context.Context, p *model.Project, to model.ProjectStatus, extra map[string]any) error {
	from := p.Status
	if !model.CanTransition(from, to) {
		return eris.Wrapf(model.ErrInvalidTransition, "lifecycle: %s -> %s", from, to)
	}
	if err := c.store.UpdateProjectStatus(ctx, p.ID, from, to); err != nil {
		return err
	}
	p.Status = to

	payload := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range extra {
		payload[k] = v
	}
	c.event(ctx, p.ID, model.EventStatusChanged, payload)
	zap.L().Info("lifecycle: status changed",
		zap.String("project_id", p.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// event appends to the audit log. A failed write is logged and does not
// fail the operation that produced it.
func (c *Controller) event(ctx context.Context, projectID, typ string, payload map[string]any) {
	e := &model.Event{ProjectID: projectID, Type: typ, Payload: payload}
	if err := c.store.AppendEvent(ctx, e); err != nil {
		zap.L().Error("lifecycle: append event",
			zap.String("project_id", projectID),
			zap.String("type", typ),
			zap.Error(err),
		)
	}
}

func (c *Controller) dispatch() Dispatcher {
	if c.dispatcher == nil {
		return noDispatcher{}
	}
	return c.dispatcher
}

type noDispatcher struct{}

func (noDispatcher) DispatchSourcing(context.Context, string) error {
	return eris.New("lifecycle: no dispatcher configured")
}

func (noDispatcher) DispatchOutreach(context.Context, string) error {
	return eris.New("lifecycle: no dispatcher configured")
}
