// Package queue runs sourcing and outreach jobs, either on asynq workers
// backed by Redis or inline in the calling process.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/outreach"
	"github.com/contractr/contractr/internal/sourcing"
)

// Task types.
const (
	TypeSourcingRun      = "sourcing:run"
	TypeOutreachInitiate = "outreach:initiate"
	TypeOutreachCounter  = "outreach:counter"
)

// ProjectPayload carries a project ID.
type ProjectPayload struct {
	ProjectID string `json:"project_id"`
}

// ProviderPayload carries a provider ID.
type ProviderPayload struct {
	ProviderID string `json:"provider_id"`
}

// ThreadPayload carries a thread ID.
type ThreadPayload struct {
	ThreadID string `json:"thread_id"`
}

// SourcingRunner runs the sourcing job body.
type SourcingRunner interface {
	RunSourcing(ctx context.Context, projectID string) (*sourcing.RunResult, error)
}

// OutreachRunner sends initial requests and counter-offers.
type OutreachRunner interface {
	Initiate(ctx context.Context, providerID string) (*outreach.Result, error)
	SendCounterOffer(ctx context.Context, threadID string) (*outreach.Result, error)
}

// Handlers process queued tasks.
type Handlers struct {
	sourcing SourcingRunner
	outreach OutreachRunner
}

// NewHandlers creates Handlers.
func NewHandlers(src SourcingRunner, out OutreachRunner) *Handlers {
	return &Handlers{sourcing: src, outreach: out}
}

// Mux registers every handler on a new ServeMux.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSourcingRun, h.HandleSourcingRun)
	mux.HandleFunc(TypeOutreachInitiate, h.HandleOutreachInitiate)
	mux.HandleFunc(TypeOutreachCounter, h.HandleOutreachCounter)
	return mux
}

// HandleSourcingRun runs sourcing for a project. A failed run has already
// put the project back in draft, so it is never retried.
func (h *Handlers) HandleSourcingRun(ctx context.Context, t *asynq.Task) error {
	var p ProjectPayload
	if err := decode(t, &p); err != nil || p.ProjectID == "" {
		return fmt.Errorf("queue: bad %s payload: %w", t.Type(), asynq.SkipRetry)
	}
	if _, err := h.sourcing.RunSourcing(ctx, p.ProjectID); err != nil {
		return fmt.Errorf("queue: sourcing %s: %w: %w", p.ProjectID, err, asynq.SkipRetry)
	}
	return nil
}

// HandleOutreachInitiate sends the first request to a provider.
func (h *Handlers) HandleOutreachInitiate(ctx context.Context, t *asynq.Task) error {
	var p ProviderPayload
	if err := decode(t, &p); err != nil || p.ProviderID == "" {
		return fmt.Errorf("queue: bad %s payload: %w", t.Type(), asynq.SkipRetry)
	}
	_, err := h.outreach.Initiate(ctx, p.ProviderID)
	return classify(t.Type(), err)
}

// HandleOutreachCounter sends a counter-offer on a thread.
func (h *Handlers) HandleOutreachCounter(ctx context.Context, t *asynq.Task) error {
	var p ThreadPayload
	if err := decode(t, &p); err != nil || p.ThreadID == "" {
		return fmt.Errorf("queue: bad %s payload: %w", t.Type(), asynq.SkipRetry)
	}
	_, err := h.outreach.SendCounterOffer(ctx, p.ThreadID)
	return classify(t.Type(), err)
}

func decode(t *asynq.Task, v any) error {
	return json.Unmarshal(t.Payload(), v)
}

// classify marks errors that no retry can fix with asynq.SkipRetry.
func classify(taskType string, err error) error {
	if err == nil {
		return nil
	}
	if model.Permanent(err) {
		zap.L().Warn("queue: task failed permanently", zap.String("task", taskType), zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func newTask(typ string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal %s payload: %w", typ, err)
	}
	return asynq.NewTask(typ, b, opts...), nil
}
