package queue

import (
	"context"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/resilience"
)

// Inline runs jobs synchronously in the caller's goroutine, retrying
// transient failures. It is used when no Redis is configured.
type Inline struct {
	sourcing SourcingRunner
	outreach OutreachRunner
	retry    resilience.RetryConfig
}

// NewInline creates an Inline dispatcher.
func NewInline(src SourcingRunner, out OutreachRunner, retry resilience.RetryConfig) *Inline {
	return &Inline{sourcing: src, outreach: out, retry: retry}
}

// DispatchSourcing runs sourcing once. A failure has already reverted the
// project to draft, so a retry would only skip.
func (d *Inline) DispatchSourcing(ctx context.Context, projectID string) error {
	_, err := d.sourcing.RunSourcing(ctx, projectID)
	return err
}

// DispatchOutreach sends the first request to a provider.
func (d *Inline) DispatchOutreach(ctx context.Context, providerID string) error {
	return d.run(ctx, TypeOutreachInitiate, func(ctx context.Context) error {
		_, err := d.outreach.Initiate(ctx, providerID)
		return err
	})
}

// DispatchCounter sends a counter-offer on a thread.
func (d *Inline) DispatchCounter(ctx context.Context, threadID string) error {
	return d.run(ctx, TypeOutreachCounter, func(ctx context.Context) error {
		_, err := d.outreach.SendCounterOffer(ctx, threadID)
		return err
	})
}

func (d *Inline) run(ctx context.Context, typ string, fn func(context.Context) error) error {
	cfg := d.retry
	cfg.ShouldRetry = func(err error) bool {
		return !model.Permanent(err) && resilience.IsTransient(err)
	}
	cfg.OnRetry = resilience.RetryLogger("queue", typ)
	return resilience.Do(ctx, cfg, fn)
}
