package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Dedupe windows for jobs that may legitimately run more than once.
const (
	sourcingUniqueTTL = 10 * time.Minute
	counterUniqueTTL  = time.Minute
)

// Client enqueues jobs on Redis. It satisfies the lifecycle and outreach
// dispatcher interfaces.
type Client struct {
	client   *asynq.Client
	maxRetry int
}

// NewClient creates a Client for the Redis at opt.
func NewClient(opt asynq.RedisConnOpt, maxRetry int) *Client {
	return &Client{client: asynq.NewClient(opt), maxRetry: maxRetry}
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// DispatchSourcing enqueues sourcing:run for a project.
func (c *Client) DispatchSourcing(ctx context.Context, projectID string) error {
	return c.enqueue(ctx, TypeSourcingRun, ProjectPayload{ProjectID: projectID}, asynq.Unique(sourcingUniqueTTL))
}

// DispatchOutreach enqueues outreach:initiate for a provider. The task ID is
// derived from the provider so a double submission enqueues once.
func (c *Client) DispatchOutreach(ctx context.Context, providerID string) error {
	return c.enqueue(ctx, TypeOutreachInitiate, ProviderPayload{ProviderID: providerID},
		asynq.TaskID(TypeOutreachInitiate+":"+providerID))
}

// DispatchCounter enqueues outreach:counter for a thread.
func (c *Client) DispatchCounter(ctx context.Context, threadID string) error {
	return c.enqueue(ctx, TypeOutreachCounter, ThreadPayload{ThreadID: threadID}, asynq.Unique(counterUniqueTTL))
}

func (c *Client) enqueue(ctx context.Context, typ string, payload any, opts ...asynq.Option) error {
	task, err := newTask(typ, payload)
	if err != nil {
		return err
	}
	opts = append(opts, asynq.MaxRetry(c.maxRetry))
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		zap.L().Info("queue: task already enqueued", zap.String("task", typ), zap.Any("payload", payload))
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "queue: enqueue %s", typ)
	}
	zap.L().Debug("queue: task enqueued", zap.String("task", typ), zap.String("id", info.ID), zap.String("queue", info.Queue))
	return nil
}

// NewServer creates an asynq worker server. Run it with Handlers.Mux.
func NewServer(opt asynq.RedisConnOpt, concurrency int) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Logger:      zap.S(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			zap.L().Error("queue: task failed",
				zap.String("task", task.Type()),
				zap.ByteString("payload", task.Payload()),
				zap.Int("retried", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
		}),
	})
}
