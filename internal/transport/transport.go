// Package transport delivers outbound messages over email and SMS.
package transport

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/contractr/contractr/internal/model"
)

// Outbound is one message to deliver.
type Outbound struct {
	Channel  model.Channel
	To       string
	Subject  string
	Body     string
	ThreadID string
}

// Receipt describes an accepted delivery.
type Receipt struct {
	From       string
	ExternalID string
	Simulated  bool
}

// Sender delivers a message on one channel.
type Sender interface {
	Send(ctx context.Context, msg Outbound) (Receipt, error)
}

// Router dispatches to the Sender registered for a message's channel and
// bounds each call with a timeout.
type Router struct {
	senders map[model.Channel]Sender
	timeout time.Duration
}

// NewRouter creates a Router. A zero timeout means no deadline.
func NewRouter(timeout time.Duration) *Router {
	return &Router{senders: make(map[model.Channel]Sender), timeout: timeout}
}

// Register sets the Sender for a channel.
func (r *Router) Register(ch model.Channel, s Sender) *Router {
	r.senders[ch] = s
	return r
}

func (r *Router) Send(ctx context.Context, msg Outbound) (Receipt, error) {
	s, ok := r.senders[msg.Channel]
	if !ok {
		return Receipt{}, eris.Errorf("transport: no sender for channel %q", msg.Channel)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return s.Send(ctx, msg)
}
