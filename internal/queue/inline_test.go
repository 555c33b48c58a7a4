package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/outreach"
	"github.com/contractr/contractr/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestInline_RetriesTransportFailure(t *testing.T) {
	r := &mockRunner{}
	r.On("Initiate", mock.Anything, "prov1").Return(nil, model.TransportFailure(errors.New("twilio 503"))).Once()
	r.On("Initiate", mock.Anything, "prov1").Return(&outreach.Result{}, nil).Once()
	d := NewInline(r, r, fastRetry())

	require.NoError(t, d.DispatchOutreach(context.Background(), "prov1"))
	r.AssertNumberOfCalls(t, "Initiate", 2)
}

func TestInline_PermanentNotRetried(t *testing.T) {
	r := &mockRunner{}
	r.On("SendCounterOffer", mock.Anything, "th1").Return(nil, model.NewComplianceError("rate limited"))
	d := NewInline(r, r, fastRetry())

	err := d.DispatchCounter(context.Background(), "th1")
	require.Error(t, err)
	assert.True(t, model.IsComplianceViolation(err))
	r.AssertNumberOfCalls(t, "SendCounterOffer", 1)
}

func TestInline_SourcingRunsOnce(t *testing.T) {
	r := &mockRunner{}
	r.On("RunSourcing", mock.Anything, "p1").Return(nil, resilience.NewTransientError(errors.New("timeout"), 0))
	d := NewInline(r, r, fastRetry())

	require.Error(t, d.DispatchSourcing(context.Background(), "p1"))
	r.AssertNumberOfCalls(t, "RunSourcing", 1)
}
