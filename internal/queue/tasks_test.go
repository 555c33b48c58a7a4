package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/outreach"
	"github.com/contractr/contractr/internal/sourcing"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunSourcing(ctx context.Context, projectID string) (*sourcing.RunResult, error) {
	args := m.Called(ctx, projectID)
	r, _ := args.Get(0).(*sourcing.RunResult)
	return r, args.Error(1)
}

func (m *mockRunner) Initiate(ctx context.Context, providerID string) (*outreach.Result, error) {
	args := m.Called(ctx, providerID)
	r, _ := args.Get(0).(*outreach.Result)
	return r, args.Error(1)
}

func (m *mockRunner) SendCounterOffer(ctx context.Context, threadID string) (*outreach.Result, error) {
	args := m.Called(ctx, threadID)
	r, _ := args.Get(0).(*outreach.Result)
	return r, args.Error(1)
}

func task(t *testing.T, typ string, payload any) *asynq.Task {
	t.Helper()
	tk, err := newTask(typ, payload)
	require.NoError(t, err)
	return tk
}

func TestHandleOutreachInitiate(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{name: "success"},
		{name: "no contact", err: model.ErrNoAllowedContact, wantErr: true, skipRetry: true},
		{name: "compliance", err: model.NewComplianceError("quiet hours"), wantErr: true, skipRetry: true},
		{name: "inactive", err: model.ErrProjectInactive, wantErr: true, skipRetry: true},
		{name: "transport", err: model.TransportFailure(errors.New("smtp 421")), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &mockRunner{}
			r.On("Initiate", mock.Anything, "prov1").Return(&outreach.Result{}, tt.err)
			h := NewHandlers(r, r)

			err := h.HandleOutreachInitiate(context.Background(), task(t, TypeOutreachInitiate, ProviderPayload{ProviderID: "prov1"}))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry))
			assert.ErrorIs(t, err, tt.err)
			r.AssertExpectations(t)
		})
	}
}

func TestHandleOutreachCounter(t *testing.T) {
	r := &mockRunner{}
	r.On("SendCounterOffer", mock.Anything, "th1").Return(nil, model.ErrNotFound)
	h := NewHandlers(r, r)

	err := h.HandleOutreachCounter(context.Background(), task(t, TypeOutreachCounter, ThreadPayload{ThreadID: "th1"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleSourcingRun(t *testing.T) {
	r := &mockRunner{}
	r.On("RunSourcing", mock.Anything, "p1").Return(&sourcing.RunResult{Created: 2}, nil).Once()
	r.On("RunSourcing", mock.Anything, "p2").Return(nil, errors.New("store closed")).Once()
	h := NewHandlers(r, r)

	require.NoError(t, h.HandleSourcingRun(context.Background(), task(t, TypeSourcingRun, ProjectPayload{ProjectID: "p1"})))

	err := h.HandleSourcingRun(context.Background(), task(t, TypeSourcingRun, ProjectPayload{ProjectID: "p2"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlers_MalformedPayload(t *testing.T) {
	r := &mockRunner{}
	h := NewHandlers(r, r)
	ctx := context.Background()

	assert.ErrorIs(t, h.HandleSourcingRun(ctx, asynq.NewTask(TypeSourcingRun, []byte("{"))), asynq.SkipRetry)
	assert.ErrorIs(t, h.HandleOutreachInitiate(ctx, asynq.NewTask(TypeOutreachInitiate, []byte(`{}`))), asynq.SkipRetry)
	assert.ErrorIs(t, h.HandleOutreachCounter(ctx, asynq.NewTask(TypeOutreachCounter, []byte("null"))), asynq.SkipRetry)
	r.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}
