package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/sourcing"
	"github.com/contractr/contractr/internal/store"
)

type stubSourcer struct {
	err   error
	calls int
	run   func(ctx context.Context, p *model.Project) error
}

func (s *stubSourcer) Run(ctx context.Context, p *model.Project) (*sourcing.RunResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.run != nil {
		if err := s.run(ctx, p); err != nil {
			return nil, err
		}
	}
	return &sourcing.RunResult{CandidatesFound: 2, Created: 2}, nil
}

// inlineDispatcher runs jobs synchronously against the controller.
type inlineDispatcher struct {
	c           *Controller
	outreach    []string
	failFor     map[string]bool
	sourcingErr error
}

func (d *inlineDispatcher) DispatchSourcing(ctx context.Context, projectID string) error {
	if d.sourcingErr != nil {
		return d.sourcingErr
	}
	_, err := d.c.RunSourcing(ctx, projectID)
	return err
}

func (d *inlineDispatcher) DispatchOutreach(_ context.Context, providerID string) error {
	if d.failFor[providerID] {
		return errors.New("queue full")
	}
	d.outreach = append(d.outreach, providerID)
	return nil
}

func setup(t *testing.T, src *stubSourcer) (*Controller, store.Store, *inlineDispatcher) {
	t.Helper()
	st := store.NewMemory()
	c := NewController(st, src)
	d := &inlineDispatcher{c: c, failFor: map[string]bool{}}
	c.SetDispatcher(d)
	return c, st, d
}

func validInput() ProjectInput {
	return ProjectInput{Type: "Plumbing", City: "Austin", MustHaves: []string{"licensed", " "}}
}

func eventTypes(t *testing.T, st store.Store, projectID string) []string {
	t.Helper()
	events, err := st.ListEvents(context.Background(), projectID)
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestCreateProject_Defaults(t *testing.T) {
	c, st, _ := setup(t, &stubSourcer{})

	p, err := c.CreateProject(context.Background(), validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, model.ProjectStatusDraft, p.Status)
	assert.Equal(t, []model.Channel{model.ChannelEmail}, p.ChannelsAllowed)
	assert.True(t, p.Autopilot)
	assert.Equal(t, []string{"licensed"}, p.MustHaves)
	assert.Equal(t, []string{model.EventProjectCreated}, eventTypes(t, st, p.ID))
}

func TestCreateProject_Invalid(t *testing.T) {
	c, _, _ := setup(t, &stubSourcer{})
	neg := -5.0

	_, err := c.CreateProject(context.Background(), ProjectInput{
		ChannelsAllowed: []model.Channel{"fax"},
		BudgetMax:       &neg,
	})
	require.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Contains(t, err.Error(), "type is required")
	assert.Contains(t, err.Error(), "unsupported channel fax")
}

func TestStartSourcing_Success(t *testing.T) {
	ctx := context.Background()
	c, st, _ := setup(t, &stubSourcer{})
	p, err := c.CreateProject(ctx, validInput())
	require.NoError(t, err)

	got, err := c.StartSourcing(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusAwaitingApproval, got.Status)

	assert.Equal(t, []string{
		model.EventStatusChanged,
		model.EventSourcingCompleted,
		model.EventStatusChanged,
		model.EventProjectCreated,
	}, eventTypes(t, st, p.ID))
}

func TestStartSourcing_FailureRevertsToDraft(t *testing.T) {
	ctx := context.Background()
	c, st, _ := setup(t, &stubSourcer{err: errors.New("disk full")})
	p, _ := c.CreateProject(ctx, validInput())

	_, err := c.StartSourcing(ctx, p.ID)
	require.Error(t, err)

	cur, err := st.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusDraft, cur.Status)

	events, _ := st.ListEvents(ctx, p.ID)
	var failed *model.Event
	for i := range events {
		if events[i].Type == model.EventSourcingFailed {
			failed = &events[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "disk full", failed.Payload["error"])

	// Draft again, so sourcing can be retried.
	c.sourcer = &stubSourcer{}
	got, err := c.StartSourcing(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusAwaitingApproval, got.Status)
}

func TestStartSourcing_DispatchFailureReverts(t *testing.T) {
	ctx := context.Background()
	c, st, d := setup(t, &stubSourcer{})
	d.sourcingErr = errors.New("redis down")
	p, _ := c.CreateProject(ctx, validInput())

	_, err := c.StartSourcing(ctx, p.ID)
	require.Error(t, err)
	cur, _ := st.GetProject(ctx, p.ID)
	assert.Equal(t, model.ProjectStatusDraft, cur.Status)
}

func TestStartSourcing_WrongState(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setup(t, &stubSourcer{})
	p, _ := c.CreateProject(ctx, validInput())
	_, err := c.StartSourcing(ctx, p.ID)
	require.NoError(t, err)

	_, err = c.StartSourcing(ctx, p.ID)
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = c.StartSourcing(ctx, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestRunSourcing_RedeliveryIsNoop(t *testing.T) {
	ctx := context.Background()
	src := &stubSourcer{}
	c, _, _ := setup(t, src)
	p, _ := c.CreateProject(ctx, validInput())
	_, err := c.StartSourcing(ctx, p.ID)
	require.NoError(t, err)

	res, err := c.RunSourcing(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, src.calls)
}

func TestStartOutreach(t *testing.T) {
	ctx := context.Background()
	c, st, d := setup(t, &stubSourcer{})
	p, _ := c.CreateProject(ctx, validInput())

	var ids []string
	for _, site := range []string{"https://a.com", "https://b.com", "https://c.com"} {
		prov := &model.Provider{ProjectID: p.ID, Name: site, Website: site}
		_, err := st.UpsertProvider(ctx, prov)
		require.NoError(t, err)
		ids = append(ids, prov.ID)
	}
	d.failFor[ids[1]] = true

	// Not yet approved.
	_, err := c.StartOutreach(ctx, p.ID)
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = c.StartSourcing(ctx, p.ID)
	require.NoError(t, err)
	batch, err := c.StartOutreach(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, &OutreachBatch{Providers: 3, Dispatched: 2, Failed: 1}, batch)
	assert.ElementsMatch(t, []string{ids[0], ids[2]}, d.outreach)

	active, err := c.IsActive(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestMarkNegotiating_Idempotent(t *testing.T) {
	ctx := context.Background()
	c, st, _ := setup(t, &stubSourcer{})
	p, _ := c.CreateProject(ctx, validInput())
	_, _ = c.StartSourcing(ctx, p.ID)
	_, err := c.StartOutreach(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, c.MarkNegotiating(ctx, p.ID))
	require.NoError(t, c.MarkNegotiating(ctx, p.ID))

	cur, _ := st.GetProject(ctx, p.ID)
	assert.Equal(t, model.ProjectStatusNegotiating, cur.Status)

	changes := 0
	for _, typ := range eventTypes(t, st, p.ID) {
		if typ == model.EventStatusChanged {
			changes++
		}
	}
	assert.Equal(t, 4, changes)
}

func TestMarkNegotiating_FromDraftFails(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setup(t, &stubSourcer{})
	p, _ := c.CreateProject(ctx, validInput())
	require.ErrorIs(t, c.MarkNegotiating(ctx, p.ID), model.ErrInvalidTransition)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	c, st, _ := setup(t, &stubSourcer{})
	p, _ := c.CreateProject(ctx, validInput())

	prov := &model.Provider{ProjectID: p.ID, Name: "A", Website: "https://a.com"}
	_, err := st.UpsertProvider(ctx, prov)
	require.NoError(t, err)
	th := &model.Thread{ProviderID: prov.ID, Channel: model.ChannelSMS}
	require.NoError(t, st.CreateThread(ctx, th))

	closed, err := c.Close(ctx, p.ID, "hired someone")
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusClosed, closed.Status)

	got, err := st.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ThreadStatusClosed, got.Status)

	events, _ := st.ListEvents(ctx, p.ID)
	assert.Equal(t, "hired someone", events[0].Payload["reason"])
	assert.Equal(t, "closed", events[0].Payload["to"])

	_, err = c.Close(ctx, p.ID, "")
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	active, err := c.IsActive(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestStartSourcing_CancelledContextStillReverts(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "contractr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &stubSourcer{run: func(ctx context.Context, _ *model.Project) error {
		cancel()
		return ctx.Err()
	}}
	c := NewController(st, src)
	c.SetDispatcher(&inlineDispatcher{c: c, failFor: map[string]bool{}})

	p, err := c.CreateProject(context.Background(), validInput())
	require.NoError(t, err)

	_, err = c.StartSourcing(ctx, p.ID)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, model.IsSourcingFailure(err))

	got, err := st.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusDraft, got.Status)
	assert.Contains(t, eventTypes(t, st, p.ID), model.EventSourcingFailed)
}
