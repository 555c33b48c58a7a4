package outreach

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/contractr/contractr/internal/compliance"
	"github.com/contractr/contractr/internal/lifecycle"
	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/store"
	"github.com/contractr/contractr/internal/transport"
)

var noon = time.Date(2026, 4, 14, 12, 0, 0, 0, time.UTC)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg transport.Outbound) (transport.Receipt, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(transport.Receipt), args.Error(1)
}

type recordingDispatcher struct {
	threads []string
}

func (d *recordingDispatcher) DispatchCounter(_ context.Context, threadID string) error {
	d.threads = append(d.threads, threadID)
	return nil
}

type fixture struct {
	store  store.Store
	ctrl   *lifecycle.Controller
	sender *mockSender
	orch   *Orchestrator
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	st := store.NewMemory()
	ctrl := lifecycle.NewController(st, nil)
	sender := &mockSender{}
	o := New(Deps{
		Store:     st,
		Lifecycle: ctrl,
		Gate: compliance.NewGate(compliance.Options{
			FrontendBaseURL: "https://app.contractr.ai",
			Limiter:         compliance.NewMemoryLimiter(limit, time.Minute),
		}),
		Sender: sender,
	})
	o.now = func() time.Time { return noon }
	return &fixture{store: st, ctrl: ctrl, sender: sender, orch: o}
}

func (f *fixture) project(t *testing.T, status model.ProjectStatus, channels ...model.Channel) *model.Project {
	t.Helper()
	p := &model.Project{Type: "Painting", City: "Boise", ChannelsAllowed: channels, Status: status, Autopilot: true}
	require.NoError(t, f.store.CreateProject(context.Background(), p))
	return p
}

func (f *fixture) provider(t *testing.T, projectID, site string, contacts ...model.ContactMethod) *model.Provider {
	t.Helper()
	ctx := context.Background()
	prov := &model.Provider{ProjectID: projectID, Name: site, Website: "https://" + site}
	_, err := f.store.UpsertProvider(ctx, prov)
	require.NoError(t, err)
	for i := range contacts {
		contacts[i].ProviderID = prov.ID
		require.NoError(t, f.store.AddContact(ctx, &contacts[i]))
	}
	return prov
}

func email(v string, allowed bool) model.ContactMethod {
	return model.ContactMethod{Kind: model.ChannelEmail, Value: v, Confidence: 0.8, Allowed: allowed}
}

func phone(v string, allowed bool) model.ContactMethod {
	return model.ContactMethod{Kind: model.ChannelSMS, Value: v, Confidence: 0.7, Allowed: allowed}
}

func (f *fixture) status(t *testing.T, projectID string) model.ProjectStatus {
	t.Helper()
	p, err := f.store.GetProject(context.Background(), projectID)
	require.NoError(t, err)
	return p.Status
}

func TestInitiate_PrefersEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelEmail, model.ChannelSMS)
	prov := f.provider(t, p.ID, "acme.com", phone("3035550100", true), email("bob@acme.com", true))

	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(m transport.Outbound) bool {
		return m.Channel == model.ChannelEmail && m.To == "bob@acme.com" &&
			m.Subject == "Quote Request: Painting - Boise"
	})).Return(transport.Receipt{From: "assistant@contractr.ai"}, nil).Once()

	res, err := f.orch.Initiate(ctx, prov.ID)
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, model.ChannelEmail, res.Thread.Channel)
	assert.Contains(t, res.Message.BodyText, compliance.DefaultDisclosure)
	assert.Contains(t, res.Message.BodyText, "https://app.contractr.ai/projects/"+p.ID+"/unsubscribe")
	assert.Equal(t, model.ProjectStatusNegotiating, f.status(t, p.ID))
	f.sender.AssertExpectations(t)
}

func TestInitiate_SMSWhenEmailNotPermitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelSMS)
	prov := f.provider(t, p.ID, "acme.com", email("bob@acme.com", true), phone("3035550100", true))

	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(m transport.Outbound) bool {
		return m.Channel == model.ChannelSMS && m.Subject == ""
	})).Return(transport.Receipt{From: "+15555550100"}, nil).Once()

	res, err := f.orch.Initiate(ctx, prov.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelSMS, res.Contact.Kind)
	assert.Contains(t, res.Message.BodyText, "Reply STOP to opt out.")
}

func TestInitiate_DisallowedContactsNeverSelected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelEmail, model.ChannelSMS)
	prov := f.provider(t, p.ID, "acme.com", email("contact@acme.com", false), phone("3035550100", false))

	_, err := f.orch.Initiate(ctx, prov.ID)
	require.ErrorIs(t, err, model.ErrNoAllowedContact)
	assert.True(t, model.Permanent(err))
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	threads, _ := f.store.ListThreads(ctx, prov.ID)
	assert.Empty(t, threads)
}

func TestInitiate_InactiveProject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	for _, status := range []model.ProjectStatus{model.ProjectStatusAwaitingApproval, model.ProjectStatusClosed} {
		p := f.project(t, status, model.ChannelSMS)
		prov := f.provider(t, p.ID, string(status)+".com", phone("3035550100", true))

		_, err := f.orch.Initiate(ctx, prov.ID)
		require.ErrorIs(t, err, model.ErrProjectInactive)
	}
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestInitiate_QuietHoursRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.orch.now = func() time.Time { return time.Date(2026, 4, 14, 21, 0, 0, 0, time.UTC) }
	p := &model.Project{Type: "Painting", City: "Boise", ChannelsAllowed: []model.Channel{model.ChannelSMS},
		Status: model.ProjectStatusOutreach, QuietHours: "9am-6pm"}
	require.NoError(t, f.store.CreateProject(ctx, p))
	prov := f.provider(t, p.ID, "acme.com", phone("3035550100", true))

	_, err := f.orch.Initiate(ctx, prov.ID)
	require.Error(t, err)
	assert.True(t, model.IsComplianceViolation(err))
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	thread, err := f.store.FindOpenThread(ctx, prov.ID, model.ChannelSMS)
	require.NoError(t, err)
	msgs, _ := f.store.ListMessages(ctx, thread.ID)
	assert.Empty(t, msgs)
}

func TestInitiate_TransportFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelSMS)
	prov := f.provider(t, p.ID, "acme.com", phone("3035550100", true))

	f.sender.On("Send", mock.Anything, mock.Anything).
		Return(transport.Receipt{}, errors.New("twilio 503")).Once()

	_, err := f.orch.Initiate(ctx, prov.ID)
	require.Error(t, err)
	assert.True(t, model.IsTransportFailure(err))
	assert.False(t, model.Permanent(err))

	thread, err := f.store.FindOpenThread(ctx, prov.ID, model.ChannelSMS)
	require.NoError(t, err)
	msgs, _ := f.store.ListMessages(ctx, thread.ID)
	assert.Empty(t, msgs)
	assert.Equal(t, model.ProjectStatusOutreach, f.status(t, p.ID))

	// The slot was released, so a retry within the window still goes out.
	f.sender.On("Send", mock.Anything, mock.Anything).Return(transport.Receipt{From: "+1555"}, nil).Once()
	res, err := f.orch.Initiate(ctx, prov.ID)
	require.NoError(t, err)
	assert.Equal(t, thread.ID, res.Thread.ID)
}

func TestInitiate_RateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelSMS)
	a := f.provider(t, p.ID, "a.com", phone("303-555-0100", true))
	b := f.provider(t, p.ID, "b.com", phone("(303) 555-0100", true))

	f.sender.On("Send", mock.Anything, mock.Anything).Return(transport.Receipt{}, nil).Once()
	_, err := f.orch.Initiate(ctx, a.ID)
	require.NoError(t, err)

	_, err = f.orch.Initiate(ctx, b.ID)
	require.Error(t, err)
	var ce *model.ComplianceError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, compliance.ReasonRateLimited, ce.Reason)
}

func TestInitiate_ConcurrentCallersSendOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelEmail)
	prov := f.provider(t, p.ID, "acme.com", email("bob@acme.com", true))

	f.sender.On("Send", mock.Anything, mock.Anything).
		After(50*time.Millisecond).
		Return(transport.Receipt{From: "assistant@contractr.ai"}, nil)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.orch.Initiate(ctx, prov.ID)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	f.sender.AssertNumberOfCalls(t, "Send", 1)
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, results[0].Reused, results[1].Reused, "exactly one caller sends")
	assert.Equal(t, results[0].Thread.ID, results[1].Thread.ID)

	msgs, err := f.store.ListMessages(ctx, results[0].Thread.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestInitiate_FailedSendReleasesClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelEmail)
	prov := f.provider(t, p.ID, "acme.com", email("bob@acme.com", true))

	f.sender.On("Send", mock.Anything, mock.Anything).
		Return(transport.Receipt{}, errors.New("smtp: 421 try later")).Once()
	f.sender.On("Send", mock.Anything, mock.Anything).
		Return(transport.Receipt{From: "assistant@contractr.ai"}, nil).Once()

	_, err := f.orch.Initiate(ctx, prov.ID)
	require.Error(t, err)

	res, err := f.orch.Initiate(ctx, prov.ID)
	require.NoError(t, err)
	assert.False(t, res.Reused)
	require.NotNil(t, res.Message)
}

func TestInitiate_StaleClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	p := f.project(t, model.ProjectStatusOutreach, model.ChannelEmail)
	prov := f.provider(t, p.ID, "acme.com", email("bob@acme.com", true))

	thread := &model.Thread{ProviderID: prov.ID, Channel: model.ChannelEmail}
	require.NoError(t, f.store.CreateThread(ctx, thread))
	ok, err := f.store.ClaimThread(ctx, thread.ID, noon.Add(-time.Hour), noon.Add(-2*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	f.sender.On("Send", mock.Anything, mock.Anything).
		Return(transport.Receipt{From: "assistant@contractr.ai"}, nil).Once()

	res, err := f.orch.Initiate(ctx, prov.ID)
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, thread.ID, res.Thread.ID)
}
