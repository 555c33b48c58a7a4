package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/report"
	"github.com/contractr/contractr/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadProjectFile_YAML(t *testing.T) {
	path := writeFile(t, "project.yaml", `
type: Roofing
address: 1 Main St
city: Denver
zip: "80202"
budget_max: 12000
channels_allowed: [email, sms]
quiet_hours: 9am-6pm
autopilot: false
must_haves:
  - licensed
seed_providers:
  - name: Acme Roofing
    website: https://acmeroofing.com
`)
	in, err := readProjectFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Roofing", in.Type)
	assert.Equal(t, "80202", in.Zip)
	require.NotNil(t, in.BudgetMax)
	assert.InDelta(t, 12000.0, *in.BudgetMax, 0.001)
	assert.Equal(t, []model.Channel{model.ChannelEmail, model.ChannelSMS}, in.ChannelsAllowed)
	require.NotNil(t, in.Autopilot)
	assert.False(t, *in.Autopilot)
	assert.Equal(t, []string{"licensed"}, in.MustHaves)
	require.Len(t, in.SeedProviders, 1)
	assert.Equal(t, "https://acmeroofing.com", in.SeedProviders[0].Website)
}

func TestReadProjectFile_JSON(t *testing.T) {
	path := writeFile(t, "project.json", `{"type": "Plumbing", "city": "Austin", "channels_allowed": ["sms"]}`)
	in, err := readProjectFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Plumbing", in.Type)
	assert.Equal(t, []model.Channel{model.ChannelSMS}, in.ChannelsAllowed)
	assert.Nil(t, in.Autopilot)
}

func TestReadProjectFile_Errors(t *testing.T) {
	_, err := readProjectFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = readProjectFile(writeFile(t, "bad.yaml", "type: [unclosed"))
	assert.Error(t, err)
}

func TestRenderProjects(t *testing.T) {
	var buf bytes.Buffer
	renderProjects(&buf, []model.Project{{
		ID: "p1", Type: "Roofing", City: "Denver", Zip: "80202",
		Status:          model.ProjectStatusOutreach,
		ChannelsAllowed: []model.Channel{model.ChannelEmail, model.ChannelSMS},
		CreatedAt:       time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}})
	out := buf.String()
	assert.Contains(t, out, "p1")
	assert.Contains(t, out, "outreach")
	assert.Contains(t, out, "email,sms")
	assert.Contains(t, out, "2025-03-01 10:00:00")
}

func TestRenderEvents(t *testing.T) {
	var buf bytes.Buffer
	renderEvents(&buf, []model.Event{
		{Type: model.EventStatusChanged, Timestamp: time.Now(), Payload: map[string]any{"to": "closed"}},
		{Type: model.EventProjectCreated, Timestamp: time.Now()},
	})
	out := buf.String()
	assert.Contains(t, out, model.EventStatusChanged)
	assert.Contains(t, out, `{"to":"closed"}`)
}

func TestLoadProviderRows(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := &model.Project{Type: "Roofing", City: "Denver", Status: model.ProjectStatusOutreach}
	require.NoError(t, st.CreateProject(ctx, p))

	prov := &model.Provider{ProjectID: p.ID, Name: "Acme", Website: "https://acme.com", Score: 0.7}
	_, err := st.UpsertProvider(ctx, prov)
	require.NoError(t, err)
	require.NoError(t, st.AddContact(ctx, &model.ContactMethod{ProviderID: prov.ID, Kind: model.ChannelEmail, Value: "a@acme.com", Allowed: true}))
	require.NoError(t, st.AddContact(ctx, &model.ContactMethod{ProviderID: prov.ID, Kind: model.ChannelEmail, Value: "contact@acme.com"}))

	other := &model.Provider{ProjectID: p.ID, Name: "Beta", Website: "https://beta.com", Score: 0.7}
	_, err = st.UpsertProvider(ctx, other)
	require.NoError(t, err)

	thread := &model.Thread{ProviderID: prov.ID, Channel: model.ChannelEmail}
	require.NoError(t, st.CreateThread(ctx, thread))
	total := 4800.0
	require.NoError(t, st.SaveQuote(ctx, &model.Quote{ProviderID: prov.ID, ThreadID: thread.ID, TotalEstimated: &total}))

	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	rows, err := loadProviderRows(cmd, st, p.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byName := map[string]providerRow{}
	for _, r := range rows {
		byName[r.Provider.Name] = r
	}
	acme := byName["Acme"]
	assert.Equal(t, 1, acme.Allowed)
	assert.Equal(t, 2, acme.Contacts)
	assert.Equal(t, 1, acme.Threads)
	require.NotNil(t, acme.Total)
	assert.InDelta(t, 4800.0, *acme.Total, 0.001)
	assert.Nil(t, byName["Beta"].Total)

	var buf bytes.Buffer
	renderProviders(&buf, rows)
	assert.Contains(t, buf.String(), "$4,800")
	assert.Contains(t, buf.String(), "1/2")
}

func TestRenderComparison(t *testing.T) {
	total := 1250.5
	var buf bytes.Buffer
	renderComparison(&buf, &report.Comparison{
		Project: &model.Project{Type: "Roofing", City: "Denver"},
		Rows: []report.Row{
			{Provider: "Acme", Total: &total, PriceType: model.PriceTypeFixed, Quotes: 1},
			{Provider: "Beta"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "Roofing quotes, Denver")
	assert.Contains(t, out, "$1,250.50")
	assert.Contains(t, out, "Beta")
}
