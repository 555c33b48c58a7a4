package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/contractr/contractr/internal/model"
)

// MemoryStore keeps everything in process memory. It backs component tests
// and the memory store driver; data is lost on exit.
type MemoryStore struct {
	mu  sync.Mutex
	seq int64

	projects  map[string]*model.Project
	providers map[string]*model.Provider
	contacts  map[string]*model.ContactMethod
	threads   map[string]*model.Thread
	claims    map[string]time.Time
	messages  []seqMessage
	quotes    []seqQuote
	events    []model.Event
	order     map[string]int64
}

type seqMessage struct {
	seq int64
	msg model.Message
}

type seqQuote struct {
	seq   int64
	quote model.Quote
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]*model.Project),
		providers: make(map[string]*model.Provider),
		contacts:  make(map[string]*model.ContactMethod),
		threads:   make(map[string]*model.Thread),
		claims:    make(map[string]time.Time),
		order:     make(map[string]int64),
	}
}

func (m *MemoryStore) next(id string) int64 {
	m.seq++
	m.order[id] = m.seq
	return m.seq
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func cloneProject(p *model.Project) *model.Project {
	c := *p
	c.MustHaves = slices.Clone(p.MustHaves)
	c.NiceToHaves = slices.Clone(p.NiceToHaves)
	c.ChannelsAllowed = slices.Clone(p.ChannelsAllowed)
	c.SeedProviders = slices.Clone(p.SeedProviders)
	if p.BudgetMax != nil {
		v := *p.BudgetMax
		c.BudgetMax = &v
	}
	return &c
}

func (m *MemoryStore) CreateProject(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	p.ID = newID(p.ID)
	if p.Status == "" {
		p.Status = model.ProjectStatusDraft
	}
	p.CreatedAt, p.UpdatedAt = now, now
	m.projects[p.ID] = cloneProject(p)
	m.next(p.ID)
	return nil
}

func (m *MemoryStore) GetProject(_ context.Context, id string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, notFound("project", id)
	}
	return cloneProject(p), nil
}

func (m *MemoryStore) ListProjects(context.Context) ([]model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, *cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] > m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryStore) UpdateProjectStatus(_ context.Context, id string, from, to model.ProjectStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return notFound("project", id)
	}
	if p.Status != from {
		return eris.Wrapf(model.ErrInvalidTransition, "memory: project %s is %s, expected %s", id, p.Status, from)
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpsertProvider(_ context.Context, p *model.Provider) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.providers {
		if existing.ProjectID == p.ProjectID && existing.Website == p.Website {
			*p = *existing
			p.EvidenceURLs = slices.Clone(existing.EvidenceURLs)
			return false, nil
		}
	}
	p.ID = newID(p.ID)
	p.CreatedAt = time.Now().UTC()
	c := *p
	c.EvidenceURLs = slices.Clone(p.EvidenceURLs)
	m.providers[p.ID] = &c
	m.next(p.ID)
	return true, nil
}

func (m *MemoryStore) GetProvider(_ context.Context, id string) (*model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, notFound("provider", id)
	}
	c := *p
	return &c, nil
}

func (m *MemoryStore) ListProviders(_ context.Context, projectID string) ([]model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Provider
	for _, p := range m.providers {
		if p.ProjectID == projectID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	return out, nil
}

func (m *MemoryStore) AddContact(_ context.Context, c *model.ContactMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = newID(c.ID)
	cp := *c
	m.contacts[c.ID] = &cp
	m.next(c.ID)
	return nil
}

func (m *MemoryStore) filterContacts(keep func(*model.ContactMethod) bool) []model.ContactMethod {
	var out []model.ContactMethod
	for _, c := range m.contacts {
		if keep(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	return out
}

func (m *MemoryStore) ListContacts(_ context.Context, providerID string) ([]model.ContactMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterContacts(func(c *model.ContactMethod) bool { return c.ProviderID == providerID }), nil
}

func matchesAddress(c *model.ContactMethod, kind model.Channel, address string) bool {
	return c.Kind == kind && model.NormalizeAddress(kind, c.Value) == model.NormalizeAddress(kind, address)
}

func (m *MemoryStore) FindContacts(_ context.Context, kind model.Channel, address string) ([]model.ContactMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterContacts(func(c *model.ContactMethod) bool { return matchesAddress(c, kind, address) }), nil
}

func (m *MemoryStore) DisallowContacts(_ context.Context, kind model.Channel, address string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.contacts {
		if matchesAddress(c, kind, address) {
			c.Allowed = false
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateThread(_ context.Context, t *model.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status == "" {
		t.Status = model.ThreadStatusOpen
	}
	if t.Status == model.ThreadStatusOpen {
		for _, existing := range m.threads {
			if existing.ProviderID == t.ProviderID && existing.Channel == t.Channel && existing.Status == model.ThreadStatusOpen {
				return eris.Wrapf(ErrConflict, "memory: open %s thread exists for provider %s", t.Channel, t.ProviderID)
			}
		}
	}
	t.ID = newID(t.ID)
	t.CreatedAt = time.Now().UTC()
	cp := *t
	m.threads[t.ID] = &cp
	m.next(t.ID)
	return nil
}

func (m *MemoryStore) GetThread(_ context.Context, id string) (*model.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, notFound("thread", id)
	}
	c := *t
	return &c, nil
}

func (m *MemoryStore) ClaimThread(_ context.Context, threadID string, now, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		return false, notFound("thread", threadID)
	}
	if at, ok := m.claims[threadID]; ok && !at.Before(staleBefore) {
		return false, nil
	}
	m.claims[threadID] = now
	return true, nil
}

func (m *MemoryStore) ReleaseThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, threadID)
	return nil
}

func (m *MemoryStore) FindOpenThread(_ context.Context, providerID string, channel model.Channel) (*model.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.threads {
		if t.ProviderID == providerID && t.Channel == channel && t.Status == model.ThreadStatusOpen {
			c := *t
			return &c, nil
		}
	}
	return nil, notFound("open thread for provider", providerID)
}

func (m *MemoryStore) ListThreads(_ context.Context, providerID string) ([]model.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Thread
	for _, t := range m.threads {
		if t.ProviderID == providerID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryStore) UnsubscribeThreads(_ context.Context, kind model.Channel, address string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	providers := make(map[string]bool)
	for _, c := range m.contacts {
		if matchesAddress(c, kind, address) {
			providers[c.ProviderID] = true
		}
	}
	var n int64
	for _, t := range m.threads {
		if t.Channel == kind && providers[t.ProviderID] {
			t.Unsubscribe = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CloseProjectThreads(_ context.Context, projectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.threads {
		p, ok := m.providers[t.ProviderID]
		if ok && p.ProjectID == projectID && t.Status == model.ThreadStatusOpen {
			t.Status = model.ThreadStatusClosed
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = newID(msg.ID)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	m.messages = append(m.messages, seqMessage{seq: m.next(msg.ID), msg: *msg})
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, threadID string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []seqMessage
	for _, sm := range m.messages {
		if sm.msg.ThreadID == threadID {
			matched = append(matched, sm)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.msg.Timestamp.Equal(b.msg.Timestamp) {
			return a.msg.Timestamp.Before(b.msg.Timestamp)
		}
		return a.seq < b.seq
	})
	out := make([]model.Message, len(matched))
	for i, sm := range matched {
		out[i] = sm.msg
	}
	return out, nil
}

func (m *MemoryStore) SaveQuote(_ context.Context, q *model.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = newID(q.ID)
	q.CreatedAt = time.Now().UTC()
	m.quotes = append(m.quotes, seqQuote{seq: m.next(q.ID), quote: *q})
	return nil
}

func (m *MemoryStore) LatestQuote(_ context.Context, providerID string) (*model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.quotes) - 1; i >= 0; i-- {
		if m.quotes[i].quote.ProviderID == providerID {
			q := m.quotes[i].quote
			return &q, nil
		}
	}
	return nil, notFound("quote for provider", providerID)
}

func (m *MemoryStore) ListQuotes(_ context.Context, projectID string) ([]model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Quote
	for _, sq := range m.quotes {
		if p, ok := m.providers[sq.quote.ProviderID]; ok && p.ProjectID == projectID {
			out = append(out, sq.quote)
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = newID(e.ID)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.events = append(m.events, *e)
	m.next(e.ID)
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, projectID string) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].ProjectID == projectID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}
