package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/contractr/contractr/internal/model"
)

// querier hides the difference between database/sql and pgx so one set of
// statements drives both backends. Statements use ? placeholders.
type querier interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rowIter, error)
	queryRow(ctx context.Context, query string, args ...any) rowScanner
	isNoRows(err error) bool
	isUniqueViolation(err error) bool
	close() error
}

type rowScanner interface {
	Scan(dest ...any) error
}

type rowIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// sqlStore implements Store on top of a querier.
type sqlStore struct {
	q         querier
	name      string
	migration string
	// seq names the monotonically increasing column used for insertion order.
	seq string
}

func (s *sqlStore) wrap(err error, msg string) error {
	return eris.Wrap(err, s.name+": "+msg)
}

func (s *sqlStore) Migrate(ctx context.Context) error {
	_, err := s.q.exec(ctx, s.migration)
	if err != nil {
		return s.wrap(err, "migrate")
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.q.close()
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}

func fromJSON(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

// --- projects ---

const projectColumns = `id, type, address, city, zip, budget_max, date_window, description,
	must_haves, nice_to_haves, channels_allowed, quiet_hours, autopilot, seed_providers,
	status, created_at, updated_at`

func (s *sqlStore) CreateProject(ctx context.Context, p *model.Project) error {
	now := time.Now().UTC()
	p.ID = newID(p.ID)
	if p.Status == "" {
		p.Status = model.ProjectStatusDraft
	}
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := s.q.exec(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Type, p.Address, p.City, p.Zip, p.BudgetMax, p.DateWindow, p.Description,
		toJSON(p.MustHaves), toJSON(p.NiceToHaves), toJSON(p.ChannelsAllowed), p.QuietHours,
		p.Autopilot, toJSON(p.SeedProviders), string(p.Status), now, now,
	)
	if err != nil {
		return s.wrap(err, "insert project")
	}
	return nil
}

func (s *sqlStore) scanProject(row rowScanner) (*model.Project, error) {
	var p model.Project
	var mustHaves, niceToHaves, channels, seeds, status string
	err := row.Scan(&p.ID, &p.Type, &p.Address, &p.City, &p.Zip, &p.BudgetMax, &p.DateWindow,
		&p.Description, &mustHaves, &niceToHaves, &channels, &p.QuietHours, &p.Autopilot,
		&seeds, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.ProjectStatus(status)
	for _, f := range []struct {
		raw string
		dst any
	}{{mustHaves, &p.MustHaves}, {niceToHaves, &p.NiceToHaves}, {channels, &p.ChannelsAllowed}, {seeds, &p.SeedProviders}} {
		if err := fromJSON(f.raw, f.dst); err != nil {
			return nil, s.wrap(err, "decode project")
		}
	}
	return &p, nil
}

func (s *sqlStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.scanProject(s.q.queryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		if s.q.isNoRows(err) {
			return nil, notFound("project", id)
		}
		return nil, s.wrap(err, "get project")
	}
	return p, nil
}

func (s *sqlStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.q.query(ctx, fmt.Sprintf(`SELECT `+projectColumns+` FROM projects ORDER BY %s DESC`, s.seq))
	if err != nil {
		return nil, s.wrap(err, "list projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := s.scanProject(rows)
		if err != nil {
			return nil, s.wrap(err, "scan project")
		}
		out = append(out, *p)
	}
	return out, s.rowsErr(rows, "list projects")
}

func (s *sqlStore) UpdateProjectStatus(ctx context.Context, id string, from, to model.ProjectStatus) error {
	n, err := s.q.exec(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return s.wrap(err, "update project status")
	}
	if n > 0 {
		return nil
	}
	current, err := s.GetProject(ctx, id)
	if err != nil {
		return err
	}
	return eris.Wrapf(model.ErrInvalidTransition, "%s: project %s is %s, expected %s", s.name, id, current.Status, from)
}

// --- providers ---

const providerColumns = `id, project_id, name, website, service_area_text, score, evidence_urls, notes, created_at`

func scanProvider(row rowScanner) (*model.Provider, error) {
	var p model.Provider
	var evidence string
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Website, &p.ServiceAreaText,
		&p.Score, &evidence, &p.Notes, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(evidence, &p.EvidenceURLs); err != nil {
		return nil, eris.Wrap(err, "decode evidence urls")
	}
	return &p, nil
}

func (s *sqlStore) UpsertProvider(ctx context.Context, p *model.Provider) (bool, error) {
	p.ID = newID(p.ID)
	p.CreatedAt = time.Now().UTC()
	n, err := s.q.exec(ctx,
		`INSERT INTO providers (`+providerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, website) DO NOTHING`,
		p.ID, p.ProjectID, p.Name, p.Website, p.ServiceAreaText, p.Score,
		toJSON(p.EvidenceURLs), p.Notes, p.CreatedAt,
	)
	if err != nil {
		return false, s.wrap(err, "insert provider")
	}
	if n > 0 {
		return true, nil
	}

	existing, err := scanProvider(s.q.queryRow(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE project_id = ? AND website = ?`,
		p.ProjectID, p.Website))
	if err != nil {
		return false, s.wrap(err, "load existing provider")
	}
	*p = *existing
	return false, nil
}

func (s *sqlStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	p, err := scanProvider(s.q.queryRow(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = ?`, id))
	if err != nil {
		if s.q.isNoRows(err) {
			return nil, notFound("provider", id)
		}
		return nil, s.wrap(err, "get provider")
	}
	return p, nil
}

func (s *sqlStore) ListProviders(ctx context.Context, projectID string) ([]model.Provider, error) {
	rows, err := s.q.query(ctx, fmt.Sprintf(
		`SELECT `+providerColumns+` FROM providers WHERE project_id = ? ORDER BY score DESC, %s`, s.seq),
		projectID)
	if err != nil {
		return nil, s.wrap(err, "list providers")
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, s.wrap(err, "scan provider")
		}
		out = append(out, *p)
	}
	return out, s.rowsErr(rows, "list providers")
}

// --- contacts ---

const contactColumns = `id, provider_id, kind, value, source_url, confidence, allowed`

func (s *sqlStore) AddContact(ctx context.Context, c *model.ContactMethod) error {
	c.ID = newID(c.ID)
	_, err := s.q.exec(ctx,
		`INSERT INTO contact_methods (`+contactColumns+`, address) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProviderID, string(c.Kind), c.Value, c.SourceURL, c.Confidence, c.Allowed,
		model.NormalizeAddress(c.Kind, c.Value),
	)
	if err != nil {
		return s.wrap(err, "insert contact")
	}
	return nil
}

func (s *sqlStore) listContacts(ctx context.Context, where string, args ...any) ([]model.ContactMethod, error) {
	rows, err := s.q.query(ctx,
		`SELECT `+contactColumns+` FROM contact_methods WHERE `+where+` ORDER BY confidence DESC`, args...)
	if err != nil {
		return nil, s.wrap(err, "list contacts")
	}
	defer rows.Close()

	var out []model.ContactMethod
	for rows.Next() {
		var c model.ContactMethod
		var kind string
		if err := rows.Scan(&c.ID, &c.ProviderID, &kind, &c.Value, &c.SourceURL, &c.Confidence, &c.Allowed); err != nil {
			return nil, s.wrap(err, "scan contact")
		}
		c.Kind = model.Channel(kind)
		out = append(out, c)
	}
	return out, s.rowsErr(rows, "list contacts")
}

func (s *sqlStore) ListContacts(ctx context.Context, providerID string) ([]model.ContactMethod, error) {
	return s.listContacts(ctx, `provider_id = ?`, providerID)
}

func (s *sqlStore) FindContacts(ctx context.Context, kind model.Channel, address string) ([]model.ContactMethod, error) {
	return s.listContacts(ctx, `kind = ? AND address = ?`, string(kind), model.NormalizeAddress(kind, address))
}

func (s *sqlStore) DisallowContacts(ctx context.Context, kind model.Channel, address string) (int64, error) {
	n, err := s.q.exec(ctx,
		`UPDATE contact_methods SET allowed = ? WHERE kind = ? AND address = ?`,
		false, string(kind), model.NormalizeAddress(kind, address),
	)
	if err != nil {
		return 0, s.wrap(err, "disallow contacts")
	}
	return n, nil
}

// --- threads ---

const threadColumns = `id, provider_id, channel, status, unsubscribe, created_at`

func scanThread(row rowScanner) (*model.Thread, error) {
	var t model.Thread
	var channel, status string
	if err := row.Scan(&t.ID, &t.ProviderID, &channel, &status, &t.Unsubscribe, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Channel = model.Channel(channel)
	t.Status = model.ThreadStatus(status)
	return &t, nil
}

func (s *sqlStore) CreateThread(ctx context.Context, t *model.Thread) error {
	t.ID = newID(t.ID)
	if t.Status == "" {
		t.Status = model.ThreadStatusOpen
	}
	t.CreatedAt = time.Now().UTC()
	_, err := s.q.exec(ctx,
		`INSERT INTO threads (`+threadColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProviderID, string(t.Channel), string(t.Status), t.Unsubscribe, t.CreatedAt,
	)
	if err != nil {
		if s.q.isUniqueViolation(err) {
			return eris.Wrapf(ErrConflict, "%s: open %s thread exists for provider %s", s.name, t.Channel, t.ProviderID)
		}
		return s.wrap(err, "insert thread")
	}
	return nil
}

func (s *sqlStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	t, err := scanThread(s.q.queryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = ?`, id))
	if err != nil {
		if s.q.isNoRows(err) {
			return nil, notFound("thread", id)
		}
		return nil, s.wrap(err, "get thread")
	}
	return t, nil
}

func (s *sqlStore) FindOpenThread(ctx context.Context, providerID string, channel model.Channel) (*model.Thread, error) {
	t, err := scanThread(s.q.queryRow(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE provider_id = ? AND channel = ? AND status = ?`,
		providerID, string(channel), string(model.ThreadStatusOpen)))
	if err != nil {
		if s.q.isNoRows(err) {
			return nil, notFound("open thread for provider", providerID)
		}
		return nil, s.wrap(err, "find open thread")
	}
	return t, nil
}

func (s *sqlStore) ListThreads(ctx context.Context, providerID string) ([]model.Thread, error) {
	rows, err := s.q.query(ctx, fmt.Sprintf(
		`SELECT `+threadColumns+` FROM threads WHERE provider_id = ? ORDER BY %s`, s.seq), providerID)
	if err != nil {
		return nil, s.wrap(err, "list threads")
	}
	defer rows.Close()

	var out []model.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, s.wrap(err, "scan thread")
		}
		out = append(out, *t)
	}
	return out, s.rowsErr(rows, "list threads")
}

func (s *sqlStore) UnsubscribeThreads(ctx context.Context, kind model.Channel, address string) (int64, error) {
	n, err := s.q.exec(ctx,
		`UPDATE threads SET unsubscribe = ? WHERE channel = ? AND provider_id IN
		(SELECT provider_id FROM contact_methods WHERE kind = ? AND address = ?)`,
		true, string(kind), string(kind), model.NormalizeAddress(kind, address),
	)
	if err != nil {
		return 0, s.wrap(err, "unsubscribe threads")
	}
	return n, nil
}

func (s *sqlStore) CloseProjectThreads(ctx context.Context, projectID string) (int64, error) {
	n, err := s.q.exec(ctx,
		`UPDATE threads SET status = ? WHERE status = ? AND provider_id IN
		(SELECT id FROM providers WHERE project_id = ?)`,
		string(model.ThreadStatusClosed), string(model.ThreadStatusOpen), projectID,
	)
	if err != nil {
		return 0, s.wrap(err, "close threads")
	}
	return n, nil
}

func (s *sqlStore) ClaimThread(ctx context.Context, threadID string, now, staleBefore time.Time) (bool, error) {
	n, err := s.q.exec(ctx,
		`UPDATE threads SET claimed_at = ? WHERE id = ? AND (claimed_at IS NULL OR claimed_at < ?)`,
		now.UTC(), threadID, staleBefore.UTC(),
	)
	if err != nil {
		return false, s.wrap(err, "claim thread")
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *sqlStore) ReleaseThread(ctx context.Context, threadID string) error {
	if _, err := s.q.exec(ctx, `UPDATE threads SET claimed_at = NULL WHERE id = ?`, threadID); err != nil {
		return s.wrap(err, "release thread")
	}
	return nil
}

// --- messages ---

func (s *sqlStore) AppendMessage(ctx context.Context, m *model.Message) error {
	m.ID = newID(m.ID)
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_, err := s.q.exec(ctx,
		`INSERT INTO messages (id, thread_id, direction, sender, subject, body_text, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, string(m.Direction), m.Sender, m.Subject, m.BodyText, m.Timestamp,
	)
	if err != nil {
		return s.wrap(err, "insert message")
	}
	return nil
}

func (s *sqlStore) ListMessages(ctx context.Context, threadID string) ([]model.Message, error) {
	rows, err := s.q.query(ctx, fmt.Sprintf(
		`SELECT id, thread_id, direction, sender, subject, body_text, ts FROM messages
		WHERE thread_id = ? ORDER BY %s`, s.seq), threadID)
	if err != nil {
		return nil, s.wrap(err, "list messages")
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var dir string
		if err := rows.Scan(&m.ID, &m.ThreadID, &dir, &m.Sender, &m.Subject, &m.BodyText, &m.Timestamp); err != nil {
			return nil, s.wrap(err, "scan message")
		}
		m.Direction = model.Direction(dir)
		out = append(out, m)
	}
	return out, s.rowsErr(rows, "list messages")
}

// --- quotes ---

const quoteColumns = `q.id, q.provider_id, q.thread_id, q.message_id, q.total_estimated, q.price_type,
	q.lead_time, q.warranty, q.items, q.fees, q.discounts, q.notes, q.valid_until, q.source, q.created_at`

func scanQuote(row rowScanner) (*model.Quote, error) {
	var q model.Quote
	var priceType, source, items, fees, discounts string
	if err := row.Scan(&q.ID, &q.ProviderID, &q.ThreadID, &q.MessageID, &q.TotalEstimated, &priceType,
		&q.LeadTime, &q.Warranty, &items, &fees, &discounts, &q.Notes, &q.ValidUntil, &source, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.PriceType = model.PriceType(priceType)
	q.Source = model.QuoteSource(source)
	for _, f := range []struct {
		raw string
		dst *[]model.LineItem
	}{{items, &q.Items}, {fees, &q.Fees}, {discounts, &q.Discounts}} {
		if err := fromJSON(f.raw, f.dst); err != nil {
			return nil, eris.Wrap(err, "decode quote items")
		}
	}
	return &q, nil
}

func (s *sqlStore) SaveQuote(ctx context.Context, q *model.Quote) error {
	q.ID = newID(q.ID)
	q.CreatedAt = time.Now().UTC()
	_, err := s.q.exec(ctx,
		`INSERT INTO quotes (id, provider_id, thread_id, message_id, total_estimated, price_type,
		lead_time, warranty, items, fees, discounts, notes, valid_until, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.ProviderID, q.ThreadID, q.MessageID, q.TotalEstimated, string(q.PriceType),
		q.LeadTime, q.Warranty, toJSON(q.Items), toJSON(q.Fees), toJSON(q.Discounts), q.Notes,
		q.ValidUntil, string(q.Source), q.CreatedAt,
	)
	if err != nil {
		return s.wrap(err, "insert quote")
	}
	return nil
}

func (s *sqlStore) LatestQuote(ctx context.Context, providerID string) (*model.Quote, error) {
	q, err := scanQuote(s.q.queryRow(ctx, fmt.Sprintf(
		`SELECT `+quoteColumns+` FROM quotes q WHERE q.provider_id = ? ORDER BY q.%s DESC LIMIT 1`, s.seq),
		providerID))
	if err != nil {
		if s.q.isNoRows(err) {
			return nil, notFound("quote for provider", providerID)
		}
		return nil, s.wrap(err, "latest quote")
	}
	return q, nil
}

func (s *sqlStore) ListQuotes(ctx context.Context, projectID string) ([]model.Quote, error) {
	rows, err := s.q.query(ctx, fmt.Sprintf(
		`SELECT `+quoteColumns+` FROM quotes q JOIN providers p ON p.id = q.provider_id
		WHERE p.project_id = ? ORDER BY q.%s`, s.seq), projectID)
	if err != nil {
		return nil, s.wrap(err, "list quotes")
	}
	defer rows.Close()

	var out []model.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, s.wrap(err, "scan quote")
		}
		out = append(out, *q)
	}
	return out, s.rowsErr(rows, "list quotes")
}

// --- events ---

func (s *sqlStore) AppendEvent(ctx context.Context, e *model.Event) error {
	e.ID = newID(e.ID)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return s.wrap(err, "marshal event payload")
	}
	_, err = s.q.exec(ctx,
		`INSERT INTO events (id, project_id, type, ts, payload) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.Type, e.Timestamp, string(payload),
	)
	if err != nil {
		return s.wrap(err, "insert event")
	}
	return nil
}

func (s *sqlStore) ListEvents(ctx context.Context, projectID string) ([]model.Event, error) {
	rows, err := s.q.query(ctx, fmt.Sprintf(
		`SELECT id, project_id, type, ts, payload FROM events WHERE project_id = ? ORDER BY %s DESC`, s.seq),
		projectID)
	if err != nil {
		return nil, s.wrap(err, "list events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		var payload string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Type, &e.Timestamp, &payload); err != nil {
			return nil, s.wrap(err, "scan event")
		}
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, s.wrap(err, "decode event payload")
			}
		}
		out = append(out, e)
	}
	return out, s.rowsErr(rows, "list events")
}

func (s *sqlStore) rowsErr(rows rowIter, op string) error {
	if err := rows.Err(); err != nil {
		return s.wrap(err, op)
	}
	return nil
}
