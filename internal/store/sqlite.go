package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &sqlStore{q: &sqliteConn{db: db}, name: "sqlite", migration: sqliteMigration, seq: "rowid"}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	address          TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT '',
	zip              TEXT NOT NULL DEFAULT '',
	budget_max       REAL,
	date_window      TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	must_haves       TEXT NOT NULL DEFAULT '[]',
	nice_to_haves    TEXT NOT NULL DEFAULT '[]',
	channels_allowed TEXT NOT NULL DEFAULT '[]',
	quiet_hours      TEXT NOT NULL DEFAULT '',
	autopilot        INTEGER NOT NULL DEFAULT 1,
	seed_providers   TEXT NOT NULL DEFAULT '[]',
	status           TEXT NOT NULL DEFAULT 'draft',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS providers (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL REFERENCES projects(id),
	name              TEXT NOT NULL,
	website           TEXT NOT NULL,
	service_area_text TEXT NOT NULL DEFAULT '',
	score             REAL NOT NULL,
	evidence_urls     TEXT NOT NULL DEFAULT '[]',
	notes             TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	UNIQUE (project_id, website)
);

CREATE TABLE IF NOT EXISTS contact_methods (
	id          TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL REFERENCES providers(id),
	kind        TEXT NOT NULL,
	value       TEXT NOT NULL,
	address     TEXT NOT NULL,
	source_url  TEXT NOT NULL DEFAULT '',
	confidence  REAL NOT NULL,
	allowed     INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS threads (
	id          TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL REFERENCES providers(id),
	channel     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'open',
	unsubscribe INTEGER NOT NULL DEFAULT 0,
	claimed_at  DATETIME,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id        TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL REFERENCES threads(id),
	direction TEXT NOT NULL,
	sender    TEXT NOT NULL DEFAULT '',
	subject   TEXT NOT NULL DEFAULT '',
	body_text TEXT NOT NULL,
	ts        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS quotes (
	id              TEXT PRIMARY KEY,
	provider_id     TEXT NOT NULL REFERENCES providers(id),
	thread_id       TEXT NOT NULL DEFAULT '',
	message_id      TEXT NOT NULL DEFAULT '',
	total_estimated REAL,
	price_type      TEXT NOT NULL,
	lead_time       TEXT NOT NULL DEFAULT '',
	warranty        TEXT NOT NULL DEFAULT '',
	items           TEXT NOT NULL DEFAULT '[]',
	fees            TEXT NOT NULL DEFAULT '[]',
	discounts       TEXT NOT NULL DEFAULT '[]',
	notes           TEXT NOT NULL DEFAULT '',
	valid_until     DATETIME,
	source          TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	type       TEXT NOT NULL,
	ts         DATETIME NOT NULL,
	payload    TEXT
);

CREATE INDEX IF NOT EXISTS idx_providers_project ON providers(project_id);
CREATE INDEX IF NOT EXISTS idx_contacts_provider ON contact_methods(provider_id);
CREATE INDEX IF NOT EXISTS idx_contacts_address ON contact_methods(kind, address);
CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_open ON threads(provider_id, channel) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_quotes_provider ON quotes(provider_id);
CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id);
`

type sqliteConn struct {
	db *sql.DB
}

func (c *sqliteConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *sqliteConn) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (c *sqliteConn) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return c.db.QueryRowContext(ctx, query, args...)
}

func (c *sqliteConn) isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (c *sqliteConn) isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (c *sqliteConn) close() error {
	return c.db.Close()
}

// sqlRows adapts *sql.Rows, whose Close returns an error, to rowIter.
type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	_ = r.Rows.Close()
}
