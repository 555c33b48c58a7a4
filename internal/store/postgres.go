package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/contractr/contractr/internal/db"
)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a Postgres-backed Store with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (Store, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *sqlStore {
	return &sqlStore{
		q:         &pgConn{pool: pool, closeFn: closeFn},
		name:      "postgres",
		migration: postgresMigration,
		seq:       "seq",
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id               TEXT PRIMARY KEY,
	seq              BIGSERIAL,
	type             TEXT NOT NULL,
	address          TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT '',
	zip              TEXT NOT NULL DEFAULT '',
	budget_max       DOUBLE PRECISION,
	date_window      TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	must_haves       JSONB NOT NULL DEFAULT '[]',
	nice_to_haves    JSONB NOT NULL DEFAULT '[]',
	channels_allowed JSONB NOT NULL DEFAULT '[]',
	quiet_hours      TEXT NOT NULL DEFAULT '',
	autopilot        BOOLEAN NOT NULL DEFAULT TRUE,
	seed_providers   JSONB NOT NULL DEFAULT '[]',
	status           TEXT NOT NULL DEFAULT 'draft',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS providers (
	id                TEXT PRIMARY KEY,
	seq               BIGSERIAL,
	project_id        TEXT NOT NULL REFERENCES projects(id),
	name              TEXT NOT NULL,
	website           TEXT NOT NULL,
	service_area_text TEXT NOT NULL DEFAULT '',
	score             DOUBLE PRECISION NOT NULL,
	evidence_urls     JSONB NOT NULL DEFAULT '[]',
	notes             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, website)
);

CREATE TABLE IF NOT EXISTS contact_methods (
	id          TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL REFERENCES providers(id),
	kind        TEXT NOT NULL,
	value       TEXT NOT NULL,
	address     TEXT NOT NULL,
	source_url  TEXT NOT NULL DEFAULT '',
	confidence  DOUBLE PRECISION NOT NULL,
	allowed     BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS threads (
	id          TEXT PRIMARY KEY,
	seq         BIGSERIAL,
	provider_id TEXT NOT NULL REFERENCES providers(id),
	channel     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'open',
	unsubscribe BOOLEAN NOT NULL DEFAULT FALSE,
	claimed_at  TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id        TEXT PRIMARY KEY,
	seq       BIGSERIAL,
	thread_id TEXT NOT NULL REFERENCES threads(id),
	direction TEXT NOT NULL,
	sender    TEXT NOT NULL DEFAULT '',
	subject   TEXT NOT NULL DEFAULT '',
	body_text TEXT NOT NULL,
	ts        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS quotes (
	id              TEXT PRIMARY KEY,
	seq             BIGSERIAL,
	provider_id     TEXT NOT NULL REFERENCES providers(id),
	thread_id       TEXT NOT NULL DEFAULT '',
	message_id      TEXT NOT NULL DEFAULT '',
	total_estimated DOUBLE PRECISION,
	price_type      TEXT NOT NULL,
	lead_time       TEXT NOT NULL DEFAULT '',
	warranty        TEXT NOT NULL DEFAULT '',
	items           JSONB NOT NULL DEFAULT '[]',
	fees            JSONB NOT NULL DEFAULT '[]',
	discounts       JSONB NOT NULL DEFAULT '[]',
	notes           TEXT NOT NULL DEFAULT '',
	valid_until     TIMESTAMPTZ,
	source          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	seq        BIGSERIAL,
	project_id TEXT NOT NULL REFERENCES projects(id),
	type       TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL DEFAULT now(),
	payload    JSONB
);

CREATE INDEX IF NOT EXISTS idx_providers_project ON providers(project_id);
CREATE INDEX IF NOT EXISTS idx_contacts_provider ON contact_methods(provider_id);
CREATE INDEX IF NOT EXISTS idx_contacts_address ON contact_methods(kind, address);
CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_open ON threads(provider_id, channel) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);
CREATE INDEX IF NOT EXISTS idx_quotes_provider ON quotes(provider_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id, seq DESC);
`

type pgConn struct {
	pool    db.Pool
	closeFn func()
}

// rebind rewrites ? placeholders to Postgres $n form.
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *pgConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.pool.Exec(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgConn) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	return c.pool.Query(ctx, rebind(query), args...)
}

func (c *pgConn) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return c.pool.QueryRow(ctx, rebind(query), args...)
}

func (c *pgConn) isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (c *pgConn) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (c *pgConn) close() error {
	if c.closeFn != nil {
		c.closeFn()
	}
	return nil
}
