// Package postgres provides a Postgres-backed dedup set and stream.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/listing"
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$|^$`)

// Config controls the Postgres connection pool and table naming.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements gateway.Membership and gateway.Stream on three tables:
// dedup_members, stream_entries and stream_groups.
type Store struct {
	pool    pool
	members string
	entries string
	groups  string
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, classify(fmt.Errorf("connect postgres: %w", err))
	}
	s, err := NewWithPool(p, cfg.TablePrefix)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a Store from an existing pool.
func NewWithPool(p pool, prefix string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if !validTablePrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &Store{
		pool:    p,
		members: prefix + "dedup_members",
		entries: prefix + "stream_entries",
		groups:  prefix + "stream_groups",
	}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	set_name TEXT NOT NULL,
	member TEXT NOT NULL,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (set_name, member)
)`, s.members),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	stream TEXT NOT NULL,
	fields JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.entries),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	stream TEXT NOT NULL,
	group_name TEXT NOT NULL,
	last_delivered_id BIGINT NOT NULL,
	PRIMARY KEY (stream, group_name)
)`, s.groups),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return classify(fmt.Errorf("ensure schema: %w", err))
		}
	}
	return nil
}

// Contains reports whether value is in the named set.
func (s *Store) Contains(ctx context.Context, set, value string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE set_name = $1 AND member = $2)`, s.members)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, set, value).Scan(&exists); err != nil {
		return false, classify(fmt.Errorf("query membership: %w", err))
	}
	return exists, nil
}

// Add inserts value and reports whether it was new.
func (s *Store) Add(ctx context.Context, set, value string) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO %s (set_name, member) VALUES ($1, $2) ON CONFLICT DO NOTHING`, s.members)
	tag, err := s.pool.Exec(ctx, query, set, value)
	if err != nil {
		return false, classify(fmt.Errorf("insert membership: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// Append stores the fields as an ordered JSON object and returns the row id.
func (s *Store) Append(ctx context.Context, stream string, fields listing.Fields) (string, error) {
	payload, err := fields.MarshalJSON()
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf(`INSERT INTO %s (stream, fields) VALUES ($1, $2) RETURNING id`, s.entries)
	var id int64
	if err := s.pool.QueryRow(ctx, query, stream, payload).Scan(&id); err != nil {
		return "", classify(fmt.Errorf("insert stream entry: %w", err))
	}
	return strconv.FormatInt(id, 10), nil
}

// CreateGroup records a group cursor. With fromNow the cursor starts at the
// current last entry of the stream; otherwise at zero. Streams exist
// implicitly, so createIfAbsent only matters when the stream has no entries.
func (s *Store) CreateGroup(ctx context.Context, stream, group string, fromNow, createIfAbsent bool) (gateway.GroupResult, error) {
	if !createIfAbsent {
		query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE stream = $1)`, s.entries)
		var exists bool
		if err := s.pool.QueryRow(ctx, query, stream).Scan(&exists); err != nil {
			return "", classify(fmt.Errorf("query stream: %w", err))
		}
		if !exists {
			return "", fmt.Errorf("stream %q does not exist", stream)
		}
	}
	query := fmt.Sprintf(`INSERT INTO %s (stream, group_name, last_delivered_id)
SELECT $1, $2, CASE WHEN $3::boolean THEN COALESCE(MAX(id), 0) ELSE 0 END
FROM %s WHERE stream = $1
ON CONFLICT DO NOTHING`, s.groups, s.entries)
	tag, err := s.pool.Exec(ctx, query, stream, group, fromNow)
	if err != nil {
		return "", classify(fmt.Errorf("insert group: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return gateway.GroupExists, nil
	}
	return gateway.GroupCreated, nil
}

// classify marks connection-level failures as gateway.ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)
	}
	return err
}
