// Package postgres stores items as JSONB rows.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

const defaultTable = "crawl_items"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for item rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	CreateTable     bool          `mapstructure:"create_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink inserts one row per item.
type Sink struct {
	pool   execCloser
	table  string
	runID  string
	clock  crawler.Clock
	insert string
}

// Open connects a pool from cfg and optionally creates the table.
func Open(ctx context.Context, cfg Config, runID string, clock crawler.Clock) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sinks.postgres.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sink, err := NewWithPool(pool, cfg.Table, runID, clock)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.CreateTable {
		if err := sink.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return sink, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table, runID string, clock crawler.Clock) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{
		pool:   pool,
		table:  table,
		runID:  runID,
		clock:  clock,
		insert: fmt.Sprintf(`INSERT INTO %s (id, run_id, url, item, inserted_at) VALUES ($1,$2,$3,$4,$5)`, table),
	}, nil
}

// EnsureTable creates the item table when it does not exist.
func (s *Sink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	item JSONB NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Consume inserts the item.
func (s *Sink) Consume(ctx context.Context, item *crawler.Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate row id: %w", err)
	}
	args := []any{
		id.String(),
		s.runID,
		item.GetString("url"),
		payload,
		s.clock.Now().UTC(),
	}
	if _, err := s.pool.Exec(ctx, s.insert, args...); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Sink) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

var _ crawler.ItemSink = (*Sink)(nil)
