// Package sqlite stores items in a local SQLite database using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

const defaultTable = "crawl_items"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table.
type Config struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// Sink inserts one row per item.
type Sink struct {
	db     *sql.DB
	table  string
	runID  string
	clock  crawler.Clock
	insert string
}

// Open opens (or creates) the database file and the item table.
func Open(ctx context.Context, cfg Config, runID string, clock crawler.Clock) (*Sink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sinks.sqlite.path is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	item TEXT NOT NULL,
	inserted_at TEXT NOT NULL
)`, table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return &Sink{
		db:     db,
		table:  table,
		runID:  runID,
		clock:  clock,
		insert: fmt.Sprintf(`INSERT INTO %s (id, run_id, url, item, inserted_at) VALUES (?, ?, ?, ?, ?)`, table),
	}, nil
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
	_, err = s.db.ExecContext(ctx, s.insert,
		id.String(),
		s.runID,
		item.GetString("url"),
		string(payload),
		s.clock.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// DB exposes the handle for queries.
func (s *Sink) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Sink) Close(context.Context) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

var _ crawler.ItemSink = (*Sink)(nil)
