// Package store is the relayer's persistence layer: connection pooling,
// schema migrations, and the transactional batch/recovery operations the
// rest of the pipeline is built on.
//
// Grounded on the teacher's pkg/database/client.go (pooling, embedded
// migrations, Health) and on original_source/relayer/src/db.rs for the
// transactional batch shapes and recovery queries.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a pooled Postgres connection plus migration support.
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger overrides the client's logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient opens a pooled connection to dsn and verifies it with a ping.
func NewClient(dsn string, opts ...ClientOption) (*Client, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: dsn must not be empty")
	}
	c := &Client{logger: log.New(log.Writer(), "[store] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(c)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	c.db = db
	c.logger.Println("connected to database")
	return c, nil
}

// DB returns the underlying *sql.DB.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the pooled connection.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// HealthStatus reports pool health, as returned by Health. No endpoint
// serves it.
type HealthStatus struct {
	Healthy         bool      `json:"healthy"`
	Error           string    `json:"error,omitempty"`
	OpenConnections int       `json:"open_connections"`
	InUse           int       `json:"in_use"`
	Idle            int       `json:"idle"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Health pings the database and reports pool statistics.
func (c *Client) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{CheckedAt: time.Now()}
	if err := c.db.PingContext(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	stats := c.db.Stats()
	status.Healthy = true
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	return status
}

type migration struct {
	version string
	sql     string
}

// MigrateUp applies every embedded migration not yet recorded in
// schema_migrations, in filename order.
func (c *Client) MigrateUp(ctx context.Context) error {
	migrations, err := readMigrations()
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, m := range migrations {
		applied, err := c.migrationApplied(ctx, m.version)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.version, err)
		}
		if applied {
			continue
		}
		if err := c.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		c.logger.Printf("applied migration %s", m.version)
	}
	return nil
}

func readMigrations() ([]migration, error) {
	var out []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, migration{version: strings.TrimSuffix(d.Name(), ".sql"), sql: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (c *Client) migrationApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

func (c *Client) applyMigration(ctx context.Context, m migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}
