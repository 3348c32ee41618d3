// internal/archive/sql.go

// Package archive persists terminal tasks once they leave the orchestrator's
// in-memory table.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/valpere/scraperotor/internal/orchestrator"
	"github.com/valpere/scraperotor/internal/utils"
)

var archiveLogger = utils.NewComponentLogger("archive")

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// DefaultTable is the archive table name when none is configured
const DefaultTable = "task_archive"

const maxIdentifierLength = 63

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configure a SQL archive
type Options struct {
	Driver string `yaml:"driver" json:"driver"`
	// DSN is a file path for sqlite3 and a connection string otherwise.
	DSN          string        `yaml:"dsn" json:"-"`
	Table        string        `yaml:"table,omitempty" json:"table,omitempty"`
	MaxOpenConns int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxLifetime  time.Duration `yaml:"max_lifetime,omitempty" json:"max_lifetime,omitempty"`
}

// SQLArchive stores tasks as JSON documents in a single table.
type SQLArchive struct {
	db     *sql.DB
	driver string
	table  string
}

var _ orchestrator.Archive = (*SQLArchive)(nil)

// ValidateIdentifier checks a table name before it is spliced into SQL.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier %q exceeds %d characters", name, maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q must start with a letter or underscore and contain only letters, digits and underscores", name)
	}
	return nil
}

// Open connects to the database and creates the archive table if needed.
func Open(ctx context.Context, options Options) (*SQLArchive, error) {
	if options.Table == "" {
		options.Table = DefaultTable
	}
	if err := ValidateIdentifier(options.Table); err != nil {
		return nil, fmt.Errorf("invalid archive table: %w", err)
	}
	if options.DSN == "" {
		return nil, fmt.Errorf("archive DSN is required")
	}

	dsn := options.DSN
	switch options.Driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_journal_mode=WAL"
		}
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
		}
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported archive driver: %q", options.Driver)
	}

	db, err := sql.Open(options.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s archive: %w", options.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s archive: %w", options.Driver, err)
	}

	if options.Driver == DriverSQLite {
		db.SetMaxOpenConns(1) // single writer
	} else {
		maxOpen := options.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen / 2)
	}
	if options.MaxLifetime > 0 {
		db.SetConnMaxLifetime(options.MaxLifetime)
	}

	a := &SQLArchive{db: db, driver: options.Driver, table: options.Table}
	if err := a.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	archiveLogger.WithFields(map[string]interface{}{
		"driver": options.Driver,
		"table":  options.Table,
	}).Info("task archive ready")
	return a, nil
}

func (a *SQLArchive) quotedTable() string {
	switch a.driver {
	case DriverPostgres:
		return pq.QuoteIdentifier(a.table)
	case DriverMySQL:
		return "`" + a.table + "`"
	default:
		return `"` + a.table + `"`
	}
}

func (a *SQLArchive) migrate(ctx context.Context) error {
	text := "TEXT"
	if a.driver == DriverMySQL {
		text = "LONGTEXT"
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(64) PRIMARY KEY,
		status VARCHAR(16) NOT NULL,
		finished_at BIGINT NOT NULL,
		summary %s NOT NULL,
		payload %s NOT NULL
	)`, a.quotedTable(), text, text)
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create archive table '%s': %w", a.table, err)
	}
	return nil
}

// rebind rewrites ? placeholders into the driver's syntax
func (a *SQLArchive) rebind(query string) string {
	if a.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (a *SQLArchive) upsertQuery() string {
	insert := fmt.Sprintf("INSERT INTO %s (id, status, finished_at, summary, payload) VALUES (?, ?, ?, ?, ?)", a.quotedTable())
	switch a.driver {
	case DriverMySQL:
		insert += " ON DUPLICATE KEY UPDATE status = VALUES(status), finished_at = VALUES(finished_at), summary = VALUES(summary), payload = VALUES(payload)"
	default:
		insert += " ON CONFLICT (id) DO UPDATE SET status = excluded.status, finished_at = excluded.finished_at, summary = excluded.summary, payload = excluded.payload"
	}
	return a.rebind(insert)
}

// Store implements orchestrator.Archive
func (a *SQLArchive) Store(ctx context.Context, task orchestrator.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}
	summary, err := json.Marshal(task.Summary())
	if err != nil {
		return fmt.Errorf("failed to encode task summary %s: %w", task.ID, err)
	}

	_, err = a.db.ExecContext(ctx, a.upsertQuery(),
		task.ID, string(task.Status), task.FinishedAt.UnixNano(), string(summary), string(payload))
	if err != nil {
		return fmt.Errorf("failed to archive task %s: %w", task.ID, err)
	}
	return nil
}

// Load implements orchestrator.Archive
func (a *SQLArchive) Load(ctx context.Context, id string) (*orchestrator.Task, error) {
	query := a.rebind(fmt.Sprintf("SELECT payload FROM %s WHERE id = ?", a.quotedTable()))

	var payload string
	err := a.db.QueryRowContext(ctx, query, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, orchestrator.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}

	var task orchestrator.Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return &task, nil
}

// List implements orchestrator.Archive, newest first
func (a *SQLArchive) List(ctx context.Context, limit int) ([]orchestrator.Summary, error) {
	query := fmt.Sprintf("SELECT summary FROM %s ORDER BY finished_at DESC", a.quotedTable())
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, a.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived tasks: %w", err)
	}
	defer rows.Close()

	out := []orchestrator.Summary{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan archived task: %w", err)
		}
		var s orchestrator.Summary
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("failed to decode archived task: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes archived tasks finished before cutoff and returns how many.
func (a *SQLArchive) Delete(ctx context.Context, cutoff time.Time) (int64, error) {
	query := a.rebind(fmt.Sprintf("DELETE FROM %s WHERE finished_at < ?", a.quotedTable()))
	res, err := a.db.ExecContext(ctx, query, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive: %w", err)
	}
	return res.RowsAffected()
}

// Close implements orchestrator.Archive
func (a *SQLArchive) Close() error {
	return a.db.Close()
}

// Ping checks the database connection
func (a *SQLArchive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}
