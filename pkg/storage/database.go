package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shaneisley/placeahead/pkg/logging"
	"github.com/shaneisley/placeahead/pkg/metrics"
)

// Database is the SQLite request log
type Database struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
}

// NewDatabase opens or creates the request log at dbPath
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database := &Database{
		db:     db,
		path:   dbPath,
		logger: logging.Nop(),
	}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return database, nil
}

// SetLogger sets the logger used for write failures
func (d *Database) SetLogger(logger *logging.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.path
}

func (d *Database) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS provider_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL,
		query TEXT NOT NULL,
		query_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		results INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL,
		requested_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_provider_requests_time ON provider_requests(requested_at);
	CREATE INDEX IF NOT EXISTS idx_provider_requests_hash ON provider_requests(query_hash);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Record stores one finished provider call
func (d *Database) Record(metric metrics.RequestMetric) error {
	hash := metric.QueryHash
	if hash == "" {
		hash = metrics.QueryHash(metric.Query)
	}
	requestedAt := metric.Timestamp
	if requestedAt.IsZero() {
		requestedAt = time.Now()
	}

	query := `
	INSERT INTO provider_requests (
		token, query, query_hash, outcome, status_code, results, duration_ms, requested_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.Exec(query,
		metric.Token, metric.Query, hash, string(metric.Outcome), metric.StatusCode,
		metric.Results, metric.Duration.Milliseconds(), requestedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

// RecordRequest implements metrics.Recorder. Write failures are logged, never
// returned to the request path.
func (d *Database) RecordRequest(metric metrics.RequestMetric) {
	if err := d.Record(metric); err != nil {
		d.logger.LogError("record", err, "query_hash", metric.QueryHash)
	}
}

// Requests returns the log rows in [start, end), oldest first
func (d *Database) Requests(start, end time.Time) ([]StoredRequest, error) {
	query := `
	SELECT id, token, query, query_hash, outcome, status_code, results, duration_ms, requested_at
	FROM provider_requests
	WHERE requested_at >= ? AND requested_at < ?
	ORDER BY requested_at ASC, id ASC`

	rows, err := d.db.Query(query, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var results []StoredRequest
	for rows.Next() {
		var row StoredRequest
		var outcome string
		var durationMs, requestedAt int64

		err := rows.Scan(&row.ID, &row.Metric.Token, &row.Metric.Query, &row.Metric.QueryHash,
			&outcome, &row.Metric.StatusCode, &row.Metric.Results, &durationMs, &requestedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}

		row.Metric.Outcome = metrics.Outcome(outcome)
		row.Metric.Duration = time.Duration(durationMs) * time.Millisecond
		row.Metric.Timestamp = time.UnixMilli(requestedAt)
		results = append(results, row)
	}

	return results, rows.Err()
}

// Stats aggregates every request since the given time
func (d *Database) Stats(since time.Time) (*AggregatedStats, error) {
	end := time.Now().Add(time.Millisecond)
	rows, err := d.Requests(since, end)
	if err != nil {
		return nil, err
	}
	return Aggregate(rows, since, end), nil
}

// Prune deletes requests older than the given age and returns how many
func (d *Database) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	result, err := d.db.Exec(`DELETE FROM provider_requests WHERE requested_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune requests: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}
