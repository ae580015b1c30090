package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteAuditLogger implements audit logging using SQLite
type SQLiteAuditLogger struct {
	db *sql.DB
}

// NewSQLiteAuditLogger opens (or creates) the audit database at dbPath
func NewSQLiteAuditLogger(dbPath string) (*SQLiteAuditLogger, error) {
	if strings.HasPrefix(dbPath, "~/") {
		home, _ := os.UserHomeDir()
		dbPath = filepath.Join(home, dbPath[2:])
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	logger := &SQLiteAuditLogger{db: db}

	if err := logger.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return logger, nil
}

// initSchema creates the audit log table
func (a *SQLiteAuditLogger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		service TEXT NOT NULL,
		operation TEXT NOT NULL,
		user_id TEXT,
		request_id TEXT,
		method TEXT,
		endpoint TEXT,
		status_code INTEGER,
		duration_ms INTEGER,
		success BOOLEAN,
		error TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_service ON audit_log(service);
	CREATE INDEX IF NOT EXISTS idx_user_id ON audit_log(user_id);
	`

	_, err := a.db.Exec(schema)
	return err
}

// Log records an API call
func (a *SQLiteAuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit_log (
			timestamp, service, operation, user_id, request_id,
			method, endpoint, status_code, duration_ms, success, error, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	metadataJSON := "{}"
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	timestamp := entry.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	res, err := a.db.ExecContext(ctx, query,
		timestamp.UTC(),
		string(entry.Service),
		entry.Operation,
		entry.UserID,
		entry.RequestID,
		entry.Method,
		entry.Endpoint,
		entry.StatusCode,
		entry.Duration.Milliseconds(),
		entry.Success,
		entry.Error,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// Query retrieves audit logs, newest first
func (a *SQLiteAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error) {
	if filter == nil {
		filter = &AuditFilter{}
	}

	query := "SELECT id, timestamp, service, operation, user_id, request_id, method, endpoint, status_code, duration_ms, success, error, metadata FROM audit_log WHERE 1=1"
	args := []interface{}{}

	if filter.Service != nil {
		query += " AND service = ?"
		args = append(args, string(*filter.Service))
	}

	if filter.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.UTC())
	}

	if filter.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.UTC())
	}

	if filter.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filter.UserID)
	}

	if filter.Success != nil {
		query += " AND success = ?"
		args = append(args, *filter.Success)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var service string
		var durationMs int64
		var userID, requestID, method, endpoint, errMsg, metadata sql.NullString
		var statusCode sql.NullInt64

		err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&service,
			&entry.Operation,
			&userID,
			&requestID,
			&method,
			&endpoint,
			&statusCode,
			&durationMs,
			&entry.Success,
			&errMsg,
			&metadata,
		)
		if err != nil {
			return nil, err
		}

		entry.Service = ServiceType(service)
		entry.UserID = userID.String
		entry.RequestID = requestID.String
		entry.Method = method.String
		entry.Endpoint = endpoint.String
		entry.StatusCode = int(statusCode.Int64)
		entry.Error = errMsg.String
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &entry.Metadata)
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// Close closes the database connection
func (a *SQLiteAuditLogger) Close() error {
	return a.db.Close()
}

// GetStats returns audit statistics for a service since a point in time
func (a *SQLiteAuditLogger) GetStats(ctx context.Context, service ServiceType, since time.Time) (*AuditStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0) as successful,
			AVG(duration_ms) as avg_duration_ms
		FROM audit_log
		WHERE service = ? AND timestamp >= ?
	`

	var stats AuditStats
	var avgDuration sql.NullFloat64

	err := a.db.QueryRowContext(ctx, query, string(service), since.UTC()).Scan(
		&stats.TotalRequests,
		&stats.SuccessfulRequests,
		&avgDuration,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute audit stats: %w", err)
	}

	if avgDuration.Valid {
		stats.AverageDuration = time.Duration(avgDuration.Float64 * float64(time.Millisecond))
	}

	if stats.TotalRequests > 0 {
		stats.ErrorRate = float64(stats.TotalRequests-stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}

	return &stats, nil
}

// AuditStats holds audit statistics
type AuditStats struct {
	TotalRequests      int
	SuccessfulRequests int
	ErrorRate          float64
	AverageDuration    time.Duration
}
