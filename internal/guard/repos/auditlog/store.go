// Package auditlog persists detection decisions to a sqlite table shared with
// the query and unblock tooling.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haukened/egress-guard/internal/guard/domain"
)

// TimeLayout is the on-disk timestamp format: fixed-width UTC ISO-8601, so
// text comparison matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	source TEXT,
	destination TEXT NOT NULL,
	resolved_hostname TEXT,
	status TEXT NOT NULL CHECK(status IN ('Blocked', 'Trusted'))
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_destination ON logs(destination);
`

// Store is the sqlite-backed audit log.
type Store struct {
	db *sql.DB
}

// Open opens or creates the audit database at path, creating its directory if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: create audit dir: %w", domain.ErrLogStoreUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open audit db: %w", domain.ErrLogStoreUnavailable, err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY between our own statements.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create audit table: %w", domain.ErrLogStoreUnavailable, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts entry and returns its id. Entry.ID is ignored.
func (s *Store) Append(ctx context.Context, e domain.AuditEntry) (int64, error) {
	if !e.Status.Valid() {
		return 0, fmt.Errorf("%w: invalid status %q", domain.ErrLogStoreUnavailable, e.Status)
	}
	if e.Destination == "" {
		return 0, fmt.Errorf("%w: empty destination", domain.ErrLogStoreUnavailable)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (timestamp, source, destination, resolved_hostname, status)
		VALUES (?, ?, ?, ?, ?)`,
		formatTime(e.Timestamp), nullable(e.Source), e.Destination, nullable(e.ResolvedHostname), string(e.Status),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %w", domain.ErrLogStoreUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert id: %w", domain.ErrLogStoreUnavailable, err)
	}
	return id, nil
}

// Query returns entries matching f in insertion order, or newest first when f.Newest is set.
func (s *Store) Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	var (
		clauses []string
		args    []any
	)
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		clauses = append(clauses, `(destination LIKE ? ESCAPE '\' OR resolved_hostname LIKE ? ESCAPE '\')`)
		pattern := "%" + likeEscaper.Replace(kw) + "%"
		args = append(args, pattern, pattern)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Start.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, formatTime(f.Start))
	}
	if !f.End.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, formatTime(f.End))
	}

	query := "SELECT id, timestamp, source, destination, resolved_hostname, status FROM logs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if f.Newest {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", domain.ErrLogStoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			ts, status string
			src, host  sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &src, &e.Destination, &host, &status); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", domain.ErrLogStoreUnavailable, err)
		}
		e.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d timestamp %q: %w", domain.ErrLogStoreUnavailable, e.ID, ts, err)
		}
		e.Source = src.String
		e.ResolvedHostname = host.String
		e.Status = domain.Status(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", domain.ErrLogStoreUnavailable, err)
	}
	return out, nil
}

// DeleteByDestination removes every entry for destination and returns the count removed.
func (s *Store) DeleteByDestination(ctx context.Context, destination string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM logs WHERE destination = ?", destination)
	if err != nil {
		return 0, fmt.Errorf("%w: delete: %w", domain.ErrLogStoreUnavailable, err)
	}
	return res.RowsAffected()
}

// likeEscaper makes a keyword match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// Rows written by other tools may carry ISO-8601 local wall-clock times
// with no offset, and omit the fraction when it is zero.
var (
	zonedLayouts = []string{TimeLayout, time.RFC3339Nano}
	localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"}
)

func parseTime(ts string) (time.Time, error) {
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, nil
		}
	}
	var lastErr error
	for _, layout := range localLayouts {
		t, err := time.ParseInLocation(layout, ts, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
