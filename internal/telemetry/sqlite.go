package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/cozmo-brain/internal/events"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteJournal stores entries in a SQLite database.
type SQLiteJournal struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// OpenSQLite opens (or creates) the journal at path, creating parent
// directories as needed.
func OpenSQLite(ctx context.Context, path string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteJournal{db: db, dbPath: path}, nil
}

// Path returns the database file path.
func (s *SQLiteJournal) Path() string { return s.dbPath }

// Append stores e, assigning an ID if it has none.
func (s *SQLiteJournal) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var fields []byte
	if len(e.Fields) > 0 {
		var err error
		if fields, err = json.Marshal(e.Fields); err != nil {
			return fmt.Errorf("failed to marshal fields for %s: %w", e.ID, err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, at, tag, fields) VALUES (?, ?, ?, ?)`,
		e.ID, e.Time.UTC().Format(timeLayout), string(e.Tag), nullString(fields))
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
	}
	return nil
}

// Query returns matching entries, oldest first.
func (s *SQLiteJournal) Query(ctx context.Context, f Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		where []string
		args  []any
	)
	if len(f.Tags) > 0 {
		where = append(where, "tag IN ("+strings.TrimSuffix(strings.Repeat("?,", len(f.Tags)), ",")+")")
		for _, t := range f.Tags {
			args = append(args, string(t))
		}
	}
	if !f.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	q := `SELECT id, at, tag, fields FROM entries`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			at     string
			tag    string
			fields sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &tag, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if e.Time, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("entry %s: bad timestamp %q: %w", e.ID, at, err)
		}
		e.Tag = events.Tag(tag)
		if fields.Valid {
			if err := json.Unmarshal([]byte(fields.String), &e.Fields); err != nil {
				return nil, fmt.Errorf("entry %s: bad fields: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// Count returns the number of stored entries.
func (s *SQLiteJournal) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteJournal) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
