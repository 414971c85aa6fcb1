package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

var ErrSchemaMismatch = errors.New("journal schema version mismatch")

const schemaSQL = `
CREATE TABLE schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE entries (
	id         TEXT PRIMARY KEY,
	day        TEXT NOT NULL,
	position   INTEGER NOT NULL,
	body_kind  TEXT NOT NULL,
	body       TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX entries_day_position ON entries(day, position);
`

// SQLiteStore is the Store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// DefaultPath returns $XDG_DATA_HOME/liftnote/journal.db, falling back to
// ~/.local/share/liftnote/journal.db.
func DefaultPath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "liftnote", "journal.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for journal: %w", err)
	}
	return filepath.Join(home, ".local", "share", "liftnote", "journal.db"), nil
}

// Open initializes or connects to the journal database at path. ":memory:"
// opens a private in-memory database.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dataSourceName(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers
	// within this process.
	db.SetMaxOpenConns(1)

	if inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply busy_timeout: %w", err)
		}
	}

	store := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// uriEscaper escapes the characters SQLite URI filenames reserve.
var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// dataSourceName builds the modernc DSN for a file database. Transactions
// begin IMMEDIATE so a writer racing another process waits on busy_timeout
// instead of failing with SQLITE_BUSY after its read. Pragmas ride in the DSN
// so every pooled connection gets them.
func dataSourceName(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + uriEscaper.Replace(path) +
		"?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Add appends entry to the end of its day and returns it with ID, Position
// and CreatedAt filled in.
func (s *SQLiteStore) Add(ctx context.Context, entry Entry) (Entry, error) {
	if err := ValidateDay(entry.Day); err != nil {
		return Entry{}, err
	}
	kind, payload, err := encodeBody(entry.Body)
	if err != nil {
		return Entry{}, err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(position) + 1, 0) FROM entries WHERE day = ?", entry.Day,
		).Scan(&next); err != nil {
			return fmt.Errorf("next position: %w", err)
		}
		entry.Position = next
		return insertEntry(ctx, tx, entry, kind, payload)
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, entry Entry, kind string, payload []byte) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO entries (id, day, position, body_kind, body, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Day, entry.Position, kind, string(payload), entry.Summary,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", entry.ID, err)
	}
	return nil
}

const selectEntry = `SELECT id, day, position, body_kind, body, summary, created_at FROM entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry     Entry
		kind      string
		payload   string
		createdAt string
	)
	if err := row.Scan(&entry.ID, &entry.Day, &entry.Position, &kind, &payload, &entry.Summary, &createdAt); err != nil {
		return Entry{}, err
	}
	body, err := decodeBody(kind, []byte(payload))
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", entry.ID, err)
	}
	entry.Body = body
	entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: parse created_at: %w", entry.ID, err)
	}
	return entry, nil
}

// Get returns one entry by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, selectEntry+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// ListDay returns the entries of day in display order.
func (s *SQLiteStore) ListDay(ctx context.Context, day string) ([]Entry, error) {
	if err := ValidateDay(day); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectEntry+" WHERE day = ? ORDER BY position, created_at", day)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Reorder sets the display order of day. ids must name every entry of the
// day exactly once.
func (s *SQLiteStore) Reorder(ctx context.Context, day string, ids []string) error {
	if err := ValidateDay(day); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := dayIDs(ctx, tx, day)
		if err != nil {
			return err
		}
		if len(existing) != len(ids) {
			return fmt.Errorf("%w: day has %d entries, got %d ids", ErrInvalidOrder, len(existing), len(ids))
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if !existing[id] || seen[id] {
				return fmt.Errorf("%w: unexpected id %q", ErrInvalidOrder, id)
			}
			seen[id] = true
		}
		for position, id := range ids {
			if _, err := tx.ExecContext(ctx, "UPDATE entries SET position = ? WHERE id = ?", position, id); err != nil {
				return fmt.Errorf("update position of %s: %w", id, err)
			}
		}
		return nil
	})
}

func dayIDs(ctx context.Context, tx *sql.Tx, day string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM entries WHERE day = ?", day)
	if err != nil {
		return nil, fmt.Errorf("list day ids: %w", err)
	}
	defer rows.Close()

	ids := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// Delete removes one entry.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Merge replaces the entries named by ids with one entry carrying body,
// placed at the earliest position among them.
func (s *SQLiteStore) Merge(ctx context.Context, ids []string, body Body) (Entry, error) {
	if len(ids) < 2 {
		return Entry{}, fmt.Errorf("%w: got %d", ErrInvalidMerge, len(ids))
	}
	kind, payload, err := encodeBody(body)
	if err != nil {
		return Entry{}, err
	}

	merged := Entry{ID: uuid.NewString(), Body: body, CreatedAt: s.now()}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		seen := make(map[string]bool, len(ids))
		for i, id := range ids {
			if seen[id] {
				return fmt.Errorf("%w: duplicate id %q", ErrInvalidMerge, id)
			}
			seen[id] = true

			var (
				day      string
				position int
			)
			err := tx.QueryRowContext(ctx, "SELECT day, position FROM entries WHERE id = ?", id).Scan(&day, &position)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("load entry %s: %w", id, err)
			}
			switch {
			case i == 0:
				merged.Day, merged.Position = day, position
			case day != merged.Day:
				return fmt.Errorf("%w: %s is on %s, not %s", ErrInvalidMerge, id, day, merged.Day)
			case position < merged.Position:
				merged.Position = position
			}

			if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id); err != nil {
				return fmt.Errorf("delete merged entry %s: %w", id, err)
			}
		}
		return insertEntry(ctx, tx, merged, kind, payload)
	})
	if err != nil {
		return Entry{}, err
	}
	return merged, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
