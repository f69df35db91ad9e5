package mirror

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/10d3/nexora/internal/schema"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added action_queue.last_error
const currentSchemaVersion = 1

// columnTimeLayout is fixed-width so stored timestamps sort lexically.
const columnTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the local mirror.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	registry *schema.Registry
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for queue bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens the mirror database at path and creates one table
// per collection in the registry.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Opening an existing database is idempotent.
func Open(path string, reg *schema.Registry, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect mirror: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db, reg); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return New(db, reg, opts...), nil
}

// New wraps an already initialized database handle. Open is the usual
// entry point; New exists for callers that manage the *sql.DB themselves.
func New(db *sql.DB, reg *schema.Registry, opts ...Option) *Store {
	s := &Store{db: db, registry: reg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database. Later calls fail with CodeNotInitialized.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Registry returns the entity registry the store was opened with.
func (s *Store) Registry() *schema.Registry {
	return s.registry
}

func (s *Store) conn(op string) (*sql.DB, error) {
	if s == nil {
		return nil, &StorageError{Code: CodeNotInitialized, Op: op}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, &StorageError{Code: CodeNotInitialized, Op: op}
	}
	return s.db, nil
}

func (s *Store) collection(op string, kind schema.Kind) (*schema.Collection, error) {
	if s.registry == nil {
		return nil, &StorageError{Code: CodeNotInitialized, Op: op, Kind: string(kind)}
	}
	coll, ok := s.registry.Lookup(kind)
	if !ok {
		return nil, &StorageError{Code: CodeUnknownCollection, Op: op, Kind: string(kind)}
	}
	return coll, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB, reg *schema.Registry) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	for _, kind := range reg.Kinds() {
		coll, _ := reg.Lookup(kind)
		for _, stmt := range collectionDDL(coll) {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("create collection %s: %w", kind, err)
			}
		}
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds action_queue.last_error to databases created before the
// column existed. Fresh databases already have it from schema.sql.
func migrateToV1(db *sql.DB) error {
	has, err := hasColumn(db, "action_queue", "last_error")
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if has {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE action_queue ADD COLUMN last_error TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	db, err := s.conn("pragma")
	if err != nil {
		return err
	}
	var value string
	if err := db.QueryRowContext(context.Background(), fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
