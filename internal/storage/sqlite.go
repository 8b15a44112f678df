package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the local durable store: a SQLite-backed key-value namespace that
// survives process restarts and works fully without network access. Writes
// are synchronous; a successful Put is on disk before the call returns.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "fieldsync.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	// Durability over speed: an interview lost to a crash is lost field data.
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Key-value contract ---

// Put stores value under key, replacing any previous record. The value is
// serialized as JSON. The write is durable once Put returns nil.
func (s *Store) Put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing record %s: %w: %v", key, ErrUnavailable, err)
	}
	return nil
}

// Get loads the record stored under key into dest. Returns ErrNotFound if
// no record exists.
func (s *Store) Get(key string, dest any) error {
	var data string
	err := s.db.QueryRow("SELECT value FROM records WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading record %s: %w: %v", key, ErrUnavailable, err)
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("decoding record %s: %w", key, err)
	}
	return nil
}

// Delete removes the record stored under key. Deleting an absent key is not
// an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM records WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting record %s: %w: %v", key, ErrUnavailable, err)
	}
	return nil
}

// ListKeys returns all keys starting with prefix, in ascending order.
// An empty prefix lists every key.
func (s *Store) ListKeys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT key FROM records WHERE substr(key, 1, length(?)) = ? ORDER BY key ASC",
		prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("listing keys %s*: %w: %v", prefix, ErrUnavailable, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ClearAll removes every record. Used by explicit user-initiated storage
// clears only; unsynced interviews are gone afterwards.
func (s *Store) ClearAll() error {
	if _, err := s.db.Exec("DELETE FROM records"); err != nil {
		return fmt.Errorf("clearing records: %w: %v", ErrUnavailable, err)
	}
	return nil
}

// --- Interviews ---

func (s *Store) SaveInterview(iv Interview) error {
	return s.Put(InterviewKey(iv.ID), iv)
}

func (s *Store) GetInterview(id string) (Interview, error) {
	var iv Interview
	if err := s.Get(InterviewKey(id), &iv); err != nil {
		return Interview{}, err
	}
	return iv, nil
}

func (s *Store) DeleteInterview(id string) error {
	return s.Delete(InterviewKey(id))
}

// ListInterviews returns every locally stored interview, ordered by key.
func (s *Store) ListInterviews() ([]Interview, error) {
	keys, err := s.ListKeys(interviewKeyPrefix)
	if err != nil {
		return nil, err
	}

	var interviews []Interview
	for _, key := range keys {
		var iv Interview
		if err := s.Get(key, &iv); err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		interviews = append(interviews, iv)
	}
	return interviews, nil
}

// --- Surveys ---

func (s *Store) SaveSurvey(sv Survey) error {
	return s.Put(SurveyKey(sv.ID), sv)
}

func (s *Store) GetSurvey(id string) (Survey, error) {
	var sv Survey
	if err := s.Get(SurveyKey(id), &sv); err != nil {
		return Survey{}, err
	}
	return sv, nil
}

// --- Pending sync index ---

// LoadPendingSync returns the persisted pending-sync index. An absent
// record yields the empty index, not an error.
func (s *Store) LoadPendingSync() (PendingSync, error) {
	var ps PendingSync
	err := s.Get(pendingSyncKey, &ps)
	if err == ErrNotFound {
		return PendingSync{}, nil
	}
	if err != nil {
		return PendingSync{}, err
	}
	return ps, nil
}

func (s *Store) SavePendingSync(ps PendingSync) error {
	return s.Put(pendingSyncKey, ps)
}
