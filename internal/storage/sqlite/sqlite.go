package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"timeinsight/internal/activity"
	"timeinsight/internal/storage"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	// mu serializes transactions so "read last row, then write" is atomic
	// with respect to every other writer in the process.
	mu sync.Mutex
}

func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath}
}

var _ storage.Store = (*SQLiteStore)(nil)

// Instants are stored as Unix milliseconds, durations as REAL seconds.
const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS application (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	"desc" TEXT,
	path TEXT,
	enrollment_date INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS application_activity (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	application_id INTEGER NOT NULL REFERENCES application(id),
	window_name TEXT NOT NULL,
	additional_info TEXT,
	session_start INTEGER,
	session_end INTEGER,
	duration REAL
);
CREATE INDEX IF NOT EXISTS idx_application_activity_application_id ON application_activity (application_id);
CREATE INDEX IF NOT EXISTS idx_application_activity_session_start ON application_activity (session_start);
CREATE TABLE IF NOT EXISTS user_session_type (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS user_session (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_session_type_id INTEGER NOT NULL REFERENCES user_session_type(id),
	session_start INTEGER,
	session_end INTEGER,
	duration REAL
);
CREATE INDEX IF NOT EXISTS idx_user_session_session_start ON user_session (session_start);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	// Ensure directory exists
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}

	log.Printf("Initializing SQLite database at: %s", s.dbPath)
	// _txlock=immediate takes the write lock at BEGIN, so a transaction never
	// reads a "last row" that another connection is about to supersede.
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true&_txlock=immediate")
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s.db = db

	s.db.SetMaxOpenConns(1) // single writer connection
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Minute * 5)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createSchemaSQL); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	for _, t := range activity.SessionTypes {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_session_type (id, name) VALUES (?, ?)`, int64(t), t.String()); err != nil {
			s.db.Close()
			return fmt.Errorf("failed to seed session type %s: %w", t, err)
		}
	}
	log.Println("Database initialized successfully.")
	return nil
}

// InitReadOnly opens an existing database for reading only. It runs no
// schema or seed statements, and writes through WithinTx fail.
func (s *SQLiteStore) InitReadOnly(ctx context.Context) error {
	if _, err := os.Stat(s.dbPath); err != nil {
		return fmt.Errorf("database file not accessible at %s: %w", s.dbPath, err)
	}

	db, err := sql.Open("sqlite3", "file:"+s.dbPath+"?mode=ro&_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open sqlite database read-only: %w", err)
	}
	s.db = db
	s.db.SetMaxOpenConns(1)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errors.New("database not initialized")
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return multierr.Append(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ActivitiesBetween returns activities that started in [start, end), oldest first,
// with ApplicationName filled in.
func (s *SQLiteStore) ActivitiesBetween(ctx context.Context, start, end time.Time) ([]activity.ApplicationActivity, error) {
	query := `SELECT a.id, a.application_id, a.window_name, a.additional_info, a.session_start, a.session_end, a.duration, app.name
	          FROM application_activity a
	          JOIN application app ON app.id = a.application_id
	          WHERE a.session_start >= ? AND a.session_start < ?
	          ORDER BY a.session_start ASC, a.id ASC`
	rows, err := s.db.QueryContext(ctx, query, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var activities []activity.ApplicationActivity
	for rows.Next() {
		var appName string
		a, err := scanActivity(rows, &appName)
		if err != nil {
			return nil, err
		}
		a.ApplicationName = appName
		activities = append(activities, *a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}
	return activities, nil
}

// SessionsBetween returns user sessions that started in [start, end), oldest first.
func (s *SQLiteStore) SessionsBetween(ctx context.Context, start, end time.Time) ([]activity.UserSession, error) {
	query := `SELECT id, user_session_type_id, session_start, session_end, duration
	          FROM user_session
	          WHERE session_start >= ? AND session_start < ?
	          ORDER BY session_start ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []activity.UserSession
	for rows.Next() {
		us, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *us)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		log.Println("Closing database connection.")
		return s.db.Close()
	}
	return nil
}
