package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/hostpilot/internal/domain"
	"github.com/ashureev/hostpilot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	todoMu sync.Mutex // serializes todo batch replacement to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		agreed_at INTEGER,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS todos (
		session_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		task TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, item_id)
	);
	CREATE INDEX IF NOT EXISTS idx_todos_session ON todos(session_id, position);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, agreed_at, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var agreedAt sql.NullInt64
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &agreedAt, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	if agreedAt.Valid {
		ts := time.Unix(agreedAt.Int64, 0)
		user.AgreedAt = &ts
	}
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, agreed_at, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	var agreedAt interface{}
	if user.AgreedAt != nil {
		agreedAt = user.AgreedAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, agreedAt,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	_, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	return nil
}

// HasAgreed reports whether the user has recorded consent.
func (s *SQLiteStore) HasAgreed(ctx context.Context, userID string) (bool, error) {
	query := `SELECT agreed_at FROM users WHERE user_id = ?`
	var agreedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&agreedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query agreement: %w", err)
	}
	return agreedAt.Valid, nil
}

// RecordAgreement durably records the user's consent.
func (s *SQLiteStore) RecordAgreement(ctx context.Context, userID string) error {
	query := `UPDATE users SET agreed_at = ?, updated_at = ? WHERE user_id = ? AND agreed_at IS NULL`
	_, err := s.db.ExecContext(ctx, query, time.Now().Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("record agreement: %w", err)
	}
	return nil
}

// ReplaceTodos atomically replaces the task list for a session. A SQLite
// concurrency conflict is retried once after a short pause.
func (s *SQLiteStore) ReplaceTodos(ctx context.Context, sessionID string, items []domain.TodoItem) error {
	err := s.replaceTodos(ctx, sessionID, items)
	if shared.IsSQLiteConflictError(err) {
		time.Sleep(100 * time.Millisecond)
		err = s.replaceTodos(ctx, sessionID, items)
	}
	return err
}

func (s *SQLiteStore) replaceTodos(ctx context.Context, sessionID string, items []domain.TodoItem) error {
	s.todoMu.Lock()
	defer s.todoMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin todo transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear todos: %w", err)
	}

	now := time.Now().Unix()
	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO todos (session_id, item_id, task, status, description, priority, position, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, item.ID, item.Task, item.Status, item.Description, item.Priority, i, now,
		)
		if err != nil {
			return fmt.Errorf("insert todo %q: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit todo transaction: %w", err)
	}
	return nil
}

// ListTodos returns the task list for a session in stored order.
func (s *SQLiteStore) ListTodos(ctx context.Context, sessionID string) ([]domain.TodoItem, error) {
	query := `
		SELECT item_id, task, status, description, priority
		FROM todos WHERE session_id = ? ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []domain.TodoItem
	for rows.Next() {
		var item domain.TodoItem
		if err := rows.Scan(&item.ID, &item.Task, &item.Status, &item.Description, &item.Priority); err != nil {
			return nil, fmt.Errorf("scan todo row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate todos: %w", err)
	}

	return items, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
