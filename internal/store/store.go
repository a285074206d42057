// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/hostpilot/internal/domain"
)

// Repository defines the interface for persisting user and task-list data.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// HasAgreed reports whether the user has durably recorded consent to the
	// terms. Consulted before an agent session may be created.
	HasAgreed(ctx context.Context, userID string) (bool, error)

	// RecordAgreement durably records the user's consent.
	RecordAgreement(ctx context.Context, userID string) error

	// ReplaceTodos atomically replaces the task list for a session. The batch
	// is validated by the caller; no partial apply ever happens.
	ReplaceTodos(ctx context.Context, sessionID string, items []domain.TodoItem) error

	// ListTodos returns the task list for a session in stored order.
	ListTodos(ctx context.Context, sessionID string) ([]domain.TodoItem, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
