// Package store persists the chat session activity ledger.
package store

import (
	"context"
	"time"

	"github.com/Croups/cloudprinter-chatbot/internal/domain"
)

// Repository defines the persistence of session activity.
type Repository interface {
	// RecordActivity creates the session row on first use and updates its
	// last-seen time, turn count and token totals.
	RecordActivity(ctx context.Context, a domain.Activity) error

	// GetSession returns the row for a session, or nil when none exists.
	GetSession(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error)

	// ListSessions returns all sessions of a user, most recent first.
	ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error)

	// GetExpiredSessions returns sessions idle for longer than ttl.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error)

	// DeleteSession removes a session row.
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
