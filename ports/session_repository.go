package ports

import (
	"context"
	"time"

	"deanalyse/domain/session"
)

// ContextStore holds the profile of each session.
// Put replaces any previous entry for the key; Get never returns an expired entry.
type ContextStore interface {
	Put(ctx context.Context, key string, entry *session.Entry) error

	// Get returns core.ErrSessionNotFound for unknown or expired keys
	Get(ctx context.Context, key string) (*session.Entry, error)

	Delete(ctx context.Context, key string) error

	// Latest returns the most recent upload across all sessions
	Latest(ctx context.Context) (*session.Entry, error)

	// Sweep evicts entries expired at now and returns how many were removed
	Sweep(now time.Time) int
}
