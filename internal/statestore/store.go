// Package statestore keeps conversation history keyed by session id.
package statestore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/aichat/internal/config"
)

// Store is the server-side session state store. History is the transcript
// accumulated for a session; a missing session has empty history.
type Store interface {
	// Get returns the history for id and whether the session exists.
	Get(ctx context.Context, id uuid.UUID) (string, bool, error)

	// GetOrCreate returns the history for id, creating an empty session if needed.
	GetOrCreate(ctx context.Context, id uuid.UUID) (string, error)

	// Set stores the history for id.
	Set(ctx context.Context, id uuid.UUID, history string) error

	// Remove deletes the session. Removing an unknown session is not an error.
	Remove(ctx context.Context, id uuid.UUID) error

	Close() error
}

// New creates the store selected by cfg.StateStore.
func New(cfg *config.Config) (Store, error) {
	switch cfg.StateStore {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.DatabaseURL)
	case config.StoreBadger:
		return NewBadgerStore(cfg.BadgerPath, cfg.SessionTTL)
	default:
		return nil, fmt.Errorf("unknown state store %q", cfg.StateStore)
	}
}

func now() time.Time {
	return time.Now().UTC()
}
