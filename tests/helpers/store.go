// Package helpers provides shared fixtures for tests.
package helpers

import (
	"testing"

	"github.com/xiaot623/aichat/internal/statestore"
)

// NewTestSQLiteStore opens an in-memory SQLite state store closed at test cleanup.
func NewTestSQLiteStore(t *testing.T) *statestore.SQLiteStore {
	t.Helper()

	s, err := statestore.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewTestBadgerStore opens an in-memory badger state store closed at test cleanup.
func NewTestBadgerStore(t *testing.T) *statestore.BadgerStore {
	t.Helper()

	s, err := statestore.NewBadgerStore("", 0)
	if err != nil {
		t.Fatalf("failed to create badger store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
