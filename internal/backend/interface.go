package backend

import (
	"context"

	"expensetracker/internal/ports"
)

// Store is everything the application needs from persistence.
type Store interface {
	ports.TransactionStore
	ports.UserStore
}

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult contains the store and its lifecycle hooks.
type BackendResult struct {
	Store Store
	// Ping reports whether the store is reachable; used by readiness checks.
	Ping    func(ctx context.Context) error
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
