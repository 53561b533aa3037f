package state

import (
	"io"

	"github.com/ShayCichocki/ensemble/internal/metrics"
	"github.com/ShayCichocki/ensemble/internal/orchestrator"
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is everything the server persists through one database.
type Store interface {
	io.Closer
	Migrator
	orchestrator.SessionStore
	metrics.Store
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store                     = (*DB)(nil)
	_ Migrator                  = (*DB)(nil)
	_ orchestrator.SessionStore = (*DB)(nil)
	_ metrics.Store             = (*DB)(nil)
)
