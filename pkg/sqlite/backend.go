// Package sqlite provides the public API for the SQLite speech backend.
// This package exposes the factory function for opening SQLite stores
// while keeping implementation details internal.
package sqlite

import (
	"log/slog"

	"github.com/mesh-intelligence/speech/internal/sqlite"
	"github.com/mesh-intelligence/speech/pkg/types"
)

// DatabaseFile is the name of the database file created under DataDir.
const DatabaseFile = sqlite.DatabaseFile

// Open creates the database under config.DataDir if needed and returns an
// attached backend. Close releases it. A nil logger discards output.
//
// Example:
//
//	store, err := sqlite.Open(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: "/var/lib/speech",
//	}, nil)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(config types.Config, logger *slog.Logger) (types.Backend, error) {
	b := sqlite.NewBackend(logger)
	if err := b.Attach(config); err != nil {
		return nil, err
	}
	return b, nil
}
