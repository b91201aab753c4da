// Package storage defines the durable key-value store backing local state.
package storage

import (
	"fmt"
)

// Fixed record keys. The names match the records the browser client kept.
const (
	KeyCredentials = "craftCredentials"
	KeyTimeBlocks  = "timeBlocks"
	KeyPreferences = "preferences"
)

// Backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Provider is a durable key-value store. Writes are synchronous: once Set or
// Delete returns nil the change is on disk.
type Provider interface {
	// Get returns the value stored under key, or apperr.ErrNotFound.
	Get(key string) ([]byte, error)
	// Set replaces the value stored under key.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Location is the file or directory holding the data.
	Location() string
	// Close releases underlying resources.
	Close() error
}

// Open opens the provider for the named backend at path.
func Open(backend, path string) (Provider, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(path)
	case BackendFile:
		return NewFS(path)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
