package backend

import (
	"context"
	"time"

	"piggysaving/internal/datastore"
	"piggysaving/internal/remote"
	"piggysaving/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the wired store and the handles behind it. Exactly
// one of Local and Remote is set, matching the configured mode.
type BackendResult struct {
	Store   *datastore.Store
	Local   *storage.SQLiteRepository
	Remote  *remote.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	WithdrawalsEnabled bool
	Initialized        bool

	// Remote specific
	RemoteBaseURL string
	RemoteTimeout time.Duration

	// Local specific
	SQLiteDBPath string

	// Change notifications, optional in both modes
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	LocalBackend  BackendType = "local"
	RemoteBackend BackendType = "remote"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case LocalBackend, RemoteBackend:
		return true
	default:
		return false
	}
}
