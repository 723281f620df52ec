package storage

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pricepulse/backend/internal/domain"
)

// Backend names accepted by the factory.
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
)

// Options selects and parameterizes a storage backend at startup. The
// chosen backend is injected into the engine; nothing reads backend choice
// from ambient state after this point.
type Options struct {
	// Type is "memory" or "postgres".
	Type string
	// DSN is the postgres connection string (postgres only).
	DSN string
	// SnapshotPath is the JSON persistence file (memory only; empty keeps
	// the arena purely in RAM).
	SnapshotPath string
}

// New builds the configured backend.
func New(opts Options, matcher domain.NameMatcher, logger *zap.Logger) (domain.Storage, error) {
	switch opts.Type {
	case TypeMemory:
		return NewMemoryStorage(opts.SnapshotPath, matcher, logger)
	case TypePostgres:
		return NewPostgresStorage(opts.DSN, matcher, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q", opts.Type)
	}
}
