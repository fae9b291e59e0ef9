// Package store provides persistent backends for the accumulator buckets.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweeney/fioul-boiler/internal/accum"
)

// Backend names a persistence backend.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendMySQL    Backend = "mysql"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// Backends lists every supported backend.
var Backends = []Backend{BackendMemory, BackendSQLite, BackendMySQL, BackendPostgres, BackendRedis}

// ParseBackend validates a backend name, case-insensitively.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown store backend %q (want one of %v)", s, Backends)
}

// Open returns the accum.Store for backend. The memory backend ignores dsn.
func Open(ctx context.Context, backend Backend, dsn string, logger *slog.Logger) (accum.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch backend {
	case BackendMemory, "":
		logger.Warn("using in-memory store, totals will not survive a restart")
		return accum.NewMemoryStore(), nil
	case BackendSQLite, BackendMySQL, BackendPostgres:
		return NewSQLStore(ctx, backend, dsn, logger)
	case BackendRedis:
		return NewRedisStore(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
