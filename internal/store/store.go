// Package store persists conversation messages and snapshots of the
// in-memory execution history and toolkit mappings.
package store

import (
	"context"
	"fmt"

	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/resolver"
)

// Store is implemented by the sqlite and redis backends.
type Store interface {
	AddMessage(ctx context.Context, chatID, role, content string) error
	// GetHistory returns the last limit messages in chronological order.
	GetHistory(ctx context.Context, chatID string, limit int) ([]Message, error)

	SaveExecutions(ctx context.Context, records []history.Record) error
	LoadExecutions(ctx context.Context) ([]history.Record, error)
	SaveMappings(ctx context.Context, mappings []resolver.Mapping) error
	LoadMappings(ctx context.Context) ([]resolver.Mapping, error)

	Close() error
}

// Open returns the backend named by kind.
func Open(kind, path, redisURL string) (Store, error) {
	switch kind {
	case "", "sqlite":
		return NewSQLiteStore(path)
	case "redis":
		return NewRedisStore(redisURL)
	}
	return nil, fmt.Errorf("store: unknown backend %q", kind)
}
