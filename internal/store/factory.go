package store

import (
	"context"
	"fmt"

	"github.com/flagcore/flagcore/internal/db"
)

// NewDurable creates a durable store for the given store type.
// Supported types: "memory", "postgres".
func NewDurable(ctx context.Context, storeType, dbDSN string) (Durable, error) {
	switch storeType {
	case "memory":
		return NewMemoryDurable(), nil
	case "postgres":
		pool, err := db.NewPool(ctx, dbDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		return NewPostgresDurable(pool), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}
