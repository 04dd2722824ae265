// Package storage provides durable key-value slots used to persist carts between requests and restarts.
package storage

import (
	"context"
)

// KV is a string-keyed slot storage.
// It abstracts the underlying data store, allowing for different implementations (in-memory, database).
type KV interface {
	// Get returns the value stored under key.
	// Returns ErrSlotNotFound if the slot is empty.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value stored under key.
	// Returns ErrQuotaExceeded if the value does not fit.
	Put(ctx context.Context, key string, value []byte) error

	// Delete empties the slot. Deleting an empty slot is not an error.
	Delete(ctx context.Context, key string) error
}
