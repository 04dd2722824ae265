package storage

import (
	"context"
	"errors"
	"fmt"

	storefronterrors "github.com/abgdnv/tarpets/internal/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	getSlotSQL = `SELECT value FROM cart_slots WHERE key = $1`
	putSlotSQL = `INSERT INTO cart_slots (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, version = cart_slots.version + 1, updated_at = NOW()`
	deleteSlotSQL = `DELETE FROM cart_slots WHERE key = $1`
)

// PgStore keeps slots in the cart_slots table.
type PgStore struct {
	db            *pgxpool.Pool
	maxValueBytes int
}

// NewPgStore creates a new instance of KV using a PostgreSQL connection pool.
func NewPgStore(dbp *pgxpool.Pool, maxValueBytes int) *PgStore {
	return &PgStore{db: dbp, maxValueBytes: maxValueBytes}
}

func (p *PgStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRow(ctx, getSlotSQL, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storefronterrors.ErrSlotNotFound
		}
		return nil, fmt.Errorf("%w: %w", storefronterrors.ErrStorageUnavailable, err)
	}
	return value, nil
}

func (p *PgStore) Put(ctx context.Context, key string, value []byte) error {
	if p.maxValueBytes > 0 && len(value) > p.maxValueBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", storefronterrors.ErrQuotaExceeded, len(value), p.maxValueBytes)
	}
	if _, err := p.db.Exec(ctx, putSlotSQL, key, value); err != nil {
		return fmt.Errorf("%w: %w", storefronterrors.ErrStorageUnavailable, err)
	}
	return nil
}

func (p *PgStore) Delete(ctx context.Context, key string) error {
	if _, err := p.db.Exec(ctx, deleteSlotSQL, key); err != nil {
		return fmt.Errorf("%w: %w", storefronterrors.ErrStorageUnavailable, err)
	}
	return nil
}
