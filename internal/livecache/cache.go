// Package livecache holds the short-lived counter display snapshot per store.
// It is display-only and eventually consistent: the settlement core never
// reads from it, and a cold or unreachable cache degrades to direct reads.
package livecache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the data a counter display needs at a glance.
type Snapshot struct {
	StoreID       uuid.UUID `json:"store_id"`
	SessionOpen   bool      `json:"session_open"`
	Balance       string    `json:"balance"`
	WorkingOrders int64     `json:"working_orders"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Cache stores display snapshots keyed by store.
type Cache interface {
	Get(ctx context.Context, storeID uuid.UUID) (*Snapshot, bool, error)
	Set(ctx context.Context, storeID uuid.UUID, snap *Snapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, storeID uuid.UUID) error
	Close() error
}

// Noop is the fallback when no cache backend is configured. Get always
// misses, so callers rebuild the snapshot from the database each time.
type Noop struct{}

func (Noop) Get(ctx context.Context, storeID uuid.UUID) (*Snapshot, bool, error) {
	return nil, false, nil
}

func (Noop) Set(ctx context.Context, storeID uuid.UUID, snap *Snapshot, ttl time.Duration) error {
	return nil
}

func (Noop) Invalidate(ctx context.Context, storeID uuid.UUID) error { return nil }

func (Noop) Close() error { return nil }
