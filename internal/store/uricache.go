package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// URICacheRepository implements the URI cache collection (spec §3, §4.8).
// Entries are keyed by an opaque id the enrichment caller derives from the
// request (typically the URL itself); TTL enforcement is the caller's
// responsibility since the freshness window is enrichment-source specific.
type URICacheRepository interface {
	Get(ctx context.Context, id string) (*URICacheEntry, error)
	// Put inserts or refreshes a cache entry. A duplicate-key race between
	// two concurrent enrichment workers populating the same id is tolerated
	// (spec §5): the later write silently wins rather than erroring.
	Put(ctx context.Context, entry *URICacheEntry) error
	// Fresh reports whether a cached entry exists and was written within ttl
	// of now.
	Fresh(ctx context.Context, id string, ttl time.Duration, now time.Time) (*URICacheEntry, bool, error)
}

type gormURICacheRepository struct {
	db *DB
}

// NewURICacheRepository returns a URICacheRepository backed by the provided
// Record Store connection.
func NewURICacheRepository(db *DB) URICacheRepository {
	return &gormURICacheRepository{db: db}
}

func (r *gormURICacheRepository) Get(ctx context.Context, id string) (*URICacheEntry, error) {
	var entry URICacheEntry
	err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: uricache: get: %w", err)
	}
	return &entry, nil
}

func (r *gormURICacheRepository) Put(ctx context.Context, entry *URICacheEntry) error {
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"timestamp", "url", "headers", "body"}),
		}).Create(entry).Error
	})
	if err != nil {
		return fmt.Errorf("store: uricache: put: %w", err)
	}
	return nil
}

func (r *gormURICacheRepository) Fresh(ctx context.Context, id string, ttl time.Duration, now time.Time) (*URICacheEntry, bool, error) {
	entry, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if now.Sub(entry.Timestamp) > ttl {
		return entry, false, nil
	}
	return entry, true, nil
}
