package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// State key prefixes shared by the harvester, merge pipeline, and deletion
// reconciler (spec §3, §4.4, §4.7).
const (
	StateKeyLastHarvestDate    = "Last Harvest Date "
	StateKeyLastIndexUpdate    = "Last Index Update "
	StateKeyLastDeletionPoll   = "Last Deletion Processing Time "
)

// StateRepository implements the opaque key/value State collection.
type StateRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type gormStateRepository struct {
	db *DB
}

// NewStateRepository returns a StateRepository backed by the provided Record
// Store connection.
func NewStateRepository(db *DB) StateRepository {
	return &gormStateRepository{db: db}
}

func (r *gormStateRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var entry StateEntry
	err := r.db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: state: get: %w", err)
	}
	return entry.Value, true, nil
}

func (r *gormStateRepository) Set(ctx context.Context, key, value string) error {
	entry := StateEntry{Key: key, Value: value, Updated: r.db.Now()}
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Save(&entry).Error
	})
	if err != nil {
		return fmt.Errorf("store: state: set: %w", err)
	}
	return nil
}

func (r *gormStateRepository) Delete(ctx context.Context, key string) error {
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Delete(&StateEntry{}, "key = ?", key).Error
	})
	if err != nil {
		return fmt.Errorf("store: state: delete: %w", err)
	}
	return nil
}
