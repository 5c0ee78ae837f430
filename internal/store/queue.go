package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueMaxAge is how long a finalized queue collection is kept around before
// CleanupOld (run by the serve command's queue-cleanup job) drops it; older
// queues are also never reused (spec §3, §5).
const QueueMaxAge = 7 * 24 * time.Hour

// QueueParamHash computes the stable hash spec §4.7 step 1 uses to recognize
// that a previous (possibly interrupted) update run already built a queue for
// the same source/from-date/dump-prefix/merged-records combination, so it can
// be reused instead of rebuilt from scratch.
func QueueParamHash(sourceID, fromDate, dumpPrefix string, indexMergedParts bool) string {
	digest := xxhash.New()
	fmt.Fprintf(digest, "%s|%s|%s|%t", sourceID, fromDate, dumpPrefix, indexMergedParts)
	return fmt.Sprintf("%016x", digest.Sum64())
}

// QueueRepository implements the transient queue collections of spec §3/§4.7:
// a working (tmp_*) queue is built by inserting record ids one page at a
// time, then finalized (renamed) so a repeat run with matching parameters can
// reuse it instead of re-scanning the records collection.
type QueueRepository interface {
	// FindReusable returns the most recent finalized, non-expired queue
	// matching paramHash, if one exists.
	FindReusable(ctx context.Context, paramHash string, now time.Time) (*Queue, error)
	// NewQueue creates a fresh working queue row with a unique tmp name.
	NewQueue(ctx context.Context, tmpName, paramHash string, fromDate, lastRecordTime time.Time) (*Queue, error)
	// AddItems appends record ids to a queue's (tmp or final) member list.
	AddItems(ctx context.Context, queueName string, recordIDs []string) error
	// Items returns up to limit record ids enqueued under queueName that sort
	// after afterRecordID, in ascending record id order, for batch
	// consumption by the Solr update pipeline.
	Items(ctx context.Context, queueName string, afterRecordID string, limit int) ([]string, error)
	// Finalize renames a completed working queue to its permanent name and
	// marks it finalized. The pipeline calls it once the queue has been fully
	// built, before delivery starts, so an interrupted delivery can reuse it.
	Finalize(ctx context.Context, tmpName, finalName string) error
	// Drop removes a queue and its items outright, used when a run fails and
	// its partial working queue must not be mistaken for a reusable one.
	Drop(ctx context.Context, queueName string) error
	// CleanupOld drops every finalized queue older than QueueMaxAge.
	CleanupOld(ctx context.Context, now time.Time) (int, error)
}

type gormQueueRepository struct {
	db *DB
}

// NewQueueRepository returns a QueueRepository backed by the provided Record
// Store connection.
func NewQueueRepository(db *DB) QueueRepository {
	return &gormQueueRepository{db: db}
}

func (r *gormQueueRepository) FindReusable(ctx context.Context, paramHash string, now time.Time) (*Queue, error) {
	var q Queue
	err := r.db.WithContext(ctx).
		Where("param_hash = ? AND finalized = ? AND created >= ?", paramHash, true, now.Add(-QueueMaxAge)).
		Order("created DESC").
		First(&q).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: queue: find reusable: %w", err)
	}
	return &q, nil
}

func (r *gormQueueRepository) NewQueue(ctx context.Context, tmpName, paramHash string, fromDate, lastRecordTime time.Time) (*Queue, error) {
	q := &Queue{
		Name:           tmpName,
		TmpName:        tmpName,
		ParamHash:      paramHash,
		FromDate:       fromDate,
		LastRecordTime: lastRecordTime,
		Finalized:      false,
		Created:        r.db.Now(),
	}
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Create(q).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store: queue: new queue: %w", err)
	}
	return q, nil
}

func (r *gormQueueRepository) AddItems(ctx context.Context, queueName string, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	items := make([]QueueItem, len(recordIDs))
	for i, id := range recordIDs {
		items[i] = QueueItem{QueueName: queueName, RecordID: id}
	}
	err := withRetry(func() error {
		// Duplicate (queue_name, record_id) pairs are tolerated: a resumed
		// build may re-enqueue ids already present from before an interrupt.
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(items, 500).Error
	})
	if err != nil {
		return fmt.Errorf("store: queue: add items: %w", err)
	}
	return nil
}

func (r *gormQueueRepository) Items(ctx context.Context, queueName string, afterRecordID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	tx := r.db.WithContext(ctx).Model(&QueueItem{}).Where("queue_name = ?", queueName)
	if afterRecordID != "" {
		tx = tx.Where("record_id > ?", afterRecordID)
	}
	var items []QueueItem
	if err := tx.Order("record_id ASC").Limit(limit).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("store: queue: items: %w", err)
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.RecordID
	}
	return ids, nil
}

func (r *gormQueueRepository) Finalize(ctx context.Context, tmpName, finalName string) error {
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&QueueItem{}).Where("queue_name = ?", tmpName).
				Update("queue_name", finalName).Error; err != nil {
				return err
			}
			return tx.Model(&Queue{}).Where("name = ?", tmpName).
				Updates(map[string]any{"name": finalName, "finalized": true}).Error
		})
	})
	if err != nil {
		return fmt.Errorf("store: queue: finalize: %w", err)
	}
	return nil
}

func (r *gormQueueRepository) Drop(ctx context.Context, queueName string) error {
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("queue_name = ?", queueName).Delete(&QueueItem{}).Error; err != nil {
				return err
			}
			return tx.Where("name = ?", queueName).Delete(&Queue{}).Error
		})
	})
	if err != nil {
		return fmt.Errorf("store: queue: drop: %w", err)
	}
	return nil
}

func (r *gormQueueRepository) CleanupOld(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-QueueMaxAge)

	var stale []Queue
	if err := r.db.WithContext(ctx).Where("finalized = ? AND created < ?", true, cutoff).Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("store: queue: cleanup: find stale: %w", err)
	}

	dropped := 0
	for _, q := range stale {
		if err := r.Drop(ctx, q.Name); err != nil {
			return dropped, err
		}
		dropped++
	}
	return dropped, nil
}
