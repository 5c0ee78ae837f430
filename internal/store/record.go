package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// IterateOptions configures a paged scan (spec §4.1's iterate operation).
// PageSize defaults to 1000 when zero. Scans are restartable: each page
// requests id > lastID in ascending order, so an interrupted scan resumes
// correctly and tolerates concurrent inserts/updates that don't touch ids
// already seen (spec §5).
type IterateOptions struct {
	PageSize int
	// AfterID resumes a previously interrupted scan.
	AfterID string
}

// RecordFilter selects a subset of the records collection. Every field is
// optional (nil/zero means "don't filter on this"); the gorm-backed
// implementation translates it to a WHERE clause. This is the Go-idiomatic
// stand-in for spec §4.1's backend-independent filter parameter — callers
// never see SQL or GORM types.
type RecordFilter struct {
	SourceID            string
	ExcludeSourceID     string
	OAIID               string
	Deleted             *bool
	UpdateNeeded        *bool
	HostRecordIDEmpty   bool
	HostRecordID        string
	MainID              string
	DedupID             string
	TitleKey            string
	ISBNKey             string
	UpdatedSince        *int64 // unix millis, inclusive
	Mark                *bool
}

func (f RecordFilter) apply(tx *gorm.DB) *gorm.DB {
	if f.SourceID != "" {
		tx = tx.Where("source_id = ?", f.SourceID)
	}
	if f.ExcludeSourceID != "" {
		tx = tx.Where("source_id <> ?", f.ExcludeSourceID)
	}
	if f.OAIID != "" {
		tx = tx.Where("oai_id = ?", f.OAIID)
	}
	if f.Deleted != nil {
		tx = tx.Where("deleted = ?", *f.Deleted)
	}
	if f.UpdateNeeded != nil {
		tx = tx.Where("update_needed = ?", *f.UpdateNeeded)
	}
	if f.HostRecordIDEmpty {
		tx = tx.Where("host_record_id = ''")
	}
	if f.HostRecordID != "" {
		tx = tx.Where("host_record_id = ?", f.HostRecordID)
	}
	if f.MainID != "" {
		tx = tx.Where("main_id = ?", f.MainID)
	}
	if f.DedupID != "" {
		tx = tx.Where("dedup_id = ?", f.DedupID)
	}
	if f.TitleKey != "" {
		tx = tx.Where("title_keys LIKE ?", keyLikePattern(f.TitleKey))
	}
	if f.ISBNKey != "" {
		tx = tx.Where("isbn_keys LIKE ?", keyLikePattern(f.ISBNKey))
	}
	if f.UpdatedSince != nil {
		tx = tx.Where("updated >= ?", UnixMilliToTime(*f.UpdatedSince))
	}
	if f.Mark != nil {
		tx = tx.Where("mark = ?", *f.Mark)
	}
	return tx
}

// RecordRepository implements the Record collection operations of spec §4.1.
type RecordRepository interface {
	Get(ctx context.Context, id string) (*Record, error)
	Find(ctx context.Context, filter RecordFilter, opts IterateOptions) ([]Record, error)
	// Iterate performs a restartable paged scan, invoking fn once per page.
	// Scanning stops when fn returns an error (which Iterate returns) or when
	// a page comes back empty or short; a scan is resumed by passing the last
	// seen id as opts.AfterID.
	Iterate(ctx context.Context, filter RecordFilter, opts IterateOptions, fn func([]Record) error) error
	Save(ctx context.Context, record *Record) error
	Update(ctx context.Context, id string, set map[string]any) error
	UpdateMany(ctx context.Context, filter RecordFilter, set map[string]any) (int64, error)
	Delete(ctx context.Context, id string) error
	CountBySource(ctx context.Context, sourceID string) (int64, error)
	// MarkSeen sets Mark=true on every non-deleted record of sourceID whose
	// OAIID is in oaiIDs, the "identifier listing sets mark on each id seen"
	// step of spec §4.4's ListIdentifiers deletion reconciliation.
	MarkSeen(ctx context.Context, sourceID string, oaiIDs []string) error
}

type gormRecordRepository struct {
	db *DB
}

// NewRecordRepository returns a RecordRepository backed by the provided
// Record Store connection.
func NewRecordRepository(db *DB) RecordRepository {
	return &gormRecordRepository{db: db}
}

func (r *gormRecordRepository) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: records: get: %w", err)
	}
	return &rec, nil
}

func (r *gormRecordRepository) Find(ctx context.Context, filter RecordFilter, opts IterateOptions) ([]Record, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	tx := filter.apply(r.db.WithContext(ctx).Model(&Record{}))
	if opts.AfterID != "" {
		tx = tx.Where("id > ?", opts.AfterID)
	}

	var recs []Record
	if err := tx.Order("id ASC").Limit(pageSize).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("store: records: find: %w", err)
	}
	return recs, nil
}

func (r *gormRecordRepository) Iterate(ctx context.Context, filter RecordFilter, opts IterateOptions, fn func([]Record) error) error {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	lastID := opts.AfterID

	for {
		tx := filter.apply(r.db.WithContext(ctx).Model(&Record{}))
		if lastID != "" {
			tx = tx.Where("id > ?", lastID)
		}

		var page []Record
		if err := tx.Order("id ASC").Limit(pageSize).Find(&page).Error; err != nil {
			return fmt.Errorf("store: records: iterate: %w", err)
		}
		if len(page) == 0 {
			return nil
		}

		if err := fn(page); err != nil {
			return err
		}

		lastID = page[len(page)-1].ID
		if len(page) < pageSize {
			return nil
		}
	}
}

func (r *gormRecordRepository) Save(ctx context.Context, record *Record) error {
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Save(record).Error
	})
	if err != nil {
		return fmt.Errorf("store: records: save: %w", err)
	}
	return nil
}

func (r *gormRecordRepository) Update(ctx context.Context, id string, set map[string]any) error {
	if len(set) == 0 {
		return nil
	}
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Updates(set).Error
	})
	if err != nil {
		return fmt.Errorf("store: records: update: %w", err)
	}
	return nil
}

func (r *gormRecordRepository) UpdateMany(ctx context.Context, filter RecordFilter, set map[string]any) (int64, error) {
	if len(set) == 0 {
		return 0, nil
	}
	var result *gorm.DB
	err := withRetry(func() error {
		result = filter.apply(r.db.WithContext(ctx).Model(&Record{})).Updates(set)
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("store: records: update many: %w", err)
	}
	return result.RowsAffected, nil
}

func (r *gormRecordRepository) Delete(ctx context.Context, id string) error {
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Delete(&Record{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("store: records: delete: %w", err)
	}
	return nil
}

func (r *gormRecordRepository) MarkSeen(ctx context.Context, sourceID string, oaiIDs []string) error {
	if len(oaiIDs) == 0 {
		return nil
	}
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Model(&Record{}).
			Where("source_id = ? AND oai_id IN ? AND deleted = ?", sourceID, oaiIDs, false).
			Update("mark", true).Error
	})
	if err != nil {
		return fmt.Errorf("store: records: mark seen: %w", err)
	}
	return nil
}

func (r *gormRecordRepository) CountBySource(ctx context.Context, sourceID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Record{}).Where("source_id = ?", sourceID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("store: records: count by source: %w", err)
	}
	return count, nil
}
