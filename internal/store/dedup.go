package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// MemberIDs returns the set of Record ids currently claiming membership in
// this group (spec §3's DedupGroup.ids).
func (g *DedupGroup) MemberIDs() []string {
	return DecodeKeySet(g.IDs)
}

// SetMemberIDs replaces the group's member set.
func (g *DedupGroup) SetMemberIDs(ids []string) {
	g.IDs = EncodeKeySet(ids)
}

// AddMember adds id to the group if not already present.
func (g *DedupGroup) AddMember(id string) {
	ids := g.MemberIDs()
	for _, existing := range ids {
		if existing == id {
			return
		}
	}
	g.SetMemberIDs(append(ids, id))
}

// RemoveMember removes id from the group, returning true if it was present.
func (g *DedupGroup) RemoveMember(id string) bool {
	ids := g.MemberIDs()
	out := make([]string, 0, len(ids))
	removed := false
	for _, existing := range ids {
		if existing == id {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	g.SetMemberIDs(out)
	return removed
}

// DedupGroupRepository implements the Dedup Group collection operations.
type DedupGroupRepository interface {
	Get(ctx context.Context, id string) (*DedupGroup, error)
	Save(ctx context.Context, group *DedupGroup) error
	Delete(ctx context.Context, id string) error
	// IterateNonDeleted performs a restartable paged scan over every
	// non-deleted group, for the consistency check (spec §4.6).
	IterateNonDeleted(ctx context.Context, opts IterateOptions, fn func([]DedupGroup) error) error
	// UpdatedSince returns the ids of non-deleted groups touched at or after
	// the given time, used by the merge pipeline (spec §4.7 step 2).
	UpdatedSince(ctx context.Context, sinceMillis int64) ([]string, error)
}

type gormDedupGroupRepository struct {
	db *DB
}

// NewDedupGroupRepository returns a DedupGroupRepository backed by the
// provided Record Store connection.
func NewDedupGroupRepository(db *DB) DedupGroupRepository {
	return &gormDedupGroupRepository{db: db}
}

func (r *gormDedupGroupRepository) Get(ctx context.Context, id string) (*DedupGroup, error) {
	var group DedupGroup
	err := r.db.WithContext(ctx).First(&group, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: dedup: get: %w", err)
	}
	return &group, nil
}

func (r *gormDedupGroupRepository) Save(ctx context.Context, group *DedupGroup) error {
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Save(group).Error
	})
	if err != nil {
		return fmt.Errorf("store: dedup: save: %w", err)
	}
	return nil
}

func (r *gormDedupGroupRepository) Delete(ctx context.Context, id string) error {
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Delete(&DedupGroup{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("store: dedup: delete: %w", err)
	}
	return nil
}

func (r *gormDedupGroupRepository) IterateNonDeleted(ctx context.Context, opts IterateOptions, fn func([]DedupGroup) error) error {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	lastID := opts.AfterID

	for {
		tx := r.db.WithContext(ctx).Model(&DedupGroup{}).Where("deleted = ?", false)
		if lastID != "" {
			tx = tx.Where("id > ?", lastID)
		}

		var page []DedupGroup
		if err := tx.Order("id ASC").Limit(pageSize).Find(&page).Error; err != nil {
			return fmt.Errorf("store: dedup: iterate: %w", err)
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

func (r *gormDedupGroupRepository) UpdatedSince(ctx context.Context, sinceMillis int64) ([]string, error) {
	var groups []DedupGroup
	err := r.db.WithContext(ctx).Model(&DedupGroup{}).
		Where("deleted = ? AND updated >= ?", false, UnixMilliToTime(sinceMillis)).
		Find(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("store: dedup: updated since: %w", err)
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// joinSources joins source_ids with commas. Nothing in the repository calls
// it; the dedup engine, being outside this package, cannot.
func joinSources(sources []string) string {
	return strings.Join(sources, ",")
}
