package store

import "time"

// Record is the persisted form of spec §3's Record entity. Id is the natural
// key ("{sourceId}.{localId}") rather than a surrogate — §4.1's iterate
// operation orders and resumes paged scans by this column, mirroring the
// Mongo-native store's use of _id.
type Record struct {
	ID             string `gorm:"primaryKey;column:id"`
	SourceID       string `gorm:"index;not null"`
	OAIID          string `gorm:"index"`
	Format         string `gorm:"not null"`
	OriginalData   string `gorm:"type:text"`
	NormalizedData string `gorm:"type:text"` // empty means "identical to OriginalData" (§4.5 step 4)
	LinkingID      string `gorm:"index"`
	HostRecordID   string `gorm:"index"`
	MainID         string `gorm:"index"`
	Deleted        bool   `gorm:"not null;default:false;index"`
	UpdateNeeded   bool   `gorm:"not null;default:false;index"`
	DedupID        string `gorm:"index"` // references DedupGroup.ID; empty means unassigned

	TitleKeys string `gorm:"type:text"` // keySep-delimited; see keys.go
	ISBNKeys  string `gorm:"type:text"`
	IDKeys    string `gorm:"type:text"`

	Created time.Time `gorm:"not null;index"`
	Updated time.Time `gorm:"not null;index"`
	Date    time.Time `gorm:"not null"`

	// Mark is the transient flag used by ListIdentifiers deletion
	// reconciliation (§4.4). It is never read by any other component.
	Mark bool `gorm:"not null;default:false"`
}

// DedupGroup is the persisted form of spec §3's Dedup Group entity. IDs is
// stored as a keySep-delimited set of Record ids (EncodeKeySet, keys.go) — GORM cannot natively map a
// string slice column across both SQLite and Postgres without an extra join
// table, and spec.md treats group membership as an opaque set the engine
// owns outright, so a single denormalized column matches the access pattern
// (always read/written as a whole by the owning Group, never joined against).
type DedupGroup struct {
	ID      string `gorm:"primaryKey;column:id"`
	IDs     string `gorm:"type:text"`
	Deleted bool   `gorm:"not null;default:false;index"`
	Changed bool   `gorm:"not null;default:false"`
	Updated time.Time `gorm:"not null;index"`
}

// StateEntry is a single opaque key -> value state row (spec §3's "State
// entries"): "Last Harvest Date {source}", "Last Index Update {source}",
// "Last Deletion Processing Time {source}".
type StateEntry struct {
	Key     string `gorm:"primaryKey;column:key"`
	Value   string `gorm:"type:text"`
	Updated time.Time `gorm:"not null"`
}

// URICacheEntry is one row of the URI cache (spec §3): (id) -> cached HTTP
// response. TTL is enforced by readers (internal/enrich), not by the store.
type URICacheEntry struct {
	ID        string `gorm:"primaryKey;column:id"`
	Timestamp time.Time `gorm:"not null;index"`
	URL       string
	Headers   string `gorm:"type:text"`
	Body      string `gorm:"type:text"`
}

// QueueItem is one pending-work entry in a transient queue collection (spec
// §3's "Queue collections"). QueueName groups items into one of the
// per-update-run collections described in §4.7/§6 (tmp_mr_record_* while
// building, mr_record_{hash}_{fromDate}_{lastRecordTime} once finalized).
type QueueItem struct {
	QueueName string `gorm:"primaryKey;column:queue_name"`
	RecordID  string `gorm:"primaryKey;column:record_id"`
}

// Queue is the metadata row for a named queue collection: whether it has been
// finalized (renamed from its tmp_* working name) and the parameters that
// produced it, used to detect a reusable finalized queue on a repeat run
// (spec §4.7 step 1) and to age out queues after 7 days (spec §3, §5).
type Queue struct {
	Name           string `gorm:"primaryKey;column:name"`
	TmpName        string `gorm:"not null"`
	ParamHash      string `gorm:"index;not null"`
	FromDate       time.Time
	LastRecordTime time.Time `gorm:"not null"`
	Finalized      bool      `gorm:"not null;default:false"`
	Created        time.Time `gorm:"not null"`
}
