package store

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// withRetry retries fn against transient "database is locked"/"SQLITE_BUSY"
// errors, which are expected under the single-writer SQLite configuration
// Open sets up (see db.go: sqlDB.SetMaxOpenConns(1)) whenever two of the
// independent OS processes described in spec §5 write concurrently. Any
// other error is returned immediately without retrying.
func withRetry(fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransientLockErr(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func isTransientLockErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "busy") && strings.Contains(msg, "sqlite")
}
