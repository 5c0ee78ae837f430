package store

import (
	"strings"
	"time"
)

// keySep delimits individual blocking keys within the denormalized
// title_keys/isbn_keys/id_keys columns. A leading and trailing separator is
// always present so a LIKE "%sep+key+sep%" lookup can't match a key that is
// merely a substring of another (e.g. isbn "123" wouldn't match "1234").
const keySep = "\x1f"

// EncodeKeySet joins a set of blocking keys into the column form used by
// Record.TitleKeys/ISBNKeys/IDKeys.
func EncodeKeySet(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keySep + strings.Join(keys, keySep) + keySep
}

// DecodeKeySet reverses EncodeKeySet.
func DecodeKeySet(encoded string) []string {
	trimmed := strings.Trim(encoded, keySep)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, keySep)
}

// keyLikePattern builds the LIKE pattern matching an exact key previously
// written by EncodeKeySet.
func keyLikePattern(key string) string {
	return "%" + keySep + key + keySep + "%"
}

// UnixMilliToTime bridges a Unix-millisecond timestamp to the backend-native
// time.Time form, mirroring spec §4.1's toUnix(ts) in reverse.
func UnixMilliToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
