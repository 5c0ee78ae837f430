package store

import "errors"

// ErrNotFound is returned by repository Get methods when the requested id
// does not exist. Callers use errors.Is to distinguish a missing record from
// other failures (spec §7's InvariantViolation / general store errors).
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateKey names a unique-constraint violation. No repository in this
// package returns it: uri cache and queue writes upsert or ignore conflicts,
// and record and group writes use Save, which overwrites an existing row.
var ErrDuplicateKey = errors.New("store: duplicate key")
