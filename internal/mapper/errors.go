package mapper

import "errors"

// ErrMalformedMapping is returned when a mapping file line is neither blank,
// a recognized special key, nor a "key = value" pair (spec §4.3).
var ErrMalformedMapping = errors.New("mapper: malformed mapping")
