package notify

import "errors"

var (
	// ErrSendFailed wraps a delivery failure from either channel.
	ErrSendFailed = errors.New("notify: send failed")
	// ErrNotConfigured is returned by a channel's loader when that channel has
	// no usable configuration; Send treats it as "skip silently".
	ErrNotConfigured = errors.New("notify: channel not configured")
)
