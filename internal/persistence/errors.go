package persistence

import "errors"

// ErrStaleWrite is returned when a pool is persisted on top of a sequence
// other than the one it was loaded at.
var ErrStaleWrite = errors.New("stale pool write")
