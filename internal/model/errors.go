package model

import "errors"

// ErrNotFound is returned by store adapters when a lookup misses.
var ErrNotFound = errors.New("not found")
