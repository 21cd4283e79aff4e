package models

import "errors"

// ErrNotFound is the sentinel returned by storage getters when no row
// matches the requested key.
var ErrNotFound = errors.New("models: not found")

// ErrConflict is the sentinel returned by storage creators when a unique
// key (e.g. a Relay username) already exists.
var ErrConflict = errors.New("models: already exists")
