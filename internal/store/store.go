// Package store implements the active tier: a fully indexed SQLite store
// holding the most recent bounded set of records.
package store

import "errors"

// ErrNotFound is returned when an operation targets a record id that does
// not exist in the active tier.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateID is returned when inserting a record whose id already
// exists. Record ids are globally unique across both tiers.
var ErrDuplicateID = errors.New("record id already exists")
