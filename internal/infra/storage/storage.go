// Package storage defines the content store behind the resource cache.
package storage

import (
	"context"
	"errors"
	"time"
)

// Backend names accepted by cache.backend.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ErrEmptyURI is returned when storing an entry without a URI.
var ErrEmptyURI = errors.New("entry uri is empty")

// Entry is one cached resource.
type Entry struct {
	URI         string    `json:"uri" db:"uri"`
	ParentID    string    `json:"parent_id,omitempty" db:"parent_id"`
	Permanent   bool      `json:"permanent" db:"permanent"`
	ContentType string    `json:"content_type,omitempty" db:"content_type"`
	Data        []byte    `json:"-" db:"data"`
	StoredAt    time.Time `json:"stored_at" db:"stored_at"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Data != nil {
		c.Data = append([]byte(nil), e.Data...)
	}
	return &c
}

// Store persists cache entries keyed by URI.
type Store interface {
	// Get returns the entry for uri, or nil without error when it does not exist.
	Get(ctx context.Context, uri string) (*Entry, error)

	// Put inserts or replaces the entry for e.URI.
	Put(ctx context.Context, e *Entry) error

	// Delete removes the entry for uri and reports whether it existed.
	Delete(ctx context.Context, uri string) (bool, error)

	// DeleteByParent removes every entry with the given parent and returns how many were removed.
	DeleteByParent(ctx context.Context, parentID string) (int, error)

	// Prune removes non-permanent entries stored before the given time.
	Prune(ctx context.Context, before time.Time) (int, error)

	Close() error
}
