// Package store provides interfaces and types for bulletin message storage.
// Implementations are in store/memory, store/mongo, and store/postgres
// subpackages; store/cached decorates any of them with a Redis read-through
// cache for identity lookups.
//
// # Architectural Principle: One Parameterized Query
//
// Every listing the service exposes (all, by recipient, by sender, urgent
// only, urgent by recipient, urgent by sender) is a single FindPage call with
// a Filter descriptor. Backends translate the descriptor into their native
// query language once, instead of carrying one finder per combination.
//
// # Ordering and Pagination
//
// Results are always ordered by publication timestamp descending with the
// message id ascending as a tie-breaker, which makes the order total and
// therefore page boundaries stable. A page is the slice
// [Page*Size, (Page+1)*Size) of that order. No total count is computed.
//
// # Cursors
//
// FindPage returns a Cursor that yields records one at a time. Callers must
// Close the cursor; closing early releases the underlying database cursor
// and stops any further fetching.
package store

import (
	"context"
)

// Store is the storage interface for bulletin messages.
//
// All operations must be safe for concurrent use. Records are never updated
// once created; Save is an idempotent upsert keyed by Record.ID.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	MessageReader
	MessageWriter
}

// MessageReader provides read operations for messages.
type MessageReader interface {
	// FindPage returns a cursor over one page of records matching q.Filter,
	// ordered by q.Sort. Returns ErrInvalidQuery for a malformed page.
	FindPage(ctx context.Context, q Query) (Cursor, error)

	// FindByID retrieves a record by its identity.
	// Returns ErrNotFound if no record has that id.
	FindByID(ctx context.Context, id string) (*Record, error)
}

// MessageWriter provides write operations for messages.
type MessageWriter interface {
	// Save persists a record and returns the stored copy.
	// Saving a record whose ID already exists replaces it.
	Save(ctx context.Context, rec *Record) (*Record, error)

	// DeleteAll removes every record and returns how many were removed.
	DeleteAll(ctx context.Context) (int64, error)
}

// Cursor iterates over the records of one page.
//
// A Cursor is NOT safe for concurrent use.
type Cursor interface {
	// Next advances to the next record. It returns false when the page is
	// exhausted, the context is done, or an error occurred (see Err).
	Next(ctx context.Context) bool

	// Record returns the current record. Valid only after Next returned true.
	Record() *Record

	// Err returns the first error encountered during iteration.
	Err() error

	// Close releases resources held by the cursor. Safe to call twice.
	Close(ctx context.Context) error
}
