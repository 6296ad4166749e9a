package store

import (
	"context"
	"maps"
	"time"
)

// Record is a persisted bulletin message.
//
// Target and Sender hold normalized email addresses. PublicationTimestamp is
// assigned by the service at creation and never changes.
type Record struct {
	ID                   string
	Target               string
	Sender               string
	Title                string
	PublicationTimestamp time.Time
	Urgent               bool
	ExtraAttributes      map[string]any
}

// Clone returns a copy of the record that shares no mutable state with r.
// The extra attributes map is copied one level deep.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.ExtraAttributes != nil {
		c.ExtraAttributes = maps.Clone(r.ExtraAttributes)
	}
	return &c
}

// SliceCursor is a Cursor over records already held in memory.
// Backends that materialize a page eagerly return one of these.
type SliceCursor struct {
	records []*Record
	idx     int
	cur     *Record
	err     error
	closed  bool
}

// NewSliceCursor returns a cursor over recs in order.
func NewSliceCursor(recs []*Record) *SliceCursor {
	return &SliceCursor{records: recs}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.idx >= len(c.records) {
		c.cur = nil
		return false
	}
	c.cur = c.records[c.idx]
	c.idx++
	return true
}

func (c *SliceCursor) Record() *Record { return c.cur }
func (c *SliceCursor) Err() error      { return c.err }

func (c *SliceCursor) Close(_ context.Context) error {
	c.closed = true
	c.cur = nil
	c.records = nil
	return nil
}
