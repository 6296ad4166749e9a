package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maorm36/bulletin/store"
)

// messageColumns is the canonical SELECT column list matching messageRow.
const messageColumns = `id, target, sender, title, publication_timestamp, urgent, extra_attributes`

// messageRow is the scan target for one row.
type messageRow struct {
	ID                   string    `db:"id"`
	Target               string    `db:"target"`
	Sender               string    `db:"sender"`
	Title                string    `db:"title"`
	PublicationTimestamp time.Time `db:"publication_timestamp"`
	Urgent               bool      `db:"urgent"`
	ExtraAttributes      []byte    `db:"extra_attributes"`
}

func (r *messageRow) record() (*store.Record, error) {
	extra := map[string]any{}
	if len(r.ExtraAttributes) > 0 {
		if err := json.Unmarshal(r.ExtraAttributes, &extra); err != nil {
			return nil, fmt.Errorf("unmarshal extra attributes: %w", err)
		}
	}
	return &store.Record{
		ID:                   r.ID,
		Target:               r.Target,
		Sender:               r.Sender,
		Title:                r.Title,
		PublicationTimestamp: r.PublicationTimestamp.UTC(),
		Urgent:               r.Urgent,
		ExtraAttributes:      extra,
	}, nil
}

// cursor adapts sqlx rows to store.Cursor.
type cursor struct {
	rows   *sqlx.Rows
	cancel context.CancelFunc
	rec    *store.Record
	err    error
	closed bool
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.rows.Next() {
		c.rec = nil
		if err := c.rows.Err(); err != nil {
			c.err = fmt.Errorf("iterate messages: %w", err)
		}
		return false
	}
	var row messageRow
	if err := c.rows.StructScan(&row); err != nil {
		c.err = fmt.Errorf("scan message: %w", err)
		return false
	}
	rec, err := row.record()
	if err != nil {
		c.err = err
		return false
	}
	c.rec = rec
	return true
}

func (c *cursor) Record() *store.Record { return c.rec }
func (c *cursor) Err() error            { return c.err }

func (c *cursor) Close(_ context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.rec = nil
	defer c.cancel()
	return c.rows.Close()
}
