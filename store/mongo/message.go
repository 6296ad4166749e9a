package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/maorm36/bulletin/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// messageDoc is the MongoDB document representation.
type messageDoc struct {
	ID                   string         `bson:"_id"`
	Target               string         `bson:"target"`
	Sender               string         `bson:"sender"`
	Title                string         `bson:"title"`
	PublicationTimestamp time.Time      `bson:"publication_timestamp"`
	Urgent               bool           `bson:"urgent"`
	ExtraAttributes      map[string]any `bson:"extra_attributes"`
}

func recordToDoc(rec *store.Record) *messageDoc {
	extra := rec.ExtraAttributes
	if extra == nil {
		extra = map[string]any{}
	}
	return &messageDoc{
		ID:                   rec.ID,
		Target:               rec.Target,
		Sender:               rec.Sender,
		Title:                rec.Title,
		PublicationTimestamp: rec.PublicationTimestamp.UTC(),
		Urgent:               rec.Urgent,
		ExtraAttributes:      extra,
	}
}

func docToRecord(doc *messageDoc) *store.Record {
	extra := make(map[string]any, len(doc.ExtraAttributes))
	for k, v := range doc.ExtraAttributes {
		extra[k] = plain(v)
	}
	return &store.Record{
		ID:                   doc.ID,
		Target:               doc.Target,
		Sender:               doc.Sender,
		Title:                doc.Title,
		PublicationTimestamp: doc.PublicationTimestamp.UTC(),
		Urgent:               doc.Urgent,
		ExtraAttributes:      extra,
	}
}

// plain turns nested bson documents and arrays into map[string]any and
// []any so that callers never see driver types.
func plain(v any) any {
	switch t := v.(type) {
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = plain(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = plain(e)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

// cursor adapts a driver cursor to store.Cursor.
type cursor struct {
	cur    *mongo.Cursor
	cancel context.CancelFunc
	rec    *store.Record
	err    error
	closed bool
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.cur.Next(ctx) {
		c.rec = nil
		if err := c.cur.Err(); err != nil {
			c.err = fmt.Errorf("iterate messages: %w", err)
		} else if err := ctx.Err(); err != nil {
			c.err = err
		}
		return false
	}
	var doc messageDoc
	if err := c.cur.Decode(&doc); err != nil {
		c.err = fmt.Errorf("decode message: %w", err)
		c.rec = nil
		return false
	}
	c.rec = docToRecord(&doc)
	return true
}

func (c *cursor) Record() *store.Record { return c.rec }
func (c *cursor) Err() error            { return c.err }

func (c *cursor) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.rec = nil
	defer c.cancel()
	return c.cur.Close(ctx)
}
