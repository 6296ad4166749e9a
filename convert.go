package bulletin

import (
	"maps"
	"time"

	"github.com/maorm36/bulletin/store"
)

// ToRecord builds the persisted form of a validated request. Target and
// Sender are taken from req as-is, so callers pass a request that already
// carries normalized emails.
func ToRecord(req *CreateRequest, id string, ts time.Time, urgent bool, extra map[string]any) *store.Record {
	return &store.Record{
		ID:                   id,
		Target:               req.Target,
		Sender:               req.Sender,
		Title:                req.Title,
		PublicationTimestamp: ts,
		Urgent:               urgent,
		ExtraAttributes:      maps.Clone(extra),
	}
}

// ToView maps a persisted record to its outward view. A nil record maps to
// a nil view.
func ToView(rec *store.Record) *Message {
	if rec == nil {
		return nil
	}
	extra := rec.ExtraAttributes
	if extra == nil {
		extra = map[string]any{}
	} else {
		extra = maps.Clone(extra)
	}
	return &Message{
		ID:                   rec.ID,
		Target:               rec.Target,
		Sender:               rec.Sender,
		Title:                rec.Title,
		PublicationTimestamp: rec.PublicationTimestamp,
		Urgent:               rec.Urgent,
		ExtraAttributes:      extra,
	}
}
