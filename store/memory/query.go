package memory

import (
	"context"
	"slices"

	"github.com/maorm36/bulletin/store"
)

// FindPage returns a cursor over one page of matching records.
// The page is materialized from a snapshot taken at call time.
func (s *Store) FindPage(ctx context.Context, q store.Query) (store.Cursor, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var all []*store.Record
	s.messages.Range(func(_, v any) bool {
		rec := v.(*store.Record)
		if q.Filter.Matches(rec) {
			all = append(all, rec)
		}
		return true
	})

	keys := q.SortKeys()
	slices.SortFunc(all, func(a, b *store.Record) int {
		return store.Compare(keys, a, b)
	})

	start := q.Offset()
	if start >= int64(len(all)) {
		return store.NewSliceCursor(nil), nil
	}
	end := int64(len(all))
	if remaining := end - start; int64(q.Size) < remaining {
		end = start + int64(q.Size)
	}

	page := make([]*store.Record, 0, end-start)
	for _, rec := range all[start:end] {
		page = append(page, rec.Clone())
	}
	return store.NewSliceCursor(page), nil
}

// FindByID retrieves a record by ID.
func (s *Store) FindByID(ctx context.Context, id string) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	v, ok := s.messages.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.(*store.Record).Clone(), nil
}
