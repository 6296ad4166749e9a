package memory

import (
	"context"

	"github.com/maorm36/bulletin/store"
)

// Save stores a copy of rec, replacing any record with the same ID.
func (s *Store) Save(ctx context.Context, rec *store.Record) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if rec == nil || rec.ID == "" {
		return nil, store.ErrInvalidID
	}

	// Copy-on-write: callers never share the stored instance.
	s.messages.Store(rec.ID, rec.Clone())
	return rec.Clone(), nil
}

// DeleteAll removes every record.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	var count int64
	s.messages.Range(func(k, _ any) bool {
		if _, loaded := s.messages.LoadAndDelete(k); loaded {
			count++
		}
		return true
	})
	return count, nil
}
