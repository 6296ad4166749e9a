package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maorm36/bulletin/store"
)

// Save inserts rec, replacing the row when the id already exists.
func (s *Store) Save(ctx context.Context, rec *store.Record) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if rec == nil || rec.ID == "" {
		return nil, store.ErrInvalidID
	}

	extra := rec.ExtraAttributes
	if extra == nil {
		extra = map[string]any{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra attributes: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			target = EXCLUDED.target,
			sender = EXCLUDED.sender,
			title = EXCLUDED.title,
			publication_timestamp = EXCLUDED.publication_timestamp,
			urgent = EXCLUDED.urgent,
			extra_attributes = EXCLUDED.extra_attributes
	`, s.table, messageColumns)

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Target, rec.Sender, rec.Title,
		rec.PublicationTimestamp.UTC(), rec.Urgent, extraJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return rec.Clone(), nil
}

// DeleteAll removes every row.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	s.logger.Info("deleted all messages", "count", n)
	return n, nil
}
