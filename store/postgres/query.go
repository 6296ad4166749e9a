package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/maorm36/bulletin/store"
)

// FindPage runs one ordered LIMIT/OFFSET query for q.
func (s *Store) FindPage(ctx context.Context, q store.Query) (store.Cursor, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	where, args := buildWhereClause(q.Filter)
	args = append(args, q.Size, q.Offset())
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		messageColumns, s.table, where, buildOrderBy(q.SortKeys()), len(args)-1, len(args))

	// The timeout spans the cursor's lifetime; cancel runs on Close.
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("find messages: %w", err)
	}
	return &cursor{rows: rows, cancel: cancel}, nil
}

// FindByID retrieves a record by id.
func (s *Store) FindByID(ctx context.Context, id string) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, s.table)

	var row messageRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return row.record()
}

// buildWhereClause translates a filter into a WHERE clause and its args.
func buildWhereClause(f store.Filter) (string, []any) {
	conds := []string{"TRUE"}
	var args []any
	if f.Target != "" {
		args = append(args, f.Target)
		conds = append(conds, fmt.Sprintf("target = $%d", len(args)))
	}
	if f.Sender != "" {
		args = append(args, f.Sender)
		conds = append(conds, fmt.Sprintf("sender = $%d", len(args)))
	}
	if f.UrgentOnly {
		conds = append(conds, "urgent = TRUE")
	}
	if len(conds) > 1 {
		conds = conds[1:]
	}
	return strings.Join(conds, " AND "), args
}

// sortColumns maps store fields to columns. Text keys use the C collation
// so that ties break in byte order on every backend.
var sortColumns = map[string]string{
	store.FieldID:                   `id COLLATE "C"`,
	store.FieldTarget:               `target COLLATE "C"`,
	store.FieldSender:               `sender COLLATE "C"`,
	store.FieldTitle:                `title COLLATE "C"`,
	store.FieldPublicationTimestamp: `publication_timestamp`,
	store.FieldUrgent:               `urgent`,
}

func buildOrderBy(keys []store.SortKey) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		col, ok := sortColumns[k.Field]
		if !ok {
			continue
		}
		dir := "DESC"
		if k.Order == store.SortAsc {
			dir = "ASC"
		}
		parts = append(parts, col+" "+dir)
	}
	return strings.Join(parts, ", ")
}
