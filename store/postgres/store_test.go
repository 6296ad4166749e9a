package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/maorm36/bulletin/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := NewFromDB(db)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "messages"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for range 5 {
		mock.ExpectExec(`CREATE INDEX IF NOT EXISTS`).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s, mock
}

var rowColumns = []string{"id", "target", "sender", "title", "publication_timestamp", "urgent", "extra_attributes"}

func TestConnect(t *testing.T) {
	s, mock := newMockStore(t)
	if err := s.Connect(context.Background()); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFindPage(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	ts := time.Date(2024, 2, 3, 4, 5, 6, 7_000_000, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT id, target, sender, title, publication_timestamp, urgent, extra_attributes FROM "messages" ` +
			`WHERE target = $1 AND urgent = TRUE ORDER BY publication_timestamp DESC, id COLLATE "C" ASC LIMIT $2 OFFSET $3`)).
		WithArgs("a@b.co", int64(10), int64(20)).
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow("id-2", "a@b.co", "s@x.co", "second", ts, true, []byte(`{"k":"v"}`)).
			AddRow("id-1", "a@b.co", "s@x.co", "first", ts.Add(-time.Hour), true, []byte(`{}`)))

	c, err := s.FindPage(ctx, store.Query{
		Filter: store.Filter{Target: "a@b.co", UrgentOnly: true},
		Page:   2,
		Size:   10,
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	var got []*store.Record
	for c.Next(ctx) {
		got = append(got, c.Record())
	}
	if err := c.Err(); err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != "id-2" || got[0].ExtraAttributes["k"] != "v" || !got[0].PublicationTimestamp.Equal(ts) {
		t.Errorf("unexpected first record: %+v", got[0])
	}
	if got[1].ExtraAttributes == nil {
		t.Error("expected empty, non-nil extra attributes")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFindPageAll(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "messages" WHERE TRUE ORDER BY`)).
		WithArgs(int64(5), int64(0)).
		WillReturnRows(sqlmock.NewRows(rowColumns))

	c, err := s.FindPage(ctx, store.Query{Size: 5})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	defer c.Close(ctx)
	if c.Next(ctx) {
		t.Error("expected empty page")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFindPageInvalid(t *testing.T) {
	s, _ := newMockStore(t)
	if _, err := s.FindPage(context.Background(), store.Query{Page: -1, Size: 10}); !errors.Is(err, store.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestFindByID(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	ts := time.Now().UTC().Truncate(time.Millisecond)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "messages" WHERE id = $1`)).
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow("id-1", "a@b.co", "s@x.co", "hi", ts, false, []byte(`{"n":1}`)))

	rec, err := s.FindByID(ctx, "id-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.Title != "hi" || rec.ExtraAttributes["n"] != float64(1) {
		t.Errorf("unexpected record: %+v", rec)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "messages" WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(rowColumns))
	if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	ts := time.Now().UTC().Truncate(time.Millisecond)

	mock.ExpectExec(`INSERT INTO "messages" .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("id-1", "a@b.co", "s@x.co", "hi", ts, true, []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	saved, err := s.Save(ctx, &store.Record{
		ID:                   "id-1",
		Target:               "a@b.co",
		Sender:               "s@x.co",
		Title:                "hi",
		PublicationTimestamp: ts,
		Urgent:               true,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID != "id-1" {
		t.Errorf("unexpected saved record: %+v", saved)
	}

	mock.ExpectExec(`INSERT INTO "messages"`).WillReturnError(errors.New("boom"))
	if _, err := s.Save(ctx, &store.Record{ID: "id-2"}); err == nil {
		t.Error("expected error to propagate")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDeleteAll(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "messages"`)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.DeleteAll(context.Background())
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 deleted, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBuildWhereClause(t *testing.T) {
	tests := []struct {
		name     string
		filter   store.Filter
		where    string
		argCount int
	}{
		{"all", store.Filter{}, "TRUE", 0},
		{"sender", store.Filter{Sender: "s@x.co"}, "sender = $1", 1},
		{"urgent sender", store.Filter{Sender: "s@x.co", UrgentOnly: true}, "sender = $1 AND urgent = TRUE", 1},
		{"urgent", store.Filter{UrgentOnly: true}, "urgent = TRUE", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildWhereClause(tt.filter)
			if where != tt.where || len(args) != tt.argCount {
				t.Errorf("got (%q, %d args), want (%q, %d args)", where, len(args), tt.where, tt.argCount)
			}
		})
	}
}
