package cached

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/maorm36/bulletin/store"
	"github.com/maorm36/bulletin/store/memory"
	"github.com/redis/go-redis/v9"
)

// countingStore counts identity lookups reaching the wrapped store.
type countingStore struct {
	*memory.Store
	lookups int
}

func (c *countingStore) FindByID(ctx context.Context, id string) (*store.Record, error) {
	c.lookups++
	return c.Store.FindByID(ctx, id)
}

func setup(t *testing.T, opts ...Option) (*Store, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	inner := &countingStore{Store: memory.New()}
	s := New(inner, client, opts...)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s, inner, mr
}

func sampleRecord(id string) *store.Record {
	return &store.Record{
		ID:                   id,
		Target:               "a@b.co",
		Sender:               "c@d.co",
		Title:                "hello",
		PublicationTimestamp: time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC),
		Urgent:               true,
		ExtraAttributes:      map[string]any{"k": "v"},
	}
}

func TestFindByIDReadThrough(t *testing.T) {
	ctx := context.Background()
	s, inner, mr := setup(t)

	// Write directly to the inner store so the cache starts cold.
	if _, err := inner.Save(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, err := s.FindByID(ctx, "m1")
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if !mr.Exists(DefaultKeyPrefix + "m1") {
		t.Fatal("expected record to be cached after a miss")
	}

	second, err := s.FindByID(ctx, "m1")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if inner.lookups != 1 {
		t.Errorf("expected 1 inner lookup, got %d", inner.lookups)
	}
	if second.Title != first.Title || !second.PublicationTimestamp.Equal(first.PublicationTimestamp) {
		t.Errorf("cached record differs: %+v vs %+v", second, first)
	}
	if second.ExtraAttributes["k"] != "v" {
		t.Errorf("extra attributes lost: %v", second.ExtraAttributes)
	}
}

func TestFindByIDMissNotCached(t *testing.T) {
	ctx := context.Background()
	s, _, mr := setup(t)

	if _, err := s.FindByID(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("expected no cached keys, got %v", mr.Keys())
	}
}

func TestSaveWritesThrough(t *testing.T) {
	ctx := context.Background()
	s, inner, mr := setup(t, WithKeyPrefix("test:"))

	if _, err := s.Save(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("test:m1") {
		t.Error("expected saved record to be cached")
	}
	if _, err := s.FindByID(ctx, "m1"); err != nil {
		t.Fatalf("find: %v", err)
	}
	if inner.lookups != 0 {
		t.Errorf("expected cache hit, got %d inner lookups", inner.lookups)
	}
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	s, inner, mr := setup(t, WithTTL(time.Minute))

	if _, err := s.Save(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := s.FindByID(ctx, "m1"); err != nil {
		t.Fatalf("find: %v", err)
	}
	if inner.lookups != 1 {
		t.Errorf("expected expired entry to fall through, got %d inner lookups", inner.lookups)
	}
}

func TestDeleteAllInvalidates(t *testing.T) {
	ctx := context.Background()
	s, _, mr := setup(t, WithScanCount(1))

	for _, id := range []string{"m1", "m2", "m3"} {
		if _, err := s.Save(ctx, sampleRecord(id)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	mr.Set("unrelated", "keep")

	n, err := s.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted, got %d", n)
	}
	for _, id := range []string{"m1", "m2", "m3"} {
		if mr.Exists(DefaultKeyPrefix + id) {
			t.Errorf("expected %s to be invalidated", id)
		}
	}
	if !mr.Exists("unrelated") {
		t.Error("expected unrelated key to survive")
	}
	if gen, _ := mr.Get(DefaultKeyPrefix + generationSuffix); gen != "1" {
		t.Errorf("expected generation 1, got %q", gen)
	}
	if _, err := s.FindByID(ctx, "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteAllStrictInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("lenient", func(t *testing.T) {
		s, _, mr := setup(t)
		mr.SetError("READONLY")
		if _, err := s.DeleteAll(ctx); err != nil {
			t.Errorf("expected lenient mode to swallow cache error, got %v", err)
		}
	})

	t.Run("strict", func(t *testing.T) {
		s, _, mr := setup(t, WithStrictInvalidation(true))
		mr.SetError("READONLY")
		if _, err := s.DeleteAll(ctx); !errors.Is(err, ErrInvalidationFailed) {
			t.Errorf("expected ErrInvalidationFailed, got %v", err)
		}
	})
}

func TestFindPagePassesThrough(t *testing.T) {
	ctx := context.Background()
	s, _, _ := setup(t)

	for _, id := range []string{"m1", "m2"} {
		if _, err := s.Save(ctx, sampleRecord(id)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	c, err := s.FindPage(ctx, store.Query{Size: 10})
	if err != nil {
		t.Fatalf("find page: %v", err)
	}
	defer c.Close(ctx)
	count := 0
	for c.Next(ctx) {
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 records, got %d", count)
	}
}

// pausingStore holds its first FindByID between loading the record and
// returning it, so a DeleteAll can run in that window.
type pausingStore struct {
	*memory.Store
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (p *pausingStore) FindByID(ctx context.Context, id string) (*store.Record, error) {
	rec, err := p.Store.FindByID(ctx, id)
	p.once.Do(func() {
		close(p.loaded)
		<-p.release
	})
	return rec, err
}

func TestDeleteAllDuringLookup(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	inner := &pausingStore{
		Store:   memory.New(),
		loaded:  make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New(inner, client)
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := inner.Save(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	type result struct {
		rec *store.Record
		err error
	}
	lookup := make(chan result, 1)
	go func() {
		rec, err := s.FindByID(ctx, "m1")
		lookup <- result{rec, err}
	}()

	<-inner.loaded
	if _, err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(inner.release)

	res := <-lookup
	if res.err != nil || res.rec == nil {
		t.Fatalf("in-flight lookup: (%v, %v)", res.rec, res.err)
	}
	if mr.Exists(DefaultKeyPrefix + "m1") {
		t.Error("record loaded before DeleteAll was written back to the cache")
	}
	if _, err := s.FindByID(ctx, "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSaveAfterDeleteAllIsCached(t *testing.T) {
	ctx := context.Background()
	s, inner, mr := setup(t)

	if _, err := s.Save(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Save(ctx, sampleRecord("m2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists(DefaultKeyPrefix + "m2") {
		t.Fatal("expected save under the new generation to be cached")
	}
	if _, err := s.FindByID(ctx, "m2"); err != nil {
		t.Fatalf("find: %v", err)
	}
	if inner.lookups != 0 {
		t.Errorf("expected cache hit, got %d inner lookups", inner.lookups)
	}
}
