// Package cached provides a Redis read-through cache in front of any
// store.Store. Only identity lookups are cached; pages always go to the
// underlying store so that ordering and filtering stay authoritative.
//
// Records are immutable once saved, so a cached entry can only go stale
// through DeleteAll, which clears every key under the configured prefix.
// A generation counter, bumped by DeleteAll, guards cache fills: a record
// loaded before a DeleteAll is never written back after it.
package cached

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/maorm36/bulletin/store"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidationFailed is returned by DeleteAll in strict mode when the
// cache could not be cleared.
var ErrInvalidationFailed = errors.New("cached: cache invalidation failed")

// generationSuffix names the counter key under the key prefix.
const generationSuffix = "~generation"

// setIfGeneration writes the entry only while the generation counter still
// holds the value read before the backing store was consulted.
// KEYS[1] generation, KEYS[2] entry; ARGV[1] generation, ARGV[2] payload,
// ARGV[3] ttl in milliseconds.
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store decorates a store.Store with a Redis cache.
type Store struct {
	next   store.Store
	client redis.UniversalClient
	opts   *options
	logger *slog.Logger
}

// New wraps next with a cache backed by client.
func New(next store.Store, client redis.UniversalClient, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		next:   next,
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect pings Redis and connects the underlying store.
func (s *Store) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return s.next.Connect(ctx)
}

// Close closes the underlying store. The Redis client is owned by the caller.
func (s *Store) Close(ctx context.Context) error {
	return s.next.Close(ctx)
}

// FindPage is served by the underlying store.
func (s *Store) FindPage(ctx context.Context, q store.Query) (store.Cursor, error) {
	return s.next.FindPage(ctx, q)
}

// FindByID returns the cached record when present, otherwise loads it from
// the underlying store and caches it. Misses are not cached.
func (s *Store) FindByID(ctx context.Context, id string) (*store.Record, error) {
	if id == "" {
		return s.next.FindByID(ctx, id)
	}

	if rec, ok := s.get(ctx, id); ok {
		return rec, nil
	}

	gen, genOK := s.generation(ctx)
	rec, err := s.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if genOK {
		s.set(ctx, gen, rec)
	}
	return rec, nil
}

// Save writes through to the underlying store, then caches the result.
func (s *Store) Save(ctx context.Context, rec *store.Record) (*store.Record, error) {
	gen, genOK := s.generation(ctx)
	saved, err := s.next.Save(ctx, rec)
	if err != nil {
		return nil, err
	}
	if genOK {
		s.set(ctx, gen, saved)
	}
	return saved, nil
}

// DeleteAll clears the underlying store, bumps the generation so that
// fills started earlier are dropped, then clears every cached record.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	n, err := s.next.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.client.Incr(ctx, s.generationKey()).Err(); err != nil {
		err = fmt.Errorf("incr generation: %w", err)
		s.logger.Error("cache invalidation failed", "error", err)
		if s.opts.strictInvalidation {
			return n, fmt.Errorf("%w: %w", ErrInvalidationFailed, err)
		}
	}
	if err := s.invalidateAll(ctx); err != nil {
		s.logger.Error("cache invalidation failed", "error", err)
		if s.opts.strictInvalidation {
			return n, fmt.Errorf("%w: %w", ErrInvalidationFailed, err)
		}
	}
	return n, nil
}

func (s *Store) key(id string) string {
	return s.opts.keyPrefix + id
}

func (s *Store) generationKey() string {
	return s.opts.keyPrefix + generationSuffix
}

// generation returns the current generation counter. A missing counter is
// generation "0". ok is false when Redis could not be read; the caller
// then skips the cache fill.
func (s *Store) generation(ctx context.Context) (string, bool) {
	gen, err := s.client.Get(ctx, s.generationKey()).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "0", true
	case err != nil:
		s.logger.Warn("cache generation read failed", "error", err)
		return "", false
	}
	return gen, true
}

func (s *Store) get(ctx context.Context, id string) (*store.Record, bool) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("cache read failed", "id", id, "error", err)
		}
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("cache entry corrupt", "id", id, "error", err)
		return nil, false
	}
	return entry.record(), true
}

// set caches rec unless the generation moved past gen.
func (s *Store) set(ctx context.Context, gen string, rec *store.Record) {
	data, err := json.Marshal(newCacheEntry(rec))
	if err != nil {
		s.logger.Warn("cache encode failed", "id", rec.ID, "error", err)
		return
	}
	keys := []string{s.generationKey(), s.key(rec.ID)}
	ttl := strconv.FormatInt(max(s.opts.ttl.Milliseconds(), 1), 10)
	written, err := setIfGeneration.Run(ctx, s.client, keys, gen, data, ttl).Int()
	if err != nil {
		s.logger.Warn("cache write failed", "id", rec.ID, "error", err)
		return
	}
	if written == 0 {
		s.logger.Debug("cache fill skipped after invalidation", "id", rec.ID)
	}
}

func (s *Store) invalidateAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.opts.keyPrefix+"*", s.opts.scanCount).Result()
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		keys = slices.DeleteFunc(keys, func(k string) bool { return k == s.generationKey() })
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// cacheEntry is the JSON form of a cached record.
type cacheEntry struct {
	ID                   string         `json:"id"`
	Target               string         `json:"target"`
	Sender               string         `json:"sender"`
	Title                string         `json:"title"`
	PublicationTimestamp time.Time      `json:"publicationTimestamp"`
	Urgent               bool           `json:"urgent"`
	ExtraAttributes      map[string]any `json:"extraAttributes"`
}

func newCacheEntry(rec *store.Record) cacheEntry {
	return cacheEntry{
		ID:                   rec.ID,
		Target:               rec.Target,
		Sender:               rec.Sender,
		Title:                rec.Title,
		PublicationTimestamp: rec.PublicationTimestamp,
		Urgent:               rec.Urgent,
		ExtraAttributes:      rec.ExtraAttributes,
	}
}

func (e cacheEntry) record() *store.Record {
	extra := e.ExtraAttributes
	if extra == nil {
		extra = map[string]any{}
	}
	return &store.Record{
		ID:                   e.ID,
		Target:               e.Target,
		Sender:               e.Sender,
		Title:                e.Title,
		PublicationTimestamp: e.PublicationTimestamp.UTC(),
		Urgent:               e.Urgent,
		ExtraAttributes:      extra,
	}
}
