// Package mongo provides a MongoDB implementation of store.Store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/maorm36/bulletin/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	opts       *options
	connected  int32
	logger     *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collection and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collection, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.collection = s.db.Collection(s.opts.collection)

	if err := s.ensureIndexes(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure indexes: %w", err)
	}

	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// ensureIndexes creates one compound index per listing shape, each ending
// in the listing order so that sorted pages are served from the index.
func (s *Store) ensureIndexes(ctx context.Context) error {
	order := bson.D{
		{Key: store.FieldPublicationTimestamp, Value: -1},
		{Key: "_id", Value: 1},
	}
	withPrefix := func(prefix ...bson.E) bson.D {
		keys := append(bson.D{}, prefix...)
		return append(keys, order...)
	}

	indexes := []mongo.IndexModel{
		{Keys: order},
		{Keys: withPrefix(bson.E{Key: store.FieldTarget, Value: 1})},
		{Keys: withPrefix(bson.E{Key: store.FieldSender, Value: 1})},
		{Keys: withPrefix(bson.E{Key: store.FieldUrgent, Value: 1})},
		{Keys: withPrefix(
			bson.E{Key: store.FieldUrgent, Value: 1},
			bson.E{Key: store.FieldTarget, Value: 1},
		)},
		{Keys: withPrefix(
			bson.E{Key: store.FieldUrgent, Value: 1},
			bson.E{Key: store.FieldSender, Value: 1},
		)},
	}

	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// FindPage runs one sorted, skipped and limited find for q.
func (s *Store) FindPage(ctx context.Context, q store.Query) (store.Cursor, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	// The timeout spans the cursor's lifetime; cancel runs on Close.
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)

	findOpts := mongoopts.Find().
		SetSort(buildSort(q.SortKeys())).
		SetSkip(q.Offset()).
		SetLimit(int64(q.Size))

	cur, err := s.collection.Find(ctx, buildFilter(q.Filter), findOpts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("find messages: %w", err)
	}

	s.logger.Debug("mongo page opened", "filter", q.Filter.String(), "page", q.Page, "size", q.Size)
	return &cursor{cur: cur, cancel: cancel}, nil
}

// FindByID retrieves a record by its _id.
func (s *Store) FindByID(ctx context.Context, id string) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc messageDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return docToRecord(&doc), nil
}

// Save upserts rec keyed by its ID.
func (s *Store) Save(ctx context.Context, rec *store.Record) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if rec == nil || rec.ID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := recordToDoc(rec)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc,
		mongoopts.Replace().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return rec.Clone(), nil
}

// DeleteAll removes every document in the collection.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	s.logger.Info("deleted all messages", "count", res.DeletedCount)
	return res.DeletedCount, nil
}

// buildFilter converts a store filter into a bson filter.
func buildFilter(f store.Filter) bson.M {
	filter := bson.M{}
	if f.Target != "" {
		filter[store.FieldTarget] = f.Target
	}
	if f.Sender != "" {
		filter[store.FieldSender] = f.Sender
	}
	if f.UrgentOnly {
		filter[store.FieldUrgent] = true
	}
	return filter
}

// buildSort converts sort keys into a bson sort document.
func buildSort(keys []store.SortKey) bson.D {
	sort := make(bson.D, 0, len(keys))
	for _, k := range keys {
		field := k.Field
		if field == store.FieldID {
			field = "_id"
		}
		sort = append(sort, bson.E{Key: field, Value: int(k.Order)})
	}
	return sort
}
