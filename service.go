package bulletin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maorm36/bulletin/store"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// MessageCreator creates messages.
type MessageCreator interface {
	// Create validates req, assigns an id and publication timestamp, and
	// persists the message. Validation failures are returned as
	// *ValidationError before anything is written.
	Create(ctx context.Context, req *CreateRequest) (*Message, error)
}

// MessageLister lists messages page by page, newest first.
//
// Every method validates its arguments before touching the store and
// returns a lazily opened stream. Emails are normalized before matching.
type MessageLister interface {
	GetAll(ctx context.Context, page, size int) (*MessageStream, error)
	GetByRecipient(ctx context.Context, email string, page, size int) (*MessageStream, error)
	GetBySender(ctx context.Context, email string, page, size int) (*MessageStream, error)
	GetUrgent(ctx context.Context, page, size int) (*MessageStream, error)
	GetUrgentByRecipient(ctx context.Context, email string, page, size int) (*MessageStream, error)
	GetUrgentBySender(ctx context.Context, email string, page, size int) (*MessageStream, error)
	// Search dispatches on a search mode string. It is the entry point for
	// transports; byId yields a stream of zero or one message.
	Search(ctx context.Context, req SearchRequest) (*MessageStream, error)
}

// MessageReader provides single message retrieval.
type MessageReader interface {
	// GetByID returns (nil, nil) when no message has the id.
	GetByID(ctx context.Context, id string) (*Message, error)
}

// MessageRemover removes messages.
type MessageRemover interface {
	// DeleteAll removes every message.
	DeleteAll(ctx context.Context) error
}

// Service manages the bulletin board.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
//   - MessageCreator, MessageLister, MessageReader, MessageRemover
type Service interface {
	ServiceHealth
	MessageCreator
	MessageLister
	MessageReader
	MessageRemover

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close waits for in-flight writes and closes all connections.
	Close(ctx context.Context) error
	// Events returns per-service event instances for subscribing and publishing.
	// Each service has its own events bound to its own event bus.
	Events() *ServiceEvents
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store    store.Store
	logger   *slog.Logger
	opts     *options
	state    int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins  *pluginRegistry
	otel     *otelInstrumentation
	writeSem *semaphore.Weighted // Limits concurrent writes and lets Close drain them
	eventBus *event.Bus
	events   *ServiceEvents
}

// NewService creates a new bulletin service.
// Call Connect() before using it.
//
// Caching is not part of the service. Wrap the store with the store/cached
// decorator to put Redis in front of identity lookups.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:    o.store,
		logger:   o.logger,
		opts:     o,
		plugins:  plugins,
		otel:     otelInstr,
		writeSem: semaphore.NewWeighted(int64(o.maxConcurrentWrites)),
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
// It is nil until the first successful Connect.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

func (s *service) checkAccess() error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("bulletin service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates this service's event bus and registers its events.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "bulletin"
	}
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}
	return nil
}

// Close waits for in-flight writes, then closes plugins, the event bus and
// the store.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// No new writes can start once the state is disconnected. Taking every
	// slot waits for the ones already running.
	s.logger.Info("waiting for in-flight writes to complete", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.writeSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentWrites)); err != nil {
		s.logger.Warn("timeout waiting for in-flight writes, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.writeSem.Release(int64(s.opts.maxConcurrentWrites))
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.logger.Info("bulletin service closed")
	return errors.Join(errs...)
}

// Create validates and persists a new message.
func (s *service) Create(ctx context.Context, req *CreateRequest) (msg *Message, err error) {
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "bulletin.create")
	urgent := false
	defer func() {
		end(err)
		s.otel.recordCreate(ctx, time.Since(start), urgent, err)
	}()

	if err := s.checkAccess(); err != nil {
		return nil, err
	}

	normalized, err := s.validateCreate(req)
	if err != nil {
		return nil, err
	}
	urgent = *normalized.Urgent

	if err := s.plugins.beforeCreate(ctx, normalized); err != nil {
		return nil, err
	}

	if err := s.writeSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.writeSem.Release(1)

	rec := ToRecord(normalized, s.opts.newID(), s.now(), urgent, normalized.ExtraAttributes)
	saved, err := s.store.Save(ctx, rec)
	if err != nil {
		return nil, storeError("save", err)
	}
	msg = ToView(saved)

	s.logger.Debug("message created", "id", msg.ID, "urgent", msg.Urgent)

	if pubErr := s.events.MessageCreated.Publish(ctx, MessageCreatedEvent{
		MessageID:            msg.ID,
		Target:               msg.Target,
		Sender:               msg.Sender,
		Title:                msg.Title,
		Urgent:               msg.Urgent,
		PublicationTimestamp: msg.PublicationTimestamp,
	}); pubErr != nil {
		if s.opts.eventErrorsFatal {
			// The message is stored; return it with the error.
			return msg, &EventPublishError{Event: "MessageCreated", MessageID: msg.ID, Err: pubErr}
		}
		s.opts.safeEventPublishFailure("MessageCreated", pubErr)
	}

	s.plugins.afterCreate(ctx, msg)
	return msg, nil
}

// validateCreate checks req field by field and returns a normalized copy.
func (s *service) validateCreate(req *CreateRequest) (*CreateRequest, error) {
	if req == nil {
		return nil, newValidationError("message", "message body is required")
	}
	target, err := ValidateEmail("target", req.Target)
	if err != nil {
		return nil, err
	}
	sender, err := ValidateEmail("sender", req.Sender)
	if err != nil {
		return nil, err
	}
	if err := ValidateRequired("title", req.Title); err != nil {
		return nil, err
	}
	if req.Urgent == nil {
		return nil, newValidationError("urgent", "urgent field is required")
	}
	if err := ValidateExtraAttributes(req.ExtraAttributes, s.opts.extraLimits); err != nil {
		return nil, err
	}

	extra := req.ExtraAttributes
	if extra == nil {
		extra = map[string]any{}
	}
	return &CreateRequest{
		Target:          target,
		Sender:          sender,
		Title:           req.Title,
		Urgent:          Bool(*req.Urgent),
		ExtraAttributes: extra,
	}, nil
}

// now returns the publication timestamp for a new message.
func (s *service) now() time.Time {
	return s.opts.clock().UTC().Truncate(time.Millisecond)
}

func (s *service) GetAll(ctx context.Context, page, size int) (*MessageStream, error) {
	return s.list(ctx, SearchNone, "", page, size)
}

func (s *service) GetByRecipient(ctx context.Context, email string, page, size int) (*MessageStream, error) {
	return s.list(ctx, SearchByRecipient, email, page, size)
}

func (s *service) GetBySender(ctx context.Context, email string, page, size int) (*MessageStream, error) {
	return s.list(ctx, SearchBySender, email, page, size)
}

func (s *service) GetUrgent(ctx context.Context, page, size int) (*MessageStream, error) {
	return s.list(ctx, SearchByUrgent, "", page, size)
}

func (s *service) GetUrgentByRecipient(ctx context.Context, email string, page, size int) (*MessageStream, error) {
	return s.list(ctx, SearchUrgentOnlyByRecipient, email, page, size)
}

func (s *service) GetUrgentBySender(ctx context.Context, email string, page, size int) (*MessageStream, error) {
	return s.list(ctx, SearchUrgentOnlyBySender, email, page, size)
}

func (s *service) Search(ctx context.Context, req SearchRequest) (*MessageStream, error) {
	page, size := req.PageAndSize()
	return s.list(ctx, req.Mode, req.Value, page, size)
}

// list resolves a search and returns an unopened stream over its results.
// The span and metrics cover the stream's whole life.
func (s *service) list(ctx context.Context, mode SearchMode, value string, page, size int) (*MessageStream, error) {
	start := time.Now()
	spanCtx, end := s.otel.startSpan(ctx, "bulletin.list",
		attribute.String("mode", modeLabel(mode)),
		attribute.Int("page", page),
		attribute.Int("size", size),
	)
	done := func(count int, err error) {
		end(err)
		s.otel.recordList(ctx, time.Since(start), mode, count, err)
	}

	if err := s.checkAccess(); err != nil {
		done(0, err)
		return nil, err
	}

	rq, err := ResolveQuery(mode, value, page, size)
	if err != nil {
		done(0, err)
		return nil, err
	}

	span := trace.SpanFromContext(spanCtx)
	if rq.IsLookup() {
		return newMessageStream(s.openLookup(span, rq.ID), done), nil
	}
	return newMessageStream(s.openPage(span, rq.Query), done), nil
}

// openPage and openLookup run under the caller's ctx passed to Next, with
// span as the parent of any store spans.
func (s *service) openPage(span trace.Span, q store.Query) openFunc {
	return func(ctx context.Context) (store.Cursor, error) {
		ctx = trace.ContextWithSpan(ctx, span)
		if err := s.checkAccess(); err != nil {
			return nil, err
		}
		c, err := s.store.FindPage(ctx, q)
		if err != nil {
			return nil, storeError("find_page", err)
		}
		return c, nil
	}
}

func (s *service) openLookup(span trace.Span, id string) openFunc {
	return func(ctx context.Context) (store.Cursor, error) {
		ctx = trace.ContextWithSpan(ctx, span)
		rec, err := s.findByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return store.NewSliceCursor(nil), nil
		}
		return store.NewSliceCursor([]*store.Record{rec}), nil
	}
}

// GetByID looks a message up by id.
func (s *service) GetByID(ctx context.Context, id string) (msg *Message, err error) {
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "bulletin.get", attribute.String("message_id", id))
	defer func() {
		end(err)
		s.otel.recordGet(ctx, time.Since(start), msg != nil, err)
	}()

	if strings.TrimSpace(id) == "" {
		return nil, newValidationError("id", "id value is required")
	}

	rec, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToView(rec), nil
}

// findByID returns (nil, nil) when the store has no record with id.
func (s *service) findByID(ctx context.Context, id string) (*store.Record, error) {
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, storeError("find_by_id", err)
	}
	return rec, nil
}

// DeleteAll removes every message. Creates racing with it may or may not
// survive.
func (s *service) DeleteAll(ctx context.Context) (err error) {
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "bulletin.delete_all")
	var deleted int64
	defer func() {
		end(err)
		s.otel.recordDelete(ctx, time.Since(start), deleted, err)
	}()

	if err := s.checkAccess(); err != nil {
		return err
	}

	if err := s.writeSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.writeSem.Release(1)

	deleted, err = s.store.DeleteAll(ctx)
	if err != nil {
		return storeError("delete_all", err)
	}

	s.logger.Info("messages cleared", "deleted", deleted)

	if pubErr := s.events.MessagesCleared.Publish(ctx, MessagesClearedEvent{
		Deleted:   deleted,
		ClearedAt: s.now(),
	}); pubErr != nil {
		if s.opts.eventErrorsFatal {
			return &EventPublishError{Event: "MessagesCleared", Err: pubErr}
		}
		s.opts.safeEventPublishFailure("MessagesCleared", pubErr)
	}
	return nil
}
