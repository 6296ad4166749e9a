package bulletin

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/maorm36/bulletin/store"
	"github.com/maorm36/bulletin/store/memory"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"
)

// namedSpan is a non-recording span with its own span ID.
type namedSpan struct {
	noop.Span
	sc trace.SpanContext
}

func (s namedSpan) SpanContext() trace.SpanContext { return s.sc }

// namingTracer hands out sequential span IDs and remembers each span's name.
type namingTracer struct {
	embedded.Tracer
	next  atomic.Uint64
	mu    sync.Mutex
	names map[trace.SpanID]string
}

func (t *namingTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	var id trace.SpanID
	binary.BigEndian.PutUint64(id[:], t.next.Add(1))
	span := namedSpan{sc: trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     id,
		TraceFlags: trace.FlagsSampled,
	})}
	t.mu.Lock()
	t.names[id] = name
	t.mu.Unlock()
	return trace.ContextWithSpan(ctx, span), span
}

func (t *namingTracer) nameOf(id trace.SpanID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.names[id]
}

type namingTracerProvider struct {
	embedded.TracerProvider
	tracer *namingTracer
}

func (p namingTracerProvider) Tracer(string, ...trace.TracerOption) trace.Tracer { return p.tracer }

// spanRecordingStore records the span active in each read.
type spanRecordingStore struct {
	*memory.Store
	mu    sync.Mutex
	spans []trace.SpanID
}

func (s *spanRecordingStore) record(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, trace.SpanContextFromContext(ctx).SpanID())
}

func (s *spanRecordingStore) FindPage(ctx context.Context, q store.Query) (store.Cursor, error) {
	s.record(ctx)
	return s.Store.FindPage(ctx, q)
}

func (s *spanRecordingStore) FindByID(ctx context.Context, id string) (*store.Record, error) {
	s.record(ctx)
	return s.Store.FindByID(ctx, id)
}

func (s *spanRecordingStore) last() trace.SpanID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.spans) == 0 {
		return trace.SpanID{}
	}
	return s.spans[len(s.spans)-1]
}

func TestListStoreCallsRunUnderListSpan(t *testing.T) {
	ctx := context.Background()
	tracer := &namingTracer{names: make(map[trace.SpanID]string)}
	st := &spanRecordingStore{Store: memory.New()}

	svc, err := NewService(
		WithStore(st),
		WithTracing(true),
		WithTracerProvider(namingTracerProvider{tracer: tracer}),
	)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })

	msg := mustCreate(t, svc, "a@b.co", "c@d.co", true)

	tests := []struct {
		name string
		list func() (*MessageStream, error)
	}{
		{"page", func() (*MessageStream, error) { return svc.GetAll(ctx, 0, 10) }},
		{"lookup", func() (*MessageStream, error) {
			return svc.Search(ctx, SearchRequest{Mode: SearchByID, Value: msg.ID})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, err := tt.list()
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			// Drain with a context that carries no span of its own.
			msgs, err := stream.Collect(context.Background())
			if err != nil {
				t.Fatalf("collect: %v", err)
			}
			if len(msgs) != 1 {
				t.Fatalf("expected 1 message, got %d", len(msgs))
			}
			if got := tracer.nameOf(st.last()); got != "bulletin.list" {
				t.Errorf("store read ran under span %q, want bulletin.list", got)
			}
		})
	}
}
