package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maorm36/bulletin"
	"github.com/maorm36/bulletin/store"
	"github.com/maorm36/bulletin/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, st store.Store) (http.Handler, bulletin.Service) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	svc, err := bulletin.NewService(bulletin.WithStore(st), bulletin.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background()))
	t.Cleanup(func() { svc.Close(context.Background()) })
	return NewRouter(svc, logger, nil), svc
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// readEvents returns the data payload of every SSE event in body.
func readEvents(t *testing.T, body string) []bulletin.Message {
	t.Helper()
	var out []bulletin.Message
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var m bulletin.Message
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
		out = append(out, m)
	}
	return out
}

func TestCreateMessage(t *testing.T) {
	h, _ := newTestServer(t, memory.New())

	rec := do(t, h, http.MethodPost, "/messages",
		`{"target":" Bob@Example.com","sender":"alice@example.com","title":"hi","urgent":true,"moreDetails":{"room":"4B"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var msg bulletin.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "bob@example.com", msg.Target)
	assert.True(t, msg.Urgent)
	assert.Equal(t, "4B", msg.ExtraAttributes["room"])
	assert.False(t, msg.PublicationTimestamp.IsZero())
}

func TestCreateMessageErrors(t *testing.T) {
	h, _ := newTestServer(t, memory.New())

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"empty body", "", "message"},
		{"null body", "null", "message"},
		{"missing urgent", `{"target":"a@b.co","sender":"c@d.co","title":"t"}`, "urgent"},
		{"bad target", `{"target":"nope","sender":"c@d.co","title":"t","urgent":false}`, "target"},
		{"blank title", `{"target":"a@b.co","sender":"c@d.co","title":"","urgent":false}`, "title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.field, resp.Field)
			assert.NotEmpty(t, resp.Error)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/messages", `{"target":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid JSON body")
	})
}

func TestListMessagesStreamsEvents(t *testing.T) {
	h, svc := newTestServer(t, memory.New())
	ctx := context.Background()
	for i := range 3 {
		_, err := svc.Create(ctx, &bulletin.CreateRequest{
			Target: "bob@example.com",
			Sender: "alice@example.com",
			Title:  "t",
			Urgent: bulletin.Bool(i == 0),
		})
		require.NoError(t, err)
	}

	rec := do(t, h, http.MethodGet, "/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Len(t, readEvents(t, rec.Body.String()), 3)

	rec = do(t, h, http.MethodGet, "/messages?search=byUrgent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, readEvents(t, rec.Body.String()), 1)

	rec = do(t, h, http.MethodGet, "/messages?search=byRecipient&value=BOB%40example.com&page=0&size=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, readEvents(t, rec.Body.String()), 2)

	rec = do(t, h, http.MethodGet, "/messages?search=byRecipient&value=nobody%40example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, readEvents(t, rec.Body.String()))
}

func TestListMessagesByID(t *testing.T) {
	h, svc := newTestServer(t, memory.New())
	msg, err := svc.Create(context.Background(), &bulletin.CreateRequest{
		Target: "a@b.co", Sender: "c@d.co", Title: "t", Urgent: bulletin.Bool(false),
	})
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/messages?search=byId&value="+msg.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, msg.ID, events[0].ID)

	rec = do(t, h, http.MethodGet, "/messages?search=byId&value=missing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, readEvents(t, rec.Body.String()))
}

func TestListMessagesErrors(t *testing.T) {
	h, _ := newTestServer(t, memory.New())

	tests := []struct {
		name  string
		query string
		field string
	}{
		{"non-integer page", "?page=abc", "page"},
		{"non-integer size", "?size=1.5", "size"},
		{"negative page", "?page=-1", "page"},
		{"zero size", "?size=0", "size"},
		{"page offset overflows", "?page=4611686018427387904&size=3", "page"},
		{"unknown mode", "?search=byTitle&value=x", "search"},
		{"value without mode", "?value=a@b.co", "search"},
		{"mode without value", "?search=bySender", "value"},
		{"bad email", "?search=bySender&value=nope", "senderEmail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/messages"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.field, resp.Field)
		})
	}
}

// brokenStore fails every read.
type brokenStore struct {
	*memory.Store
}

func (brokenStore) FindPage(context.Context, store.Query) (store.Cursor, error) {
	return nil, errors.New("connection refused")
}

func TestListMessagesStoreFailure(t *testing.T) {
	h, _ := newTestServer(t, brokenStore{Store: memory.New()})

	rec := do(t, h, http.MethodGet, "/messages", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestDeleteMessages(t *testing.T) {
	h, svc := newTestServer(t, memory.New())
	_, err := svc.Create(context.Background(), &bulletin.CreateRequest{
		Target: "a@b.co", Sender: "c@d.co", Title: "t", Urgent: bulletin.Bool(true),
	})
	require.NoError(t, err)

	rec := do(t, h, http.MethodDelete, "/messages", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/messages", "")
	assert.Empty(t, readEvents(t, rec.Body.String()))
}

func TestHealth(t *testing.T) {
	h, svc := newTestServer(t, memory.New())

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	require.NoError(t, svc.Close(context.Background()))
	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodGet, "/messages", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
