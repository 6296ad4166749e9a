package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/maorm36/bulletin"
)

// createPayload is the wire form of a create request. moreDetails is an
// accepted alias for extraAttributes.
type createPayload struct {
	Target          string         `json:"target"`
	Sender          string         `json:"sender"`
	Title           string         `json:"title"`
	Urgent          *bool          `json:"urgent"`
	ExtraAttributes map[string]any `json:"extraAttributes"`
	MoreDetails     map[string]any `json:"moreDetails"`
}

func (p *createPayload) toRequest() *bulletin.CreateRequest {
	if p == nil {
		return nil
	}
	extra := p.ExtraAttributes
	if extra == nil {
		extra = p.MoreDetails
	}
	return &bulletin.CreateRequest{
		Target:          p.Target,
		Sender:          p.Sender,
		Title:           p.Title,
		Urgent:          p.Urgent,
		ExtraAttributes: extra,
	}
}

// CreateMessage handles POST /messages.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var payload *createPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		h.JSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	msg, err := h.svc.Create(r.Context(), payload.toRequest())
	if err != nil {
		if _, ok := bulletin.IsEventPublishError(err); ok && msg != nil {
			h.logger.Warn("message created but event not published", "id", msg.ID, "error", err)
			h.JSON(w, http.StatusOK, msg)
			return
		}
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}

// ListMessages handles GET /messages?search=&value=&page=&size= and streams
// matching messages as server-sent events.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := bulletin.SearchRequest{
		Mode:  bulletin.SearchMode(q.Get("search")),
		Value: q.Get("value"),
	}
	var err error
	if req.Page, err = intParam(q, "page"); err != nil {
		h.JSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "page"})
		return
	}
	if req.Size, err = intParam(q, "size"); err != nil {
		h.JSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "size"})
		return
	}

	ctx := r.Context()
	stream, err := h.svc.Search(ctx, req)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	defer stream.Close(ctx)

	// Pull the first message before committing to a status code so a
	// failing store still gets a proper error response.
	ok, err := stream.Next(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.Error(w, r, err)
		}
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ok {
		msg, _ := stream.Message()
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("encode message", "id", msg.ID, "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		ok, err = stream.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Error("stream interrupted", "error", err, "sent", stream.Count())
				fmt.Fprint(w, "event: error\ndata: {\"error\":\"internal error\"}\n\n")
			}
			return
		}
	}
}

// DeleteMessages handles DELETE /messages.
func (h *Handler) DeleteMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAll(r.Context()); err != nil {
		if _, ok := bulletin.IsEventPublishError(err); !ok {
			h.Error(w, r, err)
			return
		}
		h.logger.Warn("messages cleared but event not published", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

// intParam returns nil when key is absent so the service default applies.
func intParam(q url.Values, key string) (*int, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &n, nil
}
