package bulletin

import (
	"time"
)

// Message is the outward view of a bulletin message.
//
// Message is a snapshot; the stored record never changes after creation.
type Message struct {
	ID                   string         `json:"id"`
	Target               string         `json:"target"`
	Sender               string         `json:"sender"`
	Title                string         `json:"title"`
	PublicationTimestamp time.Time      `json:"publicationTimestamp"`
	Urgent               bool           `json:"urgent"`
	ExtraAttributes      map[string]any `json:"extraAttributes"`
}

// CreateRequest is the client payload for creating a message.
// Identity and publication time are always assigned by the service.
type CreateRequest struct {
	Target string `json:"target"`
	Sender string `json:"sender"`
	Title  string `json:"title"`
	// Urgent must be set explicitly; nil means the client omitted it.
	Urgent *bool `json:"urgent"`
	// ExtraAttributes is stored as given and never schema-checked. Create
	// does bound its shape: at most DefaultMaxExtraKeys keys, each at most
	// DefaultMaxExtraKeyLength bytes, and DefaultMaxExtraSize bytes of JSON
	// in total. Keys must be non-empty and values JSON-encodable.
	// WithMaxExtraKeys and WithMaxExtraSize change the limits; a violation
	// is a *ValidationError on field "extraAttributes".
	ExtraAttributes map[string]any `json:"extraAttributes,omitempty"`
}

// Bool returns a pointer to b, for filling CreateRequest.Urgent.
func Bool(b bool) *bool {
	return &b
}
