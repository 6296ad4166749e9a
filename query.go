package bulletin

import (
	"strings"

	"github.com/maorm36/bulletin/store"
)

// SearchMode names a listing a client can ask for.
type SearchMode string

// Search modes. SearchNone lists every message.
const (
	SearchNone                  SearchMode = ""
	SearchByRecipient           SearchMode = "byRecipient"
	SearchBySender              SearchMode = "bySender"
	SearchByID                  SearchMode = "byId"
	SearchByUrgent              SearchMode = "byUrgent"
	SearchUrgentOnlyByRecipient SearchMode = "urgentOnlyByRecipient"
	SearchUrgentOnlyBySender    SearchMode = "urgentOnlyBySender"
)

// Pagination defaults applied when a request leaves page or size unset.
const (
	DefaultPage = 0
	DefaultSize = 10
)

// modeDef describes how one search mode turns its value into a query.
type modeDef struct {
	needsValue bool
	lookup     bool   // identity lookup, not paged
	urgentOnly bool
	emailField string // "target" or "sender" when the value is an email
	valueName  string // field name reported by email validation
}

var searchModes = map[SearchMode]modeDef{
	SearchNone:                  {},
	SearchByRecipient:           {needsValue: true, emailField: store.FieldTarget, valueName: "recipientEmail"},
	SearchBySender:              {needsValue: true, emailField: store.FieldSender, valueName: "senderEmail"},
	SearchByID:                  {needsValue: true, lookup: true},
	SearchByUrgent:              {urgentOnly: true},
	SearchUrgentOnlyByRecipient: {needsValue: true, urgentOnly: true, emailField: store.FieldTarget, valueName: "recipientEmail"},
	SearchUrgentOnlyBySender:    {needsValue: true, urgentOnly: true, emailField: store.FieldSender, valueName: "senderEmail"},
}

// Valid reports whether m is a known search mode.
func (m SearchMode) Valid() bool {
	_, ok := searchModes[m]
	return ok
}

// SearchRequest is a transport-level listing request. Nil Page and Size
// take DefaultPage and DefaultSize.
type SearchRequest struct {
	Mode  SearchMode
	Value string
	Page  *int
	Size  *int
}

// PageAndSize returns the request's page and size with defaults applied.
func (r SearchRequest) PageAndSize() (int, int) {
	page, size := DefaultPage, DefaultSize
	if r.Page != nil {
		page = *r.Page
	}
	if r.Size != nil {
		size = *r.Size
	}
	return page, size
}

// ResolvedQuery is the outcome of resolving a search request: either an
// identity lookup (ID set) or a paged store query.
type ResolvedQuery struct {
	Mode  SearchMode
	ID    string
	Query store.Query
}

// IsLookup reports whether the query is a by-identity lookup.
func (r ResolvedQuery) IsLookup() bool {
	return searchModes[r.Mode].lookup
}

// ResolveQuery turns a mode, value and page window into a store query.
//
// Checks run in a fixed order and stop at the first failure: unknown mode
// or a value without a mode ("unsupported inputs"), missing value, page
// bounds, then email shape. byId is never paged and takes its value
// verbatim; byUrgent ignores any value.
func ResolveQuery(mode SearchMode, value string, page, size int) (ResolvedQuery, error) {
	def, ok := searchModes[mode]
	if !ok {
		return ResolvedQuery{}, newValidationError("search", "unsupported inputs")
	}
	blank := strings.TrimSpace(value) == ""
	if mode == SearchNone && !blank {
		return ResolvedQuery{}, newValidationError("search", "unsupported inputs")
	}
	if def.needsValue && blank {
		return ResolvedQuery{}, newValidationError("value", "value is required")
	}

	if def.lookup {
		return ResolvedQuery{Mode: mode, ID: value}, nil
	}

	if err := ValidatePage(page, size); err != nil {
		return ResolvedQuery{}, err
	}

	filter := store.Filter{UrgentOnly: def.urgentOnly}
	if def.emailField != "" {
		email, err := ValidateEmail(def.valueName, value)
		if err != nil {
			return ResolvedQuery{}, err
		}
		switch def.emailField {
		case store.FieldTarget:
			filter.Target = email
		case store.FieldSender:
			filter.Sender = email
		}
	}

	return ResolvedQuery{
		Mode: mode,
		Query: store.Query{
			Filter: filter,
			Sort:   store.DefaultSort,
			Page:   page,
			Size:   size,
		},
	}, nil
}
