package store

import (
	"fmt"
	"math"
	"strings"
)

// SortOrder represents the sort direction.
type SortOrder int

const (
	// SortAsc sorts in ascending order.
	SortAsc SortOrder = 1
	// SortDesc sorts in descending order.
	SortDesc SortOrder = -1
)

func (o SortOrder) String() string {
	if o == SortAsc {
		return "asc"
	}
	return "desc"
}

// Storage field keys shared by all backends.
const (
	FieldID                   = "id"
	FieldTarget               = "target"
	FieldSender               = "sender"
	FieldTitle                = "title"
	FieldPublicationTimestamp = "publication_timestamp"
	FieldUrgent               = "urgent"
	FieldExtraAttributes      = "extra_attributes"
)

// SortKey is one component of an ordering.
type SortKey struct {
	Field string
	Order SortOrder
}

// DefaultSort is the ordering applied to every listing: newest first, ties
// broken by ascending id.
var DefaultSort = []SortKey{
	{Field: FieldPublicationTimestamp, Order: SortDesc},
	{Field: FieldID, Order: SortAsc},
}

// Filter describes which records a page is drawn from.
// Empty fields impose no constraint, so the zero Filter matches everything.
type Filter struct {
	// Target restricts results to records addressed to this email.
	Target string
	// Sender restricts results to records sent by this email.
	Sender string
	// UrgentOnly restricts results to records flagged urgent.
	UrgentOnly bool
}

// Matches reports whether rec satisfies the filter.
func (f Filter) Matches(rec *Record) bool {
	if rec == nil {
		return false
	}
	if f.Target != "" && rec.Target != f.Target {
		return false
	}
	if f.Sender != "" && rec.Sender != f.Sender {
		return false
	}
	if f.UrgentOnly && !rec.Urgent {
		return false
	}
	return true
}

func (f Filter) String() string {
	var parts []string
	if f.Target != "" {
		parts = append(parts, "target="+f.Target)
	}
	if f.Sender != "" {
		parts = append(parts, "sender="+f.Sender)
	}
	if f.UrgentOnly {
		parts = append(parts, "urgent")
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, ",")
}

// Query is a page request against the store.
type Query struct {
	Filter Filter
	// Sort defaults to DefaultSort when empty.
	Sort []SortKey
	Page int
	Size int
}

// Validate checks the page bounds, including that Offset does not overflow.
func (q Query) Validate() error {
	if q.Page < 0 {
		return fmt.Errorf("%w: page %d", ErrInvalidQuery, q.Page)
	}
	if q.Size <= 0 {
		return fmt.Errorf("%w: size %d", ErrInvalidQuery, q.Size)
	}
	if int64(q.Page) > math.MaxInt64/int64(q.Size) {
		return fmt.Errorf("%w: page %d out of range for size %d", ErrInvalidQuery, q.Page, q.Size)
	}
	return nil
}

// Offset returns the number of records preceding the page.
// Call Validate first; an out of range page makes the product wrap.
func (q Query) Offset() int64 {
	return int64(q.Page) * int64(q.Size)
}

// SortKeys returns q.Sort, or DefaultSort when none was set.
func (q Query) SortKeys() []SortKey {
	if len(q.Sort) == 0 {
		return DefaultSort
	}
	return q.Sort
}

// Compare orders two records by keys. It returns a negative number when a
// sorts before b, a positive number when after, and zero when equal.
func Compare(keys []SortKey, a, b *Record) int {
	for _, k := range keys {
		var c int
		switch k.Field {
		case FieldPublicationTimestamp:
			c = a.PublicationTimestamp.Compare(b.PublicationTimestamp)
		case FieldID:
			c = strings.Compare(a.ID, b.ID)
		case FieldTarget:
			c = strings.Compare(a.Target, b.Target)
		case FieldSender:
			c = strings.Compare(a.Sender, b.Sender)
		case FieldTitle:
			c = strings.Compare(a.Title, b.Title)
		case FieldUrgent:
			c = compareBool(a.Urgent, b.Urgent)
		}
		if c != 0 {
			if k.Order == SortDesc {
				return -c
			}
			return c
		}
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
