package list

import (
	"errors"
	"fmt"
	"strings"
)

type Op string

const (
	OpEqual Op = "eq"
	OpIn    Op = "in"
	OpText  Op = "text"
	OpRange Op = "range"
)

// SearchKey is the FilterSpec key holding the free-text search predicate.
const SearchKey = "search"

// Predicate is a single field constraint.
type Predicate struct {
	Op Op `json:"op"`

	// Values holds the single value of OpEqual or the allowed set of OpIn.
	Values []string `json:"values,omitempty"`

	// Text is the needle of OpText.
	Text string `json:"text,omitempty"`

	// Across lists the fields an OpText predicate searches. When empty the
	// predicate's own key is searched.
	Across []string `json:"across,omitempty"`

	// From and To are the inclusive bounds of OpRange. Empty means unbounded.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func Equal(v string) Predicate       { return Predicate{Op: OpEqual, Values: []string{v}} }
func In(values ...string) Predicate  { return Predicate{Op: OpIn, Values: values} }
func Contains(text string) Predicate { return Predicate{Op: OpText, Text: text} }
func Between(from, to string) Predicate {
	return Predicate{Op: OpRange, From: from, To: to}
}

// Search is a text predicate matching when any of fields contains text.
func Search(text string, fields ...string) Predicate {
	return Predicate{Op: OpText, Text: text, Across: fields}
}

// IsEmpty reports whether p imposes no constraint.
func (p Predicate) IsEmpty() bool {
	switch p.Op {
	case OpEqual:
		return len(p.Values) == 0 || p.Values[0] == ""
	case OpIn:
		return len(p.Values) == 0
	case OpText:
		return strings.TrimSpace(p.Text) == ""
	case OpRange:
		return p.From == "" && p.To == ""
	}
	return true
}

// FilterSpec maps a field name to its predicate. Present predicates are
// AND-ed; absent or empty ones impose nothing.
type FilterSpec map[string]Predicate

// Active returns the non-empty predicates keyed by field.
func (s FilterSpec) Active() FilterSpec {
	out := FilterSpec{}
	for k, p := range s {
		if !p.IsEmpty() {
			out[k] = p
		}
	}
	return out
}

type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

var (
	ErrInvalidSortOrder  = errors.New("sort order must be 'asc' or 'desc'")
	ErrInvalidSortFormat = errors.New("invalid sort format: use 'field' or 'field:order'")
)

// SortSpec is the single active sort field and its direction. An empty
// Field keeps input order.
type SortSpec struct {
	Field string `json:"field,omitempty"`
	Order Order  `json:"order,omitempty"`
}

func (s SortSpec) String() string {
	if s.Field == "" {
		return ""
	}
	if s.Order == "" {
		return s.Field
	}
	return s.Field + ":" + string(s.Order)
}

// ParseOrder accepts asc/desc in any case. Empty means ascending.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return "", fmt.Errorf("%w: got %q", ErrInvalidSortOrder, s)
}

// ParseSort parses "field" or "field:order".
func ParseSort(s string) (SortSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SortSpec{}, nil
	}
	field, order, hasOrder := strings.Cut(s, ":")
	if strings.Contains(order, ":") {
		return SortSpec{}, fmt.Errorf("%w: %q", ErrInvalidSortFormat, s)
	}
	field = strings.TrimSpace(field)
	if field == "" {
		return SortSpec{}, fmt.Errorf("%w: %q", ErrInvalidSortFormat, s)
	}
	spec := SortSpec{Field: field, Order: Ascending}
	if hasOrder {
		o, err := ParseOrder(order)
		if err != nil {
			return SortSpec{}, err
		}
		spec.Order = o
	}
	return spec, nil
}

// Query is a complete list request: filter, sort and page position.
type Query struct {
	Filter   FilterSpec `json:"filter,omitempty"`
	Sort     SortSpec   `json:"sort,omitempty"`
	Page     int        `json:"page,omitempty"`
	PageSize int        `json:"pageSize,omitempty"`
}

// Column names a field and the header it is rendered under.
type Column struct {
	Key    string `json:"key"`
	Header string `json:"header"`
}
