package list

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DateLayout is the textual form of date values in filters and exports.
const DateLayout = "2006-01-02"

// ListSeparator joins array values into their string form.
const ListSeparator = ", "

type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindText
	KindNumber
	KindDate
	KindList
)

// Value is a single typed field value of a row.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Time time.Time
	List []string
}

func Null() Value               { return Value{} }
func Text(s string) Value       { return Value{Kind: KindText, Str: s} }
func Number(f float64) Value    { return Value{Kind: KindNumber, Num: f} }
func List(items []string) Value { return Value{Kind: KindList, List: items} }

// Date returns a date value, or Null for the zero time.
func Date(t time.Time) Value {
	if t.IsZero() {
		return Value{}
	}
	return Value{Kind: KindDate, Time: t}
}

func (v Value) IsNull() bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindList:
		return len(v.List) == 0
	}
	return false
}

// String is the canonical string form used for text matching, string
// comparison and CSV cells.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindDate:
		return v.Time.Format(DateLayout)
	case KindList:
		return strings.Join(v.List, ListSeparator)
	}
	return ""
}

// number reports the numeric form of v. Text that parses as a number counts.
func (v Value) number() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func (v Value) date() (time.Time, bool) {
	switch v.Kind {
	case KindDate:
		return v.Time, true
	case KindText:
		return ParseDate(v.Str)
	}
	return time.Time{}, false
}

// ParseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Fold returns the case-folded form of s used for every case-insensitive
// comparison in this package.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Row is a record as seen by the list engines.
type Row interface {
	// Key is the stable unique key of the row.
	Key() string
	// Field returns the named value. ok is false when the field is unknown
	// to the row's kind; a known but empty field returns Null and true.
	Field(name string) (v Value, ok bool)
}
