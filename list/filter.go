package list

import (
	"strings"
	"time"
)

// Filter returns the rows matching every active predicate of spec, in input
// order. An empty spec returns rows unchanged.
func Filter[R Row](rows []R, spec FilterSpec) []R {
	active := spec.Active()
	if len(active) == 0 {
		return rows
	}

	out := make([]R, 0, len(rows))
	for _, row := range rows {
		if Match(row, active) {
			out = append(out, row)
		}
	}
	return out
}

// Match reports whether row satisfies every predicate of spec.
func Match(row Row, spec FilterSpec) bool {
	for key, p := range spec {
		if p.IsEmpty() {
			continue
		}
		if !matchPredicate(row, key, p) {
			return false
		}
	}
	return true
}

func matchPredicate(row Row, key string, p Predicate) bool {
	if p.Op == OpText {
		return matchText(row, key, p)
	}

	v, ok := row.Field(key)
	if !ok {
		// unknown field for this kind: no constraint
		return true
	}

	switch p.Op {
	case OpEqual:
		return matchValue(v, p.Values[0])
	case OpIn:
		for _, want := range p.Values {
			if matchValue(v, want) {
				return true
			}
		}
		return false
	case OpRange:
		return matchRange(v, p.From, p.To)
	}
	return true
}

func matchText(row Row, key string, p Predicate) bool {
	fields := p.Across
	if len(fields) == 0 {
		fields = []string{key}
	}

	needle := Fold(strings.TrimSpace(p.Text))
	known := false
	for _, f := range fields {
		v, ok := row.Field(f)
		if !ok {
			continue
		}
		known = true
		if strings.Contains(Fold(v.String()), needle) {
			return true
		}
	}
	return !known
}

func matchValue(v Value, want string) bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindNumber:
		if f, ok := Text(want).number(); ok {
			return f == v.Num
		}
	case KindDate:
		if want == v.String() {
			return true
		}
		if t, ok := ParseDate(want); ok {
			return t.Equal(v.Time)
		}
		return false
	case KindList:
		w := Fold(want)
		for _, item := range v.List {
			if Fold(item) == w {
				return true
			}
		}
		return false
	}
	return Fold(v.String()) == Fold(want)
}

func matchRange(v Value, from, to string) bool {
	lo, hasLo := Text(from).number()
	hi, hasHi := Text(to).number()
	dlo, hasDlo := lowerDate(from)
	dhi, hasDhi := upperDate(to)

	switch v.Kind {
	case KindNull:
		// null only fails when some bound can be evaluated
		return !(hasLo || hasHi || hasDlo || hasDhi)
	case KindNumber:
		return (!hasLo || v.Num >= lo) && (!hasHi || v.Num <= hi)
	case KindDate:
		return (!hasDlo || !v.Time.Before(dlo)) && (!hasDhi || v.Time.Before(dhi))
	}

	if n, ok := v.number(); ok && (hasLo || hasHi) {
		return (!hasLo || n >= lo) && (!hasHi || n <= hi)
	}
	if t, ok := v.date(); ok && (hasDlo || hasDhi) {
		return (!hasDlo || !t.Before(dlo)) && (!hasDhi || t.Before(dhi))
	}
	if v.IsNull() {
		return !(hasLo || hasHi || hasDlo || hasDhi)
	}

	s := Fold(v.String())
	return (from == "" || s >= Fold(from)) && (to == "" || s <= Fold(to))
}

// dateBound parses a range bound. Besides full dates and timestamps it
// accepts a year (2023) or a month (2023-04), which cover the whole period:
// lo is its first instant and hi the first instant after it.
func dateBound(s string) (lo, hi time.Time, ok bool) {
	s = strings.TrimSpace(s)
	for _, p := range []struct {
		layout        string
		years, months int
		days          int
	}{
		{"2006", 1, 0, 0},
		{"2006-01", 0, 1, 0},
		{DateLayout, 0, 0, 1},
	} {
		if len(s) != len(p.layout) {
			continue
		}
		if t, err := time.Parse(p.layout, s); err == nil {
			return t, t.AddDate(p.years, p.months, p.days), true
		}
	}
	t, ok := ParseDate(s)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return t, t.Add(time.Nanosecond), true
}

func lowerDate(s string) (time.Time, bool) {
	lo, _, ok := dateBound(s)
	return lo, ok
}

// upperDate returns the exclusive upper instant for an inclusive bound.
func upperDate(s string) (time.Time, bool) {
	_, hi, ok := dateBound(s)
	return hi, ok
}
