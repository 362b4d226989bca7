package list

import (
	"slices"
	"strings"
)

// Sort returns a new slice ordered by spec. The input is not modified.
// Equal keys keep their input order in both directions.
func Sort[R Row](rows []R, spec SortSpec) []R {
	sorted := slices.Clone(rows)
	if spec.Field == "" {
		return sorted
	}

	sign := 1
	if spec.Order == Descending {
		sign = -1
	}

	slices.SortStableFunc(sorted, func(a, b R) int {
		av, _ := a.Field(spec.Field)
		bv, _ := b.Field(spec.Field)
		return sign * Compare(av, bv)
	})
	return sorted
}

// Compare orders two values by type: numbers numerically, dates by instant
// and everything else case-insensitively by string form. A pair that cannot
// be compared by type falls back to the string comparison.
func Compare(a, b Value) int {
	if a.Kind == KindDate || b.Kind == KindDate {
		at, aok := a.date()
		bt, bok := b.date()
		if aok && bok {
			return at.Compare(bt)
		}
	} else if a.Kind != KindList && b.Kind != KindList {
		an, aok := a.number()
		bn, bok := b.number()
		if aok && bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(Fold(a.String()), Fold(b.String()))
}
