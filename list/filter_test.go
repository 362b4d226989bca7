package list

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRow map[string]Value

func (r testRow) Key() string { return r["id"].String() }

func (r testRow) Field(name string) (Value, bool) {
	v, ok := r[name]
	return v, ok
}

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func keys[R Row](rows []R) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Key())
	}
	return out
}

func fixtureRows() []testRow {
	return []testRow{
		{"id": Text("1"), "name": Text("Health Access"), "region": Text("Northern"), "year": Number(2019), "tags": List([]string{"hiv", "ncd"}), "at": Date(day("2024-01-10"))},
		{"id": Text("2"), "name": Text("Clean Water"), "region": Text("Southern"), "year": Number(2021), "tags": List([]string{"wash"}), "at": Date(day("2024-02-01"))},
		{"id": Text("3"), "name": Text("Mobile Clinics"), "region": Text("northern"), "year": Number(2023), "tags": List(nil), "at": Date(day("2024-03-15"))},
		{"id": Text("4"), "name": Text("Diabetes Care"), "region": Text("Eastern"), "year": Number(2020), "tags": List([]string{"ncd"}), "at": Null()},
	}
}

func TestFilterEmptySpecIsIdentity(t *testing.T) {
	rows := fixtureRows()

	assert.Equal(t, rows, Filter(rows, nil))
	assert.Equal(t, rows, Filter(rows, FilterSpec{}))
	assert.Equal(t, rows, Filter(rows, FilterSpec{"region": In(), "name": Contains("  ")}))
}

func TestFilterIsIdempotent(t *testing.T) {
	rows := fixtureRows()
	specs := []FilterSpec{
		{"region": Equal("Northern")},
		{"tags": Contains("nc"), "year": Between("2019", "2020")},
		{SearchKey: Search("care", "name", "tags")},
	}
	for _, spec := range specs {
		once := Filter(rows, spec)
		assert.Equal(t, once, Filter(once, spec))
	}
}

func TestFilterEqualIsCaseInsensitive(t *testing.T) {
	got := Filter(fixtureRows(), FilterSpec{"region": Equal("NORTHERN")})
	assert.Equal(t, []string{"1", "3"}, keys(got))
}

func TestFilterMembership(t *testing.T) {
	got := Filter(fixtureRows(), FilterSpec{"region": In("Southern", "Eastern")})
	assert.Equal(t, []string{"2", "4"}, keys(got))

	got = Filter(fixtureRows(), FilterSpec{"tags": In("wash", "hiv")})
	assert.Equal(t, []string{"1", "2"}, keys(got))
}

func TestFilterTextJoinsArrays(t *testing.T) {
	got := Filter(fixtureRows(), FilterSpec{"tags": Contains("HIV, NCD")})
	assert.Equal(t, []string{"1"}, keys(got))
}

func TestFilterAndAcrossFields(t *testing.T) {
	got := Filter(fixtureRows(), FilterSpec{
		"region": Equal("northern"),
		"name":   Contains("clinic"),
	})
	assert.Equal(t, []string{"3"}, keys(got))
}

func TestFilterNumericRangeInclusive(t *testing.T) {
	got := Filter(fixtureRows(), FilterSpec{"year": Between("2020", "2021")})
	assert.Equal(t, []string{"2", "4"}, keys(got))

	got = Filter(fixtureRows(), FilterSpec{"year": Between("2021", "")})
	assert.Equal(t, []string{"2", "3"}, keys(got))

	got = Filter(fixtureRows(), FilterSpec{"year": Between("", "2019")})
	assert.Equal(t, []string{"1"}, keys(got))
}

func TestFilterDateRangeIncludesWholeLastDay(t *testing.T) {
	got := Filter(fixtureRows(), FilterSpec{"at": Between("2024-01-10", "2024-02-01")})
	assert.Equal(t, []string{"1", "2"}, keys(got))
}

func TestFilterDateRangeExcludesNull(t *testing.T) {
	got := Filter(fixtureRows(), FilterSpec{"at": Between("2000-01-01", "")})
	assert.Equal(t, []string{"1", "2", "3"}, keys(got))
}

func TestFilterUnparseableBoundIsIgnored(t *testing.T) {
	got := Filter(fixtureRows(), FilterSpec{"year": Between("soon", "")})
	assert.Len(t, got, 4)
}

func TestFilterDateRangeAcceptsYearAndMonth(t *testing.T) {
	tests := []struct {
		from, to string
		want     []string
	}{
		{"2024-02", "", []string{"2", "3"}},
		{"", "2024-01", []string{"1"}},
		{"2024", "2024", []string{"1", "2", "3"}},
		{"2023", "2023", []string{}},
		{"2024-01-10", "2024-02-01", []string{"1", "2"}},
	}
	for _, tt := range tests {
		got := Filter(fixtureRows(), FilterSpec{"at": Between(tt.from, tt.to)})
		assert.Equal(t, tt.want, keys(got), "%s..%s", tt.from, tt.to)
	}
}

func TestFilterUnknownFieldIsNoop(t *testing.T) {
	got := Filter(fixtureRows(), FilterSpec{"nope": Equal("x"), "region": Equal("Eastern")})
	assert.Equal(t, []string{"4"}, keys(got))
}

func TestFilterSearchAcrossFields(t *testing.T) {
	got := Filter(fixtureRows(), FilterSpec{SearchKey: Search("ncd", "name", "tags")})
	assert.Equal(t, []string{"1", "4"}, keys(got))

	got = Filter(fixtureRows(), FilterSpec{SearchKey: Search("water", "name", "unknown")})
	assert.Equal(t, []string{"2"}, keys(got))
}

func TestParseSort(t *testing.T) {
	s, err := ParseSort("year:DESC")
	require.NoError(t, err)
	assert.Equal(t, SortSpec{Field: "year", Order: Descending}, s)

	s, err = ParseSort("name")
	require.NoError(t, err)
	assert.Equal(t, SortSpec{Field: "name", Order: Ascending}, s)

	s, err = ParseSort("")
	require.NoError(t, err)
	assert.Equal(t, SortSpec{}, s)

	_, err = ParseSort("name:up")
	assert.ErrorIs(t, err, ErrInvalidSortOrder)

	_, err = ParseSort(":asc")
	assert.ErrorIs(t, err, ErrInvalidSortFormat)

	_, err = ParseSort("a:b:c")
	assert.ErrorIs(t, err, ErrInvalidSortFormat)
}
