package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/bus"
	"github.com/aep/healthdesk/kv"
	"github.com/aep/healthdesk/list"
)

func newTestStore(t *testing.T) (*Store, *bus.SoloBus) {
	t.Helper()

	db, err := kv.NewMemPebble()
	require.NoError(t, err)
	t.Cleanup(db.Close)

	v, err := NewValidator(map[string]map[string]any{
		"smtp": {
			"host": "string",
			"port": "uint64",
		},
	})
	require.NoError(t, err)

	b := bus.NewSolo()
	t.Cleanup(b.Close)

	s := New(db, b, v)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, b
}

func partner(id, name, region string, year int) map[string]any {
	return map[string]any{
		"id":         id,
		"partner":    name,
		"region":     region,
		"district":   "District " + id,
		"program":    "Outreach",
		"focusAreas": []string{"Diabetes"},
		"year":       year,
	}
}

func nextEvent(t *testing.T, ch <-chan bus.ListChanged) bus.ListChanged {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no list change published")
	}
	return bus.ListChanged{}
}

func TestCreateAssignsIdVersionAndDefaults(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	events, cancel := b.Subscribe(api.KindPartnerMapping)
	defer cancel()

	doc := partner("", "Health Org", "Northern", 2021)
	rec, err := s.Create(ctx, api.KindPartnerMapping, doc)
	require.NoError(t, err)

	pm := rec.(*api.PartnerMapping)
	_, err = uuid.Parse(pm.ID)
	assert.NoError(t, err)
	assert.Equal(t, api.KindPartnerMapping, pm.Kind)
	assert.Equal(t, uint64(1), pm.Version)
	assert.Equal(t, "active", pm.Status)
	require.NotNil(t, pm.History)
	assert.Equal(t, pm.History.Created, pm.History.Updated)
	assert.Equal(t, "", doc["id"], "caller's document is not modified")

	ev := nextEvent(t, events)
	assert.Equal(t, bus.OpCreate, ev.Op)
	assert.Equal(t, pm.ID, ev.ID)
	assert.Equal(t, uint64(1), ev.Version)

	got, err := s.Get(ctx, api.KindPartnerMapping, pm.ID)
	require.NoError(t, err)
	assert.Equal(t, "Health Org", got.(*api.PartnerMapping).Partner)
	assert.Equal(t, 2021, *got.(*api.PartnerMapping).Year)
}

func TestCreateExistingIdConflicts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, api.KindPartnerMapping, partner("pm-1", "A", "Northern", 2020))
	require.NoError(t, err)

	_, err = s.Create(ctx, api.KindPartnerMapping, partner("pm-1", "B", "Southern", 2020))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateRejectsInvalidDocuments(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		kind string
		doc  map[string]any
	}{
		{"missing partner", api.KindPartnerMapping, map[string]any{"region": "Northern"}},
		{"unknown field", api.KindPartnerMapping, map[string]any{"partner": "A", "region": "N", "color": "red"}},
		{"year out of range", api.KindPartnerMapping, map[string]any{"partner": "A", "region": "N", "year": 12}},
		{"bad status", api.KindUser, map[string]any{"name": "Ann", "email": "ann@example.org", "status": "sleeping"}},
		{"bad email", api.KindUser, map[string]any{"name": "Ann", "email": "nope"}},
		{"score above 100", api.KindSurvey, map[string]any{"title": "Q1", "score": 101}},
		{"wrong kind", api.KindNCD, map[string]any{"kind": "user", "code": "E11", "name": "Diabetes"}},
		{"bad id", api.KindNCD, map[string]any{"id": "a b", "code": "E11", "name": "Diabetes"}},
		{"export route id", api.KindNCD, map[string]any{"id": "export.csv", "code": "E11", "name": "Diabetes"}},
		{"suggest route id", api.KindNCD, map[string]any{"id": "suggest", "code": "E11", "name": "Diabetes"}},
		{"setting values", api.KindSetting, map[string]any{"group": "smtp", "values": map[string]any{"host": "mail", "port": "twenty-five"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.kind, tt.doc)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := s.Create(ctx, "planet", map[string]any{})
	assert.ErrorIs(t, err, api.ErrUnknownKind)
}

func TestCreateSettings(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, api.KindSetting, map[string]any{
		"id":     "smtp.primary",
		"group":  "smtp",
		"values": map[string]any{"host": "mail.example.org", "port": json.Number("25")},
	})
	require.NoError(t, err)
	v, ok := rec.Field("values.host")
	assert.True(t, ok)
	assert.Equal(t, "mail.example.org", v.String())

	// groups without a schema take any values
	_, err = s.Create(ctx, api.KindSetting, map[string]any{
		"group":  "ui",
		"values": map[string]any{"theme": "dark", "compact": true},
	})
	assert.NoError(t, err)
}

func TestUpdate(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, api.KindPartnerMapping, partner("pm-1", "A", "Northern", 2020))
	require.NoError(t, err)

	events, cancel := b.Subscribe(bus.AllKinds)
	defer cancel()

	rec, changed, err := s.Update(ctx, api.KindPartnerMapping, "pm-1", map[string]any{
		"year":     json.Number("2022"),
		"district": nil,
		"version":  json.Number("1"),
	})
	require.NoError(t, err)
	assert.True(t, changed)

	pm := rec.(*api.PartnerMapping)
	assert.Equal(t, 2022, *pm.Year)
	assert.Equal(t, "", pm.District)
	assert.Equal(t, uint64(2), pm.Version)

	ev := nextEvent(t, events)
	assert.Equal(t, bus.OpUpdate, ev.Op)
	assert.Equal(t, uint64(2), ev.Version)

	// same values again: nothing to do
	rec, changed, err = s.Update(ctx, api.KindPartnerMapping, "pm-1", map[string]any{"year": 2022})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, uint64(2), rec.GetMeta().Version)
	select {
	case ev := <-events:
		t.Fatalf("no-op update published %+v", ev)
	default:
	}

	_, _, err = s.Update(ctx, api.KindPartnerMapping, "pm-1", map[string]any{"year": 2023, "version": 1})
	assert.ErrorIs(t, err, ErrConflict)

	_, _, err = s.Update(ctx, api.KindPartnerMapping, "pm-1", map[string]any{"id": "pm-2"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = s.Update(ctx, api.KindPartnerMapping, "pm-1", map[string]any{"partner": nil})
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = s.Update(ctx, api.KindPartnerMapping, "pm-9", map[string]any{"year": 2023})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(ctx, api.KindPartnerMapping, "pm-1")
	require.NoError(t, err)
	assert.Equal(t, 2022, *got.(*api.PartnerMapping).Year)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, api.KindNCD, map[string]any{"id": "e11", "code": "E11", "name": "Type 2 diabetes"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, api.KindNCD, "e11"))
	assert.ErrorIs(t, s.Delete(ctx, api.KindNCD, "e11"), ErrNotFound)

	_, err = s.Get(ctx, api.KindNCD, "e11")
	assert.ErrorIs(t, err, ErrNotFound)
}

// twelve partner mappings over four regions
func seedPartners(t *testing.T, s *Store) {
	t.Helper()
	regions := []string{"Northern", "Southern", "Eastern", "Western"}
	for i := range 12 {
		name := fmt.Sprintf("Partner %02d", i)
		if i == 4 {
			name = "Global Health Alliance"
		}
		_, err := s.Create(context.Background(), api.KindPartnerMapping,
			partner(fmt.Sprintf("pm-%02d", i), name, regions[i%4], 2015+i))
		require.NoError(t, err)
	}
}

func TestFetchFilterSearchSortPage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedPartners(t, s)

	all, err := s.All(ctx, api.KindPartnerMapping)
	require.NoError(t, err)
	assert.Len(t, all, 12)

	page, err := s.Fetch(ctx, api.KindPartnerMapping, list.Query{
		Filter: list.FilterSpec{"region": list.Equal("Northern")},
		Sort:   list.SortSpec{Field: "year", Order: list.Descending},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pm-08", "pm-04", "pm-00"}, keys(page.Items))
	assert.Equal(t, 3, page.Pagination.TotalItems)
	assert.Equal(t, 1, page.Pagination.TotalPages)
	assert.Equal(t, 1, page.Pagination.CurrentPage)

	page, err = s.Fetch(ctx, api.KindPartnerMapping, list.Query{
		Filter: list.FilterSpec{
			"region":       list.Equal("Northern"),
			list.SearchKey: list.Contains("health"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pm-04"}, keys(page.Items))

	page, err = s.Fetch(ctx, api.KindPartnerMapping, list.Query{Page: 9, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pagination.CurrentPage)
	assert.Equal(t, []string{"pm-10", "pm-11"}, keys(page.Items))
	assert.Len(t, page.Matched, 12)
}

func keys(recs []api.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key()
	}
	return out
}
