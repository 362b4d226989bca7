package view

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/bus"
	"github.com/aep/healthdesk/export"
	"github.com/aep/healthdesk/list"
)

func partners() []api.Record {
	regions := []string{"Northern", "Southern", "Eastern", "Western"}
	out := make([]api.Record, 12)
	for i := range 12 {
		year := 2015 + i
		name := fmt.Sprintf("Partner %02d", i)
		if i == 4 {
			name = "Global Health Alliance"
		}
		out[i] = &api.PartnerMapping{
			Meta:       api.Meta{ID: fmt.Sprintf("pm-%02d", i), Kind: api.KindPartnerMapping},
			Partner:    name,
			Region:     regions[i%4],
			Program:    "Outreach",
			FocusAreas: []string{"Diabetes"},
			Year:       &year,
		}
	}
	return out
}

func static(records []api.Record) Fetcher {
	return func(ctx context.Context, kind string) ([]api.Record, error) {
		return records, nil
	}
}

func ids(items []api.Record) []string {
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.Key()
	}
	return out
}

func TestViewFilterSearchSort(t *testing.T) {
	v, err := New(api.KindPartnerMapping, static(partners()))
	require.NoError(t, err)
	require.NoError(t, v.Refresh(context.Background()))

	snap := v.Snapshot()
	assert.True(t, snap.Loaded)
	assert.Equal(t, 12, snap.Page.TotalItems)
	assert.Equal(t, 2, snap.Page.TotalPages)

	v.SetFilter("region", list.Equal("Northern"))
	assert.Equal(t, []string{"pm-00", "pm-04", "pm-08"}, ids(v.Snapshot().Items))

	v.ToggleSort("year")
	v.ToggleSort("year")
	snap = v.Snapshot()
	assert.Equal(t, list.SortSpec{Field: "year", Order: list.Descending}, snap.Sort)
	assert.Equal(t, []string{"pm-08", "pm-04", "pm-00"}, ids(snap.Items))
	assert.Equal(t, 1, snap.Page.CurrentPage)
	assert.Equal(t, 1, snap.Page.TotalPages)

	v.SetSearch("health")
	snap = v.Snapshot()
	assert.Equal(t, []string{"pm-04"}, ids(snap.Items))
	assert.Equal(t, "health", snap.Search)

	v.SetFilter("region", list.Predicate{})
	v.SetSearch("")
	assert.Equal(t, 12, v.Snapshot().Page.TotalItems)
}

func TestViewFilterChangeResetsPage(t *testing.T) {
	v, err := New(api.KindPartnerMapping, static(partners()), WithPageSize(5))
	require.NoError(t, err)
	require.NoError(t, v.Refresh(context.Background()))

	v.LastPage()
	assert.Equal(t, 3, v.Snapshot().Page.CurrentPage)

	v.SetFilter("region", list.In("Northern", "Southern"))
	assert.Equal(t, 1, v.Snapshot().Page.CurrentPage)

	v.NextPage()
	assert.Equal(t, 2, v.Snapshot().Page.CurrentPage)
	v.SetSort(list.SortSpec{Field: "partner"})
	assert.Equal(t, 1, v.Snapshot().Page.CurrentPage)

	v.NextPage()
	v.SetSearch("partner")
	assert.Equal(t, 1, v.Snapshot().Page.CurrentPage)
}

func TestViewPageSizeChangeClamps(t *testing.T) {
	v, err := New(api.KindPartnerMapping, static(partners()), WithPageSize(5))
	require.NoError(t, err)
	require.NoError(t, v.Refresh(context.Background()))

	v.GoToPage(3)
	v.SetPageSize(10)
	snap := v.Snapshot()
	assert.Equal(t, 2, snap.Page.CurrentPage)
	assert.Equal(t, 11, snap.Page.Start)
	assert.Equal(t, 12, snap.Page.End)

	v.SetPageSize(4)
	assert.Equal(t, 2, v.Snapshot().Page.CurrentPage)
}

func TestViewLastRefreshWins(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	fresh := partners()
	stale := fresh[:2]

	fetch := func(ctx context.Context, kind string) ([]api.Record, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-release
			return stale, nil
		}
		return fresh, nil
	}

	v, err := New(api.KindPartnerMapping, fetch)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.Refresh(context.Background())
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, v.Refresh(context.Background()))
	close(release)
	<-done

	assert.Equal(t, 12, v.Snapshot().Page.TotalItems)
}

func TestViewFailedRefreshKeepsRecords(t *testing.T) {
	fail := false
	fetch := func(ctx context.Context, kind string) ([]api.Record, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return partners(), nil
	}

	v, err := New(api.KindPartnerMapping, fetch)
	require.NoError(t, err)
	require.NoError(t, v.Refresh(context.Background()))

	fail = true
	assert.Error(t, v.Refresh(context.Background()))
	assert.Equal(t, 12, v.Snapshot().Page.TotalItems)
}

func TestViewDebouncedSearchRunsLatest(t *testing.T) {
	changes := make(chan Snapshot, 16)
	v, err := New(api.KindPartnerMapping, static(partners()),
		WithDebounce(20*time.Millisecond),
		OnChange(func(s Snapshot) { changes <- s }))
	require.NoError(t, err)
	require.NoError(t, v.Refresh(context.Background()))
	<-changes

	v.SearchDebounced("h")
	v.SearchDebounced("he")
	v.SearchDebounced("health")

	select {
	case s := <-changes:
		assert.Equal(t, "health", s.Search)
		assert.Equal(t, []string{"pm-04"}, ids(s.Items))
	case <-time.After(time.Second):
		t.Fatal("debounced search never ran")
	}

	select {
	case s := <-changes:
		t.Fatalf("superseded search ran: %q", s.Search)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestViewWatchRefreshesOnListChanged(t *testing.T) {
	b := bus.NewSolo()
	defer b.Close()

	records := partners()[:3]
	var mu sync.Mutex
	fetch := func(ctx context.Context, kind string) ([]api.Record, error) {
		mu.Lock()
		defer mu.Unlock()
		return records, nil
	}

	changes := make(chan Snapshot, 16)
	v, err := New(api.KindPartnerMapping, fetch, OnChange(func(s Snapshot) { changes <- s }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Watch(ctx, b)

	mu.Lock()
	records = partners()
	mu.Unlock()

	assert.Eventually(t, func() bool {
		b.Publish(ctx, bus.ListChanged{Kind: api.KindPartnerMapping, Op: bus.OpCreate, ID: "pm-11"})
		select {
		case s := <-changes:
			return s.Page.TotalItems == 12
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestViewExportUsesFilteredSortedCollection(t *testing.T) {
	v, err := New(api.KindPartnerMapping, static(partners()), WithPageSize(1))
	require.NoError(t, err)
	require.NoError(t, v.Refresh(context.Background()))

	v.SetFilter("region", list.Equal("Northern"))
	v.SetSort(list.SortSpec{Field: "year", Order: list.Descending})

	dir := t.TempDir()
	name, err := v.Export(context.Background(), export.DirSaver{Dir: dir}, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "partner-mappings-2024-02-29.csv", name)

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\r\n"), "\r\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], `"Partner","Region"`))
	assert.True(t, strings.HasPrefix(lines[1], `"Partner 08","Northern"`))
	assert.True(t, strings.HasPrefix(lines[2], `"Global Health Alliance","Northern"`))
}
