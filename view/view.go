// Package view holds the state of one list screen: its filters, search
// text, sort and page, over a collection that is refetched wholesale.
package view

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/bus"
	"github.com/aep/healthdesk/export"
	"github.com/aep/healthdesk/list"
	"github.com/aep/healthdesk/suggest"
)

// Fetcher loads every record of a kind.
type Fetcher func(ctx context.Context, kind string) ([]api.Record, error)

// Snapshot is what a list screen renders.
type Snapshot struct {
	Kind   string
	Items  []api.Record
	Page   list.PageInfo
	Filter list.FilterSpec
	Search string
	Sort   list.SortSpec
	// Loaded is false until the first successful fetch.
	Loaded bool
}

// View changes to filter, search or sort go back to page 1. Page size
// changes keep the page when it still exists.
type View struct {
	kind  *api.Kind
	fetch Fetcher

	mu      sync.Mutex
	filter  list.FilterSpec
	search  string
	sort    list.SortSpec
	pager   *list.Paginator
	records []api.Record
	matched []api.Record
	loaded  bool
	applied uint64

	issued   atomic.Uint64
	debounce *suggest.Debouncer
	onChange func(Snapshot)
}

type Option func(*View)

// WithPageSize sets the initial page size.
func WithPageSize(n int) Option {
	return func(v *View) { v.pager.SetPageSize(n) }
}

// WithDebounce sets how long SearchDebounced waits for typing to stop.
func WithDebounce(d time.Duration) Option {
	return func(v *View) { v.debounce = suggest.NewDebouncer(d) }
}

// OnChange registers fn to be called with a new snapshot after every state
// change. fn runs without the view's lock held.
func OnChange(fn func(Snapshot)) Option {
	return func(v *View) { v.onChange = fn }
}

func New(kind string, fetch Fetcher, opts ...Option) (*View, error) {
	k, err := api.LookupKind(kind)
	if err != nil {
		return nil, err
	}
	v := &View{
		kind:     k,
		fetch:    fetch,
		filter:   list.FilterSpec{},
		pager:    list.NewPaginator(list.DefaultPageSize),
		debounce: suggest.NewDebouncer(300 * time.Millisecond),
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Refresh refetches the collection. When refreshes overlap, the one issued
// last wins and older results are dropped. A failed fetch keeps the
// current collection.
func (v *View) Refresh(ctx context.Context) error {
	gen := v.issued.Inc()

	records, err := v.fetch(ctx, v.kind.Name)
	if err != nil {
		slog.Warn("list refresh failed", "kind", v.kind.Name, "err", err)
		return err
	}

	v.mu.Lock()
	if gen < v.applied {
		v.mu.Unlock()
		return nil
	}
	v.applied = gen
	v.records = records
	v.loaded = true
	v.evaluate()
	v.mu.Unlock()

	v.changed()
	return nil
}

// Watch refreshes the view whenever records of its kind change, until ctx
// is done.
func (v *View) Watch(ctx context.Context, b bus.Bus) {
	events, cancel := b.Subscribe(v.kind.Name)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			v.Refresh(ctx)
		}
	}
}

// SetFilter replaces the predicate on field. An empty predicate removes it.
func (v *View) SetFilter(field string, p list.Predicate) {
	v.update(func() {
		if p.IsEmpty() {
			delete(v.filter, field)
		} else {
			v.filter[field] = p
		}
		v.pager.FirstPage()
	})
}

// ClearFilters removes every filter but keeps the search text.
func (v *View) ClearFilters() {
	v.update(func() {
		v.filter = list.FilterSpec{}
		v.pager.FirstPage()
	})
}

func (v *View) SetSearch(text string) {
	v.debounce.Stop()
	v.update(func() {
		v.search = text
		v.pager.FirstPage()
	})
}

// SearchDebounced applies text once no newer search arrives within the
// debounce delay.
func (v *View) SearchDebounced(text string) {
	v.debounce.Trigger(func() {
		v.update(func() {
			v.search = text
			v.pager.FirstPage()
		})
	})
}

func (v *View) SetSort(s list.SortSpec) {
	v.update(func() {
		v.sort = s
		v.pager.FirstPage()
	})
}

// ToggleSort sorts by field ascending, or flips the order when field is
// already the sort field.
func (v *View) ToggleSort(field string) {
	v.update(func() {
		if v.sort.Field == field && v.sort.Order != list.Descending {
			v.sort = list.SortSpec{Field: field, Order: list.Descending}
		} else {
			v.sort = list.SortSpec{Field: field, Order: list.Ascending}
		}
		v.pager.FirstPage()
	})
}

func (v *View) SetPageSize(n int) { v.update(func() { v.pager.SetPageSize(n) }) }
func (v *View) GoToPage(n int)    { v.update(func() { v.pager.GoToPage(n) }) }
func (v *View) NextPage()         { v.update(v.pager.NextPage) }
func (v *View) PreviousPage()     { v.update(v.pager.PreviousPage) }
func (v *View) FirstPage()        { v.update(v.pager.FirstPage) }
func (v *View) LastPage()         { v.update(v.pager.LastPage) }

// Snapshot returns the current page and state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot()
}

// Export writes every record matching the current filters and search, in
// the current sort order, through s.
func (v *View) Export(ctx context.Context, s export.Saver, day time.Time) (string, error) {
	v.mu.Lock()
	data := export.Export(v.matched, v.kind.Columns)
	v.mu.Unlock()

	name := export.Filename(v.kind.ExportName, day)
	return name, s.Save(ctx, data, export.MimeCSV, name)
}

// Close stops a pending debounced search.
func (v *View) Close() {
	v.debounce.Stop()
}

func (v *View) update(fn func()) {
	v.mu.Lock()
	fn()
	v.evaluate()
	v.mu.Unlock()
	v.changed()
}

func (v *View) spec() list.FilterSpec {
	spec := make(list.FilterSpec, len(v.filter)+1)
	for k, p := range v.filter {
		spec[k] = p
	}
	if v.search != "" {
		spec[list.SearchKey] = v.kind.SearchPredicate(v.search)
	}
	return spec
}

// evaluate recomputes the matched collection; the page is clamped to it.
func (v *View) evaluate() {
	v.matched = list.Sort(list.Filter(v.records, v.spec()), v.sort)
	v.pager.SetTotalItems(len(v.matched))
}

func (v *View) snapshot() Snapshot {
	items, _ := list.Slice(v.pager, v.matched)
	filter := make(list.FilterSpec, len(v.filter))
	for k, p := range v.filter {
		filter[k] = p
	}
	return Snapshot{
		Kind:   v.kind.Name,
		Items:  items,
		Page:   v.pager.Info(),
		Filter: filter,
		Search: v.search,
		Sort:   v.sort,
		Loaded: v.loaded,
	}
}

func (v *View) changed() {
	if v.onChange == nil {
		return
	}
	v.onChange(v.Snapshot())
}
