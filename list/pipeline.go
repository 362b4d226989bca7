package list

// Result is one evaluated list query.
type Result[R Row] struct {
	// Items is the current page.
	Items []R
	// Matched is the full filtered and sorted collection, before paging.
	Matched []R
	Page    PageInfo
}

// Run filters, sorts and pages rows. Out of range page numbers and sizes are
// clamped; a zero page size means DefaultPageSize.
func Run[R Row](rows []R, q Query) Result[R] {
	matched := Sort(Filter(rows, q.Filter), q.Sort)

	size := q.PageSize
	if size == 0 {
		size = DefaultPageSize
	}
	p := NewPaginator(size)
	p.SetTotalItems(len(matched))
	p.GoToPage(q.Page)

	items, _ := Slice(p, matched)
	return Result[R]{
		Items:   items,
		Matched: matched,
		Page:    p.Info(),
	}
}
