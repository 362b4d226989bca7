package list

// Page size limits.
const (
	DefaultPageSize = 10
	MinPageSize     = 1
	MaxPageSize     = 1000
)

// Paginator tracks a 1-based page position over a collection of known size.
// Every mutation clamps the current page into [1, max(1, TotalPages())], so
// it never reports an out of range page. Navigation flags are derived on
// each call.
type Paginator struct {
	pageSize    int
	totalItems  int
	currentPage int
}

func NewPaginator(pageSize int) *Paginator {
	p := &Paginator{currentPage: 1}
	p.pageSize = clampPageSize(pageSize)
	return p
}

func clampPageSize(n int) int {
	if n < MinPageSize {
		return MinPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

func (p *Paginator) PageSize() int    { return p.pageSize }
func (p *Paginator) TotalItems() int  { return p.totalItems }
func (p *Paginator) CurrentPage() int { return p.currentPage }

// TotalPages is ceil(totalItems / pageSize); 0 for an empty collection.
func (p *Paginator) TotalPages() int {
	n := p.totalItems / p.pageSize
	if p.totalItems%p.pageSize != 0 {
		n++
	}
	return n
}

func (p *Paginator) lastPage() int {
	return max(1, p.TotalPages())
}

func (p *Paginator) clamp() {
	p.currentPage = min(max(p.currentPage, 1), p.lastPage())
}

// SetTotalItems updates the collection size. Negative sizes count as 0.
func (p *Paginator) SetTotalItems(n int) {
	p.totalItems = max(n, 0)
	p.clamp()
}

// SetPageSize changes the page size, clamped into [MinPageSize,
// MaxPageSize]. When the current page no longer exists it moves to the new
// last page.
func (p *Paginator) SetPageSize(n int) {
	p.pageSize = clampPageSize(n)
	p.clamp()
}

// GoToPage moves to page n, clamped silently into range.
func (p *Paginator) GoToPage(n int) {
	p.currentPage = n
	p.clamp()
}

func (p *Paginator) NextPage()     { p.GoToPage(p.currentPage + 1) }
func (p *Paginator) PreviousPage() { p.GoToPage(p.currentPage - 1) }
func (p *Paginator) FirstPage()    { p.GoToPage(1) }
func (p *Paginator) LastPage()     { p.GoToPage(p.lastPage()) }

func (p *Paginator) CanGoNext() bool     { return p.currentPage < p.TotalPages() }
func (p *Paginator) CanGoPrevious() bool { return p.currentPage > 1 }
func (p *Paginator) IsFirst() bool       { return p.currentPage == 1 }
func (p *Paginator) IsLast() bool        { return p.currentPage == p.lastPage() }

// Window describes the rows of the current page: Start is 1-based and
// inclusive, End is inclusive. Both are 0 for an empty collection.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Total int `json:"total"`
}

// Window returns the bounds of the current page.
func (p *Paginator) Window() Window {
	if p.totalItems == 0 {
		return Window{}
	}
	before := (p.currentPage - 1) * p.pageSize
	return Window{
		Start: before + 1,
		End:   before + min(p.pageSize, p.totalItems-before),
		Total: p.totalItems,
	}
}

// Info returns the serialisable page metadata.
func (p *Paginator) Info() PageInfo {
	w := p.Window()
	return PageInfo{
		CurrentPage: p.currentPage,
		PageSize:    p.pageSize,
		TotalPages:  p.TotalPages(),
		TotalItems:  p.totalItems,
		HasPrevious: p.CanGoPrevious(),
		HasNext:     p.CanGoNext(),
		Start:       w.Start,
		End:         w.End,
	}
}

// Slice sets the total to len(items) and returns the current page of items.
func Slice[T any](p *Paginator, items []T) ([]T, Window) {
	p.SetTotalItems(len(items))
	w := p.Window()
	if w.Total == 0 {
		return []T{}, w
	}
	return items[w.Start-1 : w.End], w
}

// PageInfo is the page metadata returned with list results.
type PageInfo struct {
	CurrentPage int  `json:"currentPage"`
	PageSize    int  `json:"pageSize"`
	TotalPages  int  `json:"totalPages"`
	TotalItems  int  `json:"totalItems"`
	HasPrevious bool `json:"hasPrevious"`
	HasNext     bool `json:"hasNext"`
	Start       int  `json:"start"`
	End         int  `json:"end"`
}
