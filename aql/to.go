package aql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/aep/healthdesk/list"
)

// Values converts q to the query parameters of GET /v1/:kind.
func (q *Query) Values() url.Values {
	v := url.Values{}

	filter := list.FilterSpec{}
	for k, p := range q.Filter.Active() {
		if k == list.SearchKey && p.Op == list.OpText {
			v.Set("search", p.Text)
			continue
		}
		filter[k] = p
	}
	if f := FormatFilter(filter); f != "" {
		v.Set("filter", f)
	}

	if q.Sort.Field != "" {
		v.Set("sort", q.Sort.Field)
		if q.Sort.Order != "" {
			v.Set("order", string(q.Sort.Order))
		}
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	return v
}

// FromValues is the inverse of Values. Malformed page numbers are treated as
// absent; a malformed filter or sort order is an error.
func FromValues(kind string, v url.Values) (*Query, error) {
	q := &Query{Kind: kind}

	filter, err := ParseFilter(v.Get("filter"))
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if s := v.Get("search"); s != "" {
		filter[list.SearchKey] = list.Contains(s)
	}
	if len(filter) > 0 {
		q.Filter = filter
	}

	if field := v.Get("sort"); field != "" {
		order, err := list.ParseOrder(v.Get("order"))
		if err != nil {
			return nil, err
		}
		q.Sort = list.SortSpec{Field: field, Order: order}
	}

	q.Page, _ = strconv.Atoi(v.Get("page"))
	q.PageSize, _ = strconv.Atoi(v.Get("pageSize"))
	return q, nil
}
