package healthdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/aql"
)

// TypedClient reads records of one kind into Doc, which is usually the
// kind's api struct or a caller-defined subset of it.
type TypedClient[Doc any] struct {
	*Client
	Kind string
}

func NewTypedClient[Doc any](c *Client, kind string) (*TypedClient[Doc], error) {
	if _, err := api.LookupKind(kind); err != nil {
		return nil, err
	}
	return &TypedClient[Doc]{Client: c, Kind: kind}, nil
}

func (c *TypedClient[Doc]) Get(ctx context.Context, id string) (*Doc, error) {
	dest := new(Doc)
	if err := c.do(ctx, http.MethodGet, kindPath(c.Kind, id), nil, nil, dest); err != nil {
		return nil, err
	}
	return dest, nil
}

// Query iterates the records matching filter, a predicate list such as
// `region=Northern, year>=2019`, across all pages.
func (c *TypedClient[Doc]) Query(ctx context.Context, filter string, opts ...func(*aql.Query)) iter.Seq2[*Doc, error] {
	return func(yield func(*Doc, error) bool) {
		spec, err := aql.ParseFilter(filter)
		if err != nil {
			yield(nil, err)
			return
		}
		q := &aql.Query{Kind: c.Kind}
		if len(spec) > 0 {
			q.Filter = spec
		}
		for _, o := range opts {
			o(q)
		}

		for raw, err := range c.pages(ctx, q) {
			if err != nil {
				yield(nil, err)
				return
			}
			dest := new(Doc)
			if err := json.Unmarshal(raw, dest); err != nil {
				yield(nil, err)
				return
			}
			if !yield(dest, nil) {
				return
			}
		}
	}
}

// QueryOne returns the first record matching filter.
func (c *TypedClient[Doc]) QueryOne(ctx context.Context, filter string, opts ...func(*aql.Query)) (*Doc, error) {
	for doc, err := range c.Query(ctx, filter, opts...) {
		return doc, err
	}
	return nil, api.Error{Code: http.StatusNotFound, Message: fmt.Sprintf("no %s matches %q", c.Kind, filter)}
}
