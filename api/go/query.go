package healthdesk

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/aql"
)

// Records iterates every record matching q across all pages, in q's sort
// order. q's own page and page size are ignored.
func (c *Client) Records(ctx context.Context, q *aql.Query) iter.Seq2[api.Record, error] {
	return func(yield func(api.Record, error) bool) {
		for raw, err := range c.pages(ctx, q) {
			if err != nil {
				yield(nil, err)
				return
			}
			rec, err := api.Decode(q.Kind, raw)
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (c *Client) pages(ctx context.Context, q *aql.Query) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for page := 1; ; page++ {
			var rsp api.ListResponse[json.RawMessage]
			p := pageQuery(q, page)
			if err := c.do(ctx, http.MethodGet, kindPath(p.Kind), p.Values(), nil, &rsp); err != nil {
				yield(nil, err)
				return
			}

			for _, raw := range rsp.Items {
				if !yield(raw, nil) {
					return
				}
			}

			if rsp.Pagination.CurrentPage >= rsp.Pagination.TotalPages {
				return
			}
		}
	}
}
