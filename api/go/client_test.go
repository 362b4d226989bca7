package healthdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/aql"
	"github.com/aep/healthdesk/list"
)

// fakeNCDs serves n ncd records from GET /v1/ncd, paged like the server.
func fakeNCDs(t *testing.T, n int) (*Client, *[]string) {
	t.Helper()

	var seen []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ncd", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.RawQuery)

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		p := list.NewPaginator(size)
		p.SetTotalItems(n)
		p.GoToPage(page)
		info := p.Info()

		items := []map[string]any{}
		if n > 0 {
			for i := info.Start; i <= info.End; i++ {
				items = append(items, map[string]any{
					"id": fmt.Sprintf("ncd-%d", i), "kind": "ncd", "code": fmt.Sprintf("C%d", i), "name": "n",
				})
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"kind": "ncd", "items": items, "pagination": info})
	})
	mux.HandleFunc("GET /v1/ncd/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.MutationResult{Message: "not found: ncd/" + r.PathValue("id")})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)
	return c, &seen
}

func TestAllPagesThrough(t *testing.T) {
	c, seen := fakeNCDs(t, 2500)

	records, err := c.All(context.Background(), api.KindNCD)
	require.NoError(t, err)
	require.Len(t, records, 2500)
	assert.Equal(t, "ncd-1", records[0].Key())
	assert.Equal(t, "ncd-2500", records[2499].Key())
	assert.IsType(t, &api.NCD{}, records[0])
	assert.Len(t, *seen, 3)
}

func TestAllEmpty(t *testing.T) {
	c, seen := fakeNCDs(t, 0)

	records, err := c.All(context.Background(), api.KindNCD)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Len(t, *seen, 1)
}

func TestErrorsCarryStatus(t *testing.T) {
	c, _ := fakeNCDs(t, 0)

	_, err := c.Get(context.Background(), api.KindNCD, "missing")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))

	var ae api.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "not found: ncd/missing", ae.Message)
}

func TestTypedQueryOne(t *testing.T) {
	c, seen := fakeNCDs(t, 3)

	type ncd struct {
		ID   string `json:"id"`
		Code string `json:"code"`
	}
	tc, err := NewTypedClient[ncd](c, api.KindNCD)
	require.NoError(t, err)

	doc, err := tc.QueryOne(context.Background(), `code="C1"`, func(q *aql.Query) {
		q.Sort = list.SortSpec{Field: "code", Order: list.Descending}
	})
	require.NoError(t, err)
	assert.Equal(t, "ncd-1", doc.ID)

	require.Len(t, *seen, 1)
	assert.Contains(t, (*seen)[0], "filter=code%3D%22C1%22")
	assert.Contains(t, (*seen)[0], "order=desc")

	_, err = NewTypedClient[ncd](c, "widget")
	assert.ErrorIs(t, err, api.ErrUnknownKind)
}

func TestExportAndSuggest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/survey/export.csv", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("page"))
		assert.Equal(t, "clinic", r.URL.Query().Get("search"))
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="surveys-2024-01-02.csv"`)
		w.Write([]byte("\"Survey\"\r\n"))
	})
	mux.HandleFunc("GET /v1/survey/suggest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"query":       r.URL.Query().Get("q"),
			"suggestions": []map[string]any{{"text": "Clinic A", "source": "corpus", "match": "prefix"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	q := &aql.Query{Kind: api.KindSurvey, Query: list.Query{
		Filter: list.FilterSpec{list.SearchKey: list.Contains("clinic")},
		Page:   4,
	}}
	data, name, err := c.Export(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "surveys-2024-01-02.csv", name)
	assert.Equal(t, "\"Survey\"\r\n", string(data))

	res, err := c.Suggest(context.Background(), api.KindSurvey, "cli", "")
	require.NoError(t, err)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "Clinic A", res.Suggestions[0].Text)
}
