package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aep/healthdesk/api"
	healthdesk "github.com/aep/healthdesk/api/go"
	"github.com/aep/healthdesk/config"
	"github.com/aep/healthdesk/list"
	"github.com/aep/healthdesk/suggest"
)

func TestParseFile(t *testing.T) {
	in := `kind: ncd
name: Asthma
code: J45
---
---
kind: survey
title: "Clinic readiness"
score: 80
`
	docs, err := parseFile(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "J45", docs[0]["code"])
	assert.Equal(t, "survey", docs[1]["kind"])
	assert.EqualValues(t, 80, docs[1]["score"])

	_, err = parseFile(strings.NewReader("kind: [unclosed"))
	assert.Error(t, err)
}

func TestSplitRef(t *testing.T) {
	kind, id, err := splitRef("partner-mapping/pm-01")
	require.NoError(t, err)
	assert.Equal(t, "partner-mapping", kind)
	assert.Equal(t, "pm-01", id)

	for _, bad := range []string{"ncd", "ncd/", "/x"} {
		_, _, err := splitRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestEditPatch(t *testing.T) {
	before := map[string]any{"version": float64(3), "name": "Asthma", "code": "J45", "category": "Respiratory"}
	after := map[string]any{"version": float64(3), "name": "Asthma", "code": "J45.9", "prevalence": float64(4)}

	assert.Equal(t, map[string]any{
		"version":    float64(3),
		"code":       "J45.9",
		"prevalence": float64(4),
		"category":   nil,
	}, editPatch(before, after))

	assert.Len(t, editPatch(before, before), 1)
}

func resetFlags(t *testing.T) {
	t.Cleanup(func() {
		search, sortBy, page, pageSize = "", "", 0, 0
	})
}

func TestBuildQuery(t *testing.T) {
	resetFlags(t)

	q, err := buildQuery([]string{"partner-mapping", "region={Northern,Eastern}", "year>=2019"})
	require.NoError(t, err)
	assert.Equal(t, "partner-mapping", q.Kind)
	assert.Equal(t, list.In("Northern", "Eastern"), q.Filter["region"])
	assert.Equal(t, list.Between("2019", ""), q.Filter["year"])

	search, sortBy, pageSize = "clinic", "title:desc", 5
	q, err = buildQuery([]string{"(page=2) survey(status=submitted)"})
	require.NoError(t, err)
	assert.Equal(t, "survey", q.Kind)
	assert.Equal(t, list.Contains("clinic"), q.Filter[list.SearchKey])
	assert.Equal(t, list.SortSpec{Field: "title", Order: list.Descending}, q.Sort)
	assert.Equal(t, 2, q.Page)
	assert.Equal(t, 5, q.PageSize)

	_, err = buildQuery([]string{"widget"})
	assert.ErrorIs(t, err, api.ErrUnknownKind)

	sortBy = "title:sideways"
	_, err = buildQuery([]string{"survey"})
	assert.ErrorIs(t, err, list.ErrInvalidSortOrder)
}

func TestRender(t *testing.T) {
	kind, err := api.LookupKind(api.KindNCD)
	require.NoError(t, err)

	prevalence := 8.5
	items := []api.Record{
		&api.NCD{Meta: api.Meta{ID: "ncd-1"}, Name: "Type 2 Diabetes", Code: "E11", Category: "Metabolic", Prevalence: &prevalence},
	}
	p := list.NewPaginator(10)
	p.SetTotalItems(1)

	var b bytes.Buffer
	require.NoError(t, render(&b, kind, items, p.Info()))

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID "))
	assert.Contains(t, lines[1], "Type 2 Diabetes")
	assert.Contains(t, lines[1], "E11")
	assert.Equal(t, "1-1 of 1, page 1/1", lines[2])

	b.Reset()
	require.NoError(t, render(&b, kind, nil, list.NewPaginator(10).Info()))
	assert.True(t, strings.HasSuffix(b.String(), "no records\n"))
}

func TestCell(t *testing.T) {
	assert.Equal(t, "a b", cell(" a\n b "))
	long := strings.Repeat("x", 50)
	assert.Equal(t, strings.Repeat("x", 39)+"…", cell(long))
}

func TestApplyUpdatesOrCreates(t *testing.T) {
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /v1/ncd/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "patch "+r.PathValue("id"))
		if r.PathValue("id") == "new" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(api.MutationResult{Message: "not found"})
			return
		}
		json.NewEncoder(w).Encode(api.MutationResult{Success: true, ID: r.PathValue("id"), Version: 2})
	})
	mux.HandleFunc("POST /v1/ncd", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "post")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.MutationResult{Success: true, ID: "new", Version: 1})
	})
	mux.HandleFunc("POST /v1/survey", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(api.MutationResult{Message: "title: incomplete value"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := healthdesk.NewClient(srv.URL)
	require.NoError(t, err)

	var out bytes.Buffer
	ctx := context.Background()
	require.NoError(t, apply(ctx, c, &out, map[string]any{"kind": "ncd", "id": "old", "name": "x"}))
	require.NoError(t, apply(ctx, c, &out, map[string]any{"kind": "ncd", "id": "new", "name": "x"}))
	assert.Equal(t, []string{"patch old", "patch new", "post"}, calls)
	assert.Equal(t, "ncd/old updated (version 2)\nncd/new created\n", out.String())

	err = apply(ctx, c, &out, map[string]any{"kind": "survey"})
	assert.True(t, api.IsInvalid(err))

	assert.Error(t, apply(ctx, c, &out, map[string]any{"name": "no kind"}))
}

func TestPrintSuggestionsAndHistory(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, printSuggestions(&b, []suggest.Suggestion{
		{Text: "Apple Inc", Source: suggest.SourceCorpus, Match: suggest.MatchPrefix, Field: "partner"},
		{Text: "apple", Source: suggest.SourceHistory},
	}))
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"Apple", "Inc", "corpus", "prefix", "partner"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"apple", "history"}, strings.Fields(lines[1]))

	b.Reset()
	require.NoError(t, printHistory(&b, nil))
	assert.Equal(t, "no recent searches\n", b.String())
}

func TestRememberSearchWritesLocalHistory(t *testing.T) {
	old := config.Current.Suggest.HistoryFile
	config.Current.Suggest.HistoryFile = t.TempDir() + "/history.json"
	defer func() { config.Current.Suggest.HistoryFile = old }()

	rememberSearch(context.Background(), api.KindSurvey, "clinic")
	rememberSearch(context.Background(), api.KindSurvey, "district")

	store, err := historyStore()
	require.NoError(t, err)
	entries, err := store.Load(context.Background(), api.KindSurvey)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "district", entries[0].Query)
}
