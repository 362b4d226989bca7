package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/suggest"
)

// corpusFor returns the suggestion candidates of kind, cached until a
// record of the kind changes or the TTL passes.
func (s *server) corpusFor(ctx context.Context, kind *api.Kind) ([]suggest.Candidate, error) {
	if c, ok := s.corpus.Get(kind.Name); ok {
		suggestCorpusCache.WithLabelValues(kind.Name, "hit").Inc()
		return c, nil
	}
	suggestCorpusCache.WithLabelValues(kind.Name, "miss").Inc()

	gen := s.corpusGen[kind.Name]
	before := gen.Load()

	records, err := s.records(ctx, kind.Name)
	if err != nil {
		return nil, err
	}
	c := suggest.Corpus(records, kind.SuggestFields...)

	// an invalidation that raced the fetch drops what was just cached
	s.corpus.Set(kind.Name, c)
	if gen.Load() != before {
		s.corpus.Delete(kind.Name)
	}
	return c, nil
}

func (s *server) handleSuggest(c echo.Context) error {
	ctx := c.Request().Context()

	kind, err := api.LookupKind(c.Param("kind"))
	if err != nil {
		return err
	}

	corpus, err := s.corpusFor(ctx, kind)
	if err != nil {
		return err
	}

	var history []suggest.Entry
	if client := c.QueryParam("client"); client != "" {
		history, err = s.history.Load(ctx, client)
		if err != nil {
			return err
		}
	}

	q := c.QueryParam("q")
	return c.JSON(http.StatusOK, api.SuggestResponse{
		Query:       q,
		Suggestions: s.provider.Suggest(q, corpus, history),
	})
}

func clientParam(c echo.Context) (string, error) {
	client := strings.TrimSpace(c.QueryParam("client"))
	if client == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "client is required")
	}
	return client, nil
}

func (s *server) handleGetHistory(c echo.Context) error {
	client, err := clientParam(c)
	if err != nil {
		return err
	}
	entries, err := s.history.Load(c.Request().Context(), client)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, api.HistoryResponse{Client: client, Entries: nonNil(entries)})
}

func (s *server) handleRecordHistory(c echo.Context) error {
	var req api.HistoryRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	req.Client = strings.TrimSpace(req.Client)
	if req.Client == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "client is required")
	}

	entries, err := suggest.Record(c.Request().Context(), s.history, req.Client, req.Query)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, api.HistoryResponse{Client: req.Client, Entries: nonNil(entries)})
}

func (s *server) handleClearHistory(c echo.Context) error {
	client, err := clientParam(c)
	if err != nil {
		return err
	}
	_, err = s.history.Update(c.Request().Context(), client, func(h *suggest.History) { h.Clear() })
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, api.HistoryResponse{Client: client, Entries: []suggest.Entry{}})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
