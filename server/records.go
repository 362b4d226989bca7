package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/aql"
	"github.com/aep/healthdesk/export"
)

func (s *server) list(c echo.Context, q *aql.Query) error {
	if q.PageSize == 0 {
		q.PageSize = s.cfg.List.DefaultPageSize
	}

	page, err := s.store.Fetch(c.Request().Context(), q.Kind, q.Query)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, api.ListResponse[api.Record]{
		Kind:       q.Kind,
		Items:      page.Items,
		Pagination: page.Pagination,
	})
}

func (s *server) handleList(c echo.Context) error {
	q, err := aql.FromValues(c.Param("kind"), c.QueryParams())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return s.list(c, q)
}

func (s *server) handleQuery(c echo.Context) error {
	q, err := aql.Parse(c.QueryParam("q"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return s.list(c, q)
}

func (s *server) handleGet(c echo.Context) error {
	rec, err := s.store.Get(c.Request().Context(), c.Param("kind"), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *server) handleCreate(c echo.Context) error {
	var doc map[string]any
	if err := c.Bind(&doc); err != nil {
		return err
	}
	if doc == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := s.store.Create(c.Request().Context(), c.Param("kind"), doc)
	if err != nil {
		return err
	}
	m := rec.GetMeta()
	return c.JSON(http.StatusCreated, api.MutationResult{
		Success: true,
		ID:      m.ID,
		Version: m.Version,
	})
}

func (s *server) handleUpdate(c echo.Context) error {
	var patch map[string]any
	if err := c.Bind(&patch); err != nil {
		return err
	}

	rec, changed, err := s.store.Update(c.Request().Context(), c.Param("kind"), c.Param("id"), patch)
	if err != nil {
		return err
	}
	m := rec.GetMeta()
	res := api.MutationResult{Success: true, ID: m.ID, Version: m.Version}
	if !changed {
		res.Message = "unchanged"
	}
	return c.JSON(http.StatusOK, res)
}

func (s *server) handleDelete(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.Delete(c.Request().Context(), c.Param("kind"), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, api.MutationResult{Success: true, ID: id})
}

// attachmentSaver sends exported bytes as a download.
type attachmentSaver struct {
	c echo.Context
}

func (a attachmentSaver) Save(_ context.Context, data []byte, mime string, filename string) error {
	a.c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return a.c.Blob(http.StatusOK, mime, data)
}

func (s *server) handleExport(c echo.Context) error {
	kind, err := api.LookupKind(c.Param("kind"))
	if err != nil {
		return err
	}
	q, err := aql.FromValues(kind.Name, c.QueryParams())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	page, err := s.store.Fetch(c.Request().Context(), kind.Name, q.Query)
	if err != nil {
		return err
	}

	data := export.Export(page.Matched, kind.Columns)
	var saver export.Saver = attachmentSaver{c}
	return saver.Save(c.Request().Context(), data, export.MimeCSV, export.Filename(kind.ExportName, s.now()))
}
