package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Binder decodes JSON bodies with UseNumber so numeric values reach record
// validation unchanged.
type Binder struct {
	defaultBinder *echo.DefaultBinder
}

func (cb *Binder) Bind(i interface{}, c echo.Context) error {
	switch c.Request().Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		contentType := c.Request().Header.Get(echo.HeaderContentType)

		if strings.HasPrefix(contentType, echo.MIMEApplicationJSON) {
			dec := json.NewDecoder(c.Request().Body)
			dec.UseNumber()

			if err := dec.Decode(i); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
			}
			return nil
		}
	}

	return cb.defaultBinder.Bind(i, c)
}
