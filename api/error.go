package api

import (
	"fmt"
	"net/http"
)

// Error is a failed API call as seen by a client.
type Error struct {
	Code    int
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func IsNotFound(err error) bool { return hasCode(err, http.StatusNotFound) }
func IsConflict(err error) bool { return hasCode(err, http.StatusConflict) }
func IsInvalid(err error) bool  { return hasCode(err, http.StatusBadRequest) }

func hasCode(err error, code int) bool {
	ee, ok := err.(Error)
	if !ok {
		return false
	}
	return ee.Code == code
}
