package api

import (
	"github.com/aep/healthdesk/list"
	"github.com/aep/healthdesk/suggest"
)

type ListResponse[R any] struct {
	Kind       string        `json:"kind"`
	Items      []R           `json:"items"`
	Pagination list.PageInfo `json:"pagination"`
}

// MutationResult is returned by create, update and delete.
type MutationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
	Version uint64 `json:"version,omitempty"`
}

type SuggestResponse struct {
	Query       string               `json:"query"`
	Suggestions []suggest.Suggestion `json:"suggestions"`
}

type HistoryRequest struct {
	Client string `json:"client"`
	Query  string `json:"query"`
}

type HistoryResponse struct {
	Client  string          `json:"client"`
	Entries []suggest.Entry `json:"entries"`
}

