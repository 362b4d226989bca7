package suggest

import (
	"slices"
	"strings"
	"time"

	"github.com/aep/healthdesk/list"
)

const DefaultHistoryCap = 10

// Entry is one remembered search.
type Entry struct {
	Query    string    `json:"query"`
	LastUsed time.Time `json:"lastUsed"`
}

// History is a most-recently-used list of searches, newest first.
// It is not safe for concurrent use; stores serialise access to it.
type History struct {
	cap     int
	entries []Entry
	now     func() time.Time
}

// NewHistory restores a history from persisted entries. Entries are
// reordered newest first, duplicates dropped and the list trimmed to cap.
func NewHistory(cap int, entries []Entry) *History {
	if cap <= 0 {
		cap = DefaultHistoryCap
	}
	h := &History{cap: cap, now: time.Now}

	seen := map[string]bool{}
	for _, e := range newestFirst(entries) {
		q := strings.TrimSpace(e.Query)
		k := list.Fold(q)
		if q == "" || seen[k] {
			continue
		}
		seen[k] = true
		h.entries = append(h.entries, Entry{Query: q, LastUsed: e.LastUsed})
	}
	h.evict()
	return h
}

// Record moves query to the front, inserting it when new, and evicts the
// least recently used entries above the cap. Blank queries are ignored.
func (h *History) Record(query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return false
	}

	k := list.Fold(query)
	h.entries = slices.DeleteFunc(h.entries, func(e Entry) bool {
		return list.Fold(e.Query) == k
	})
	h.entries = slices.Insert(h.entries, 0, Entry{Query: query, LastUsed: h.now()})
	h.evict()
	return true
}

func (h *History) evict() {
	if len(h.entries) > h.cap {
		h.entries = h.entries[:h.cap]
	}
}

// Entries returns a copy of the history, newest first.
func (h *History) Entries() []Entry {
	return slices.Clone(h.entries)
}

func (h *History) Len() int { return len(h.entries) }

func (h *History) Clear() { h.entries = nil }

func newestFirst(entries []Entry) []Entry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b Entry) int {
		return b.LastUsed.Compare(a.LastUsed)
	})
	return out
}
