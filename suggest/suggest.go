// Package suggest ranks search suggestions for list search boxes and keeps
// the recent-search history they are mixed with.
package suggest

import (
	"strings"

	"github.com/aep/healthdesk/list"
)

const (
	MinQueryLength = 2
	DefaultRecent  = 5
	DefaultLimit   = 8
)

type Source string

const (
	SourceHistory Source = "history"
	SourceCorpus  Source = "corpus"
)

type Match string

const (
	MatchExact    Match = "exact"
	MatchPrefix   Match = "prefix"
	MatchContains Match = "contains"
)

type Suggestion struct {
	Text   string `json:"text"`
	Source Source `json:"source"`
	Match  Match  `json:"match,omitempty"`
	// Field and Key locate the corpus entry the text came from.
	Field string `json:"field,omitempty"`
	Key   string `json:"key,omitempty"`
}

// Candidate is one suggestible string of the corpus.
type Candidate struct {
	Text  string
	Field string
	Key   string
}

// Corpus collects the non-empty values of fields from rows, row by row and
// field by field. Array values contribute each element.
func Corpus[R list.Row](rows []R, fields ...string) []Candidate {
	var out []Candidate
	for _, row := range rows {
		for _, f := range fields {
			v, ok := row.Field(f)
			if !ok || v.IsNull() {
				continue
			}
			if v.Kind == list.KindList {
				for _, item := range v.List {
					if strings.TrimSpace(item) != "" {
						out = append(out, Candidate{Text: item, Field: f, Key: row.Key()})
					}
				}
				continue
			}
			out = append(out, Candidate{Text: v.String(), Field: f, Key: row.Key()})
		}
	}
	return out
}

// Options tune a Provider. Zero fields take the package defaults.
type Options struct {
	MinQuery int
	Recent   int
	Limit    int
}

type Provider struct {
	opts Options
}

func NewProvider(opts Options) *Provider {
	if opts.MinQuery <= 0 {
		opts.MinQuery = MinQueryLength
	}
	if opts.Recent <= 0 {
		opts.Recent = DefaultRecent
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	return &Provider{opts: opts}
}

// Suggest ranks with the default options.
func Suggest(query string, corpus []Candidate, history []Entry) []Suggestion {
	return NewProvider(Options{}).Suggest(query, corpus, history)
}

// Suggest returns recent history for short queries, most recent first.
// Longer queries rank corpus matches: exact, then prefix, then substring,
// each tier in corpus order, deduplicated case-insensitively.
func (p *Provider) Suggest(query string, corpus []Candidate, history []Entry) []Suggestion {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < p.opts.MinQuery {
		return p.recent(history)
	}

	needle := list.Fold(query)
	var tiers [3][]Suggestion
	for _, c := range corpus {
		folded := list.Fold(c.Text)
		var tier int
		var match Match
		switch {
		case folded == needle:
			tier, match = 0, MatchExact
		case strings.HasPrefix(folded, needle):
			tier, match = 1, MatchPrefix
		case strings.Contains(folded, needle):
			tier, match = 2, MatchContains
		default:
			continue
		}
		tiers[tier] = append(tiers[tier], Suggestion{
			Text:   c.Text,
			Source: SourceCorpus,
			Match:  match,
			Field:  c.Field,
			Key:    c.Key,
		})
	}

	out := make([]Suggestion, 0, p.opts.Limit)
	seen := map[string]bool{}
	for _, tier := range tiers {
		for _, s := range tier {
			if len(out) == p.opts.Limit {
				return out
			}
			k := list.Fold(s.Text)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}

func (p *Provider) recent(history []Entry) []Suggestion {
	entries := newestFirst(history)
	out := make([]Suggestion, 0, min(len(entries), p.opts.Recent))
	for _, e := range entries {
		if len(out) == p.opts.Recent {
			break
		}
		out = append(out, Suggestion{Text: e.Query, Source: SourceHistory})
	}
	return out
}
