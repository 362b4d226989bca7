package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/aep/healthdesk/list"
)

const (
	KindPartnerMapping = "partner-mapping"
	KindResource       = "resource"
	KindSurvey         = "survey"
	KindUser           = "user"
	KindNCD            = "ncd"
	KindSetting        = "setting"
)

// Sub-resources of a kind. They share the path segment with record ids, so
// no record may use them as its id.
const (
	PathExport  = "export.csv"
	PathSuggest = "suggest"
)

func IsReservedID(id string) bool {
	return id == PathExport || id == PathSuggest
}

var ErrUnknownKind = errors.New("unknown record kind")

// Kind describes how records of one kind are listed, searched and
// exported.
type Kind struct {
	Name string
	New  func() Record

	// SearchFields are searched by the list search box.
	SearchFields []string
	// SuggestFields feed the suggestion corpus, in this order.
	SuggestFields []string
	// Columns are the CSV export columns.
	Columns []list.Column
	// ExportName is the base name of exported files.
	ExportName string
}

// SearchPredicate returns the predicate the search box applies for text.
func (k *Kind) SearchPredicate(text string) list.Predicate {
	return list.Search(text, k.SearchFields...)
}

// Resolve points a search predicate that names no fields at the kind's
// SearchFields. spec is not modified.
func (k *Kind) Resolve(spec list.FilterSpec) list.FilterSpec {
	p, ok := spec[list.SearchKey]
	if !ok || p.Op != list.OpText || len(p.Across) > 0 {
		return spec
	}
	out := make(list.FilterSpec, len(spec))
	for key, v := range spec {
		out[key] = v
	}
	out[list.SearchKey] = k.SearchPredicate(p.Text)
	return out
}

var kinds = map[string]*Kind{
	KindPartnerMapping: {
		Name:          KindPartnerMapping,
		New:           func() Record { return &PartnerMapping{} },
		SearchFields:  []string{"partner", "region", "district", "program", "focusAreas"},
		SuggestFields: []string{"partner", "program", "district"},
		Columns: []list.Column{
			{Key: "partner", Header: "Partner"},
			{Key: "region", Header: "Region"},
			{Key: "district", Header: "District"},
			{Key: "program", Header: "Program"},
			{Key: "focusAreas", Header: "Focus Areas"},
			{Key: "year", Header: "Year"},
			{Key: "status", Header: "Status"},
			{Key: "updatedAt", Header: "Last Updated"},
		},
		ExportName: "partner-mappings",
	},
	KindResource: {
		Name:          KindResource,
		New:           func() Record { return &Resource{} },
		SearchFields:  []string{"title", "description", "category", "tags"},
		SuggestFields: []string{"title", "category"},
		Columns: []list.Column{
			{Key: "title", Header: "Title"},
			{Key: "category", Header: "Category"},
			{Key: "type", Header: "Type"},
			{Key: "tags", Header: "Tags"},
			{Key: "size", Header: "Size"},
			{Key: "uploadedAt", Header: "Uploaded"},
		},
		ExportName: "resources",
	},
	KindSurvey: {
		Name:          KindSurvey,
		New:           func() Record { return &Survey{} },
		SearchFields:  []string{"title", "respondent", "facility", "region"},
		SuggestFields: []string{"facility", "respondent", "title"},
		Columns: []list.Column{
			{Key: "title", Header: "Survey"},
			{Key: "respondent", Header: "Respondent"},
			{Key: "facility", Header: "Facility"},
			{Key: "region", Header: "Region"},
			{Key: "status", Header: "Status"},
			{Key: "score", Header: "Score"},
			{Key: "submittedAt", Header: "Submitted"},
		},
		ExportName: "surveys",
	},
	KindUser: {
		Name:          KindUser,
		New:           func() Record { return &User{} },
		SearchFields:  []string{"name", "email", "organization", "role"},
		SuggestFields: []string{"name", "email", "organization"},
		Columns: []list.Column{
			{Key: "name", Header: "Name"},
			{Key: "email", Header: "Email"},
			{Key: "role", Header: "Role"},
			{Key: "organization", Header: "Organization"},
			{Key: "status", Header: "Status"},
			{Key: "lastLogin", Header: "Last Login"},
		},
		ExportName: "users",
	},
	KindNCD: {
		Name:          KindNCD,
		New:           func() Record { return &NCD{} },
		SearchFields:  []string{"code", "name", "category", "icdCodes"},
		SuggestFields: []string{"name", "code"},
		Columns: []list.Column{
			{Key: "code", Header: "Code"},
			{Key: "name", Header: "Name"},
			{Key: "category", Header: "Category"},
			{Key: "icdCodes", Header: "ICD Codes"},
			{Key: "prevalence", Header: "Prevalence"},
			{Key: "updatedAt", Header: "Last Updated"},
		},
		ExportName: "ncds",
	},
	KindSetting: {
		Name:          KindSetting,
		New:           func() Record { return &Setting{} },
		SearchFields:  []string{"id", "group", "description"},
		SuggestFields: []string{"group", "id"},
		Columns: []list.Column{
			{Key: "id", Header: "Key"},
			{Key: "group", Header: "Group"},
			{Key: "description", Header: "Description"},
			{Key: "values", Header: "Values"},
			{Key: "updatedAt", Header: "Last Updated"},
		},
		ExportName: "settings",
	},
}

// Kinds returns the names of all record kinds, sorted.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func LookupKind(name string) (*Kind, error) {
	k, ok := kinds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// NewRecord returns an empty record of the given kind with its kind set.
func NewRecord(kind string) (Record, error) {
	k, err := LookupKind(kind)
	if err != nil {
		return nil, err
	}
	r := k.New()
	r.GetMeta().Kind = kind
	return r, nil
}

// Decode parses a JSON record. When kind is empty it is taken from the
// document's kind field.
func Decode(kind string, data []byte) (Record, error) {
	if kind == "" {
		var probe struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, err
		}
		kind = probe.Kind
	}

	r, err := NewRecord(kind)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	if m := r.GetMeta(); m.Kind == "" {
		m.Kind = kind
	} else if m.Kind != kind {
		return nil, fmt.Errorf("record kind %q does not match %q", m.Kind, kind)
	}
	return r, nil
}
