package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/aep/healthdesk/list"
)

type History struct {
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Meta is embedded in every record kind.
type Meta struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Version uint64   `json:"version,omitempty" yaml:"version,omitempty"`
	History *History `json:"history,omitempty" yaml:"history,omitempty"`
}

func (m *Meta) Key() string { return m.ID }

func (m *Meta) GetMeta() *Meta { return m }

func (m *Meta) field(name string) (list.Value, bool) {
	switch name {
	case "id":
		return text(m.ID), true
	case "kind":
		return text(m.Kind), true
	case "version":
		return list.Number(float64(m.Version)), true
	case "created":
		if m.History == nil {
			return list.Null(), true
		}
		return list.Date(m.History.Created), true
	case "updated":
		if m.History == nil {
			return list.Null(), true
		}
		return list.Date(m.History.Updated), true
	}
	return list.Value{}, false
}

// Date is a calendar date or timestamp. It accepts both YYYY-MM-DD and RFC
// 3339 on input.
type Date struct {
	time.Time
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time.UTC().Format(time.RFC3339))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		d.Time = time.Time{}
		return nil
	}
	t, ok := list.ParseDate(s)
	if !ok {
		return &time.ParseError{Layout: list.DateLayout, Value: s, Message: ": not a date"}
	}
	d.Time = t
	return nil
}

func text(s string) list.Value {
	if s == "" {
		return list.Null()
	}
	return list.Text(s)
}

func date(d *Date) list.Value {
	if d == nil {
		return list.Null()
	}
	return list.Date(d.Time)
}

func number[T int | int64 | float64](p *T) list.Value {
	if p == nil {
		return list.Null()
	}
	return list.Number(float64(*p))
}

// ValueOf converts a decoded JSON value into a list value.
func ValueOf(v any) list.Value {
	switch v := v.(type) {
	case nil:
		return list.Null()
	case string:
		return text(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return list.Text(v.String())
		}
		return list.Number(f)
	case float64:
		return list.Number(v)
	case int:
		return list.Number(float64(v))
	case bool:
		if v {
			return list.Text("true")
		}
		return list.Text("false")
	case []string:
		return list.List(v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, ValueOf(item).String())
		}
		return list.List(items)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return list.Null()
	}
	return list.Text(string(b))
}
