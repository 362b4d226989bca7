package api

import (
	"encoding/json"
	"strings"

	"github.com/aep/healthdesk/list"
)

// Record is one row of domain data of any kind.
type Record interface {
	list.Row
	GetMeta() *Meta
}

type PartnerMapping struct {
	Meta
	Partner    string   `json:"partner"`
	Region     string   `json:"region"`
	District   string   `json:"district,omitempty"`
	Program    string   `json:"program,omitempty"`
	FocusAreas []string `json:"focusAreas,omitempty"`
	Year       *int     `json:"year,omitempty"`
	Status     string   `json:"status,omitempty"`
	UpdatedAt  *Date    `json:"updatedAt,omitempty"`
}

func (r *PartnerMapping) Field(name string) (list.Value, bool) {
	switch name {
	case "partner":
		return text(r.Partner), true
	case "region":
		return text(r.Region), true
	case "district":
		return text(r.District), true
	case "program":
		return text(r.Program), true
	case "focusAreas":
		return list.List(r.FocusAreas), true
	case "year":
		return number(r.Year), true
	case "status":
		return text(r.Status), true
	case "updatedAt":
		return date(r.UpdatedAt), true
	}
	return r.Meta.field(name)
}

type Resource struct {
	Meta
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Type        string   `json:"type,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	FileURL     string   `json:"fileUrl,omitempty"`
	Size        *int64   `json:"size,omitempty"`
	UploadedAt  *Date    `json:"uploadedAt,omitempty"`
}

func (r *Resource) Field(name string) (list.Value, bool) {
	switch name {
	case "title":
		return text(r.Title), true
	case "description":
		return text(r.Description), true
	case "category":
		return text(r.Category), true
	case "type":
		return text(r.Type), true
	case "tags":
		return list.List(r.Tags), true
	case "fileUrl":
		return text(r.FileURL), true
	case "size":
		return number(r.Size), true
	case "uploadedAt":
		return date(r.UploadedAt), true
	}
	return r.Meta.field(name)
}

type Survey struct {
	Meta
	Title       string   `json:"title"`
	Respondent  string   `json:"respondent,omitempty"`
	Facility    string   `json:"facility,omitempty"`
	Region      string   `json:"region,omitempty"`
	Status      string   `json:"status,omitempty"`
	Score       *float64 `json:"score,omitempty"`
	SubmittedAt *Date    `json:"submittedAt,omitempty"`
}

func (r *Survey) Field(name string) (list.Value, bool) {
	switch name {
	case "title":
		return text(r.Title), true
	case "respondent":
		return text(r.Respondent), true
	case "facility":
		return text(r.Facility), true
	case "region":
		return text(r.Region), true
	case "status":
		return text(r.Status), true
	case "score":
		return number(r.Score), true
	case "submittedAt":
		return date(r.SubmittedAt), true
	}
	return r.Meta.field(name)
}

type User struct {
	Meta
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         string `json:"role,omitempty"`
	Organization string `json:"organization,omitempty"`
	Status       string `json:"status,omitempty"`
	LastLogin    *Date  `json:"lastLogin,omitempty"`
}

func (r *User) Field(name string) (list.Value, bool) {
	switch name {
	case "name":
		return text(r.Name), true
	case "email":
		return text(r.Email), true
	case "role":
		return text(r.Role), true
	case "organization":
		return text(r.Organization), true
	case "status":
		return text(r.Status), true
	case "lastLogin":
		return date(r.LastLogin), true
	}
	return r.Meta.field(name)
}

type NCD struct {
	Meta
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	Category   string   `json:"category,omitempty"`
	ICDCodes   []string `json:"icdCodes,omitempty"`
	Prevalence *float64 `json:"prevalence,omitempty"`
	UpdatedAt  *Date    `json:"updatedAt,omitempty"`
}

func (r *NCD) Field(name string) (list.Value, bool) {
	switch name {
	case "code":
		return text(r.Code), true
	case "name":
		return text(r.Name), true
	case "category":
		return text(r.Category), true
	case "icdCodes":
		return list.List(r.ICDCodes), true
	case "prevalence":
		return number(r.Prevalence), true
	case "updatedAt":
		return date(r.UpdatedAt), true
	}
	return r.Meta.field(name)
}

// Setting is a group of free-form configuration values. The shape of Values
// is checked against the schema configured for the group.
type Setting struct {
	Meta
	Group       string         `json:"group"`
	Description string         `json:"description,omitempty"`
	Values      map[string]any `json:"values,omitempty"`
	UpdatedAt   *Date          `json:"updatedAt,omitempty"`
}

func (r *Setting) Field(name string) (list.Value, bool) {
	switch name {
	case "group":
		return text(r.Group), true
	case "description":
		return text(r.Description), true
	case "values":
		if len(r.Values) == 0 {
			return list.Null(), true
		}
		b, err := json.Marshal(r.Values)
		if err != nil {
			return list.Null(), true
		}
		return list.Text(string(b)), true
	case "updatedAt":
		return date(r.UpdatedAt), true
	}
	if key, ok := strings.CutPrefix(name, "values."); ok {
		return ValueOf(r.Values[key]), true
	}
	return r.Meta.field(name)
}
