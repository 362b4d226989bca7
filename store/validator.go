package store

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/aep/yema"
	yparser "github.com/aep/yema/parser"
	yvalidator "github.com/aep/yema/validator"

	"github.com/aep/healthdesk/api"
)

//go:embed schema.cue
var schemaSource string

var definitions = map[string]string{
	api.KindPartnerMapping: "#PartnerMapping",
	api.KindResource:       "#Resource",
	api.KindSurvey:         "#Survey",
	api.KindUser:           "#User",
	api.KindNCD:            "#NCD",
	api.KindSetting:        "#Setting",
}

// Validator checks documents against the CUE definition of their kind and
// setting values against the yema schema of their group.
type Validator struct {
	// cue.Context is not safe for concurrent use
	mu       sync.Mutex
	cctx     *cue.Context
	schemas  map[string]cue.Value
	settings map[string]*yema.Type
}

// NewValidator compiles the built-in kind schemas and the given setting
// group schemas.
func NewValidator(settings map[string]map[string]any) (*Validator, error) {
	cctx := cuecontext.New()
	root := cctx.CompileString(schemaSource)
	if root.Err() != nil {
		return nil, fmt.Errorf("compile record schema: %w", root.Err())
	}

	v := &Validator{
		cctx:     cctx,
		schemas:  make(map[string]cue.Value, len(definitions)),
		settings: make(map[string]*yema.Type, len(settings)),
	}
	for kind, def := range definitions {
		s := root.LookupPath(cue.ParsePath(def))
		if s.Err() != nil {
			return nil, fmt.Errorf("schema %s: %w", def, s.Err())
		}
		v.schemas[kind] = s
	}

	for group, schema := range settings {
		yy, err := yparser.From(schema)
		if err != nil {
			return nil, fmt.Errorf("setting group %s: can't load schema: %w", group, err)
		}
		v.settings[group] = yy
	}
	return v, nil
}

// Validate checks doc as a record of kind, applies schema defaults and
// returns the decoded record. Validation failures wrap ErrInvalid.
func (v *Validator) Validate(kind string, doc map[string]any) (api.Record, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	out, err := v.unify(kind, b)
	if err != nil {
		return nil, err
	}

	rec, err := api.Decode(kind, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if s, ok := rec.(*api.Setting); ok {
		if err := v.validateSetting(s); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (v *Validator) unify(kind string, b []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	schema, ok := v.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", api.ErrUnknownKind, kind)
	}

	val := v.cctx.CompileBytes(b)
	if val.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, val.Err())
	}

	unified := schema.Unify(val)
	if unified.Err() != nil {
		return nil, fmt.Errorf("%w: validation failed: %w", ErrInvalid, unified.Err())
	}
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: validation failed: %w", ErrInvalid, err)
	}

	out, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return out, nil
}

func (v *Validator) validateSetting(s *api.Setting) error {
	schema := v.settings[s.Group]
	if schema == nil {
		return nil
	}

	values := s.Values
	if values == nil {
		values = map[string]any{}
	}

	errs := yvalidator.Validate(values, schema)
	if len(errs) == 0 {
		return nil
	}

	var msgs []string
	for i, e := range errs {
		if i > 10 {
			msgs = append(msgs, "...")
			break
		}
		msgs = append(msgs, fmt.Sprint(e))
	}
	return fmt.Errorf("%w: values of setting group %s: %w", ErrInvalid, s.Group, errors.New(strings.Join(msgs, ", ")))
}
