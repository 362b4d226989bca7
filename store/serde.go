package store

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/aep/healthdesk/api"
)

// records are stored as 'j' followed by their JSON encoding
func decodeStored(kind string, b []byte) (api.Record, error) {
	if len(b) < 1 || b[0] != 'j' {
		return nil, errors.New("invalid encoding stored in database")
	}
	return api.Decode(kind, b[1:])
}

func encodeStored(rec api.Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append([]byte{'j'}, b...), nil
}

// toDoc returns rec as a generic JSON document, numbers kept as json.Number.
func toDoc(rec api.Record) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
