package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aep/healthdesk/kv"
)

// KVStore keeps one history per scope (a client id) in the record store,
// under h\xff<scope>\xff.
type KVStore struct {
	kv  kv.KV
	cap int
}

func NewKVStore(k kv.KV, cap int) *KVStore {
	return &KVStore{kv: k, cap: cap}
}

func (s *KVStore) Load(ctx context.Context, scope string) ([]Entry, error) {
	key, err := kv.HistoryKey(scope)
	if err != nil {
		return nil, err
	}

	r := s.kv.Read()
	defer r.Close()

	b, err := r.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading history %s: %w", scope, err)
	}
	entries, err := decodeEntries(b)
	if err != nil {
		return nil, err
	}
	return NewHistory(s.cap, entries).Entries(), nil
}

func (s *KVStore) Update(ctx context.Context, scope string, fn func(h *History)) ([]Entry, error) {
	key, err := kv.HistoryKey(scope)
	if err != nil {
		return nil, err
	}

	w, err := s.kv.ExclusiveWrite(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("locking history %s: %w", scope, err)
	}
	defer w.Close()

	b, err := w.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading history %s: %w", scope, err)
	}
	entries, err := decodeEntries(b)
	if err != nil {
		return nil, err
	}

	h := NewHistory(s.cap, entries)
	fn(h)

	out, err := encodeEntries(h.Entries())
	if err != nil {
		return nil, err
	}
	if err := w.Put(key, out); err != nil {
		return nil, err
	}
	if err := w.Commit(ctx); err != nil {
		return nil, fmt.Errorf("saving history %s: %w", scope, err)
	}
	return h.Entries(), nil
}

// values carry the same 'j' + JSON envelope as records
func decodeEntries(b []byte) ([]Entry, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if b[0] != 'j' {
		return nil, errors.New("invalid encoding stored in database")
	}
	var entries []Entry
	if err := json.NewDecoder(bytes.NewReader(b[1:])).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryCorrupted, err)
	}
	return entries, nil
}

func encodeEntries(entries []Entry) ([]byte, error) {
	b, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return append([]byte{'j'}, b...), nil
}
