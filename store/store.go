// Package store keeps validated records in the KV store and serves list
// queries over them.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/bus"
	"github.com/aep/healthdesk/kv"
	"github.com/aep/healthdesk/list"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid record")
)

// maxRetries bounds how often a write is retried after losing a conflict.
const maxRetries = 50

type Store struct {
	kv        kv.KV
	bus       bus.Bus
	validator *Validator
	now       func() time.Time
}

// New returns a store over k. Mutations are announced on b when it is not
// nil.
func New(k kv.KV, b bus.Bus, v *Validator) *Store {
	return &Store{kv: k, bus: b, validator: v, now: time.Now}
}

// Page is one fetched list page.
type Page struct {
	Items []api.Record
	// Matched is every record passing the filter, sorted, before paging.
	Matched    []api.Record
	Pagination list.PageInfo
}

// All returns every record of kind in key order.
func (s *Store) All(ctx context.Context, kind string) ([]api.Record, error) {
	if _, err := api.LookupKind(kind); err != nil {
		return nil, err
	}
	start, end, err := kv.RecordRange(kind)
	if err != nil {
		return nil, err
	}

	r := s.kv.Read()
	defer r.Close()

	var out []api.Record
	for kvp, err := range r.Iter(ctx, start, end) {
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		rec, err := decodeStored(kind, kvp.V)
		if err != nil {
			slog.Warn("skipping undecodable record", "kind", kind, "key", kv.Escape(kvp.K), "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Fetch filters, sorts and pages the records of kind with the list engines.
// A search predicate without fields searches the kind's search fields.
func (s *Store) Fetch(ctx context.Context, kind string, q list.Query) (*Page, error) {
	k, err := api.LookupKind(kind)
	if err != nil {
		return nil, err
	}
	all, err := s.All(ctx, kind)
	if err != nil {
		return nil, err
	}
	recordsFetched.WithLabelValues(kind).Observe(float64(len(all)))

	q.Filter = k.Resolve(q.Filter)
	res := list.Run(all, q)
	return &Page{
		Items:      res.Items,
		Matched:    res.Matched,
		Pagination: res.Page,
	}, nil
}

func (s *Store) Get(ctx context.Context, kind, id string) (api.Record, error) {
	if _, err := api.LookupKind(kind); err != nil {
		return nil, err
	}
	key, err := kv.RecordKey(kind, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	r := s.kv.Read()
	defer r.Close()

	b, err := r.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
	}
	return decodeStored(kind, b)
}

// Create validates doc as a new record of kind. An empty id is replaced by
// a random UUID; an id that already exists is a conflict.
func (s *Store) Create(ctx context.Context, kind string, doc map[string]any) (api.Record, error) {
	doc = clone(doc)
	if id, _ := doc["id"].(string); id == "" {
		doc["id"] = uuid.NewString()
	}
	if k, _ := doc["kind"].(string); k == "" {
		doc["kind"] = kind
	}
	delete(doc, "version")
	delete(doc, "history")

	rec, err := s.validator.Validate(kind, doc)
	if err != nil {
		return nil, err
	}
	meta := rec.GetMeta()
	if api.IsReservedID(meta.ID) {
		return nil, fmt.Errorf("%w: id %q is reserved", ErrInvalid, meta.ID)
	}
	key, err := kv.RecordKey(kind, meta.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	now := s.now().UTC()
	meta.Version = 1
	meta.History = &api.History{Created: now, Updated: now}

	err = s.retry(ctx, "create", func() error {
		w := s.kv.Write()
		defer w.Close()

		old, err := w.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		if old != nil {
			return fmt.Errorf("%w: %s/%s already exists", ErrConflict, kind, meta.ID)
		}
		return s.put(ctx, w, "create", key, rec)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, bus.OpCreate, rec)
	return rec, nil
}

// Update applies patch to the record kind/id. A null value deletes the
// field; id and kind cannot change. When patch carries a version it must
// match the stored one. changed is false when the patch was a no-op.
func (s *Store) Update(ctx context.Context, kind, id string, patch map[string]any) (rec api.Record, changed bool, err error) {
	if _, err := api.LookupKind(kind); err != nil {
		return nil, false, err
	}
	key, err := kv.RecordKey(kind, id)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	expect, hasExpect, err := expectedVersion(patch)
	if err != nil {
		return nil, false, err
	}

	err = s.retry(ctx, "update", func() error {
		w := s.kv.Write()
		defer w.Close()

		b, err := w.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		if b == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
		}
		old, err := decodeStored(kind, b)
		if err != nil {
			return err
		}
		oldMeta := old.GetMeta()

		if hasExpect && expect != oldMeta.Version {
			return fmt.Errorf("%w: version is out of date (have %d, got %d)", ErrConflict, oldMeta.Version, expect)
		}

		doc, err := toDoc(old)
		if err != nil {
			return err
		}
		if err := applyPatch(doc, patch); err != nil {
			return err
		}

		next, err := s.validator.Validate(kind, doc)
		if err != nil {
			return err
		}

		meta := next.GetMeta()
		*meta = *oldMeta
		if same, err := sameRecord(old, next); err != nil {
			return err
		} else if same {
			rec, changed = old, false
			return w.Rollback()
		}

		meta.Version = oldMeta.Version + 1
		meta.History = &api.History{Updated: s.now().UTC()}
		if oldMeta.History != nil {
			meta.History.Created = oldMeta.History.Created
		}

		if err := s.put(ctx, w, "update", key, next); err != nil {
			return err
		}
		rec, changed = next, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.publish(ctx, bus.OpUpdate, rec)
	}
	return rec, changed, nil
}

func (s *Store) Delete(ctx context.Context, kind, id string) error {
	if _, err := api.LookupKind(kind); err != nil {
		return err
	}
	key, err := kv.RecordKey(kind, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var old api.Record
	err = s.retry(ctx, "delete", func() error {
		w := s.kv.Write()
		defer w.Close()

		b, err := w.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		if b == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
		}
		old, err = decodeStored(kind, b)
		if err != nil {
			return err
		}
		if err := w.Del(key); err != nil {
			return err
		}
		return s.commit(ctx, w, "delete")
	})
	if err != nil {
		return err
	}

	s.publish(ctx, bus.OpDelete, old)
	return nil
}

func (s *Store) put(ctx context.Context, w kv.Write, op string, key []byte, rec api.Record) error {
	b, err := encodeStored(rec)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	if err := w.Put(key, b); err != nil {
		return err
	}
	return s.commit(ctx, w, op)
}

func (s *Store) commit(ctx context.Context, w kv.Write, op string) error {
	start := time.Now()
	err := w.Commit(ctx)
	kvCommitDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if kv.IsConflict(err) {
		kvCommitFailures.WithLabelValues(op, "conflict").Inc()
		return err
	}
	kvCommitFailures.WithLabelValues(op, "storage").Inc()
	return fmt.Errorf("database error: %w", err)
}

// retry runs fn until it succeeds, fails with anything but a write
// conflict, or runs out of attempts.
func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	for i := 0; ; i++ {
		err := fn()
		if err == nil {
			kvLockRetries.WithLabelValues(op, "ok").Observe(float64(i))
			return nil
		}
		if !kv.IsConflict(err) {
			return err
		}
		if i >= maxRetries {
			kvLockRetries.WithLabelValues(op, "gave_up").Observe(float64(i))
			return fmt.Errorf("%w: preempted by a different parallel write", ErrConflict)
		}

		slog.Warn("retrying write", "op", op, "attempt", i, "err", err)

		delay := 10 * time.Millisecond
		if i > 10 {
			delay = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *Store) publish(ctx context.Context, op bus.Op, rec api.Record) {
	if s.bus == nil {
		return
	}
	m := rec.GetMeta()
	ev := bus.ListChanged{Kind: m.Kind, Op: op, ID: m.ID, Version: m.Version, At: s.now().UTC()}
	if err := s.bus.Publish(ctx, ev); err != nil {
		slog.Warn("publishing list change failed", "kind", m.Kind, "id", m.ID, "err", err)
	}
}

func sameRecord(a, b api.Record) (bool, error) {
	ab, err := encodeStored(a)
	if err != nil {
		return false, err
	}
	bb, err := encodeStored(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}

func clone(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+2)
	for k, v := range doc {
		out[k] = v
	}
	return out
}
