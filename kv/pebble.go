package kv

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Pebbledb is the embedded backend. Pebble has no optimistic transactions
// like TiKV, so every write holds a single global lock from its first access
// until commit or rollback.
type Pebbledb struct {
	db *pebble.DB

	globalWriteLock sync.Mutex
}

type PebbleWrite struct {
	p         *Pebbledb
	batch     *pebble.Batch
	err       error
	committed bool
	locked    bool
	closed    bool
}

func (w *PebbleWrite) lock() {
	if !w.locked {
		w.p.globalWriteLock.Lock()
		w.locked = true
	}
}

func (w *PebbleWrite) unlock() {
	if w.locked {
		w.locked = false
		w.p.globalWriteLock.Unlock()
	}
}

func (w *PebbleWrite) Commit(ctx context.Context) error {
	defer w.unlock()
	if w.err != nil {
		return w.err
	}
	if w.committed {
		return ErrAlreadyCommitted
	}
	if err := w.batch.Commit(pebble.Sync); err != nil {
		w.err = err
		return err
	}
	w.committed = true
	return nil
}

func (w *PebbleWrite) Rollback() error {
	defer w.unlock()
	if w.committed {
		return ErrAlreadyCommitted
	}
	return w.release()
}

func (w *PebbleWrite) release() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.batch.Close()
}

func (w *PebbleWrite) Put(key []byte, value []byte) error {
	w.lock()
	if w.err != nil {
		return w.err
	}
	err := w.batch.Set(key, value, pebble.Sync)
	if err != nil {
		w.Rollback()
		w.err = err
	}
	log.Debug("[pebble].Put:", "key", Escape(key), "err", err)
	return w.err
}

func (w *PebbleWrite) Get(ctx context.Context, key []byte) ([]byte, error) {
	w.lock()
	if w.err != nil {
		return nil, w.err
	}
	return get(w.batch, key)
}

func (w *PebbleWrite) Del(key []byte) error {
	w.lock()
	if w.err != nil {
		return w.err
	}
	err := w.batch.Delete(key, pebble.Sync)
	if err != nil {
		w.Rollback()
		w.err = err
	}
	log.Debug("[pebble].Del:", "key", Escape(key), "err", err)
	return w.err
}

func (w *PebbleWrite) Iter(ctx context.Context, start []byte, end []byte) iter.Seq2[KeyAndValue, error] {
	w.lock()
	return scan(func(o *pebble.IterOptions) (*pebble.Iterator, error) {
		return w.batch.NewIter(o)
	}, start, end)
}

func (w *PebbleWrite) Close() {
	w.release()
	w.unlock()
}

type PebbleRead struct {
	snapshot *pebble.Snapshot
}

func (r *PebbleRead) Get(ctx context.Context, key []byte) ([]byte, error) {
	return get(r.snapshot, key)
}

func (r *PebbleRead) Iter(ctx context.Context, start []byte, end []byte) iter.Seq2[KeyAndValue, error] {
	return scan(r.snapshot.NewIter, start, end)
}

func (r *PebbleRead) Close() {
	r.snapshot.Close()
}

type pebbleGetter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func get(g pebbleGetter, key []byte) ([]byte, error) {
	val, closer, err := g.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			log.Debug("[pebble].Get:", "key", Escape(key), "err", "not found")
			return nil, nil
		}
		log.Debug("[pebble].Get:", "key", Escape(key), "err", err)
		return nil, err
	}
	defer closer.Close()

	// the closer invalidates val
	result := make([]byte, len(val))
	copy(result, val)

	log.Debug("[pebble].Get:", "key", Escape(key))
	return result, nil
}

func scan(open func(*pebble.IterOptions) (*pebble.Iterator, error), start, end []byte) iter.Seq2[KeyAndValue, error] {
	return func(yield func(KeyAndValue, error) bool) {
		opts := &pebble.IterOptions{LowerBound: start}
		if len(end) > 0 {
			opts.UpperBound = end
		}
		it, err := open(opts)
		if err != nil {
			yield(KeyAndValue{}, err)
			return
		}
		defer it.Close()

		for it.First(); it.Valid(); it.Next() {
			// iterator movement invalidates key and value
			key := append([]byte(nil), it.Key()...)
			val := append([]byte(nil), it.Value()...)

			if !yield(KeyAndValue{K: key, V: val}, nil) {
				return
			}
		}

		if err := it.Error(); err != nil {
			log.Debug("[pebble].Iter:", "start", Escape(start), "end", Escape(end), "err", err)
			yield(KeyAndValue{}, err)
		}
	}
}

func (p *Pebbledb) Close() {
	p.db.Close()
}

func (p *Pebbledb) Write() Write {
	return &PebbleWrite{p: p, batch: p.db.NewIndexedBatch()}
}

// ExclusiveWrite takes the global write lock up front; the keys are
// implicitly covered by it.
func (p *Pebbledb) ExclusiveWrite(ctx context.Context, keys ...[]byte) (Write, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &PebbleWrite{p: p, batch: p.db.NewIndexedBatch()}
	w.lock()
	return w, nil
}

func (p *Pebbledb) Read() Read {
	return &PebbleRead{snapshot: p.db.NewSnapshot()}
}

func (p *Pebbledb) Ping() error {
	_, closer, err := p.db.Get([]byte{0})
	if err == nil {
		closer.Close()
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return err
}

func NewPebble(path string) (KV, error) {
	if path == "" {
		path = "healthdesk-db"
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Pebbledb{db: db}, nil
}

// NewMemPebble opens an in-memory database, used by tests and the memory
// driver.
func NewMemPebble() (KV, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &Pebbledb{db: db}, nil
}
