package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"
	"time"

	pingcaplog "github.com/pingcap/log"
	tikverr "github.com/tikv/client-go/v2/error"
	tikvkv "github.com/tikv/client-go/v2/kv"
	"github.com/tikv/client-go/v2/txnkv"
	"github.com/tikv/client-go/v2/txnkv/txnsnapshot"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultPDEndpoint = "127.0.0.1:2379"

var tracer trace.Tracer

func init() {
	// the client logs through pingcap/log; keep it quiet below warn
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if l, err := cfg.Build(); err == nil {
		_, props, _ := pingcaplog.InitLogger(&pingcaplog.Config{})
		pingcaplog.ReplaceGlobals(l, props)
	}

	tracer = otel.Tracer("github.com/aep/healthdesk/kv")
}

// pdEndpoints picks the placement driver addresses: the explicit list, then
// PD_ENDPOINT (comma separated), then the local default.
func pdEndpoints(explicit []string, env string) []string {
	var out []string
	for _, e := range explicit {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, e := range strings.Split(env, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return out
	}
	return []string{defaultPDEndpoint}
}

type tikvGetter interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
}

// tikvGet reads key, reporting a missing key as a nil value like the
// pebble backend does.
func tikvGet(ctx context.Context, g tikvGetter, key []byte) ([]byte, error) {
	v, err := g.Get(ctx, key)
	switch {
	case tikverr.IsErrNotFound(err):
		return nil, nil
	case err != nil:
		log.Debug("tikv get", "key", Escape(key), "err", err)
		return nil, err
	}
	return v, nil
}

// tikvIterator is the part of the client's iterator that scans use.
type tikvIterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next() error
	Close()
}

// tikvScan turns an iterator opened by open into a sequence. An error
// while advancing ends the sequence after it is yielded.
func tikvScan(ctx context.Context, span string, open func(start, end []byte) (tikvIterator, error), start, end []byte) iter.Seq2[KeyAndValue, error] {
	return func(yield func(KeyAndValue, error) bool) {
		_, sp := tracer.Start(ctx, span)
		defer sp.End()

		it, err := open(start, end)
		if err != nil {
			log.Debug("tikv scan", "start", Escape(start), "end", Escape(end), "err", err)
			yield(KeyAndValue{}, err)
			return
		}
		defer it.Close()

		for it.Valid() {
			if !yield(KeyAndValue{K: it.Key(), V: it.Value()}, nil) {
				return
			}
			if err := it.Next(); err != nil {
				log.Debug("tikv scan", "start", Escape(start), "end", Escape(end), "err", err)
				yield(KeyAndValue{}, err)
				return
			}
		}
	}
}

type Tikv struct {
	client *txnkv.Client
}

// NewTikv connects to the placement drivers at endpoints. See pdEndpoints
// for the fallbacks when none are given.
func NewTikv(endpoints ...string) (KV, error) {
	endpoints = pdEndpoints(endpoints, os.Getenv("PD_ENDPOINT"))
	c, err := txnkv.NewClient(endpoints)
	if err != nil {
		return nil, fmt.Errorf("connecting to tikv %v: %w", endpoints, err)
	}
	return &Tikv{client: c}, nil
}

func (t *Tikv) Close() { t.client.Close() }

func (t *Tikv) Ping() error {
	_, err := t.client.CurrentTimestamp("global")
	return err
}

func (t *Tikv) Read() Read {
	ts, err := t.client.CurrentTimestamp("global")
	if err != nil {
		return &TikvRead{err: err}
	}
	return &TikvRead{snap: t.client.GetSnapshot(ts)}
}

func (t *Tikv) Write() Write {
	txn, err := t.client.Begin()
	return &TikvWrite{txn: txn, err: err}
}

// lockWait is how long a single LockKeys call waits for other holders
// before it is retried.
const lockWait = 100 * time.Millisecond

// ExclusiveWrite starts a pessimistic transaction holding keys. The client
// retries lock waits itself; a conflict on a locked key restarts the
// transaction so it reads the newer value.
func (t *Tikv) ExclusiveWrite(ctx context.Context, keys ...[]byte) (Write, error) {
	ctx, span := tracer.Start(ctx, "kv.Tikv.ExclusiveWrite")
	defer span.End()

	for {
		txn, err := t.client.Begin()
		if err != nil {
			return nil, err
		}
		txn.SetPessimistic(true)

		err = lockKeys(ctx, txn, keys)
		if err == nil {
			return &TikvWrite{txn: txn}, nil
		}
		txn.Rollback()
		if !tikverr.IsErrWriteConflict(err) {
			return nil, err
		}
		log.Debug("tikv lock conflict, restarting", "keys", len(keys))
	}
}

func lockKeys(ctx context.Context, txn *txnkv.KVTxn, keys [][]byte) error {
	for {
		lctx := tikvkv.NewLockCtx(txn.StartTS(), lockWait.Milliseconds(), time.Now())
		err := txn.LockKeys(ctx, lctx, keys...)
		if !retryLock(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// retryLock reports whether a LockKeys failure only timed out waiting for
// another holder.
func retryLock(err error) bool {
	return errors.Is(err, tikverr.ErrLockWaitTimeout)
}

type TikvRead struct {
	snap *txnsnapshot.KVSnapshot
	err  error
}

func (r *TikvRead) Get(ctx context.Context, key []byte) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	ctx, span := tracer.Start(ctx, "kv.TikvRead.Get")
	defer span.End()
	return tikvGet(ctx, r.snap, key)
}

func (r *TikvRead) Iter(ctx context.Context, start []byte, end []byte) iter.Seq2[KeyAndValue, error] {
	if r.err != nil {
		return failed(r.err)
	}
	return tikvScan(ctx, "kv.TikvRead.Iter", func(s, e []byte) (tikvIterator, error) {
		return r.snap.Iter(s, e)
	}, start, end)
}

func (r *TikvRead) Close() {}

// TikvWrite is a transaction. The first failed operation poisons it; every
// later call returns that error.
type TikvWrite struct {
	txn       *txnkv.KVTxn
	err       error
	committed bool
}

func (w *TikvWrite) Get(ctx context.Context, key []byte) ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	ctx, span := tracer.Start(ctx, "kv.TikvWrite.Get")
	defer span.End()
	return tikvGet(ctx, w.txn, key)
}

func (w *TikvWrite) Iter(ctx context.Context, start []byte, end []byte) iter.Seq2[KeyAndValue, error] {
	if w.err != nil {
		return failed(w.err)
	}
	return tikvScan(ctx, "kv.TikvWrite.Iter", func(s, e []byte) (tikvIterator, error) {
		return w.txn.Iter(s, e)
	}, start, end)
}

func (w *TikvWrite) Put(key []byte, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if err := w.txn.Set(key, value); err != nil {
		w.fail(err)
	}
	return w.err
}

func (w *TikvWrite) Del(key []byte) error {
	if w.err != nil {
		return w.err
	}
	if err := w.txn.Delete(key); err != nil {
		w.fail(err)
	}
	return w.err
}

func (w *TikvWrite) Commit(ctx context.Context) error {
	if w.committed {
		return ErrAlreadyCommitted
	}
	if w.err != nil {
		return w.err
	}
	ctx, span := tracer.Start(ctx, "kv.TikvWrite.Commit")
	defer span.End()

	if err := w.txn.Commit(ctx); err != nil {
		w.err = err
		return err
	}
	w.committed = true
	return nil
}

func (w *TikvWrite) Rollback() error {
	if w.committed {
		return ErrAlreadyCommitted
	}
	if w.err != nil {
		return w.err
	}
	return w.txn.Rollback()
}

func (w *TikvWrite) Close() {
	if !w.committed && w.txn != nil {
		w.txn.Rollback()
	}
}

func (w *TikvWrite) fail(err error) {
	w.txn.Rollback()
	w.err = err
}

// failed is a sequence that yields only err.
func failed(err error) iter.Seq2[KeyAndValue, error] {
	return func(yield func(KeyAndValue, error) bool) {
		yield(KeyAndValue{}, err)
	}
}
