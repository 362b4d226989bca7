package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	tikverr "github.com/tikv/client-go/v2/error"
)

var log = slog.New(tint.NewHandler(os.Stderr, nil))

// SetLogger replaces the package logger.
func SetLogger(l *slog.Logger) { log = l }

type KeyAndValue struct {
	K []byte
	V []byte
}

type KV interface {
	Close()
	Write() Write
	// ExclusiveWrite returns a write that holds a lock on keys until it is
	// committed or rolled back.
	ExclusiveWrite(ctx context.Context, keys ...[]byte) (Write, error)
	Read() Read
	Ping() error
}

// Read is a consistent snapshot. Get returns a nil value and no error for
// missing keys.
type Read interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Iter(ctx context.Context, start []byte, end []byte) iter.Seq2[KeyAndValue, error]
	Close()
}

type Write interface {
	Read
	Put(key []byte, value []byte) error
	Del(key []byte) error
	Commit(ctx context.Context) error
	Rollback() error
	Close()
}

var (
	ErrAlreadyCommitted = errors.New("already committed")
	ErrUnknownDriver    = errors.New("unknown kv driver")
)

// IsConflict reports whether err is a write conflict that may succeed when
// the transaction is retried.
func IsConflict(err error) bool {
	return err != nil && tikverr.IsErrWriteConflict(err)
}

// Config selects and configures a backend.
type Config struct {
	// Driver is one of pebble, memory or tikv.
	Driver string `json:"driver"`
	// Path is the pebble data directory.
	Path string `json:"path,omitempty"`
	// PDEndpoints are the TiKV placement driver addresses.
	PDEndpoints []string `json:"pdEndpoints,omitempty"`
}

// Open opens the backend named by cfg.Driver.
func Open(cfg Config) (KV, error) {
	switch cfg.Driver {
	case "", "pebble":
		return NewPebble(cfg.Path)
	case "memory":
		return NewMemPebble()
	case "tikv":
		return NewTikv(cfg.PDEndpoints...)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}
