package kv

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var ErrInvalidKey = errors.New("invalid key component")

const sep = "\xff"

func checkComponent(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if bytes.IndexByte([]byte(s), 0xff) >= 0 {
		return fmt.Errorf("%w: %q contains 0xff", ErrInvalidKey, s)
	}
	return nil
}

// RecordKey is r\xff<kind>\xff<id>\xff.
func RecordKey(kind, id string) ([]byte, error) {
	if err := checkComponent(kind); err != nil {
		return nil, err
	}
	if err := checkComponent(id); err != nil {
		return nil, err
	}
	return []byte("r" + sep + kind + sep + id + sep), nil
}

// RecordRange returns the bounds of all records of kind.
func RecordRange(kind string) (start, end []byte, err error) {
	if err := checkComponent(kind); err != nil {
		return nil, nil, err
	}
	prefix := "r" + sep + kind + sep
	return []byte(prefix), []byte(prefix + sep), nil
}

// HistoryKey is h\xff<scope>\xff.
func HistoryKey(scope string) ([]byte, error) {
	if err := checkComponent(scope); err != nil {
		return nil, err
	}
	return []byte("h" + sep + scope + sep), nil
}

// Escape renders a key with non printable bytes hex escaped.
func Escape(b []byte) string {
	var out bytes.Buffer
	for _, c := range b {
		if c >= 32 && c <= 126 {
			out.WriteByte(c)
		} else {
			fmt.Fprintf(&out, "\\x%02x", c)
		}
	}
	return out.String()
}

// Unescape reverses Escape.
func Unescape(s string) ([]byte, error) {
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) || s[i+1] != 'x' {
			out = append(out, s[i])
			continue
		}
		if i+3 >= len(s) {
			return nil, fmt.Errorf("%w: truncated escape in %q", ErrInvalidKey, s)
		}
		c, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: bad escape in %q", ErrInvalidKey, s)
		}
		out = append(out, byte(c))
		i += 3
	}
	return out, nil
}
