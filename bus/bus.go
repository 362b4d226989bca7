// Package bus carries typed "list changed" events from the record store to
// everything that renders a list.
package bus

import (
	"context"
	"time"
)

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// AllKinds subscribes to every record kind.
const AllKinds = "*"

// ListChanged reports that the records of Kind changed.
type ListChanged struct {
	Kind    string    `json:"kind"`
	Op      Op        `json:"op"`
	ID      string    `json:"id"`
	Version uint64    `json:"version,omitempty"`
	At      time.Time `json:"at"`
}

type Bus interface {
	Publish(ctx context.Context, ev ListChanged) error
	// Subscribe delivers events for kind, or for all kinds with AllKinds,
	// until cancel is called. Slow subscribers miss events rather than
	// block publishers.
	Subscribe(kind string) (events <-chan ListChanged, cancel func())
	Close()
}

// Subject is the NATS subject events of kind are published on.
func Subject(kind string) string {
	return "healthdesk.list." + kind + ".changed"
}

const subscriberBuffer = 16
