package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamName is the JetStream stream that keeps recent events when the bus
// is durable.
const StreamName = "healthdesk-list"

// Nats publishes events on Subject(kind).
type Nats struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// ConnectNats connects to url. When durable is set, events are published
// through JetStream into StreamName.
func ConnectNats(url string, durable bool) (*Nats, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, nats.Name("healthdesk"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := &Nats{nc: nc}
	if !durable {
		return n, nil
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"healthdesk.list.>"},
		Storage:  nats.FileStorage,
		Replicas: 1,
		MaxAge:   24 * time.Hour,
		// only the latest change per kind is interesting
		MaxMsgsPerSubject: 1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("error creating jetstream [needs a nats-server with -js]: %w", err)
	}
	n.js = js
	return n, nil
}

func (n *Nats) Publish(ctx context.Context, ev ListChanged) error {
	b, err := json.Marshal(&ev)
	if err != nil {
		return err
	}
	if n.js != nil {
		_, err = n.js.Publish(Subject(ev.Kind), b, nats.Context(ctx))
		return err
	}
	return n.nc.Publish(Subject(ev.Kind), b)
}

func (n *Nats) Subscribe(kind string) (<-chan ListChanged, func()) {
	ch := make(chan ListChanged, subscriberBuffer)

	var mu sync.Mutex
	closed := false

	sub, err := n.nc.Subscribe(Subject(kind), func(msg *nats.Msg) {
		var ev ListChanged
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("dropping malformed list event", "subject", msg.Subject, "err", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	if err != nil {
		slog.Error("nats subscribe failed", "subject", Subject(kind), "err", err)
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}

// Flush waits until the server has processed everything published so far.
func (n *Nats) Flush() error {
	return n.nc.Flush()
}

func (n *Nats) Close() {
	n.nc.Close()
}
