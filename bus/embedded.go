package bus

import (
	"errors"
	"time"

	natsd "github.com/nats-io/nats-server/v2/server"
)

// Embedded is an in-process NATS server with JetStream enabled.
type Embedded struct {
	srv *natsd.Server
}

// NewEmbeddedNats starts a server on host:port. Port -1 picks a free port.
func NewEmbeddedNats(host string, port int, storeDir string) (*Embedded, error) {
	if storeDir == "" {
		storeDir = "nats-store"
	}
	opts := &natsd.Options{
		Host:      host,
		Port:      port,
		JetStream: true,
		StoreDir:  storeDir,
		NoSigs:    true,
		NoLog:     true,
	}

	srv, err := natsd.NewServer(opts)
	if err != nil {
		return nil, err
	}

	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, errors.New("embedded nats server did not become ready")
	}
	return &Embedded{srv: srv}, nil
}

func (e *Embedded) ClientURL() string {
	return e.srv.ClientURL()
}

func (e *Embedded) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
