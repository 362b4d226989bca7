package bus

import (
	"fmt"

	"github.com/aep/healthdesk/config"
)

// Open builds the bus described by cfg. The returned stop function closes
// the bus and any embedded server.
func Open(cfg config.BusConfig) (Bus, func(), error) {
	switch cfg.Driver {
	case "", "solo":
		b := NewSolo()
		return b, b.Close, nil
	case "nats":
		url := cfg.URL
		var embedded *Embedded
		if cfg.Embedded {
			var err error
			embedded, err = NewEmbeddedNats("localhost", 4222, cfg.StoreDir)
			if err != nil {
				return nil, nil, err
			}
			url = embedded.ClientURL()
		}
		n, err := ConnectNats(url, cfg.Embedded)
		if err != nil {
			if embedded != nil {
				embedded.Shutdown()
			}
			return nil, nil, err
		}
		return n, func() {
			n.Close()
			if embedded != nil {
				embedded.Shutdown()
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("%w: bus.driver %q", config.ErrInvalid, cfg.Driver)
}
