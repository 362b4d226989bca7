package bus

import (
	"context"
	"sync"
)

// SoloBus is the in-process bus used when a single server owns the store.
type SoloBus struct {
	m      sync.Mutex
	nextID int
	subs   map[string]map[int]chan ListChanged
	closed bool
}

func NewSolo() *SoloBus {
	return &SoloBus{
		subs: make(map[string]map[int]chan ListChanged),
	}
}

func (self *SoloBus) Publish(ctx context.Context, ev ListChanged) error {
	self.m.Lock()
	defer self.m.Unlock()

	if self.closed {
		return nil
	}

	for _, topic := range []string{ev.Kind, AllKinds} {
		for _, ch := range self.subs[topic] {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

func (self *SoloBus) Subscribe(kind string) (<-chan ListChanged, func()) {
	self.m.Lock()
	defer self.m.Unlock()

	ch := make(chan ListChanged, subscriberBuffer)
	if self.closed {
		close(ch)
		return ch, func() {}
	}

	if self.subs[kind] == nil {
		self.subs[kind] = make(map[int]chan ListChanged)
	}
	id := self.nextID
	self.nextID++
	self.subs[kind][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			self.m.Lock()
			defer self.m.Unlock()
			if c, ok := self.subs[kind][id]; ok {
				delete(self.subs[kind], id)
				close(c)
			}
		})
	}
}

func (self *SoloBus) Close() {
	self.m.Lock()
	defer self.m.Unlock()

	self.closed = true
	for _, subs := range self.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
	}
}
