package pebblestore

import (
	"sync"

	"github.com/driftq/driftq/internal/storage"
)

// subBuf bounds the per-subscription delivery queue. The query engine
// collapses notifications into a single requery obligation, so dropping a
// message behind a full queue loses no wakeup: the queued messages already
// wake the reader.
const subBuf = 128

type bus struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

func newBus() *bus {
	return &bus{subs: map[string]map[*subscription]struct{}{}}
}

type subscription struct {
	bus     *bus
	channel string
	ch      chan storage.Message
	once    sync.Once
}

func (s *subscription) Messages() <-chan storage.Message { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set, ok := s.bus.subs[s.channel]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.subs, s.channel)
			}
		}
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (b *bus) subscribe(channel string) (storage.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, storage.ErrClosed
	}
	sub := &subscription{bus: b, channel: channel, ch: make(chan storage.Message, subBuf)}
	set, ok := b.subs[channel]
	if !ok {
		set = map[*subscription]struct{}{}
		b.subs[channel] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

func (b *bus) publish(channel string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[channel] {
		select {
		case sub.ch <- storage.Message{Channel: channel, Payload: append([]byte(nil), payload...)}:
		default:
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch, set := range b.subs {
		for sub := range set {
			sub.markClosedLocked()
		}
		delete(b.subs, ch)
	}
}

// markClosedLocked closes the delivery channel without re-entering the bus
// lock. Callers must hold bus.mu.
func (s *subscription) markClosedLocked() {
	s.once.Do(func() { close(s.ch) })
}
