package object

import (
	"sync"
	"sync/atomic"
	"time"
)

// PropertyChange is published on a device's change bus whenever a committed
// property write changed the stored value.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type PropertyChange struct {
	Device   uint32
	Object   ObjectID
	Property PropertyID
	Old      any
	New      any
	Time     time.Time
}

// ChangeBus is a simple in-memory fanout for property changes.
//
// It intentionally does not own any background goroutines.
type ChangeBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan PropertyChange
	seq  atomic.Uint64
}

func NewChangeBus() *ChangeBus {
	return &ChangeBus{subs: map[uint64]chan PropertyChange{}}
}

func (b *ChangeBus) Publish(e PropertyChange) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan PropertyChange, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *ChangeBus) Subscribe(buffer int) (<-chan PropertyChange, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan PropertyChange, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
