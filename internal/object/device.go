package object

import (
	"errors"
	"fmt"
	"sync"
	"time"

	logx "bacsched/pkg/logx"
)

// Clock supplies the wall clock. Tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

// RemoteWrite is one prioritized property write destined for a remote device.
type RemoteWrite struct {
	Object     ObjectID
	Property   PropertyID
	ArrayIndex *uint32
	Value      any
	Priority   int
}

// WriteCallbacks receives exactly one of the three disjoint completion
// outcomes of a remote write. Any callback may be nil.
type WriteCallbacks struct {
	OnAck     func()          // acknowledged success
	OnReject  func(err error) // negative acknowledgement from the peer
	OnFailure func(err error) // transport or protocol failure
}

// RemoteDevice is an opaque handle to a resolved peer.
type RemoteDevice interface {
	Instance() uint32
}

// Network is the request transport consumed by entities that write to remote
// targets. WriteProperty must not block on the remote completing; callbacks
// fire asynchronously.
type Network interface {
	ResolveDevice(instance uint32) (RemoteDevice, error)
	WriteProperty(dev RemoteDevice, w RemoteWrite, cb WriteCallbacks)
}

// ErrNoNetwork is returned by ResolveRemote when the device has no transport.
var ErrNoNetwork = errors.New("device has no network transport")

// Device owns the local object registry, the clock, the timer facility and
// the network handle. It is the "local device" entities are attached to.
type Device struct {
	instance uint32
	log      logx.Logger
	clock    Clock
	changes  *ChangeBus

	mu      sync.RWMutex
	net     Network
	objects map[ObjectID]Entity
}

func NewDevice(instance uint32, log logx.Logger) *Device {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Device{
		instance: instance,
		log:      log.With(logx.Uint32("device", instance)),
		clock:    systemClock{},
		changes:  NewChangeBus(),
		objects:  map[ObjectID]Entity{},
	}
}

func (d *Device) Instance() uint32 { return d.instance }

func (d *Device) Log() logx.Logger { return d.log }

func (d *Device) Changes() *ChangeBus { return d.changes }

// SetClock replaces the wall clock. Call before attaching entities.
func (d *Device) SetClock(c Clock) {
	if c != nil {
		d.clock = c
	}
}

func (d *Device) Now() time.Time { return d.clock.Now() }

// SetNetwork installs the request transport used for remote target writes.
func (d *Device) SetNetwork(n Network) {
	d.mu.Lock()
	d.net = n
	d.mu.Unlock()
}

// ResolveRemote resolves a peer device by instance number.
func (d *Device) ResolveRemote(instance uint32) (RemoteDevice, error) {
	d.mu.RLock()
	n := d.net
	d.mu.RUnlock()
	if n == nil {
		return nil, ErrNoNetwork
	}
	return n.ResolveDevice(instance)
}

// SendWrite issues an asynchronous remote write through the transport.
func (d *Device) SendWrite(dev RemoteDevice, w RemoteWrite, cb WriteCallbacks) {
	d.mu.RLock()
	n := d.net
	d.mu.RUnlock()
	if n == nil {
		if cb.OnFailure != nil {
			cb.OnFailure(ErrNoNetwork)
		}
		return
	}
	n.WriteProperty(dev, w, cb)
}

// AddObject registers an entity and runs its attachment lifecycle.
func (d *Device) AddObject(e Entity) error {
	id := e.ID()

	d.mu.Lock()
	if _, dup := d.objects[id]; dup {
		d.mu.Unlock()
		return fmt.Errorf("object %s already registered", id)
	}
	d.objects[id] = e
	d.mu.Unlock()

	e.base().setDevice(d)
	if a, ok := e.(Attachment); ok {
		a.AddedToDevice(d)
	}
	d.log.Debug("object attached", logx.Stringer("object", id))
	return nil
}

// RemoveObject detaches an entity. Timers owned by the entity are cancelled
// via its RemovedFromDevice hook. No-op when the id is unknown.
func (d *Device) RemoveObject(id ObjectID) {
	d.mu.Lock()
	e, ok := d.objects[id]
	if ok {
		delete(d.objects, id)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	if a, ok := e.(Attachment); ok {
		a.RemovedFromDevice()
	}
	e.base().setDevice(nil)
	d.log.Debug("object detached", logx.Stringer("object", id))
}

// Object returns a registered entity, or nil.
func (d *Device) Object(id ObjectID) Entity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.objects[id]
}

// ObjectIDs returns a snapshot of the registered ids.
func (d *Device) ObjectIDs() []ObjectID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]ObjectID, 0, len(d.objects))
	for id := range d.objects {
		ids = append(ids, id)
	}
	return ids
}

// RemoveAll detaches every registered entity.
func (d *Device) RemoveAll() {
	for _, id := range d.ObjectIDs() {
		d.RemoveObject(id)
	}
}

func (d *Device) publishChange(id ObjectID, p PropertyID, old, new any) {
	d.changes.Publish(PropertyChange{
		Device:   d.instance,
		Object:   id,
		Property: p,
		Old:      old,
		New:      new,
		Time:     d.clock.Now(),
	})
}

// ---- Timer facility ----

// Timer is a cancellable handle for a scheduled callback. Cancel is
// idempotent and safe to call from any goroutine, including the callback.
type Timer struct {
	mu      sync.Mutex
	stop    func()
	stopped bool
}

func (t *Timer) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.stop != nil {
		t.stop()
	}
}

// ScheduleAt runs fn once at the given instant. Instants in the past fire
// immediately (asynchronously).
func (d *Device) ScheduleAt(at time.Time, fn func()) *Timer {
	delay := at.Sub(d.clock.Now())
	if delay < 0 {
		delay = 0
	}
	t := time.AfterFunc(delay, fn)
	return &Timer{stop: func() { t.Stop() }}
}

// ScheduleFixedRate runs fn after delay, then every period, until cancelled.
func (d *Device) ScheduleFixedRate(delay, period time.Duration, fn func()) *Timer {
	done := make(chan struct{})
	go func() {
		first := time.NewTimer(delay)
		defer first.Stop()
		select {
		case <-done:
			return
		case <-first.C:
		}
		fn()

		tick := time.NewTicker(period)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				fn()
			}
		}
	}()
	return &Timer{stop: func() { close(done) }}
}
