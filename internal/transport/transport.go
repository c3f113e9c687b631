package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bacsched/internal/object"
	logx "bacsched/pkg/logx"
)

// ErrUnknownDevice is returned when a peer instance cannot be resolved.
var ErrUnknownDevice = errors.New("unknown remote device")

// ErrClosed is reported to in-flight writes when the network shuts down.
var ErrClosed = errors.New("network closed")

// Config tunes the in-process network.
type Config struct {
	// RatePerSec caps outbound write requests. 0 disables limiting.
	RatePerSec int
	// Burst is the limiter burst size; defaults to RatePerSec.
	Burst int
	// Latency is an artificial per-request delay, useful in tests.
	Latency time.Duration
	// Timeout bounds one request end to end. 0 means 5s.
	Timeout time.Duration
}

// Inproc joins local devices into a network: writes addressed to a peer are
// delivered to that device's object registry on a separate goroutine, with
// completion reported through the caller's callbacks. It gives the dispatch
// engine real asynchronous three-outcome semantics without a wire.
type Inproc struct {
	log     logx.Logger
	limiter *rate.Limiter
	latency time.Duration
	timeout time.Duration

	mu     sync.RWMutex
	peers  map[uint32]*object.Device
	closed bool
}

func NewInproc(cfg Config, log logx.Logger) *Inproc {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Inproc{
		log:     log,
		latency: cfg.Latency,
		timeout: cfg.Timeout,
		peers:   map[uint32]*object.Device{},
	}
	if n.timeout <= 0 {
		n.timeout = 5 * time.Second
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.RatePerSec
		}
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return n
}

// Register joins a device to the network and installs the network on it.
func (n *Inproc) Register(d *object.Device) {
	n.mu.Lock()
	n.peers[d.Instance()] = d
	n.mu.Unlock()
	d.SetNetwork(n)
	n.log.Debug("device joined network", logx.Uint32("instance", d.Instance()))
}

// Unregister removes a device. In-flight writes to it fail as unreachable.
func (n *Inproc) Unregister(instance uint32) {
	n.mu.Lock()
	delete(n.peers, instance)
	n.mu.Unlock()
}

// Close fails all subsequent and in-flight requests.
func (n *Inproc) Close() {
	n.mu.Lock()
	n.closed = true
	n.peers = map[uint32]*object.Device{}
	n.mu.Unlock()
}

type remoteHandle struct{ instance uint32 }

func (h remoteHandle) Instance() uint32 { return h.instance }

func (n *Inproc) ResolveDevice(instance uint32) (object.RemoteDevice, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil, ErrClosed
	}
	if _, ok := n.peers[instance]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, instance)
	}
	return remoteHandle{instance: instance}, nil
}

// WriteProperty delivers one prioritized write asynchronously. Exactly one of
// the three callbacks fires per request.
func (n *Inproc) WriteProperty(dev object.RemoteDevice, w object.RemoteWrite, cb object.WriteCallbacks) {
	go n.deliver(dev.Instance(), w, cb)
}

func (n *Inproc) deliver(instance uint32, w object.RemoteWrite, cb object.WriteCallbacks) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			n.fail(cb, fmt.Errorf("rate limiter: %w", err))
			return
		}
	}
	if n.latency > 0 {
		select {
		case <-ctx.Done():
			n.fail(cb, ctx.Err())
			return
		case <-time.After(n.latency):
		}
	}

	n.mu.RLock()
	peer := n.peers[instance]
	closed := n.closed
	n.mu.RUnlock()

	if closed {
		n.fail(cb, ErrClosed)
		return
	}
	if peer == nil {
		n.fail(cb, fmt.Errorf("%w: %d", ErrUnknownDevice, instance))
		return
	}

	target := peer.Object(w.Object)
	if target == nil {
		n.reject(cb, fmt.Errorf("device %d has no object %s", instance, w.Object))
		return
	}
	err := target.Write(object.PropertyWrite{
		Property:   w.Property,
		ArrayIndex: w.ArrayIndex,
		Value:      w.Value,
		Priority:   w.Priority,
	})
	if err != nil {
		n.reject(cb, err)
		return
	}
	if cb.OnAck != nil {
		cb.OnAck()
	}
}

func (n *Inproc) reject(cb object.WriteCallbacks, err error) {
	if cb.OnReject != nil {
		cb.OnReject(err)
	}
}

func (n *Inproc) fail(cb object.WriteCallbacks, err error) {
	if cb.OnFailure != nil {
		cb.OnFailure(err)
	}
}
