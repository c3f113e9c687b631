package schedule

import (
	"errors"
	"sync"
	"testing"
	"time"

	"bacsched/internal/object"
	"bacsched/internal/transport"
	logx "bacsched/pkg/logx"
)

type memRecorder struct {
	mu   sync.Mutex
	recs []DispatchRecord
}

func (r *memRecorder) RecordDispatch(rec DispatchRecord) {
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
}

func (r *memRecorder) snapshot() []DispatchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DispatchRecord, len(r.recs))
	copy(out, r.recs)
	return out
}

func (r *memRecorder) outcomes() map[string]int {
	out := map[string]int{}
	for _, rec := range r.snapshot() {
		out[rec.Outcome]++
	}
	return out
}

// fakeNetwork completes remote writes synchronously with a scripted outcome
// per device instance.
type fakeNetwork struct {
	ack     map[uint32]bool
	reject  map[uint32]error
	failure map[uint32]error
}

type fakePeer struct{ instance uint32 }

func (p fakePeer) Instance() uint32 { return p.instance }

func (n *fakeNetwork) ResolveDevice(instance uint32) (object.RemoteDevice, error) {
	if n.ack[instance] || n.reject[instance] != nil || n.failure[instance] != nil {
		return fakePeer{instance: instance}, nil
	}
	return nil, errors.New("no route to device")
}

func (n *fakeNetwork) WriteProperty(dev object.RemoteDevice, w object.RemoteWrite, cb object.WriteCallbacks) {
	id := dev.Instance()
	switch {
	case n.reject[id] != nil:
		cb.OnReject(n.reject[id])
	case n.failure[id] != nil:
		cb.OnFailure(n.failure[id])
	default:
		cb.OnAck()
	}
}

func newDispatchSchedule(t *testing.T, d *object.Device, targets []TargetReference) (*Schedule, *memRecorder) {
	t.Helper()
	def := Definition{
		Weekly:  weeklyWednesday(tv(8, 0, object.Real(21.5))),
		Default: object.Real(10),
		Targets: targets,
	}
	s, err := New(1, "occupancy", def, false, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &memRecorder{}
	s.SetRecorder(rec)
	if err := d.AddObject(s); err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	return s, rec
}

func TestDispatchPerTargetIsolation(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	reachable := addTarget(t, d, 1)

	// A missing local object must not stop the write to the target behind it.
	_, rec := newDispatchSchedule(t, d, []TargetReference{
		localTarget(99),
		localTarget(1),
	})

	if got := reachable.PresentValue(); !got.Equal(object.Real(21.5)) {
		t.Fatalf("reachable target = %s, want 21.5", got)
	}
	oc := rec.outcomes()
	if oc[OutcomeUnresolved] != 1 || oc[OutcomeOK] != 1 {
		t.Fatalf("outcomes = %v, want one unresolved and one ok", oc)
	}
}

func TestDispatchRejectedLocalWrite(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	// Read-only target rejects the prioritized write.
	vo := object.NewValueObject(object.ObjectID{Type: object.TypeAnalogValue, Instance: 1}, "sensor", object.Real(0), false)
	if err := d.AddObject(vo); err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	_, rec := newDispatchSchedule(t, d, []TargetReference{localTarget(1)})

	oc := rec.outcomes()
	if oc[OutcomeRejected] != 1 {
		t.Fatalf("outcomes = %v, want one rejected", oc)
	}
	if got := vo.PresentValue(); !got.Equal(object.Real(0)) {
		t.Fatalf("read-only target = %s, want untouched 0", got)
	}
}

func TestDispatchRemoteOutcomes(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	d.SetNetwork(&fakeNetwork{
		ack:     map[uint32]bool{2001: true},
		reject:  map[uint32]error{2002: errors.New("value out of range")},
		failure: map[uint32]error{2003: errors.New("timeout")},
	})

	remote := func(instance uint32) TargetReference {
		dev := instance
		return TargetReference{
			Device:   &dev,
			Object:   object.ObjectID{Type: object.TypeAnalogValue, Instance: 1},
			Property: object.PropPresentValue,
		}
	}

	_, rec := newDispatchSchedule(t, d, []TargetReference{
		remote(2001),
		remote(2002),
		remote(2003),
		remote(2004), // unresolvable
	})

	oc := rec.outcomes()
	want := map[string]int{
		OutcomeOK:             1,
		OutcomeNegativeAck:    1,
		OutcomeTransportError: 1,
		OutcomeUnresolved:     1,
	}
	for k, n := range want {
		if oc[k] != n {
			t.Fatalf("outcomes = %v, want %v", oc, want)
		}
	}
}

func TestDetachBeforeRemoteCompletion(t *testing.T) {
	t.Parallel()
	local := newTestDevice(t, wednesday(10, 0))
	peer := object.NewDevice(2001, logx.Nop())
	addTarget(t, peer, 1)

	net := transport.NewInproc(transport.Config{Latency: 100 * time.Millisecond}, logx.Nop())
	net.Register(local)
	net.Register(peer)
	defer net.Close()

	dev := uint32(2001)
	s, rec := newDispatchSchedule(t, local, []TargetReference{{
		Device:   &dev,
		Object:   object.ObjectID{Type: object.TypeAnalogValue, Instance: 1},
		Property: object.PropPresentValue,
	}})

	// The attach dispatch is now in flight behind the transport latency.
	// Detach before its completion callback can fire.
	local.RemoveObject(s.ID())
	if s.Device() != nil {
		t.Fatal("schedule still attached after RemoveObject")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rec.outcomes()[OutcomeOK] == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if oc := rec.outcomes(); oc[OutcomeOK] != 1 {
		t.Fatalf("outcomes = %v, want one ok recorded by the late completion", oc)
	}

	// The late completion only logs and records; the detached entity stays
	// quiet with no timer re-armed.
	s.mu.Lock()
	refresher, periodic := s.refresher, s.periodic
	s.mu.Unlock()
	if refresher != nil || periodic != nil {
		t.Fatal("detached schedule still has an armed timer")
	}
}

func TestForceWritesRedispatchesWithoutDedup(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	addTarget(t, d, 1)

	s, rec := newDispatchSchedule(t, d, []TargetReference{localTarget(1)})
	base := len(rec.snapshot())

	s.ForceWrites()
	s.ForceWrites()

	if got := len(rec.snapshot()); got != base+2 {
		t.Fatalf("records = %d, want %d (every force-dispatch recorded)", got, base+2)
	}
}

func TestPeriodicWriterValidation(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	addTarget(t, d, 1)
	s, _ := newDispatchSchedule(t, d, []TargetReference{localTarget(1)})

	if err := s.StartPeriodicWriter(-time.Second, time.Second); !errors.Is(err, ErrInvalidTimerConfig) {
		t.Fatalf("negative delay error = %v, want ErrInvalidTimerConfig", err)
	}
	if err := s.StartPeriodicWriter(0, 0); !errors.Is(err, ErrInvalidTimerConfig) {
		t.Fatalf("zero period error = %v, want ErrInvalidTimerConfig", err)
	}
}

func TestPeriodicWriterPushes(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	addTarget(t, d, 1)
	s, rec := newDispatchSchedule(t, d, []TargetReference{localTarget(1)})

	base := len(rec.snapshot())
	if err := s.StartPeriodicWriter(0, 10*time.Millisecond); err != nil {
		t.Fatalf("StartPeriodicWriter: %v", err)
	}
	defer s.StopPeriodicWriter()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) >= base+2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("periodic writer produced %d records, want at least %d", len(rec.snapshot()), base+2)
}

func TestPeriodicWriterRestartReplacesPrior(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	addTarget(t, d, 1)
	s, rec := newDispatchSchedule(t, d, []TargetReference{localTarget(1)})

	if err := s.StartPeriodicWriter(0, 5*time.Millisecond); err != nil {
		t.Fatalf("StartPeriodicWriter: %v", err)
	}

	base := len(rec.snapshot())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(rec.snapshot()) < base+2 {
		time.Sleep(5 * time.Millisecond)
	}
	if len(rec.snapshot()) < base+2 {
		t.Fatalf("first writer produced %d records, want at least %d", len(rec.snapshot()), base+2)
	}

	// Restarting with a long period must cancel the fast timer, so the
	// record count stops growing.
	if err := s.StartPeriodicWriter(time.Hour, time.Hour); err != nil {
		t.Fatalf("StartPeriodicWriter restart: %v", err)
	}
	defer s.StopPeriodicWriter()

	time.Sleep(50 * time.Millisecond)
	settled := len(rec.snapshot())
	time.Sleep(50 * time.Millisecond)
	if got := len(rec.snapshot()); got != settled {
		t.Fatalf("records grew from %d to %d after restart with long period", settled, got)
	}
}
