package schedule

import (
	"errors"
	"testing"
	"time"

	"bacsched/internal/object"
	logx "bacsched/pkg/logx"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestDevice(t *testing.T, now time.Time) *object.Device {
	t.Helper()
	d := object.NewDevice(1000, logx.Nop())
	d.SetClock(fixedClock{t: now})
	return d
}

func localTarget(instance uint32) TargetReference {
	return TargetReference{
		Object:   object.ObjectID{Type: object.TypeAnalogValue, Instance: instance},
		Property: object.PropPresentValue,
	}
}

func addTarget(t *testing.T, d *object.Device, instance uint32) *object.ValueObject {
	t.Helper()
	vo := object.NewValueObject(object.ObjectID{Type: object.TypeAnalogValue, Instance: instance}, "target", object.Real(0), true)
	if err := d.AddObject(vo); err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	return vo
}

func TestScheduleAttachResolvesAndDispatches(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	target := addTarget(t, d, 1)

	def := Definition{
		Weekly:  weeklyWednesday(tv(8, 0, object.Real(21.5)), tv(17, 0, object.Real(16))),
		Default: object.Real(10),
		Targets: []TargetReference{localTarget(1)},
	}
	s, err := New(1, "occupancy", def, false, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.AddObject(s); err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	if pv := s.PresentValue(); !pv.Equal(object.Real(21.5)) {
		t.Fatalf("PresentValue = %s, want 21.5", pv)
	}
	if got := target.PresentValue(); !got.Equal(object.Real(21.5)) {
		t.Fatalf("target present value = %s, want 21.5", got)
	}
}

func TestScheduleAttachForcesDispatchWhenValueUnchanged(t *testing.T) {
	t.Parallel()
	// Before the day's first entry the resolved value equals the default the
	// present value already holds, so no change reaction fires on its own.
	d := newTestDevice(t, wednesday(7, 0))
	target := addTarget(t, d, 1)

	def := Definition{
		Weekly:  weeklyWednesday(tv(8, 0, object.Real(21.5))),
		Default: object.Real(10),
		Targets: []TargetReference{localTarget(1)},
	}
	s, err := New(1, "occupancy", def, false, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.AddObject(s); err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	if got := target.PresentValue(); !got.Equal(object.Real(10)) {
		t.Fatalf("target present value = %s, want the dispatched default", got)
	}
}

func TestSchedulePresentValueWriteGating(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	target := addTarget(t, d, 1)

	def := Definition{
		Weekly:  weeklyWednesday(tv(8, 0, object.Real(21.5))),
		Default: object.Real(10),
		Targets: []TargetReference{localTarget(1)},
	}
	s, err := New(1, "occupancy", def, false, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.AddObject(s); err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	err = s.Write(object.PropertyWrite{Property: object.PropPresentValue, Value: object.Real(55)})
	if !errors.Is(err, object.ErrWriteAccessDenied) {
		t.Fatalf("in-service present-value write error = %v, want ErrWriteAccessDenied", err)
	}
	if pv := s.PresentValue(); !pv.Equal(object.Real(21.5)) {
		t.Fatalf("PresentValue = %s, want unchanged 21.5", pv)
	}

	if err := s.Write(object.PropertyWrite{Property: object.PropOutOfService, Value: object.Boolean(true)}); err != nil {
		t.Fatalf("out-of-service write: %v", err)
	}
	if v, ok := s.Get(object.PropStatusFlags); !ok || !v.(object.StatusFlags).OutOfService {
		t.Fatalf("status flags = %v, want out-of-service set", v)
	}

	if err := s.Write(object.PropertyWrite{Property: object.PropPresentValue, Value: object.Real(55)}); err != nil {
		t.Fatalf("out-of-service present-value write: %v", err)
	}
	if pv := s.PresentValue(); !pv.Equal(object.Real(55)) {
		t.Fatalf("PresentValue = %s, want the override 55", pv)
	}
	// The override still fans out to the targets.
	if got := target.PresentValue(); !got.Equal(object.Real(55)) {
		t.Fatalf("target present value = %s, want 55", got)
	}
}

func TestScheduleDefinitionChangeRecomputes(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(7, 0))
	addTarget(t, d, 1)

	def := Definition{
		Weekly:  weeklyWednesday(tv(8, 0, object.Real(21.5))),
		Default: object.Real(10),
		Targets: []TargetReference{localTarget(1)},
	}
	s, err := New(1, "occupancy", def, false, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.AddObject(s); err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	if pv := s.PresentValue(); !pv.Equal(object.Real(10)) {
		t.Fatalf("PresentValue = %s, want the default before the first entry", pv)
	}

	if err := s.Write(object.PropertyWrite{Property: object.PropScheduleDefault, Value: object.Real(12)}); err != nil {
		t.Fatalf("default write: %v", err)
	}
	if pv := s.PresentValue(); !pv.Equal(object.Real(12)) {
		t.Fatalf("PresentValue = %s, want the new default 12", pv)
	}
}

func TestScheduleCalendarException(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	addTarget(t, d, 1)

	holidays := NewCalendar(3, "holidays", []CalendarEntry{
		{Date: &DatePattern{Year: 2025, Month: time.June, Day: 11}},
	})
	if err := d.AddObject(holidays); err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	calID := holidays.ID()
	def := Definition{
		Weekly: weeklyWednesday(tv(8, 0, object.Real(21.5))),
		Exceptions: []SpecialEvent{
			{Calendar: &calID, Priority: 6, Entries: []TimeValue{tv(0, 0, object.Real(16))}},
		},
		Default: object.Real(10),
		Targets: []TargetReference{localTarget(1)},
	}
	s, err := New(1, "occupancy", def, false, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.AddObject(s); err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	if pv := s.PresentValue(); !pv.Equal(object.Real(16)) {
		t.Fatalf("PresentValue = %s, want the holiday setback 16", pv)
	}
	if b, _ := holidays.GetValue(object.PropPresentValue).Bool(); !b {
		t.Fatal("calendar present value should mirror the active state")
	}
}

func TestScheduleDetachStopsEngine(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t, wednesday(10, 0))
	addTarget(t, d, 1)

	def := Definition{
		Weekly:  weeklyWednesday(tv(8, 0, object.Real(21.5))),
		Default: object.Real(10),
		Targets: []TargetReference{localTarget(1)},
	}
	s, err := New(1, "occupancy", def, false, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.AddObject(s); err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	d.RemoveObject(s.ID())
	if s.Device() != nil {
		t.Fatal("entity should be detached")
	}
	if err := s.StartPeriodicWriter(0, time.Second); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("StartPeriodicWriter after detach = %v, want ErrNotAttached", err)
	}
}

func TestScheduleRejectsInvalidDefinition(t *testing.T) {
	t.Parallel()
	_, err := New(1, "broken", Definition{Targets: []TargetReference{}}, false, logx.Nop())
	if err == nil {
		t.Fatal("expected error for a definition with no schedules at all")
	}
}
