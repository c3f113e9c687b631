package schedule

import (
	"fmt"
	"sync"
	"time"

	"bacsched/internal/object"
	logx "bacsched/pkg/logx"
)

// Schedule is the schedule entity: the present-value resolution and
// propagation engine. It embeds the property object it presents to the rest
// of the collection and installs itself as that object's write pipeline.
//
// Resolution plus timer re-arm, and manual force-dispatch, are serialized
// under one per-entity mutex. Remote target writes never block under that
// mutex; their completions arrive on transport goroutines.
type Schedule struct {
	*object.Object

	log logx.Logger

	mu        sync.Mutex
	refresher *object.Timer
	periodic  *object.Timer

	// dispatchMu serializes fan-outs regardless of what triggered them.
	// Lock order: mu before dispatchMu, never the reverse.
	dispatchMu sync.Mutex

	recMu    sync.RWMutex
	recorder Recorder
}

// New validates the definition and constructs the entity. The present value
// starts at the schedule default; the first real resolution runs when the
// entity is attached to a device.
func New(instance uint32, name string, def Definition, outOfService bool, log logx.Logger) (*Schedule, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	s := &Schedule{
		Object: object.NewObject(object.ObjectID{Type: object.TypeSchedule, Instance: instance}, name),
		log:    log.With(logx.String("schedule", name), logx.Uint32("instance", instance)),
	}

	s.WriteInternal(object.PropEffectivePeriod, def.EffectivePeriod)
	if def.Weekly != nil {
		s.WriteInternal(object.PropWeeklySchedule, def.Weekly)
	}
	if def.Exceptions != nil {
		s.WriteInternal(object.PropExceptionSchedule, def.Exceptions)
	}
	s.WriteInternal(object.PropScheduleDefault, def.Default)
	s.WriteInternal(object.PropPresentValue, def.Default)
	s.WriteInternal(object.PropTargetReferences, def.Targets)
	s.WriteInternal(object.PropPriorityForWriting, object.Unsigned(uint64(def.WritePriority)))
	s.WriteInternal(object.PropReliability, object.Enumerated(object.ReliabilityNoFaultDetected))
	s.WriteInternal(object.PropOutOfService, object.Boolean(outOfService))
	s.WriteInternal(object.PropStatusFlags, object.StatusFlags{OutOfService: outOfService})

	s.SetHook(s)
	return s, nil
}

// SetRecorder installs an optional sink for per-target dispatch outcomes.
func (s *Schedule) SetRecorder(r Recorder) {
	s.recMu.Lock()
	s.recorder = r
	s.recMu.Unlock()
}

// PresentValue returns the currently effective value.
func (s *Schedule) PresentValue() object.Value {
	return s.GetValue(object.PropPresentValue)
}

// ---- Lifecycle ----

// AddedToDevice forces one resolution. If the computed value equals the
// construction-time value no write reaction fired, so a dispatch is forced to
// initialize the targets anyway.
func (s *Schedule) AddedToDevice(d *object.Device) {
	old := s.GetValue(object.PropPresentValue)
	s.UpdatePresentValue()
	now := s.GetValue(object.PropPresentValue)
	if old.Equal(now) {
		s.doWrites(now)
	}
}

// RemovedFromDevice cancels both timers. A timer callback already in flight
// finds the entity detached and backs out.
func (s *Schedule) RemovedFromDevice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRefresherLocked()
	s.cancelPeriodicLocked()
}

// ---- Write pipeline ----

// ValidateWrite gates direct external writes: the present value is a computed
// field and may only be overridden while the entity is out of service.
func (s *Schedule) ValidateWrite(w object.PropertyWrite) error {
	if w.Property == object.PropPresentValue && !s.GetBool(object.PropOutOfService) {
		return fmt.Errorf("%s: present-value: %w", s.ID(), object.ErrWriteAccessDenied)
	}
	return nil
}

// AfterCommit reacts to committed property changes: definition changes re-run
// resolution, present-value changes fan out to the targets. The commit path
// already filters no-op writes, so this only sees real changes.
func (s *Schedule) AfterCommit(p object.PropertyID, old, new any) {
	switch p {
	case object.PropEffectivePeriod, object.PropWeeklySchedule, object.PropExceptionSchedule, object.PropScheduleDefault:
		s.UpdatePresentValue()
	case object.PropPresentValue:
		s.doWrites(new)
	case object.PropOutOfService:
		on, _ := new.(object.Value)
		oos, _ := on.Bool()
		s.WriteInternal(object.PropStatusFlags, object.StatusFlags{OutOfService: oos})
	}
}

// ---- Resolution ----

// UpdatePresentValue runs one resolution pass against the current wall clock
// and re-arms the refresh timer for the returned next-check instant.
func (s *Schedule) UpdatePresentValue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatePresentValueLocked(s.now())
}

func (s *Schedule) now() time.Time {
	if d := s.Device(); d != nil {
		return d.Now()
	}
	return time.Now()
}

func (s *Schedule) updatePresentValueLocked(now time.Time) {
	s.cancelRefresherLocked()

	def := s.currentDefinition()
	st := Resolve(now, &def, s.calendarActive(now), s.log)

	// Committing triggers the dispatch reaction when the value changed.
	s.WriteInternal(object.PropPresentValue, st.Value)

	d := s.Device()
	if d == nil {
		return
	}
	s.refresher = d.ScheduleAt(st.NextCheck, s.onRefresh)
	s.log.Debug("refresh timer armed", logx.Time("at", st.NextCheck), logx.Stringer("value", st.Value))
}

// onRefresh is the refresh timer callback: re-resolve with the then-current
// wall clock and re-arm. Self-rescheduling, runs until the entity detaches.
func (s *Schedule) onRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Device() == nil {
		return
	}
	s.updatePresentValueLocked(s.now())
}

// currentDefinition snapshots the definition properties.
func (s *Schedule) currentDefinition() Definition {
	def := Definition{Default: s.GetValue(object.PropScheduleDefault)}
	if v, ok := s.Get(object.PropEffectivePeriod); ok {
		def.EffectivePeriod, _ = v.(DateRange)
	}
	if v, ok := s.Get(object.PropWeeklySchedule); ok {
		def.Weekly, _ = v.(*Weekly)
	}
	if v, ok := s.Get(object.PropExceptionSchedule); ok {
		def.Exceptions, _ = v.([]SpecialEvent)
	}
	if v, ok := s.Get(object.PropTargetReferences); ok {
		def.Targets, _ = v.([]TargetReference)
	}
	if u, ok := s.GetValue(object.PropPriorityForWriting).Uint(); ok {
		def.WritePriority = int(u)
	}
	return def
}

// calendarActive builds the evaluator for calendar-referenced exception
// rules: an absent calendar object is inactive, a present one is asked to
// recompute its boolean state (never cached here).
func (s *Schedule) calendarActive(now time.Time) CalendarFunc {
	return func(id object.ObjectID) (bool, error) {
		d := s.Device()
		if d == nil {
			return false, nil
		}
		e := d.Object(id)
		if e == nil {
			return false, nil
		}
		if src, ok := e.(interface {
			ActiveOn(t time.Time) (bool, error)
		}); ok {
			return src.ActiveOn(now)
		}
		b, ok := e.GetValue(object.PropPresentValue).Bool()
		if !ok {
			return false, fmt.Errorf("object %s has no boolean present value", id)
		}
		return b, nil
	}
}
