package schedule

import (
	"fmt"
	"time"

	"bacsched/internal/object"
	logx "bacsched/pkg/logx"
)

// Dispatch outcomes recorded per target.
const (
	OutcomeOK             = "ok"
	OutcomeRejected       = "rejected"
	OutcomeUnresolved     = "unresolved"
	OutcomeNegativeAck    = "negative-ack"
	OutcomeTransportError = "transport-error"
)

// DispatchRecord is one per-target write outcome.
type DispatchRecord struct {
	Time     time.Time
	Schedule object.ObjectID
	Target   TargetReference
	Value    string
	Outcome  string
	Error    string
}

// Recorder receives dispatch outcomes for auditing. Implementations must be
// fast and must never fail the dispatch; remote outcomes arrive on transport
// goroutines, possibly after the entity has detached.
type Recorder interface {
	RecordDispatch(rec DispatchRecord)
}

// doWrites fans the value out to every configured target. Each target is
// handled independently: failures are logged (and recorded) but never abort
// dispatch to the remaining targets, are never retried here, and are never
// reported to the caller. The periodic writer and the next refresh firing
// give failed targets another chance to converge.
func (s *Schedule) doWrites(value any) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	d := s.Device()
	if d == nil {
		return
	}

	targets, _ := s.propTargets()
	priority := s.writePriority()

	for _, ref := range targets {
		s.log.Debug("dispatching write",
			logx.Stringer("target", ref), logx.Any("value", value), logx.Int("priority", priority))

		if ref.Device == nil {
			s.writeLocal(d, ref, value, priority)
		} else {
			s.writeRemote(d, ref, value, priority)
		}
	}
}

func (s *Schedule) writeLocal(d *object.Device, ref TargetReference, value any, priority int) {
	target := d.Object(ref.Object)
	if target == nil {
		s.log.Warn("local target object not found", logx.Stringer("target", ref))
		s.record(ref, value, OutcomeUnresolved, "object not registered")
		return
	}

	err := target.Write(object.PropertyWrite{
		Property:   ref.Property,
		ArrayIndex: ref.ArrayIndex,
		Value:      value,
		Priority:   priority,
	})
	if err != nil {
		s.log.Warn("failed to write to local target", logx.Stringer("target", ref), logx.Err(err))
		s.record(ref, value, OutcomeRejected, err.Error())
		return
	}
	s.record(ref, value, OutcomeOK, "")
}

func (s *Schedule) writeRemote(d *object.Device, ref TargetReference, value any, priority int) {
	peer, err := d.ResolveRemote(*ref.Device)
	if err != nil {
		s.log.Warn("failed to resolve remote device", logx.Stringer("target", ref), logx.Err(err))
		s.record(ref, value, OutcomeUnresolved, err.Error())
		return
	}

	req := object.RemoteWrite{
		Object:     ref.Object,
		Property:   ref.Property,
		ArrayIndex: ref.ArrayIndex,
		Value:      value,
		Priority:   priority,
	}
	// Completion callbacks run on transport goroutines. They only log and
	// record, so a late callback after detach is harmless.
	d.SendWrite(peer, req, object.WriteCallbacks{
		OnAck: func() {
			s.record(ref, value, OutcomeOK, "")
		},
		OnReject: func(err error) {
			s.log.Warn("remote target rejected write", logx.Stringer("target", ref), logx.Err(err))
			s.record(ref, value, OutcomeNegativeAck, err.Error())
		},
		OnFailure: func(err error) {
			s.log.Error("remote write failed", logx.Stringer("target", ref), logx.Err(err))
			s.record(ref, value, OutcomeTransportError, err.Error())
		},
	})
}

func (s *Schedule) record(ref TargetReference, value any, outcome, errStr string) {
	s.recMu.RLock()
	r := s.recorder
	s.recMu.RUnlock()
	if r == nil {
		return
	}
	r.RecordDispatch(DispatchRecord{
		Time:     s.now(),
		Schedule: s.ID(),
		Target:   ref,
		Value:    valueString(value),
		Outcome:  outcome,
		Error:    errStr,
	})
}

func valueString(v any) string {
	if pv, ok := v.(object.Value); ok {
		return pv.String()
	}
	return fmt.Sprint(v)
}

func (s *Schedule) propTargets() ([]TargetReference, bool) {
	v, ok := s.Get(object.PropTargetReferences)
	if !ok {
		return nil, false
	}
	targets, ok := v.([]TargetReference)
	return targets, ok
}

func (s *Schedule) writePriority() int {
	u, _ := s.GetValue(object.PropPriorityForWriting).Uint()
	return int(u)
}
