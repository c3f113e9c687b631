package schedule

import (
	"errors"
	"fmt"
	"time"

	"bacsched/internal/object"
	logx "bacsched/pkg/logx"
)

// ErrInvalidTimerConfig rejects bad periodic-writer arguments.
var ErrInvalidTimerConfig = errors.New("invalid periodic writer configuration")

// ErrNotAttached is returned when a timer is started on a detached entity.
var ErrNotAttached = errors.New("schedule is not attached to a device")

// StartPeriodicWriter starts the failsafe re-push timer: after delay, and
// then every period, the current present value is re-dispatched to all
// targets unconditionally. Targets that missed a write due to a restart or a
// transient failure converge on the next push.
//
// Starting again replaces any running instance.
func (s *Schedule) StartPeriodicWriter(delay, period time.Duration) error {
	if delay < 0 {
		return fmt.Errorf("%w: delay cannot be negative", ErrInvalidTimerConfig)
	}
	if period <= 0 {
		return fmt.Errorf("%w: period must be positive", ErrInvalidTimerConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.Device()
	if d == nil {
		return ErrNotAttached
	}

	s.cancelPeriodicLocked()
	s.periodic = d.ScheduleFixedRate(delay, period, s.ForceWrites)
	s.log.Debug("periodic writer started", logx.Duration("delay", delay), logx.Duration("period", period))
	return nil
}

// StopPeriodicWriter cancels the failsafe timer. No-op when not running.
func (s *Schedule) StopPeriodicWriter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelPeriodicLocked()
}

// ForceWrites re-dispatches the current present value to every target. This
// bypasses resolution entirely.
func (s *Schedule) ForceWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doWrites(s.GetValue(object.PropPresentValue))
}

func (s *Schedule) cancelRefresherLocked() {
	if s.refresher != nil {
		s.refresher.Cancel()
		s.refresher = nil
	}
}

func (s *Schedule) cancelPeriodicLocked() {
	wasRunning := s.periodic != nil
	if wasRunning {
		s.periodic.Cancel()
		s.periodic = nil
		s.log.Debug("periodic writer stopped")
	}
}
