package schedule

import (
	"errors"
	"testing"
	"time"

	"bacsched/internal/object"
	logx "bacsched/pkg/logx"
)

// 2025-06-11 is a Wednesday.
func wednesday(h, m int) time.Time {
	return time.Date(2025, 6, 11, h, m, 0, 0, time.UTC)
}

func tv(h, m int, v object.Value) TimeValue {
	return TimeValue{At: TimeOfDay{Hour: h, Minute: m}, Value: v}
}

func weeklyWednesday(entries ...TimeValue) *Weekly {
	var w Weekly
	w[2].Entries = entries
	return &w
}

func TestResolveWeeklyScan(t *testing.T) {
	t.Parallel()
	a := object.Real(21.5)
	b := object.Real(16)
	def := &Definition{
		Weekly:  weeklyWednesday(tv(8, 0, a), tv(17, 0, b)),
		Default: object.Real(10),
		Targets: []TargetReference{},
	}

	tests := []struct {
		name      string
		now       time.Time
		value     object.Value
		nextCheck time.Time
	}{
		{name: "before first entry", now: wednesday(7, 0), value: object.Real(10), nextCheck: wednesday(8, 0)},
		{name: "exactly at entry", now: wednesday(8, 0), value: a, nextCheck: wednesday(17, 0)},
		{name: "between entries", now: wednesday(10, 0), value: a, nextCheck: wednesday(17, 0)},
		{name: "after last entry", now: wednesday(18, 0), value: b, nextCheck: time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			st := Resolve(tt.now, def, nil, logx.Nop())
			if !st.Value.Equal(tt.value) {
				t.Fatalf("Value = %s, want %s", st.Value, tt.value)
			}
			if !st.NextCheck.Equal(tt.nextCheck) {
				t.Fatalf("NextCheck = %v, want %v", st.NextCheck, tt.nextCheck)
			}
		})
	}
}

func TestResolveOutsideEffectivePeriod(t *testing.T) {
	t.Parallel()
	def := &Definition{
		EffectivePeriod: DateRange{
			Start: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		Weekly:  weeklyWednesday(tv(8, 0, object.Real(99))),
		Default: object.Real(10),
	}

	st := Resolve(wednesday(12, 0), def, nil, logx.Nop())
	if !st.Value.Equal(object.Real(10)) {
		t.Fatalf("Value = %s, want the schedule default", st.Value)
	}
	want := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	if !st.NextCheck.Equal(want) {
		t.Fatalf("NextCheck = %v, want next midnight %v", st.NextCheck, want)
	}
}

func TestResolveEmptyDay(t *testing.T) {
	t.Parallel()
	def := &Definition{
		Weekly:  &Weekly{}, // all days empty
		Default: object.Unsigned(3),
	}

	st := Resolve(wednesday(12, 0), def, nil, logx.Nop())
	if !st.Value.Equal(object.Unsigned(3)) {
		t.Fatalf("Value = %s, want default", st.Value)
	}
	want := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	if !st.NextCheck.Equal(want) {
		t.Fatalf("NextCheck = %v, want %v", st.NextCheck, want)
	}
}

func TestResolveExceptionOverridesWeekly(t *testing.T) {
	t.Parallel()
	def := &Definition{
		Weekly: weeklyWednesday(tv(8, 0, object.Real(1))),
		Exceptions: []SpecialEvent{
			{
				Entry:    &CalendarEntry{Date: &DatePattern{Year: 2025, Month: time.June, Day: 11}},
				Priority: 8,
				Entries:  []TimeValue{tv(9, 0, object.Real(2))},
			},
		},
		Default: object.Real(0),
	}

	st := Resolve(wednesday(10, 0), def, nil, logx.Nop())
	if !st.Value.Equal(object.Real(2)) {
		t.Fatalf("Value = %s, want the exception value", st.Value)
	}

	// Before the exception's first entry the default applies even though the
	// weekly table has a matching entry: an active exception replaces the
	// whole day.
	st = Resolve(wednesday(8, 30), def, nil, logx.Nop())
	if !st.Value.Equal(object.Real(0)) {
		t.Fatalf("Value = %s, want default while exception day has no entry yet", st.Value)
	}
	if !st.NextCheck.Equal(wednesday(9, 0)) {
		t.Fatalf("NextCheck = %v, want %v", st.NextCheck, wednesday(9, 0))
	}
}

func TestResolveExceptionPriority(t *testing.T) {
	t.Parallel()
	everyDay := &CalendarEntry{Date: &DatePattern{}}

	t.Run("lower priority value wins", func(t *testing.T) {
		def := &Definition{
			Exceptions: []SpecialEvent{
				{Entry: everyDay, Priority: 2, Entries: []TimeValue{tv(0, 0, object.Unsigned(2))}},
				{Entry: everyDay, Priority: 1, Entries: []TimeValue{tv(0, 0, object.Unsigned(1))}},
			},
			Default: object.Unsigned(0),
		}
		st := Resolve(wednesday(12, 0), def, nil, logx.Nop())
		if !st.Value.Equal(object.Unsigned(1)) {
			t.Fatalf("Value = %s, want the priority-1 value", st.Value)
		}
	})

	t.Run("first listed wins ties", func(t *testing.T) {
		def := &Definition{
			Exceptions: []SpecialEvent{
				{Entry: everyDay, Priority: 4, Entries: []TimeValue{tv(0, 0, object.Unsigned(10))}},
				{Entry: everyDay, Priority: 4, Entries: []TimeValue{tv(0, 0, object.Unsigned(20))}},
			},
			Default: object.Unsigned(0),
		}
		st := Resolve(wednesday(12, 0), def, nil, logx.Nop())
		if !st.Value.Equal(object.Unsigned(10)) {
			t.Fatalf("Value = %s, want the first-listed value", st.Value)
		}
	})
}

func TestResolveCalendarReference(t *testing.T) {
	t.Parallel()
	calID := object.ObjectID{Type: object.TypeCalendar, Instance: 7}
	def := &Definition{
		Weekly: weeklyWednesday(tv(8, 0, object.Real(1))),
		Exceptions: []SpecialEvent{
			{Calendar: &calID, Priority: 5, Entries: []TimeValue{tv(0, 0, object.Real(2))}},
		},
		Default: object.Real(0),
	}

	active := func(id object.ObjectID) (bool, error) {
		if id != calID {
			t.Fatalf("looked up %s, want %s", id, calID)
		}
		return true, nil
	}
	st := Resolve(wednesday(12, 0), def, active, logx.Nop())
	if !st.Value.Equal(object.Real(2)) {
		t.Fatalf("Value = %s, want the calendar exception value", st.Value)
	}

	inactive := func(object.ObjectID) (bool, error) { return false, nil }
	st = Resolve(wednesday(12, 0), def, inactive, logx.Nop())
	if !st.Value.Equal(object.Real(1)) {
		t.Fatalf("Value = %s, want the weekly value when calendar is inactive", st.Value)
	}
}

func TestResolveCalendarLookupFailure(t *testing.T) {
	t.Parallel()
	calID := object.ObjectID{Type: object.TypeCalendar, Instance: 9}
	def := &Definition{
		Weekly: weeklyWednesday(tv(8, 0, object.Real(1))),
		Exceptions: []SpecialEvent{
			{Calendar: &calID, Priority: 5, Entries: []TimeValue{tv(0, 0, object.Real(2))}},
		},
		Default: object.Real(0),
	}

	broken := func(object.ObjectID) (bool, error) { return false, errors.New("boom") }
	st := Resolve(wednesday(12, 0), def, broken, logx.Nop())
	if !st.Value.Equal(object.Real(1)) {
		t.Fatalf("Value = %s, want weekly value when calendar lookup fails", st.Value)
	}
}
