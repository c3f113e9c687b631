package schedule

import (
	"time"

	"bacsched/internal/object"
	logx "bacsched/pkg/logx"
)

// CalendarFunc reports whether the referenced calendar object is currently
// active. Lookup failures make the rule inactive; they never abort resolution.
type CalendarFunc func(id object.ObjectID) (bool, error)

// Resolve computes the value in effect at now and the exact instant the
// result can next change. It is pure except for calendar lookups.
func Resolve(now time.Time, def *Definition, calendarActive CalendarFunc, log logx.Logger) ResolvedState {
	if !def.EffectivePeriod.Contains(now) {
		// Outside the effective period nothing finer than a day boundary can
		// change the outcome.
		return ResolvedState{Value: def.Default, NextCheck: startOfNextDay(now)}
	}

	var entries []TimeValue
	if ev := findException(now, def.Exceptions, calendarActive, log); ev != nil {
		entries = ev.Entries
	} else if def.Weekly != nil {
		entries = def.Weekly[isoWeekday(now)-1].Entries
	}

	// Latest entry with time <= now wins. Entries are ascending, so walk from
	// the end.
	nowTod := TimeOfDayOf(now)
	idx := len(entries) - 1
	for ; idx >= 0; idx-- {
		if !entries[idx].At.After(nowTod) {
			break
		}
	}

	st := ResolvedState{Value: def.Default}
	if idx >= 0 {
		st.Value = entries[idx].Value
	}
	// The entry after the matched position is the next boundary within the
	// day; with no match that is the day's first entry.
	if idx+1 < len(entries) {
		st.NextCheck = entries[idx+1].At.On(now)
	} else {
		st.NextCheck = startOfNextDay(now)
	}
	return st
}

// findException returns the active exception rule with the lowest priority
// value, or nil when none is active. The strictly-greater comparison makes
// the first-listed rule win exact priority ties; that ordering is load-bearing
// and covered by tests.
func findException(now time.Time, events []SpecialEvent, calendarActive CalendarFunc, log logx.Logger) *SpecialEvent {
	var best *SpecialEvent
	for i := range events {
		e := &events[i]

		var active bool
		switch {
		case e.Calendar != nil:
			if calendarActive == nil {
				break
			}
			on, err := calendarActive(*e.Calendar)
			if err != nil {
				log.Warn("calendar lookup failed, treating exception rule as inactive",
					logx.Stringer("calendar", *e.Calendar), logx.Err(err))
				break
			}
			active = on
		case e.Entry != nil:
			active = e.Entry.Matches(now)
		}

		if active && (best == nil || best.Priority > e.Priority) {
			best = e
		}
	}
	return best
}
