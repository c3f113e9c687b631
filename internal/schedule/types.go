package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bacsched/internal/object"
)

// TimeOfDay is a fully specified wall time within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q, expected HH:MM[:SS]", s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
		}
		nums[i] = n
	}
	tod := TimeOfDay{Hour: nums[0], Minute: nums[1]}
	if len(nums) == 3 {
		tod.Second = nums[2]
	}
	if tod.Hour < 0 || tod.Hour > 23 || tod.Minute < 0 || tod.Minute > 59 || tod.Second < 0 || tod.Second > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return tod, nil
}

func (t TimeOfDay) seconds() int { return t.Hour*3600 + t.Minute*60 + t.Second }

// After reports whether t is strictly later in the day than o.
func (t TimeOfDay) After(o TimeOfDay) bool { return t.seconds() > o.seconds() }

// On anchors the time of day to the calendar day of the given instant, in
// that instant's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, t.Second, 0, day.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// isoWeekday maps a date to 1=Monday .. 7=Sunday.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// startOfNextDay is local midnight of the calendar day after t.
func startOfNextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// DateRange is an inclusive date range. A zero Start or End leaves that side
// open.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains compares calendar days, ignoring the time of day.
func (r DateRange) Contains(t time.Time) bool {
	day := ordinalDay(t)
	if !r.Start.IsZero() && day < ordinalDay(r.Start) {
		return false
	}
	if !r.End.IsZero() && day > ordinalDay(r.End) {
		return false
	}
	return true
}

// ordinalDay gives a comparable day number (days since year 1, roughly).
func ordinalDay(t time.Time) int {
	y, _, _ := t.Date()
	return y*366 + t.YearDay()
}

// DatePattern matches single dates with optional wildcard fields.
// Zero fields match anything. Weekday follows 1=Monday .. 7=Sunday.
type DatePattern struct {
	Year    int
	Month   time.Month
	Day     int
	Weekday int
}

func (p DatePattern) Matches(t time.Time) bool {
	y, m, d := t.Date()
	if p.Year != 0 && p.Year != y {
		return false
	}
	if p.Month != 0 && p.Month != m {
		return false
	}
	if p.Day != 0 && p.Day != d {
		return false
	}
	if p.Weekday != 0 && p.Weekday != isoWeekday(t) {
		return false
	}
	return true
}

// WeekNDay matches "the Nth weekday block of a month". Week 1..5 are the day
// blocks 1-7, 8-14, 15-21, 22-28, 29-31; week 6 means the last seven days of
// the month. Zero fields match anything.
type WeekNDay struct {
	Month   time.Month
	Week    int
	Weekday int
}

func (p WeekNDay) Matches(t time.Time) bool {
	y, m, d := t.Date()
	if p.Month != 0 && p.Month != m {
		return false
	}
	if p.Weekday != 0 && p.Weekday != isoWeekday(t) {
		return false
	}
	switch {
	case p.Week == 0:
		return true
	case p.Week >= 1 && p.Week <= 5:
		return (d-1)/7 == p.Week-1
	case p.Week == 6:
		last := time.Date(y, m+1, 0, 0, 0, 0, 0, t.Location()).Day()
		return d > last-7
	default:
		return false
	}
}

// CalendarEntry is one dated pattern: exactly one of the three fields is set.
type CalendarEntry struct {
	Date     *DatePattern
	Range    *DateRange
	WeekNDay *WeekNDay
}

func (e CalendarEntry) Matches(t time.Time) bool {
	switch {
	case e.Date != nil:
		return e.Date.Matches(t)
	case e.Range != nil:
		return e.Range.Contains(t)
	case e.WeekNDay != nil:
		return e.WeekNDay.Matches(t)
	default:
		return false
	}
}

// TimeValue pairs a time of day with the value that takes effect then.
type TimeValue struct {
	At    TimeOfDay
	Value object.Value
}

// DailySchedule is one weekday's ordered time-value list. Entries are assumed
// sorted ascending by time of day; the engine does not validate the order.
type DailySchedule struct {
	Entries []TimeValue
}

// Weekly is the seven-day table, index 0 = Monday .. 6 = Sunday.
type Weekly [7]DailySchedule

// SpecialEvent is one exception rule: either a reference to a calendar object
// or an inline dated entry, plus a priority (lower outranks higher) and its
// own time-value list.
type SpecialEvent struct {
	Calendar *object.ObjectID
	Entry    *CalendarEntry
	Priority int
	Entries  []TimeValue
}

// TargetReference addresses a property that receives the resolved value.
// A nil Device means the local object registry.
type TargetReference struct {
	Device     *uint32
	Object     object.ObjectID
	Property   object.PropertyID
	ArrayIndex *uint32
}

func (r TargetReference) String() string {
	if r.Device == nil {
		return fmt.Sprintf("local/%s/%s", r.Object, r.Property)
	}
	return fmt.Sprintf("device:%d/%s/%s", *r.Device, r.Object, r.Property)
}

// Definition is the full schedule configuration.
type Definition struct {
	EffectivePeriod DateRange
	Weekly          *Weekly
	Exceptions      []SpecialEvent
	Default         object.Value
	Targets         []TargetReference
	WritePriority   int
}

// Validate enforces the construction invariants.
func (d *Definition) Validate() error {
	if d.Weekly == nil && d.Exceptions == nil {
		return errors.New("schedule: weekly schedule and exception schedule cannot both be absent")
	}
	if d.Targets == nil {
		return errors.New("schedule: target reference list is required")
	}
	for i, e := range d.Exceptions {
		if e.Calendar == nil && e.Entry == nil {
			return fmt.Errorf("schedule: exception %d has neither a calendar reference nor a date entry", i)
		}
	}
	return nil
}

// ResolvedState is the output of one resolution pass.
type ResolvedState struct {
	Value     object.Value
	NextCheck time.Time
}
