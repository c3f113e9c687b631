package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"bacsched/internal/object"
	"bacsched/internal/schedule"
)

// ParseObjectID parses "type:instance", e.g. "analog-value:1".
func ParseObjectID(s string) (object.ObjectID, error) {
	typ, inst, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return object.ObjectID{}, fmt.Errorf("invalid object id %q, expected type:instance", s)
	}
	var t object.ObjectType
	switch typ {
	case "analog-value":
		t = object.TypeAnalogValue
	case "binary-value":
		t = object.TypeBinaryValue
	case "multi-state-value":
		t = object.TypeMultiStateValue
	case "calendar":
		t = object.TypeCalendar
	case "device":
		t = object.TypeDevice
	case "schedule":
		t = object.TypeSchedule
	default:
		return object.ObjectID{}, fmt.Errorf("unknown object type %q", typ)
	}
	n, err := strconv.ParseUint(inst, 10, 32)
	if err != nil {
		return object.ObjectID{}, fmt.Errorf("invalid object instance %q: %w", inst, err)
	}
	return object.ObjectID{Type: t, Instance: uint32(n)}, nil
}

// ParsePropertyID parses a property name like "present-value".
func ParsePropertyID(s string) (object.PropertyID, error) {
	switch strings.TrimSpace(s) {
	case "present-value", "":
		return object.PropPresentValue, nil
	case "out-of-service":
		return object.PropOutOfService, nil
	case "schedule-default":
		return object.PropScheduleDefault, nil
	default:
		return 0, fmt.Errorf("unsupported target property %q", s)
	}
}

// Value converts the tagged spec to a domain value.
func (v *ValueSpec) Build() (object.Value, error) {
	if v == nil {
		return object.Value{}, fmt.Errorf("value is required")
	}
	set := 0
	var out object.Value
	if v.Null != nil && *v.Null {
		set++
		out = object.Null()
	}
	if v.Bool != nil {
		set++
		out = object.Boolean(*v.Bool)
	}
	if v.Unsigned != nil {
		set++
		out = object.Unsigned(*v.Unsigned)
	}
	if v.Signed != nil {
		set++
		out = object.Signed(*v.Signed)
	}
	if v.Real != nil {
		set++
		out = object.Real(*v.Real)
	}
	if v.Enum != nil {
		set++
		out = object.Enumerated(*v.Enum)
	}
	if v.Text != nil {
		set++
		out = object.CharacterString(*v.Text)
	}
	if set != 1 {
		return object.Value{}, fmt.Errorf("value must set exactly one kind, got %d", set)
	}
	return out, nil
}

// parseDate parses a concrete "YYYY-MM-DD" local date. Empty means zero time.
func parseDate(path, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid date %q: %w", path, raw, err)
	}
	return t, nil
}

// parseDatePattern parses "YYYY-MM-DD" where any component may be "*".
func parseDatePattern(raw string, weekday int) (*schedule.DatePattern, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid date pattern %q, expected YYYY-MM-DD with optional *", raw)
	}
	num := func(p string) (int, error) {
		if p == "*" {
			return 0, nil
		}
		return strconv.Atoi(p)
	}
	y, err := num(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid year in %q: %w", raw, err)
	}
	m, err := num(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid month in %q: %w", raw, err)
	}
	d, err := num(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid day in %q: %w", raw, err)
	}
	if weekday < 0 || weekday > 7 {
		return nil, fmt.Errorf("weekday must be 1..7 (or 0 for any), got %d", weekday)
	}
	return &schedule.DatePattern{Year: y, Month: time.Month(m), Day: d, Weekday: weekday}, nil
}

// Build converts one dated entry spec.
func (e EntrySpec) Build() (schedule.CalendarEntry, error) {
	set := 0
	var out schedule.CalendarEntry
	if e.Date != "" || (e.Range == nil && e.WeekNDay == nil && e.Weekday != 0) {
		set++
		p, err := parseDatePattern(orStar(e.Date), e.Weekday)
		if err != nil {
			return out, err
		}
		out.Date = p
	}
	if e.Range != nil {
		set++
		start, err := parseDate("range.start", e.Range.Start)
		if err != nil {
			return out, err
		}
		end, err := parseDate("range.end", e.Range.End)
		if err != nil {
			return out, err
		}
		out.Range = &schedule.DateRange{Start: start, End: end}
	}
	if e.WeekNDay != nil {
		set++
		out.WeekNDay = &schedule.WeekNDay{
			Month:   time.Month(e.WeekNDay.Month),
			Week:    e.WeekNDay.Week,
			Weekday: e.WeekNDay.Weekday,
		}
	}
	if set != 1 {
		return out, fmt.Errorf("entry must set exactly one of date, range, week_n_day")
	}
	return out, nil
}

func (e EntrySpec) isZero() bool {
	return e.Date == "" && e.Weekday == 0 && e.Range == nil && e.WeekNDay == nil
}

func orStar(s string) string {
	if strings.TrimSpace(s) == "" {
		return "*-*-*"
	}
	return s
}

var weekdayNames = map[string]int{
	"monday": 1, "tuesday": 2, "wednesday": 3, "thursday": 4,
	"friday": 5, "saturday": 6, "sunday": 7,
}

func buildTimeValues(path string, specs []TimeValueSpec) ([]schedule.TimeValue, error) {
	out := make([]schedule.TimeValue, 0, len(specs))
	for i, tv := range specs {
		at, err := schedule.ParseTimeOfDay(tv.At)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", path, i, err)
		}
		v, err := tv.Value.Build()
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", path, i, err)
		}
		out = append(out, schedule.TimeValue{At: at, Value: v})
	}
	return out, nil
}

// Definition converts a schedule spec into the engine's definition.
func (s ScheduleSpec) Definition() (schedule.Definition, error) {
	var def schedule.Definition

	dflt, err := s.Default.Build()
	if err != nil {
		return def, fmt.Errorf("schedule %q: default: %w", s.Name, err)
	}
	def.Default = dflt
	def.WritePriority = s.Priority

	def.EffectivePeriod.Start, err = parseDate("effective.start", s.Effective.Start)
	if err != nil {
		return def, fmt.Errorf("schedule %q: %w", s.Name, err)
	}
	def.EffectivePeriod.End, err = parseDate("effective.end", s.Effective.End)
	if err != nil {
		return def, fmt.Errorf("schedule %q: %w", s.Name, err)
	}

	if s.Weekly != nil {
		var weekly schedule.Weekly
		for day, entries := range s.Weekly {
			idx, ok := weekdayNames[strings.ToLower(strings.TrimSpace(day))]
			if !ok {
				return def, fmt.Errorf("schedule %q: unknown weekday %q", s.Name, day)
			}
			tvs, err := buildTimeValues("weekly."+day, entries)
			if err != nil {
				return def, fmt.Errorf("schedule %q: %w", s.Name, err)
			}
			weekly[idx-1] = schedule.DailySchedule{Entries: tvs}
		}
		def.Weekly = &weekly
	}

	if s.Exceptions != nil {
		def.Exceptions = make([]schedule.SpecialEvent, 0, len(s.Exceptions))
		for i, ex := range s.Exceptions {
			ev := schedule.SpecialEvent{Priority: ex.Priority}
			switch {
			case ex.Calendar != nil:
				if !ex.EntrySpec.isZero() {
					return def, fmt.Errorf("schedule %q: exceptions[%d]: must set exactly one of calendar or a dated entry", s.Name, i)
				}
				id := object.ObjectID{Type: object.TypeCalendar, Instance: *ex.Calendar}
				ev.Calendar = &id
			default:
				entry, err := ex.EntrySpec.Build()
				if err != nil {
					return def, fmt.Errorf("schedule %q: exceptions[%d]: %w", s.Name, i, err)
				}
				ev.Entry = &entry
			}
			ev.Entries, err = buildTimeValues(fmt.Sprintf("exceptions[%d].entries", i), ex.Entries)
			if err != nil {
				return def, fmt.Errorf("schedule %q: %w", s.Name, err)
			}
			def.Exceptions = append(def.Exceptions, ev)
		}
	}

	def.Targets = make([]schedule.TargetReference, 0, len(s.Targets))
	for i, t := range s.Targets {
		oid, err := ParseObjectID(t.Object)
		if err != nil {
			return def, fmt.Errorf("schedule %q: targets[%d]: %w", s.Name, i, err)
		}
		pid, err := ParsePropertyID(t.Property)
		if err != nil {
			return def, fmt.Errorf("schedule %q: targets[%d]: %w", s.Name, i, err)
		}
		def.Targets = append(def.Targets, schedule.TargetReference{
			Device:     t.Device,
			Object:     oid,
			Property:   pid,
			ArrayIndex: t.Index,
		})
	}

	return def, def.Validate()
}

// Failsafe returns the periodic writer timings, or ok=false when disabled.
func (s ScheduleSpec) FailsafeTimings() (delay, period time.Duration, ok bool, err error) {
	if s.Failsafe == nil {
		return 0, 0, false, nil
	}
	delay, err = ParseDuration("failsafe.delay", s.Failsafe.Delay)
	if err != nil {
		return 0, 0, false, err
	}
	period, err = ParseDuration("failsafe.period", s.Failsafe.Period)
	if err != nil {
		return 0, 0, false, err
	}
	if period <= 0 {
		return 0, 0, false, fmt.Errorf("schedule %q: failsafe.period must be positive", s.Name)
	}
	return delay, period, true, nil
}
