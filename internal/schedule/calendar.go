package schedule

import (
	"time"

	"bacsched/internal/object"
)

// Calendar is a calendar object: a list of dated entries whose boolean
// present value is "does any entry match today". The present value is derived
// lazily on every read so that consumers (the schedule resolver) always see a
// fresh computation.
type Calendar struct {
	*object.Object
}

func NewCalendar(instance uint32, name string, entries []CalendarEntry) *Calendar {
	c := &Calendar{Object: object.NewObject(object.ObjectID{Type: object.TypeCalendar, Instance: instance}, name)}
	c.WriteInternal(object.PropDateList, entries)
	c.WriteInternal(object.PropPresentValue, object.Boolean(false))
	c.SetHook(c)
	return c
}

// ValidateWrite rejects external writes to the computed present value.
func (c *Calendar) ValidateWrite(w object.PropertyWrite) error {
	if w.Property == object.PropPresentValue {
		return object.ErrWriteAccessDenied
	}
	return nil
}

func (c *Calendar) AfterCommit(p object.PropertyID, old, new any) {}

// ActiveOn recomputes the boolean present value for the given instant and
// mirrors it into the property map for observers.
func (c *Calendar) ActiveOn(t time.Time) (bool, error) {
	entries, _ := c.mustEntries()
	active := false
	for _, e := range entries {
		if e.Matches(t) {
			active = true
			break
		}
	}
	c.WriteInternal(object.PropPresentValue, object.Boolean(active))
	return active, nil
}

func (c *Calendar) mustEntries() ([]CalendarEntry, bool) {
	v, ok := c.Get(object.PropDateList)
	if !ok {
		return nil, false
	}
	entries, ok := v.([]CalendarEntry)
	return entries, ok
}

// SetEntries replaces the date list.
func (c *Calendar) SetEntries(entries []CalendarEntry) {
	c.WriteInternal(object.PropDateList, entries)
}
