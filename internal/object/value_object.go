package object

import "fmt"

// ValueObject is a plain present-value holder (analog-value, binary-value,
// multi-state-value). It is what schedule targets usually point at.
type ValueObject struct {
	*Object
	kind     ValueKind
	writable bool
}

// NewValueObject builds a value object with the given initial present value.
// When writable is false, every external present-value write is rejected;
// otherwise writes must carry the declared kind.
func NewValueObject(id ObjectID, name string, initial Value, writable bool) *ValueObject {
	v := &ValueObject{
		Object:   NewObject(id, name),
		kind:     initial.Kind(),
		writable: writable,
	}
	v.WriteInternal(PropPresentValue, initial)
	v.WriteInternal(PropOutOfService, Boolean(false))
	v.WriteInternal(PropStatusFlags, StatusFlags{})
	v.SetHook(v)
	return v
}

func (v *ValueObject) ValidateWrite(w PropertyWrite) error {
	if w.Property != PropPresentValue {
		return nil
	}
	if !v.writable {
		return fmt.Errorf("%s: present-value: %w", v.ID(), ErrWriteAccessDenied)
	}
	pv, ok := w.Value.(Value)
	if !ok || pv.Kind() != v.kind {
		return fmt.Errorf("%s: present-value must be %s", v.ID(), v.kind)
	}
	return nil
}

func (v *ValueObject) AfterCommit(p PropertyID, old, new any) {}

// PresentValue returns the current present value.
func (v *ValueObject) PresentValue() Value {
	return v.GetValue(PropPresentValue)
}
