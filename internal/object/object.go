package object

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrWriteAccessDenied is returned when an external write targets a property
// the entity computes itself.
var ErrWriteAccessDenied = errors.New("write access denied")

// ErrUnknownProperty is returned when a write targets a property the object
// does not carry.
var ErrUnknownProperty = errors.New("unknown property")

// PropertyWrite is one external write request against an object.
type PropertyWrite struct {
	Property   PropertyID
	ArrayIndex *uint32 // carried for protocol fidelity; local objects ignore it
	Value      any
	Priority   int // 0 means unprioritized
}

// WriteHook is the two-phase write pipeline an entity can install on its
// object. ValidateWrite runs before an external write commits; AfterCommit
// runs after any committed change (external or internal) where the new value
// differs from the old one.
//
// AfterCommit is invoked outside the object's property lock, so hooks may
// read or write other properties of the same object.
type WriteHook interface {
	ValidateWrite(w PropertyWrite) error
	AfterCommit(p PropertyID, old, new any)
}

// Entity is what the device registry stores. *Object implements it, and so
// does anything embedding *Object.
type Entity interface {
	ID() ObjectID
	Name() string
	Get(p PropertyID) (any, bool)
	GetValue(p PropertyID) Value
	Write(w PropertyWrite) error
	base() *Object
}

// Attachment is the optional lifecycle an entity can implement. AddedToDevice
// runs after the entity is registered; RemovedFromDevice runs after it is
// removed and must release timers and other resources.
type Attachment interface {
	AddedToDevice(d *Device)
	RemovedFromDevice()
}

// Object is a property map with a write pipeline. It is safe for concurrent
// use; the hook runs outside the property lock.
type Object struct {
	id   ObjectID
	name string

	mu    sync.RWMutex
	props map[PropertyID]any

	hookMu sync.RWMutex
	hook   WriteHook

	device *Device // set while attached, nil otherwise
}

func NewObject(id ObjectID, name string) *Object {
	o := &Object{
		id:    id,
		name:  name,
		props: map[PropertyID]any{},
	}
	o.props[PropObjectName] = CharacterString(name)
	return o
}

func (o *Object) ID() ObjectID { return o.id }

func (o *Object) Name() string { return o.name }

func (o *Object) base() *Object { return o }

func (o *Object) String() string { return fmt.Sprintf("%s %q", o.id, o.name) }

// SetHook installs the entity's write pipeline. Call before the object is
// shared between goroutines.
func (o *Object) SetHook(h WriteHook) {
	o.hookMu.Lock()
	o.hook = h
	o.hookMu.Unlock()
}

func (o *Object) currentHook() WriteHook {
	o.hookMu.RLock()
	defer o.hookMu.RUnlock()
	return o.hook
}

// Device returns the device this object is attached to, or nil.
func (o *Object) Device() *Device {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.device
}

func (o *Object) setDevice(d *Device) {
	o.mu.Lock()
	o.device = d
	o.mu.Unlock()
}

// Get returns a property's current value.
func (o *Object) Get(p PropertyID) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.props[p]
	return v, ok
}

// GetValue returns a primitive property, or Null when absent or not a Value.
func (o *Object) GetValue(p PropertyID) Value {
	v, ok := o.Get(p)
	if !ok {
		return Null()
	}
	pv, ok := v.(Value)
	if !ok {
		return Null()
	}
	return pv
}

// GetBool returns a boolean property, defaulting to false.
func (o *Object) GetBool(p PropertyID) bool {
	b, _ := o.GetValue(p).Bool()
	return b
}

// Write applies an external write: validation first, then commit plus
// after-commit reaction.
func (o *Object) Write(w PropertyWrite) error {
	if h := o.currentHook(); h != nil {
		if err := h.ValidateWrite(w); err != nil {
			return err
		}
	}
	o.commit(w.Property, w.Value)
	return nil
}

// WriteInternal bypasses validation. It is used during construction and by
// computed-value updates; after-commit reactions and change events still fire.
func (o *Object) WriteInternal(p PropertyID, v any) {
	o.commit(p, v)
}

func (o *Object) commit(p PropertyID, v any) {
	o.mu.Lock()
	old, had := o.props[p]
	if had && equalProps(old, v) {
		o.mu.Unlock()
		return
	}
	o.props[p] = v
	d := o.device
	o.mu.Unlock()

	if d != nil {
		d.publishChange(o.id, p, old, v)
	}
	if h := o.currentHook(); h != nil {
		h.AfterCommit(p, old, v)
	}
}

// equalProps compares two property values structurally. Value has a cheap
// comparison; composites fall back to reflect.DeepEqual.
func equalProps(a, b any) bool {
	if av, ok := a.(Value); ok {
		bv, ok := b.(Value)
		return ok && av.Equal(bv)
	}
	return reflect.DeepEqual(a, b)
}
