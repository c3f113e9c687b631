// Package object implements the small property-object framework that
// bacsched entities plug into.
//
// # Overview
//
// Every entity (schedule, calendar, plain value objects) is an Object: a
// property map addressed by PropertyID with a two-phase write pipeline.
// External writes go through Write(), which first asks the entity's WriteHook
// to validate, then commits and runs the after-commit reaction. Internal
// writes (construction, computed values) go through WriteInternal(), which
// skips validation but still reacts and publishes change events.
//
// A Device owns the local object registry, the wall clock, the timer
// facility, and the handle to the network transport. Entities that need a
// lifecycle (timers to arm on attach, cancel on detach) implement Attachment.
//
// # Values
//
// Present values, schedule defaults and time-value entries use the closed
// tagged-variant Value type, compared structurally. Composite properties
// (weekly schedules, target lists, ...) are stored as plain Go values and
// compared with reflect.DeepEqual.
package object
