// Package schedule implements the present-value resolution and propagation
// engine for schedule entities.
//
// # Overview
//
// A Schedule owns a weekly seven-day time table, a list of dated exception
// rules, an inclusive effective period, a default value and a list of target
// property references. At any instant it resolves which value is in effect
// and pushes that value to every target, local or remote.
//
// # Resolution
//
// Resolve picks the active time-value list for "today": the active exception
// rule with the lowest priority value wins (first listed wins ties), the
// weekly table is the fallback. Within the list, the latest entry at or
// before the current time of day supplies the value; the entry after it
// supplies the exact instant the value can next change. When no finer
// boundary exists the next check falls back to local midnight.
//
// # Timers
//
// Two timers drive the engine. The refresh timer is a self-rescheduling
// one-shot armed for the resolver's next-check instant; every firing
// re-resolves and re-arms. The periodic writer is an optional fixed-rate
// failsafe that re-dispatches the current value unconditionally so targets
// that missed a write converge eventually. Detaching the entity cancels both.
//
// # Dispatch
//
// Fan-out is best effort: local writes are synchronous and prioritized,
// remote writes are asynchronous with callback-reported completion. Failures
// are isolated per target, logged, never retried and never surfaced to the
// caller.
package schedule
