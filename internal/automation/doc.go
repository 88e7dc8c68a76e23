// Package automation implements the rule engine at the heart of Ember
// Core: IF(trigger) AND/OR(conditions) THEN(actions) rules that react
// to time, sunrise/sunset, device state changes, and system events.
//
// # Model
//
// A Rule aggregates one Trigger, zero or more Conditions combined with
// AND or OR, and an ordered list of Actions, plus execution stats.
// Triggers are stateful edge detectors (once-per-day guards, previous
// value snapshots); conditions are stateless level predicates; actions
// are side-effecting executors that convert every failure to a logged
// false, never a crash.
//
// Trigger variants: time, sun, interval, device_state, event.
// Condition variants: time, sun, device_state, numeric, boolean.
// Action variants: device_command, delay, notification, scene,
// webhook, condition.
//
// # Scheduling
//
// The Engine runs a dual scheduling loop. A worker loop polls every
// non-event trigger on a drift-corrected cadence; an event processor
// drains a bounded FIFO queue fed by ProcessEvent. Matched rules
// execute on their own goroutines with panic capture, bounded by a
// semaphore, so a slow action sequence never delays the next tick or
// the next event. Within one rule, actions run strictly in order;
// across rules, no ordering is guaranteed.
//
// # Error Containment
//
// Nothing that happens during trigger checks, condition evaluation, or
// action execution can stop the engine's loops. Malformed comparisons
// evaluate to non-match with a warning; panics are caught at the rule
// boundary; the only way to stop the engine is Stop().
package automation
