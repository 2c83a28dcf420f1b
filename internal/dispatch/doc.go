// Package dispatch runs raw API messages through their registered
// handlers.
//
// Ownership boundary:
// - the fixed per-message sequence: lookup, trace, print, barrier,
//   endian fix, perf hooks, invoke, release
// - call shapes deciding trace, invoke and free per call
// - privileged dispatch with caller context and a private region scope
// - the queue loop and trace replay
//
// The registry and trace rings are shared with every dispatcher; the
// exclusive section for non mp-safe handlers is supplied by the runtime
// through Barrier.
package dispatch
