// Package trace captures raw API messages for post-mortem debugging and
// replay.
//
// Ownership boundary:
// - bounded rings of wire-order message copies, one per direction
// - the binary trace file (header, message table, length-prefixed entries)
// - JSON export through per-message converters
// - the process-wide post-mortem dump
//
// Rings are not locked. Each direction assumes a single writer, or a
// caller that already serializes entry into the dispatcher; mp-safe
// handlers running in parallel can race on capture.
package trace
