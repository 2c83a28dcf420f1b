// Package wire owns the binary message representation shared by the bus.
//
// Ownership boundary:
// - message buffers and the leading big-endian message id
// - network/host byte order helpers and in-place field fixups
// - length-prefixed API strings embedded in message bodies
// - length-prefixed message streams (trace files)
package wire
