// Package registry maps dense message ids to handlers and metadata.
//
// Ownership boundary:
// - per-id descriptors, grown on demand and never shrunk
// - per-module message id ranges
// - the append-only name+CRC index and its serialized message table
// - module version records and layered handlers
package registry
