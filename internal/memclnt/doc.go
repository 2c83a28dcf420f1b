// Package memclnt is the bus's built-in message set: liveness ping,
// module id range lookup and version queries.
//
// Its ids are fixed below registry.DefaultFirstAvailableID so every
// client can reach it before it knows any other module's range.
//
// Endian functions convert the fixed-width fields to host order in
// place. The leading message id and the length prefix of embedded
// strings stay in network order.
package memclnt
