// Package transport moves wire messages in and out of the dispatcher.
//
// Ownership boundary:
// - bounded in-process queues (Queue)
// - length-prefixed byte streams (Conn)
// - buffer allocation and release accounting (Pool)
// - reply routing by client index, recording sent messages on the way
package transport
