// Package server runs the apibusd process: it builds the registry,
// trace rings and dispatcher from a config, accepts clients on a unix
// socket, feeds their messages to one dispatch loop and exports
// dispatch metrics over HTTP.
package server
