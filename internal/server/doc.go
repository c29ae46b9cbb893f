// Package server owns the dispatch side of the fabric.
//
// Ownership boundary:
// - the listening socket and receive loop
// - handler registration and the built-in command set
// - per-datagram decode -> guard -> validate -> dispatch -> reply
package server
