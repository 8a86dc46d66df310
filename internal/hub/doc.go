// Package hub implements room membership tracking and broadcast fan-out
// using the actor pattern.
//
// A single goroutine owns the membership maps and processes commands from a
// channel (no mutexes), so admits, evictions, snapshots, and broadcasts
// serialize through one loop and every broadcast sees a consistent
// point-in-time member set. Per-connection writer goroutines decouple
// delivery: a slow or dead member never stalls fan-out to the others.
package hub
