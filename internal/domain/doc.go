// Package domain defines the core domain types and interfaces.
//
// Contains the connection lifecycle event and chat message types plus the
// repository contracts implemented by the postgres adapter. No implementation
// code - just contracts. Prevents circular imports by keeping interfaces on
// the consumer side.
package domain
