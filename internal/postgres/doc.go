// Package postgres implements the PostgreSQL-backed repositories.
//
// Provides connection pooling (pgxpool), embedded tern migrations coordinated
// through an advisory lock, and the EventRepo / MessageRepo implementations
// of the domain repository contracts.
package postgres
