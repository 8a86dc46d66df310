// Package redis implements the Redis-backed replay cache.
//
// Provides the client constructor (with a circuit-breaker hook protecting
// all operations) and HistoryCache, a capped list of recent broadcast
// envelopes replayed to newly connected clients.
package redis
