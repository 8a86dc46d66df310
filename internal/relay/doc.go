// Package relay implements the per-connection lifecycle coordinator.
//
// The coordinator drives each connection through
// pre_handshake -> connected -> {message_received}* -> disconnected,
// recording a lifecycle event at every transition and fanning inbound chat
// messages out through the hub. Failures before acceptance are recorded as
// handshake failures and propagate to the transport as typed errors, so the
// socket is closed with an error indication but never without a record.
package relay
