// Package session owns the client side of a Protocol ZERO connection.
//
// Ownership boundary:
// - connection state machine and receive loop
// - correlation id allocation and the pending request table
// - heartbeat (ping/pong) liveness
// - connect retry/backoff primitives
//
// Wire layout lives in protocol/frame and payload layouts in protocol/ops;
// this package only moves frames and matches replies to callers.
package session
