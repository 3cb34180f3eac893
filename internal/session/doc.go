// Package session owns the physical connection lifecycle to the
// trading terminal.
//
// The Manager hands out one shared Session per endpoint. Acquire is
// idempotent while connected and single-flight while connecting:
// concurrent callers suspend on the one in-progress attempt and share
// its outcome, so exactly one physical connect happens no matter how
// many callers race.
//
// Every physical attempt is gated through the circuit breaker, and its
// outcome reported back. Rejected credentials are never retried;
// transport and timeout failures retry with jittered exponential
// backoff up to a configured bound.
package session
