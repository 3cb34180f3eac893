// Package breaker implements the failure-isolation circuit breaker that
// gates every operation against the trading terminal.
//
// State machine:
//
//	Closed (normal):
//	    - calls pass through; failures are tracked in a sliding window
//	    - window count reaching the threshold opens the circuit
//
//	Open (tripped):
//	    - calls are rejected immediately, the transport is never touched
//	    - after the recovery timeout the next call moves to half-open
//
//	HalfOpen (testing):
//	    - a bounded quota of trial calls is allowed through
//	    - any failure reopens the circuit; enough consecutive
//	      successes close it and reset the window
//
// All transitions are linearized through one mutex, so no caller ever
// observes Open reverting straight to Closed.
package breaker
