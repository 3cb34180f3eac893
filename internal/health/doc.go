// Package health probes the terminal link on an independent schedule,
// decoupled from request traffic.
//
// Each probe cycle checks connection liveness, authentication validity,
// and market-data freshness, then aggregates them into one overall
// status. Probe outcomes are never reported to the circuit breaker:
// probing noise must not be conflated with real call-failure
// accounting. When the link turns unhealthy the monitor fires a narrow
// reconnect capability exactly once per unhealthy transition.
package health
