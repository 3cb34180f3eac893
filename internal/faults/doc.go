// Package faults defines the failure taxonomy shared by every component
// of the resilience layer.
//
// A single tagged Error type replaces a deep error hierarchy:
//   - Kind discriminates the failure class
//   - Retryable tells callers whether retrying can help
//   - a correlation bundle (operation, session id, correlation id,
//     timestamp) supports structured logging
//
// Errors never carry credentials or other secrets.
package faults
