// Package registry provides typed, retried access to the on-chain message
// registry contract.
//
// The Client wraps a Backend (the contract surface) with the failure
// policy the rest of the client relies on: a bounded retry-with-backoff
// for transport-shaped failures, fast-fail for misconfiguration, distinct
// error kinds for the semantically final send outcomes, and a per-send
// state machine (Building, Submitted, Confirmed or Failed) that separates
// "never left the client" failures from failures on the ledger.
//
// Two Backend implementations ship with the package: RPCBackend speaks
// JSON-RPC over a list of HTTP endpoints tried in order, and MemBackend
// simulates the contract in process for development and tests.
package registry
