// Package wallet manages the client's ledger identity.
//
// A Session binds exactly one wallet address to one target network and a
// signing capability. The Manager owns the session lifecycle: an
// interactive Connect with a hard timeout, network-mismatch correction
// (switch, registering the chain with the wallet first when it is
// unknown), a best-effort liveness probe, and a deterministic Disconnect
// that also tears down any scheduled health checks.
//
// Connection is a user-interactive action; this layer never retries it on
// its own.
package wallet
