package registry

import "errors"

// Registry misconfiguration. Mutating operations fail fast with these
// instead of attempting a call that cannot succeed.
var (
	// ErrContractNotDeployed indicates the configured contract address is
	// the zero sentinel.
	ErrContractNotDeployed = errors.New("registry contract not deployed")
	// ErrContractUninitialized indicates a deployed contract that has not
	// completed its setup.
	ErrContractUninitialized = errors.New("registry contract not initialized")
)

// Send-pipeline failures. Each is semantically final: retrying would only
// re-prompt the wallet or re-hit a deterministic revert, so none of them
// pass the retry policy.
var (
	// ErrInsufficientFunds indicates the account cannot cover fee plus gas.
	ErrInsufficientFunds = errors.New("insufficient funds for message fee")
	// ErrUserRejected indicates the user declined the transaction prompt.
	ErrUserRejected = errors.New("transaction rejected by user")
	// ErrTransactionTimeout indicates inclusion was not observed in time.
	ErrTransactionTimeout = errors.New("transaction confirmation timed out")
	// ErrTransactionReverted indicates the contract rejected the call.
	ErrTransactionReverted = errors.New("transaction reverted")
)

// ErrTransportFailure marks generic RPC/network failures. It is the only
// kind the bounded retry-with-backoff policy acts on; backends wrap the
// underlying cause so the chain stays inspectable.
var ErrTransportFailure = errors.New("registry transport failure")

// ErrUnsupported indicates an operation the deployed contract variant does
// not expose (see Capabilities).
var ErrUnsupported = errors.New("operation not supported by contract variant")

// IsRetryable reports whether the retry policy may attempt err again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransportFailure)
}

// Hint returns a short remediation hint for a failure kind, empty when no
// specific user action applies.
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrContractNotDeployed):
		return "deploy the registry contract and configure its address"
	case errors.Is(err, ErrContractUninitialized):
		return "finish the registry contract setup"
	case errors.Is(err, ErrInsufficientFunds):
		return "add funds to cover the message fee"
	case errors.Is(err, ErrUserRejected):
		return "approve the transaction in your wallet to send"
	case errors.Is(err, ErrTransactionTimeout):
		return "the network is congested; check the explorer before retrying"
	case errors.Is(err, ErrTransactionReverted):
		return "the contract rejected this message"
	case errors.Is(err, ErrTransportFailure):
		return "check your network connection and RPC endpoints"
	case errors.Is(err, ErrUnsupported):
		return "the deployed contract variant does not support this"
	}
	return ""
}
