package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/config"
)

// ErrUserDeclined is returned by Provider implementations when the user
// dismisses a wallet prompt.
var ErrUserDeclined = errors.New("user declined the wallet prompt")

// ErrUnknownChain is returned by SwitchChain when the wallet has no entry
// for the requested chain id; the caller may register it and retry.
var ErrUnknownChain = errors.New("chain not registered with the wallet")

// Signer is a handle that can sign on behalf of one address. It is the
// session's single shared resource; the wallet serializes concurrent use.
type Signer interface {
	// Address returns the account this handle signs for.
	Address() address.Address
	// SignMessage signs an arbitrary payload, prompting the user.
	SignMessage(ctx context.Context, payload []byte) ([]byte, error)
}

// Provider models the injected wallet capability the client talks to.
// All methods may suspend on user prompts; callers bound them with a
// context deadline.
type Provider interface {
	// RequestAccounts asks the wallet for account access. An empty slice
	// with a nil error means access was granted but no accounts exist.
	RequestAccounts(ctx context.Context) ([]address.Address, error)
	// ChainID returns the wallet's currently selected chain.
	ChainID(ctx context.Context) (uint64, error)
	// SwitchChain asks the wallet to select the given chain. Returns
	// ErrUnknownChain when the wallet has never seen the chain id and
	// ErrUserDeclined when the user refuses.
	SwitchChain(ctx context.Context, chainID uint64) error
	// RegisterChain adds a network descriptor to the wallet.
	RegisterChain(ctx context.Context, network config.Network) error
	// Signer materializes a signing handle for an account.
	Signer(ctx context.Context, account address.Address) (Signer, error)
	// Balance returns the native-currency balance of an account. Display
	// only; failures are surfaced but never block messaging.
	Balance(ctx context.Context, account address.Address) (*big.Int, error)
}
