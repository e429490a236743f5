package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/config"
)

// mockSigner is a Signer bound to a fixed address.
type mockSigner struct {
	addr address.Address
}

func (s *mockSigner) Address() address.Address { return s.addr }

func (s *mockSigner) SignMessage(_ context.Context, payload []byte) ([]byte, error) {
	sig := append([]byte("signed:"), payload...)
	return sig, nil
}

// mockProvider simulates an injected wallet. Behaviors toggle per test.
type mockProvider struct {
	mu sync.Mutex

	accounts       []address.Address
	chainID        uint64
	knownChains    map[uint64]bool
	declineAccess  bool
	declineSwitch  bool
	registerErr    error
	chainIDErr     error
	blockUntilDone bool

	switchCalls   int
	registerCalls int
}

func newMockProvider(accounts ...address.Address) *mockProvider {
	return &mockProvider{
		accounts:    accounts,
		chainID:     config.Testnet.ChainID,
		knownChains: map[uint64]bool{config.Testnet.ChainID: true},
	}
}

func (p *mockProvider) RequestAccounts(ctx context.Context) ([]address.Address, error) {
	if p.blockUntilDone {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.declineAccess {
		return nil, ErrUserDeclined
	}
	return p.accounts, nil
}

func (p *mockProvider) ChainID(ctx context.Context) (uint64, error) {
	if p.chainIDErr != nil {
		return 0, p.chainIDErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainID, nil
}

func (p *mockProvider) SwitchChain(ctx context.Context, chainID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.switchCalls++
	if p.declineSwitch {
		return ErrUserDeclined
	}
	if !p.knownChains[chainID] {
		return ErrUnknownChain
	}
	p.chainID = chainID
	return nil
}

func (p *mockProvider) RegisterChain(ctx context.Context, network config.Network) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.registerCalls++
	if p.registerErr != nil {
		return p.registerErr
	}
	p.knownChains[network.ChainID] = true
	return nil
}

func (p *mockProvider) Signer(ctx context.Context, account address.Address) (Signer, error) {
	for _, a := range p.accounts {
		if a.Equal(account) {
			return &mockSigner{addr: account}, nil
		}
	}
	return nil, errors.New("unknown account")
}

func (p *mockProvider) Balance(ctx context.Context, account address.Address) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000_000), nil
}
