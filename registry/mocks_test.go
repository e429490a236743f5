package registry

import (
	"context"
	"math/big"
	"testing"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/config"
	"github.com/opd-ai/chainchat/wallet"
)

var (
	testSender = address.MustParse("0x8ba1f109551bD432803012645Ac136ddd64DBA72")
	testPeer   = address.MustParse("0xde709f2102306220921060314715629080e2fb77")
	testOther  = address.MustParse("0x27b1fdb04752bbc536007a920d24acb045561c26")

	testContract = address.MustParse("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
)

// testProvider is a minimal wallet provider whose prompts always succeed.
type testProvider struct {
	account address.Address
}

func (p *testProvider) RequestAccounts(ctx context.Context) ([]address.Address, error) {
	return []address.Address{p.account}, nil
}

func (p *testProvider) ChainID(ctx context.Context) (uint64, error) {
	return config.Testnet.ChainID, nil
}

func (p *testProvider) SwitchChain(ctx context.Context, chainID uint64) error { return nil }

func (p *testProvider) RegisterChain(ctx context.Context, network config.Network) error { return nil }

func (p *testProvider) Signer(ctx context.Context, account address.Address) (wallet.Signer, error) {
	return &testSigner{addr: account}, nil
}

func (p *testProvider) Balance(ctx context.Context, account address.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

type testSigner struct {
	addr address.Address
}

func (s *testSigner) Address() address.Address { return s.addr }

func (s *testSigner) SignMessage(_ context.Context, payload []byte) ([]byte, error) {
	return append([]byte{0x01}, payload...), nil
}

// connectedManager returns a wallet manager with an established session.
func connectedManager(t *testing.T, account address.Address) *wallet.Manager {
	t.Helper()
	m := wallet.NewManager(&testProvider{account: account}, config.Testnet)
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("wallet connect failed: %v", err)
	}
	return m
}
