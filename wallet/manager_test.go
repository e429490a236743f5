package wallet

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/config"
)

var testAccount = address.MustParse("0x8ba1f109551bD432803012645Ac136ddd64DBA72")

func TestConnect(t *testing.T) {
	t.Run("no wallet capability", func(t *testing.T) {
		m := NewManager(nil, config.Testnet)
		if _, err := m.Connect(context.Background()); !errors.Is(err, ErrWalletUnavailable) {
			t.Errorf("expected ErrWalletUnavailable, got %v", err)
		}
	})

	t.Run("no accounts", func(t *testing.T) {
		m := NewManager(newMockProvider(), config.Testnet)
		if _, err := m.Connect(context.Background()); !errors.Is(err, ErrNoAccounts) {
			t.Errorf("expected ErrNoAccounts, got %v", err)
		}
		if m.IsConnected() {
			t.Error("failed connect must not leave a session")
		}
	})

	t.Run("user declines access", func(t *testing.T) {
		p := newMockProvider(testAccount)
		p.declineAccess = true
		m := NewManager(p, config.Testnet)
		if _, err := m.Connect(context.Background()); !errors.Is(err, ErrConnectionRejected) {
			t.Errorf("expected ErrConnectionRejected, got %v", err)
		}
	})

	t.Run("successful connect", func(t *testing.T) {
		m := NewManager(newMockProvider(testAccount), config.Testnet)

		session, err := m.Connect(context.Background())
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if !session.Address.Equal(testAccount) {
			t.Errorf("expected %s, got %s", testAccount, session.Address)
		}
		if session.Signer() == nil {
			t.Error("session must carry a materialized signing handle")
		}
		if !m.IsConnected() {
			t.Error("IsConnected must be true after connect")
		}
	})

	t.Run("connect timeout", func(t *testing.T) {
		p := newMockProvider(testAccount)
		p.blockUntilDone = true
		m := NewManager(p, config.Testnet)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		if _, err := m.Connect(ctx); !errors.Is(err, ErrConnectionTimeout) {
			t.Errorf("expected ErrConnectionTimeout, got %v", err)
		}
	})
}

func TestNetworkAlignment(t *testing.T) {
	t.Run("mismatch triggers switch", func(t *testing.T) {
		p := newMockProvider(testAccount)
		p.chainID = 1 // wrong network, target already registered
		m := NewManager(p, config.Testnet)

		if _, err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if p.switchCalls != 1 {
			t.Errorf("expected one switch attempt, got %d", p.switchCalls)
		}
		if p.registerCalls != 0 {
			t.Errorf("registered a known chain %d times", p.registerCalls)
		}
	})

	t.Run("unknown chain is registered then switched", func(t *testing.T) {
		p := newMockProvider(testAccount)
		p.chainID = 1
		p.knownChains = map[uint64]bool{} // wallet has never seen the target
		m := NewManager(p, config.Testnet)

		if _, err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if p.registerCalls != 1 {
			t.Errorf("expected one registration, got %d", p.registerCalls)
		}
		if p.switchCalls != 2 {
			t.Errorf("expected switch before and after registration, got %d", p.switchCalls)
		}
	})

	t.Run("switch rejected", func(t *testing.T) {
		p := newMockProvider(testAccount)
		p.chainID = 1
		p.declineSwitch = true
		m := NewManager(p, config.Testnet)

		if _, err := m.Connect(context.Background()); !errors.Is(err, ErrNetworkSwitchRejected) {
			t.Errorf("expected ErrNetworkSwitchRejected, got %v", err)
		}
	})

	t.Run("registration fails", func(t *testing.T) {
		p := newMockProvider(testAccount)
		p.chainID = 1
		p.knownChains = map[uint64]bool{}
		p.registerErr = errors.New("wallet refused the descriptor")
		m := NewManager(p, config.Testnet)

		if _, err := m.Connect(context.Background()); !errors.Is(err, ErrNetworkUnregistrable) {
			t.Errorf("expected ErrNetworkUnregistrable, got %v", err)
		}
	})
}

func TestCheckLiveness(t *testing.T) {
	ctx := context.Background()

	t.Run("disconnected is not alive", func(t *testing.T) {
		m := NewManager(newMockProvider(testAccount), config.Testnet)
		if m.CheckLiveness(ctx) {
			t.Error("no session must read as not alive")
		}
	})

	t.Run("healthy session is alive", func(t *testing.T) {
		m := NewManager(newMockProvider(testAccount), config.Testnet)
		if _, err := m.Connect(ctx); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if !m.CheckLiveness(ctx) {
			t.Error("connected session on the right chain must be alive")
		}
	})

	t.Run("probe never errors", func(t *testing.T) {
		p := newMockProvider(testAccount)
		m := NewManager(p, config.Testnet)
		if _, err := m.Connect(ctx); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		p.chainIDErr = errors.New("rpc down")
		if m.CheckLiveness(ctx) {
			t.Error("provider failure must read as not alive")
		}
	})

	t.Run("wrong chain is not alive", func(t *testing.T) {
		p := newMockProvider(testAccount)
		m := NewManager(p, config.Testnet)
		if _, err := m.Connect(ctx); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		p.mu.Lock()
		p.chainID = 1
		p.mu.Unlock()
		if m.CheckLiveness(ctx) {
			t.Error("session off the target chain must not be alive")
		}
	})
}

func TestHealthCheckLifecycle(t *testing.T) {
	m := NewManager(newMockProvider(testAccount), config.Testnet)
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var probes atomic.Int32
	m.StartHealthCheck(10*time.Millisecond, func(alive bool) {
		probes.Add(1)
	})

	time.Sleep(60 * time.Millisecond)
	if probes.Load() == 0 {
		t.Fatal("health probe never fired")
	}

	m.Disconnect()
	seen := probes.Load()
	time.Sleep(60 * time.Millisecond)
	// Allow one in-flight probe to drain, but the ticker must be dead.
	if probes.Load() > seen+1 {
		t.Errorf("probe kept firing after disconnect: %d -> %d", seen, probes.Load())
	}
	if m.IsConnected() {
		t.Error("session must be destroyed on disconnect")
	}
}

func TestBalance(t *testing.T) {
	m := NewManager(newMockProvider(testAccount), config.Testnet)

	if _, err := m.Balance(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	bal, err := m.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if bal.Sign() <= 0 {
		t.Errorf("expected a positive balance, got %s", bal)
	}
}
