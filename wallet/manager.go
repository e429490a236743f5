package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/config"
)

// ConnectTimeout bounds a connect attempt, wallet prompts included.
const ConnectTimeout = 30 * time.Second

// Session establishment failure kinds. Each is terminal for the attempt;
// only an explicit user action retries a connect.
var (
	// ErrWalletUnavailable indicates no injected wallet capability.
	ErrWalletUnavailable = errors.New("no wallet available")
	// ErrNoAccounts indicates the wallet granted access but exposes no accounts.
	ErrNoAccounts = errors.New("wallet exposes no accounts")
	// ErrConnectionRejected indicates the user refused account access.
	ErrConnectionRejected = errors.New("wallet connection rejected")
	// ErrConnectionTimeout indicates the connect attempt exceeded ConnectTimeout.
	ErrConnectionTimeout = errors.New("wallet connection timed out")
	// ErrNetworkSwitchRejected indicates the user refused the network switch.
	ErrNetworkSwitchRejected = errors.New("network switch rejected")
	// ErrNetworkUnregistrable indicates the target network could not be
	// registered with the wallet.
	ErrNetworkUnregistrable = errors.New("network could not be registered")
	// ErrNotConnected indicates an operation that needs a live session.
	ErrNotConnected = errors.New("no active wallet session")
)

// Session is an established wallet identity on the target network.
// The address is immutable for the session's lifetime.
type Session struct {
	Address address.Address
	Network config.Network
	signer  Signer
}

// Signer returns the session's signing handle.
func (s *Session) Signer() Signer {
	return s.signer
}

// Manager establishes and maintains at most one Session per process.
type Manager struct {
	provider Provider
	network  config.Network

	mu        sync.RWMutex
	session   *Session
	probeStop chan struct{}
}

// NewManager creates a session manager targeting the given network.
func NewManager(provider Provider, network config.Network) *Manager {
	logrus.WithFields(logrus.Fields{
		"function": "NewManager",
		"chain_id": network.ChainID,
		"network":  network.Name,
	}).Info("Creating wallet session manager")

	return &Manager{provider: provider, network: network}
}

// Connect establishes a wallet session: account access, network alignment
// and a materialized signing handle. The whole attempt is bounded by
// ConnectTimeout on top of any deadline the caller already imposed.
func (m *Manager) Connect(ctx context.Context) (*Session, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Manager.Connect",
		"chain_id": m.network.ChainID,
	}).Info("Connecting wallet")

	if m.provider == nil {
		return nil, ErrWalletUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	session, err := m.connect(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrConnectionTimeout
		}
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Connect",
			"error":    err.Error(),
		}).Error("Wallet connection failed")
		return nil, err
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Connect",
		"address":  session.Address.Hex(),
		"chain_id": session.Network.ChainID,
	}).Info("Wallet session established")

	return session, nil
}

func (m *Manager) connect(ctx context.Context) (*Session, error) {
	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet chain: %w", err)
	}
	if chainID != m.network.ChainID {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.connect",
			"wallet":   chainID,
			"target":   m.network.ChainID,
		}).Warn("Wallet network mismatch, attempting switch")
		if err := m.switchNetwork(ctx); err != nil {
			return nil, err
		}
	}

	accounts, err := m.provider.RequestAccounts(ctx)
	if err != nil {
		if errors.Is(err, ErrUserDeclined) {
			return nil, ErrConnectionRejected
		}
		return nil, fmt.Errorf("account request failed: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	signer, err := m.provider.Signer(ctx, accounts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to materialize signer: %w", err)
	}

	return &Session{
		Address: accounts[0],
		Network: m.network,
		signer:  signer,
	}, nil
}

// switchNetwork asks the wallet to select the target chain, registering
// the network descriptor first when the wallet does not know it.
func (m *Manager) switchNetwork(ctx context.Context) error {
	err := m.provider.SwitchChain(ctx, m.network.ChainID)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUserDeclined) {
		return ErrNetworkSwitchRejected
	}
	if !errors.Is(err, ErrUnknownChain) {
		return fmt.Errorf("network switch failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.switchNetwork",
		"chain_id": m.network.ChainID,
	}).Info("Registering target network with the wallet")

	if err := m.provider.RegisterChain(ctx, m.network); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnregistrable, err)
	}
	if err := m.provider.SwitchChain(ctx, m.network.ChainID); err != nil {
		if errors.Is(err, ErrUserDeclined) {
			return ErrNetworkSwitchRejected
		}
		return fmt.Errorf("network switch failed after registration: %w", err)
	}
	return nil
}

// Session returns the live session, or nil when disconnected.
func (m *Manager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// IsConnected reports whether a session with a signing handle exists.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil && m.session.signer != nil
}

// CheckLiveness probes the session best-effort: the wallet must still be
// reachable and selected on the target chain. It never returns an error;
// any failure reads as false.
func (m *Manager) CheckLiveness(ctx context.Context) bool {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()

	if session == nil || session.signer == nil {
		return false
	}

	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.CheckLiveness",
			"error":    err.Error(),
		}).Debug("Liveness probe failed")
		return false
	}
	return chainID == m.network.ChainID
}

// Balance returns the session account's native-currency balance.
func (m *Manager) Balance(ctx context.Context) (*big.Int, error) {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()

	if session == nil {
		return nil, ErrNotConnected
	}
	return m.provider.Balance(ctx, session.Address)
}

// StartHealthCheck runs CheckLiveness every interval, reporting each
// result to cb. The probe is owned by the session lifecycle: Disconnect
// tears it down, so no timer outlives a dead session. Starting a new probe
// replaces a running one.
func (m *Manager) StartHealthCheck(interval time.Duration, cb func(alive bool)) {
	m.mu.Lock()
	if m.probeStop != nil {
		close(m.probeStop)
	}
	stop := make(chan struct{})
	m.probeStop = stop
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.StartHealthCheck",
		"interval": interval.String(),
	}).Debug("Starting session health probe")

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				alive := m.CheckLiveness(ctx)
				cancel()
				if cb != nil {
					cb(alive)
				}
			}
		}
	}()
}

// Disconnect destroys the session and stops any running health probe.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	hadSession := m.session != nil
	m.session = nil
	if m.probeStop != nil {
		close(m.probeStop)
		m.probeStop = nil
	}
	m.mu.Unlock()

	if hadSession {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Disconnect",
		}).Info("Wallet session destroyed")
	}
}
