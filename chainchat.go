// Package chainchat implements a client-side transport layer for a
// ledger-backed chat system.
//
// Messages are stored off-chain in a content-addressed store; the ledger's
// registry contract holds the ordering metadata and content identifiers.
// The package wires three subsystems together: wallet session management,
// the content store, and the typed registry client, and exposes a
// synchronized conversation view on top of them.
//
// Example:
//
//	opts := chainchat.Options{
//	    Network:  config.Mainnet,
//	    Contract: contract,
//	    Provider: provider,
//	}
//
//	client, err := chainchat.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	msgs, _ := client.LoadRoom(ctx)
//	for _, m := range msgs {
//	    fmt.Println(message.DisplayBody(m.Content))
//	}
//
//	client.SendText(ctx, address.Zero, "hello from the ledger")
package chainchat

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/config"
	"github.com/opd-ai/chainchat/content"
	"github.com/opd-ai/chainchat/message"
	"github.com/opd-ai/chainchat/registry"
	"github.com/opd-ai/chainchat/wallet"
)

// DefaultProbeInterval is the session liveness probe cadence.
const DefaultProbeInterval = 15 * time.Second

// ErrNoContract indicates the client was built without a deployed
// registry contract address.
var ErrNoContract = errors.New("no registry contract configured")

// Options configures a Client. Network and Provider are required; the
// zero values of the remaining fields select working defaults.
type Options struct {
	// Network is the target chain descriptor.
	Network config.Network
	// Contract is the deployed registry contract address.
	Contract address.Address
	// Provider is the injected wallet capability.
	Provider wallet.Provider

	// Backend overrides the registry backend. Nil selects the JSON-RPC
	// backend over the network's endpoints.
	Backend registry.Backend
	// Store overrides the content store. Nil selects an in-process store.
	Store content.Store

	// ProbeInterval overrides the liveness probe cadence.
	ProbeInterval time.Duration
	// RegistryOptions tune the registry client (retry budget, backoff).
	RegistryOptions []registry.Option
}

// Client is the synchronization engine: one instance per wallet session,
// no process-global state.
type Client struct {
	network  config.Network
	contract address.Address

	sessions *wallet.Manager
	registry *registry.Client
	store    content.Store
	backend  registry.Backend

	probeInterval time.Duration

	mu      sync.RWMutex
	room    *message.Index
	threads map[address.Address]*message.Index

	onMessage message.StatusCallback
	onHealth  func(alive bool)

	watchCancel context.CancelFunc
}

// New creates a client from options. It performs no I/O; the wallet is
// untouched until Connect.
func New(opts Options) (*Client, error) {
	if opts.Contract.Sentinel() {
		return nil, ErrNoContract
	}

	store := opts.Store
	if store == nil {
		store = content.NewMemoryStore()
	}
	backend := opts.Backend
	if backend == nil {
		backend = registry.NewRPCBackend(opts.Network, opts.Contract)
	}
	probe := opts.ProbeInterval
	if probe <= 0 {
		probe = DefaultProbeInterval
	}

	sessions := wallet.NewManager(opts.Provider, opts.Network)

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"chain_id": opts.Network.ChainID,
		"contract": opts.Contract.Hex(),
	}).Info("Creating chat client")

	return &Client{
		network:       opts.Network,
		contract:      opts.Contract,
		sessions:      sessions,
		registry:      registry.NewClient(backend, sessions, store, opts.Contract, opts.RegistryOptions...),
		store:         store,
		backend:       backend,
		probeInterval: probe,
		room:          message.NewIndex(),
		threads:       make(map[address.Address]*message.Index),
	}, nil
}

// OnMessageUpdate sets the callback observing every message status
// transition the engine drives, optimistic sends included.
func (c *Client) OnMessageUpdate(cb message.StatusCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = cb
}

// OnHealthChange sets the callback observing liveness probe results.
func (c *Client) OnHealthChange(cb func(alive bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHealth = cb
}

// Connect establishes the wallet session and starts the session-owned
// liveness probe. When the backend supports event subscription the
// engine also starts a watch loop for freshness hints.
func (c *Client) Connect(ctx context.Context) (*wallet.Session, error) {
	session, err := c.sessions.Connect(ctx)
	if err != nil {
		return nil, err
	}

	c.sessions.StartHealthCheck(c.probeInterval, func(alive bool) {
		c.mu.RLock()
		cb := c.onHealth
		c.mu.RUnlock()
		if cb != nil {
			cb(alive)
		}
	})

	if watcher, ok := c.backend.(registry.Watcher); ok {
		watchCtx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		prev := c.watchCancel
		c.watchCancel = cancel
		c.mu.Unlock()
		// Reconnecting replaces a running watch loop instead of leaking it.
		if prev != nil {
			prev()
		}
		go c.watch(watchCtx, watcher)
	}

	return session, nil
}

// Disconnect destroys the session. The probe and the watch loop are torn
// down with it; no timer or subscription outlives the session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.watchCancel
	c.watchCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.sessions.Disconnect()
}

// IsConnected reports whether a wallet session is established.
func (c *Client) IsConnected() bool {
	return c.sessions.IsConnected()
}

// Session returns the active wallet session, or nil.
func (c *Client) Session() *wallet.Session {
	return c.sessions.Session()
}

// Balance returns the session account's native-currency balance.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	return c.sessions.Balance(ctx)
}

// Fee returns the current per-message fee, falling back to the last
// known value when the lookup fails.
func (c *Client) Fee(ctx context.Context) *big.Int {
	return c.registry.Fee(ctx)
}

// Registry exposes the underlying typed registry client for diagnostics.
func (c *Client) Registry() *registry.Client {
	return c.registry
}

// TxURL returns the explorer link for a transaction reference.
func (c *Client) TxURL(txRef string) string {
	return c.network.TxURL(txRef)
}

func (c *Client) notify(m *message.Message, status message.Status) {
	c.mu.RLock()
	cb := c.onMessage
	c.mu.RUnlock()
	if cb != nil {
		cb(m, status)
	}
}

func (c *Client) thread(peer address.Address) *message.Index {
	c.mu.Lock()
	defer c.mu.Unlock()

	ix, ok := c.threads[peer]
	if !ok {
		ix = message.NewIndex()
		c.threads[peer] = ix
	}
	return ix
}

// indexFor returns the view a message with the given recipient belongs
// to: the room for the sentinel recipient, the pairwise thread otherwise.
func (c *Client) indexFor(self, sender, recipient address.Address) *message.Index {
	if recipient.Sentinel() {
		return c.room
	}
	peer := recipient
	if peer == self {
		peer = sender
	}
	return c.thread(peer)
}
