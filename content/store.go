// Package content implements content-addressed storage for message bodies.
//
// The ledger only carries a fixed-size pointer per message; the body itself
// lives in an off-chain store addressed by a hash of its content. The same
// body (and metadata) always yields the same identifier, so retrieval is a
// pure function of the identifier and may be retried freely — a miss never
// corrupts state, it only degrades display to the raw identifier.
//
// Example:
//
//	store := content.NewMemoryStore()
//	id, err := store.Store(ctx, "hello", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	body, err := store.Retrieve(ctx, id)
package content

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// ErrContentUnavailable indicates an identifier that cannot be resolved.
// Callers treat this as non-fatal and fall back to showing the identifier.
var ErrContentUnavailable = errors.New("content unavailable")

// identifierPrefix marks store identifiers; the rest is a hex digest.
const identifierPrefix = "Qm"

// Store maps message bodies to content-addressed identifiers.
type Store interface {
	// Store uploads body and returns its identifier. The identifier is a
	// deterministic function of body and metadata. Safe for concurrent use.
	Store(ctx context.Context, body string, metadata map[string]string) (string, error)
	// Retrieve is the inverse of Store. Fails with ErrContentUnavailable
	// when the identifier cannot be resolved.
	Retrieve(ctx context.Context, identifier string) (string, error)
	// GatewayURL returns an out-of-band display URL for an identifier.
	GatewayURL(identifier string) string
}

// Identifier computes the content address for a body and its metadata
// without storing anything. Metadata keys are folded in sorted order so
// the identifier does not depend on map iteration.
func Identifier(body string, metadata map[string]string) string {
	digest := sha3.NewLegacyKeccak256()
	digest.Write([]byte(body))

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		digest.Write([]byte{0})
		digest.Write([]byte(k))
		digest.Write([]byte{0})
		digest.Write([]byte(metadata[k]))
	}

	return identifierPrefix + hex.EncodeToString(digest.Sum(nil))[:44]
}

// MemoryStore is an in-process Store with simulated upload latency.
//
// It stands in for a remote pinning service during development and tests;
// the identifier scheme is identical so a gateway-backed implementation can
// replace it without touching callers.
type MemoryStore struct {
	gateway string
	latency time.Duration

	mu     sync.RWMutex
	bodies map[string]string
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithGateway sets the public gateway base URL used by GatewayURL.
func WithGateway(base string) MemoryStoreOption {
	return func(s *MemoryStore) { s.gateway = base }
}

// WithLatency sets the simulated per-operation upload latency.
func WithLatency(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.latency = d }
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	logrus.WithFields(logrus.Fields{
		"function": "NewMemoryStore",
	}).Debug("Creating in-memory content store")

	s := &MemoryStore{
		gateway: "https://ipfs.io/ipfs/",
		bodies:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store uploads body and returns its content address.
func (s *MemoryStore) Store(ctx context.Context, body string, metadata map[string]string) (string, error) {
	id := Identifier(body, metadata)

	logrus.WithFields(logrus.Fields{
		"function":   "MemoryStore.Store",
		"identifier": id,
		"body_size":  len(body),
	}).Debug("Uploading content")

	if err := s.simulateLatency(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "MemoryStore.Store",
			"identifier": id,
			"error":      err.Error(),
		}).Warn("Content upload cancelled")
		return "", err
	}

	s.mu.Lock()
	s.bodies[id] = body
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "MemoryStore.Store",
		"identifier": id,
	}).Info("Content uploaded")

	return id, nil
}

// Retrieve resolves an identifier back to its body.
func (s *MemoryStore) Retrieve(ctx context.Context, identifier string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"function":   "MemoryStore.Retrieve",
		"identifier": identifier,
	}).Debug("Retrieving content")

	if err := s.simulateLatency(ctx); err != nil {
		return "", err
	}

	s.mu.RLock()
	body, ok := s.bodies[identifier]
	s.mu.RUnlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":   "MemoryStore.Retrieve",
			"identifier": identifier,
		}).Warn("Content identifier not resolvable")
		return "", ErrContentUnavailable
	}
	return body, nil
}

// GatewayURL returns the public display URL for an identifier.
func (s *MemoryStore) GatewayURL(identifier string) string {
	return s.gateway + identifier
}

// simulateLatency waits out the configured upload delay while honoring
// caller cancellation.
func (s *MemoryStore) simulateLatency(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(s.latency)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
