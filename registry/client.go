package registry

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/content"
	"github.com/opd-ai/chainchat/message"
	"github.com/opd-ai/chainchat/wallet"
)

// DefaultMaxAttempts is the retry budget for transport-shaped failures.
const DefaultMaxAttempts = 3

// DefaultRetryBaseDelay is multiplied by the attempt number between tries.
const DefaultRetryBaseDelay = 500 * time.Millisecond

// DefaultFee is the fallback per-message fee used when the contract's fee
// lookup fails and no cached value exists yet (0.001 in 18-decimal units).
var DefaultFee = big.NewInt(1_000_000_000_000_000)

// SendPhase tracks one send through the pipeline's state machine.
type SendPhase uint8

const (
	// PhaseBuilding covers content upload and fee lookup.
	PhaseBuilding SendPhase = iota
	// PhaseSubmitted covers broadcast until inclusion. A send that reached
	// this phase failed on the ledger, not in the client.
	PhaseSubmitted
	// PhaseConfirmed is terminal success.
	PhaseConfirmed
	// PhaseFailed is terminal failure; the send's error carries the kind.
	PhaseFailed
)

// String returns the lowercase phase name.
func (p SendPhase) String() string {
	switch p {
	case PhaseBuilding:
		return "building"
	case PhaseSubmitted:
		return "submitted"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// SendRequest describes one message send.
type SendRequest struct {
	// Recipient targets a pairwise thread; the zero address targets the room.
	Recipient address.Address
	Content   message.Content
	Encrypted bool
	Metadata  map[string]string
	// OnPhase, when set, observes every phase transition in order.
	OnPhase func(SendPhase)
}

// SendResult is the outcome of a successful send.
type SendResult struct {
	TxRef     string
	ContentID string
	Fee       *big.Int
}

// Client is the typed registry client.
type Client struct {
	backend  Backend
	sessions *wallet.Manager
	store    content.Store
	contract address.Address

	maxAttempts int
	baseDelay   time.Duration

	mu        sync.Mutex
	cachedFee *big.Int
	caps      *Capabilities
}

// Option configures a Client.
type Option func(*Client)

// WithMaxAttempts overrides the transport retry budget.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay overrides the backoff base delay.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.baseDelay = d
		}
	}
}

// NewClient creates a registry client bound to a deployed contract.
func NewClient(backend Backend, sessions *wallet.Manager, store content.Store, contract address.Address, opts ...Option) *Client {
	logrus.WithFields(logrus.Fields{
		"function": "NewClient",
		"contract": contract.Hex(),
	}).Info("Creating registry client")

	c := &Client{
		backend:     backend,
		sessions:    sessions,
		store:       store,
		contract:    contract,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send drives one message through the pipeline: content upload and fee
// lookup (Building), broadcast (Submitted), then inclusion (Confirmed or
// Failed). Once broadcast succeeds the send cannot be cancelled; it is
// waited out or reported failed.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	phase := func(p SendPhase) {
		if req.OnPhase != nil {
			req.OnPhase(p)
		}
	}
	phase(PhaseBuilding)

	result, err := c.send(ctx, req, phase)
	if err != nil {
		phase(PhaseFailed)
		logrus.WithFields(logrus.Fields{
			"function": "Client.Send",
			"error":    err.Error(),
		}).Error("Message send failed")
		return nil, err
	}

	phase(PhaseConfirmed)
	logrus.WithFields(logrus.Fields{
		"function":   "Client.Send",
		"tx_ref":     result.TxRef,
		"content_id": result.ContentID,
	}).Info("Message confirmed on ledger")
	return result, nil
}

func (c *Client) send(ctx context.Context, req SendRequest, phase func(SendPhase)) (*SendResult, error) {
	if c.contract.Sentinel() {
		return nil, ErrContractNotDeployed
	}
	session := c.sessions.Session()
	if session == nil || session.Signer() == nil {
		return nil, wallet.ErrNotConnected
	}
	if !req.Recipient.Sentinel() {
		caps, err := c.Capabilities(ctx)
		if err == nil && !caps.DirectMessages {
			return nil, fmt.Errorf("%w: direct messages", ErrUnsupported)
		}
	}

	payload, err := message.Encode(req.Content)
	if err != nil {
		return nil, err
	}
	contentID, err := c.store.Store(ctx, payload, req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("content upload failed: %w", err)
	}

	fee := c.Fee(ctx)

	sub := Submission{
		Sender:    session.Address,
		Signer:    session.Signer(),
		Recipient: req.Recipient,
		ContentID: contentID,
		Encrypted: req.Encrypted,
		Kind:      req.Content.Kind(),
		Fee:       fee,
	}

	var txRef string
	err = c.withRetry(ctx, "Submit", func() error {
		var submitErr error
		txRef, submitErr = c.backend.Submit(ctx, sub)
		return submitErr
	})
	if err != nil {
		return nil, err
	}
	phase(PhaseSubmitted)

	if err := c.waitInclusion(ctx, txRef); err != nil {
		return nil, err
	}
	return &SendResult{TxRef: txRef, ContentID: contentID, Fee: fee}, nil
}

// waitInclusion polls for inclusion, retrying transport hiccups. The
// transaction itself is never re-broadcast here.
func (c *Client) waitInclusion(ctx context.Context, txRef string) error {
	return c.withRetry(ctx, "WaitInclusion", func() error {
		return c.backend.WaitInclusion(ctx, txRef)
	})
}

// withRetry runs fn under the bounded retry policy: up to maxAttempts
// tries with a delay of baseDelay times the attempt number in between.
// Only transport-shaped failures are retried; user rejections and
// deterministic reverts surface after a single attempt so the wallet is
// never re-prompted.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"function":     "Client.withRetry",
			"operation":    op,
			"attempt":      attempt,
			"max_attempts": c.maxAttempts,
			"error":        err.Error(),
		}).Warn("Transport failure, will retry")

		if attempt == c.maxAttempts {
			break
		}
		delay := c.baseDelay * time.Duration(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return err
}

// MessagesFor resolves all records involving an address, ascending by
// timestamp with the registry's return order preserved on ties. Per-id
// fetch failures are logged and skipped so one bad id cannot blank a
// conversation.
func (c *Client) MessagesFor(ctx context.Context, user address.Address) ([]*Record, error) {
	ids, err := c.backend.UserMessages(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return c.resolve(ctx, ids), nil
}

// ConversationBetween resolves the records of a pairwise thread.
func (c *Client) ConversationBetween(ctx context.Context, a, b address.Address) ([]*Record, error) {
	ids, err := c.backend.Conversation(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	return c.resolve(ctx, ids), nil
}

func (c *Client) resolve(ctx context.Context, ids []string) []*Record {
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		record, err := c.backend.Message(ctx, id)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Client.resolve",
				"message_id": id,
				"error":      err.Error(),
			}).Warn("Skipping unresolvable message id")
			continue
		}
		records = append(records, record)
	}
	sortRecords(records)
	return records
}

// sortRecords orders by ascending timestamp; the sort is stable so the
// registry's return order decides ties.
func sortRecords(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}

// Fee returns the current per-message fee, degrading to the last cached
// value (or DefaultFee) when the contract call fails so fee display never
// blocks the UI.
func (c *Client) Fee(ctx context.Context) *big.Int {
	fee, err := c.backend.MessageFee(ctx)
	if err != nil {
		c.mu.Lock()
		cached := c.cachedFee
		c.mu.Unlock()

		if cached == nil {
			cached = DefaultFee
		}
		logrus.WithFields(logrus.Fields{
			"function": "Client.Fee",
			"fallback": cached.String(),
			"error":    err.Error(),
		}).Warn("Fee lookup failed, using fallback")
		return new(big.Int).Set(cached)
	}

	c.mu.Lock()
	c.cachedFee = new(big.Int).Set(fee)
	c.mu.Unlock()
	return fee
}

// Capabilities returns the contract variant's feature set, cached after
// the first successful query.
func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	c.mu.Lock()
	if c.caps != nil {
		caps := *c.caps
		c.mu.Unlock()
		return caps, nil
	}
	c.mu.Unlock()

	caps, err := c.backend.Capabilities(ctx)
	if err != nil {
		return Capabilities{}, fmt.Errorf("capability query failed: %w", err)
	}

	c.mu.Lock()
	c.caps = &caps
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "Client.Capabilities",
		"direct_messages": caps.DirectMessages,
		"fees":            caps.Fees,
		"contacts":        caps.Contacts,
		"reactions":       caps.Reactions,
	}).Info("Contract capabilities detected")
	return caps, nil
}

// TotalMessages returns the registry's message count. Diagnostics only.
func (c *Client) TotalMessages(ctx context.Context) (uint64, error) {
	return c.backend.TotalMessages(ctx)
}

// ContractBalance returns the contract's accumulated fees. Diagnostics only.
func (c *Client) ContractBalance(ctx context.Context) (*big.Int, error) {
	return c.backend.ContractBalance(ctx)
}

// AddContact stores an address-book entry on the ledger. Fails with
// ErrUnsupported when the contract variant has no contact support.
func (c *Client) AddContact(ctx context.Context, contact Contact) (string, error) {
	if c.contract.Sentinel() {
		return "", ErrContractNotDeployed
	}
	session := c.sessions.Session()
	if session == nil {
		return "", wallet.ErrNotConnected
	}

	caps, err := c.Capabilities(ctx)
	if err != nil {
		return "", err
	}
	if !caps.Contacts {
		return "", fmt.Errorf("%w: contacts", ErrUnsupported)
	}

	var txRef string
	err = c.withRetry(ctx, "AddContact", func() error {
		var addErr error
		txRef, addErr = c.backend.AddContact(ctx, session.Signer(), contact)
		return addErr
	})
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Client.AddContact",
		"contact":  contact.Address.Hex(),
		"tx_ref":   txRef,
	}).Info("Contact stored on ledger")
	return txRef, nil
}

// React records a reaction toggle on a ledger message. Fails with
// ErrUnsupported when the contract variant has no reaction support;
// callers keeping a local aggregate treat that as "local only".
func (c *Client) React(ctx context.Context, messageID, emoji string) (string, error) {
	if c.contract.Sentinel() {
		return "", ErrContractNotDeployed
	}
	session := c.sessions.Session()
	if session == nil {
		return "", wallet.ErrNotConnected
	}

	caps, err := c.Capabilities(ctx)
	if err != nil {
		return "", err
	}
	if !caps.Reactions {
		return "", fmt.Errorf("%w: reactions", ErrUnsupported)
	}

	var txRef string
	err = c.withRetry(ctx, "React", func() error {
		var reactErr error
		txRef, reactErr = c.backend.React(ctx, session.Signer(), messageID, emoji)
		return reactErr
	})
	return txRef, err
}

// Contacts lists the session account's stored contacts.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	session := c.sessions.Session()
	if session == nil {
		return nil, wallet.ErrNotConnected
	}
	return c.backend.UserContacts(ctx, session.Address)
}
