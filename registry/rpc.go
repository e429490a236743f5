package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/config"
	"github.com/opd-ai/chainchat/message"
	"github.com/opd-ai/chainchat/wallet"
)

// RPCBackend speaks JSON-RPC 2.0 to a registry facade service. Endpoints
// are tried in configuration order; a transport failure on one endpoint
// moves to the next before the whole call is reported as ErrTransportFailure.
type RPCBackend struct {
	endpoints []string
	contract  address.Address
	client    *fasthttp.Client

	callTimeout      time.Duration
	pollInterval     time.Duration
	inclusionTimeout time.Duration
}

var _ Backend = (*RPCBackend)(nil)

// RPCOption configures an RPCBackend.
type RPCOption func(*RPCBackend)

// WithCallTimeout bounds a single HTTP round trip.
func WithCallTimeout(d time.Duration) RPCOption {
	return func(b *RPCBackend) { b.callTimeout = d }
}

// WithInclusionTimeout bounds how long WaitInclusion polls before giving
// up with ErrTransactionTimeout.
func WithInclusionTimeout(d time.Duration) RPCOption {
	return func(b *RPCBackend) { b.inclusionTimeout = d }
}

// WithPollInterval sets the inclusion polling cadence.
func WithPollInterval(d time.Duration) RPCOption {
	return func(b *RPCBackend) { b.pollInterval = d }
}

// NewRPCBackend creates a backend for the given network's endpoint list
// and a deployed contract address.
func NewRPCBackend(network config.Network, contract address.Address, opts ...RPCOption) *RPCBackend {
	logrus.WithFields(logrus.Fields{
		"function":  "NewRPCBackend",
		"chain_id":  network.ChainID,
		"endpoints": len(network.RPCURLs),
		"contract":  contract.Hex(),
	}).Info("Creating RPC registry backend")

	b := &RPCBackend{
		endpoints:        network.RPCURLs,
		contract:         contract,
		client:           &fasthttp.Client{Name: "chainchat"},
		callTimeout:      15 * time.Second,
		pollInterval:     2 * time.Second,
		inclusionTimeout: 90 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// EIP-1193 user rejection code; other deterministic outcomes are
// classified by message substring because node implementations disagree
// on codes for them.
const codeUserRejected = 4001

func classifyRPCError(e *rpcError) error {
	switch {
	case e.Code == codeUserRejected:
		return fmt.Errorf("%w (code %d)", ErrUserRejected, e.Code)
	case strings.Contains(strings.ToLower(e.Message), "insufficient funds"):
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, e.Message)
	case strings.Contains(strings.ToLower(e.Message), "execution reverted"):
		return fmt.Errorf("%w: %s", ErrTransactionReverted, e.Message)
	case strings.Contains(strings.ToLower(e.Message), "not initialized"):
		return fmt.Errorf("%w: %s", ErrContractUninitialized, e.Message)
	default:
		return fmt.Errorf("registry rpc error %d: %s", e.Code, e.Message)
	}
}

// call posts one JSON-RPC request, failing over across endpoints on
// transport-shaped errors. A JSON-RPC error object is a deterministic
// answer from the service and is never retried on another endpoint.
func (b *RPCBackend) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode rpc request: %w", err)
	}

	var lastErr error
	for _, endpoint := range b.endpoints {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, callErr := b.post(ctx, endpoint, body)
		if callErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "RPCBackend.call",
				"method":   method,
				"endpoint": endpoint,
				"error":    callErr.Error(),
			}).Warn("RPC endpoint failed, trying next")
			lastErr = callErr
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			lastErr = fmt.Errorf("%w: malformed rpc response: %v", ErrTransportFailure, err)
			continue
		}
		if resp.Error != nil {
			return classifyRPCError(resp.Error)
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%w: malformed rpc result: %v", ErrTransportFailure, err)
		}
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no rpc endpoints configured", ErrTransportFailure)
	}
	return lastErr
}

func (b *RPCBackend) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(b.callTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := b.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("%w: endpoint returned HTTP %d", ErrTransportFailure, code)
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

type wireSubmission struct {
	Contract   string `json:"contract"`
	From       string `json:"from"`
	Recipient  string `json:"recipient"`
	ContentID  string `json:"contentId"`
	MetadataID string `json:"metadataId"`
	Encrypted  bool   `json:"encrypted"`
	Kind       uint8  `json:"kind"`
	Fee        string `json:"fee"`
	Signature  string `json:"signature"`
}

type wireRecord struct {
	ID         string `json:"id"`
	ContentID  string `json:"contentId"`
	MetadataID string `json:"metadataId"`
	Sender     string `json:"sender"`
	Recipient  string `json:"recipient"`
	Encrypted  bool   `json:"encrypted"`
	Kind       uint8  `json:"kind"`
	Timestamp  int64  `json:"timestamp"`
	BlockRef   uint64 `json:"blockNumber"`
}

func (w wireRecord) toRecord() (*Record, error) {
	sender, err := address.Parse(w.Sender)
	if err != nil {
		return nil, fmt.Errorf("record %s has a bad sender: %w", w.ID, err)
	}
	recipient := address.Zero
	if w.Recipient != "" {
		if recipient, err = address.Parse(w.Recipient); err != nil {
			return nil, fmt.Errorf("record %s has a bad recipient: %w", w.ID, err)
		}
	}
	return &Record{
		ID:         w.ID,
		ContentID:  w.ContentID,
		MetadataID: w.MetadataID,
		Sender:     sender,
		Recipient:  recipient,
		Encrypted:  w.Encrypted,
		Kind:       message.Kind(w.Kind),
		Timestamp:  time.Unix(w.Timestamp, 0).UTC(),
		BlockRef:   w.BlockRef,
	}, nil
}

// Submit implements Backend. The submission is signed by the session's
// handle before broadcast; the facade verifies the signature against the
// sender address.
func (b *RPCBackend) Submit(ctx context.Context, sub Submission) (string, error) {
	payload := fmt.Sprintf("%s|%s|%s|%s|%t|%d|%s",
		b.contract.Hex(), sub.Sender.Hex(), sub.Recipient.Hex(),
		sub.ContentID, sub.Encrypted, sub.Kind, sub.Fee.String())

	signature, err := sub.Signer.SignMessage(ctx, []byte(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUserRejected, err)
	}

	var txRef string
	err = b.call(ctx, "registry_sendMessage", wireSubmission{
		Contract:   b.contract.Hex(),
		From:       sub.Sender.Hex(),
		Recipient:  sub.Recipient.Hex(),
		ContentID:  sub.ContentID,
		MetadataID: sub.MetadataID,
		Encrypted:  sub.Encrypted,
		Kind:       uint8(sub.Kind),
		Fee:        sub.Fee.String(),
		Signature:  fmt.Sprintf("%x", signature),
	}, &txRef)
	if err != nil {
		return "", err
	}
	return txRef, nil
}

// WaitInclusion implements Backend by polling the transaction status.
func (b *RPCBackend) WaitInclusion(ctx context.Context, txRef string) error {
	deadline := time.Now().Add(b.inclusionTimeout)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		var status string
		err := b.call(ctx, "registry_transactionStatus", []any{txRef}, &status)
		if err != nil && !IsRetryable(err) {
			return err
		}

		switch status {
		case "confirmed":
			return nil
		case "reverted":
			return fmt.Errorf("%w: %s", ErrTransactionReverted, txRef)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrTransactionTimeout, txRef)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// UserMessages implements Backend.
func (b *RPCBackend) UserMessages(ctx context.Context, user address.Address) ([]string, error) {
	var ids []string
	err := b.call(ctx, "registry_getUserMessages", []any{b.contract.Hex(), user.Hex()}, &ids)
	return ids, err
}

// Conversation implements Backend.
func (b *RPCBackend) Conversation(ctx context.Context, x, y address.Address) ([]string, error) {
	var ids []string
	err := b.call(ctx, "registry_getConversation", []any{b.contract.Hex(), x.Hex(), y.Hex()}, &ids)
	return ids, err
}

// Message implements Backend.
func (b *RPCBackend) Message(ctx context.Context, id string) (*Record, error) {
	var w wireRecord
	if err := b.call(ctx, "registry_getMessage", []any{b.contract.Hex(), id}, &w); err != nil {
		return nil, err
	}
	return w.toRecord()
}

// MessageFee implements Backend.
func (b *RPCBackend) MessageFee(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := b.call(ctx, "registry_messageFee", []any{b.contract.Hex()}, &raw); err != nil {
		return nil, err
	}
	fee, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: unparsable fee %q", ErrTransportFailure, raw)
	}
	return fee, nil
}

// TotalMessages implements Backend.
func (b *RPCBackend) TotalMessages(ctx context.Context) (uint64, error) {
	var total uint64
	err := b.call(ctx, "registry_getTotalMessages", []any{b.contract.Hex()}, &total)
	return total, err
}

// ContractBalance implements Backend.
func (b *RPCBackend) ContractBalance(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := b.call(ctx, "registry_getContractBalance", []any{b.contract.Hex()}, &raw); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: unparsable balance %q", ErrTransportFailure, raw)
	}
	return balance, nil
}

// Capabilities implements Backend.
func (b *RPCBackend) Capabilities(ctx context.Context) (Capabilities, error) {
	var caps Capabilities
	err := b.call(ctx, "registry_capabilities", []any{b.contract.Hex()}, &caps)
	return caps, err
}

type wireContact struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Alias   string `json:"alias"`
	AddedAt int64  `json:"addedAt"`
	Active  bool   `json:"active"`
}

// AddContact implements Backend.
func (b *RPCBackend) AddContact(ctx context.Context, signer wallet.Signer, contact Contact) (string, error) {
	payload := fmt.Sprintf("contact|%s|%s|%s", contact.Address.Hex(), contact.Name, contact.Alias)
	signature, err := signer.SignMessage(ctx, []byte(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUserRejected, err)
	}

	var txRef string
	err = b.call(ctx, "registry_addContact", []any{
		b.contract.Hex(), signer.Address().Hex(),
		contact.Address.Hex(), contact.Name, contact.Alias,
		fmt.Sprintf("%x", signature),
	}, &txRef)
	return txRef, err
}

// React implements Backend.
func (b *RPCBackend) React(ctx context.Context, signer wallet.Signer, messageID, emoji string) (string, error) {
	payload := fmt.Sprintf("react|%s|%s", messageID, emoji)
	signature, err := signer.SignMessage(ctx, []byte(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUserRejected, err)
	}

	var txRef string
	err = b.call(ctx, "registry_addReaction", []any{
		b.contract.Hex(), signer.Address().Hex(),
		messageID, emoji,
		fmt.Sprintf("%x", signature),
	}, &txRef)
	return txRef, err
}

// UserContacts implements Backend.
func (b *RPCBackend) UserContacts(ctx context.Context, user address.Address) ([]Contact, error) {
	var wires []wireContact
	if err := b.call(ctx, "registry_getUserContacts", []any{b.contract.Hex(), user.Hex()}, &wires); err != nil {
		return nil, err
	}

	contacts := make([]Contact, 0, len(wires))
	for _, w := range wires {
		addr, err := address.Parse(w.Address)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "RPCBackend.UserContacts",
				"address":  w.Address,
				"error":    err.Error(),
			}).Warn("Skipping contact with a bad address")
			continue
		}
		contacts = append(contacts, Contact{
			Address: addr,
			Name:    w.Name,
			Alias:   w.Alias,
			AddedAt: time.Unix(w.AddedAt, 0).UTC(),
			Active:  w.Active,
		})
	}
	return contacts, nil
}
