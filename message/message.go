package message

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/chainchat/address"
)

// Status represents the client-local delivery status of a message. It is a
// projection of the send pipeline, not ledger state.
type Status uint8

const (
	// StatusPending means the message is optimistic and not yet included.
	StatusPending Status = iota
	// StatusConfirmed means the send transaction was included on the ledger.
	StatusConfirmed
	// StatusFailed means the send pipeline reported a terminal failure.
	StatusFailed
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// StatusCallback is invoked after a message's status changes.
type StatusCallback func(m *Message, status Status)

// Message is a single chat message.
//
// Ledger-derived fields are immutable once set. Status, TxRef and
// FailReason are mutated by the send pipeline under the message's lock;
// readers never observe a partial update.
type Message struct {
	ID        string
	Sender    address.Address
	Recipient address.Address
	Content   Content
	ContentID string
	Encrypted bool
	Timestamp time.Time
	BlockRef  uint64
	ReplyTo   string

	// System marks synthetic messages (welcome text, load diagnostics)
	// that never existed on the ledger.
	System bool

	status     Status
	txRef      string
	failReason string
	reactions     map[string][]string // emoji -> reacting addresses, insertion order
	reactionOrder []string            // emojis by first reaction
	callback   StatusCallback

	mu sync.Mutex
}

// NewPending creates an optimistic message in StatusPending with a fresh
// client-generated id. A retried send must call NewPending again so two
// unrelated outcomes are never conflated under one id.
func NewPending(sender, recipient address.Address, content Content) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Timestamp: time.Now(),
		status:    StatusPending,
	}
}

// NewConfirmed materializes a message from ledger-derived fields. It is
// born in StatusConfirmed; inclusion already happened. Callers fill the
// remaining exported fields (ContentID, Encrypted, BlockRef) directly.
func NewConfirmed(id string, sender, recipient address.Address, content Content, at time.Time) *Message {
	return &Message{
		ID:        id,
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Timestamp: at,
		status:    StatusConfirmed,
	}
}

// NewSystem creates a synthetic confirmed message attributed to the
// non-human system sender (the zero address with System set).
func NewSystem(id, body string) *Message {
	return &Message{
		ID:        id,
		Content:   Text{Body: body},
		Timestamp: time.Now(),
		System:    true,
		status:    StatusConfirmed,
	}
}

// OnStatusChange sets the callback invoked after status transitions.
func (m *Message) OnStatusChange(cb StatusCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// Status returns the current delivery status.
func (m *Message) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// TxRef returns the transaction reference attached on confirmation.
func (m *Message) TxRef() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txRef
}

// FailReason returns the human-readable reason attached on failure.
func (m *Message) FailReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failReason
}

// Confirm transitions the message to StatusConfirmed and attaches the
// transaction reference. Transitions out of a terminal status are ignored:
// delivery status only ever moves pending -> confirmed or pending -> failed.
func (m *Message) Confirm(txRef string) bool {
	return m.transition(StatusConfirmed, txRef, "")
}

// Fail transitions the message to StatusFailed with a reason.
func (m *Message) Fail(reason string) bool {
	return m.transition(StatusFailed, "", reason)
}

func (m *Message) transition(to Status, txRef, reason string) bool {
	m.mu.Lock()
	if m.status.Terminal() {
		m.mu.Unlock()
		return false
	}
	m.status = to
	if txRef != "" {
		m.txRef = txRef
	}
	if reason != "" {
		m.failReason = reason
	}
	cb := m.callback
	m.mu.Unlock()

	if cb != nil {
		cb(m, to)
	}
	return true
}

// Broadcast reports whether the message targets the public room.
func (m *Message) Broadcast() bool {
	return m.Recipient.Sentinel()
}

// SortStable orders messages by ascending creation timestamp, preserving
// the input order for equal timestamps. The registry's return order is the
// tie-break of record, so the sort must be stable and the slice must never
// be re-sorted by id or content.
func SortStable(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
