package registry

import (
	"context"
	"math/big"
	"time"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/message"
	"github.com/opd-ai/chainchat/wallet"
)

// Record is the ledger's immutable view of one message, as returned by the
// contract's getMessage operation.
type Record struct {
	ID         string
	ContentID  string
	MetadataID string
	Sender     address.Address
	Recipient  address.Address
	Encrypted  bool
	Kind       message.Kind
	Timestamp  time.Time
	BlockRef   uint64
}

// Contact is a ledger-stored address-book entry.
type Contact struct {
	Address address.Address
	Name    string
	Alias   string
	AddedAt time.Time
	Active  bool
}

// Capabilities describes what the deployed contract variant supports. The
// same service name fronts both a rich contract (fees, contacts,
// per-recipient addressing) and a minimal room-only one; callers query the
// set once instead of probing for thrown errors.
type Capabilities struct {
	DirectMessages bool
	Fees           bool
	Contacts       bool
	Reactions      bool
}

// Submission carries everything a backend needs to broadcast a send call.
// The recipient is already canonical; the zero address targets the room.
type Submission struct {
	Sender     address.Address
	Signer     wallet.Signer
	Recipient  address.Address
	ContentID  string
	MetadataID string
	Encrypted  bool
	Kind       message.Kind
	Fee        *big.Int
}

// Backend is the contract surface the client consumes. Implementations
// wrap infrastructure failures in ErrTransportFailure and map deterministic
// ledger outcomes onto the package's sentinel kinds.
type Backend interface {
	// Submit broadcasts a send transaction and returns its reference.
	// Returning without error means the transaction left the client.
	Submit(ctx context.Context, sub Submission) (string, error)
	// WaitInclusion blocks until the referenced transaction is included,
	// failing with ErrTransactionReverted or ErrTransactionTimeout.
	WaitInclusion(ctx context.Context, txRef string) error

	// UserMessages returns the message ids involving an address.
	UserMessages(ctx context.Context, user address.Address) ([]string, error)
	// Conversation returns the message ids of a pairwise thread.
	Conversation(ctx context.Context, a, b address.Address) ([]string, error)
	// Message resolves one id to its record.
	Message(ctx context.Context, id string) (*Record, error)

	// MessageFee returns the current per-message fee.
	MessageFee(ctx context.Context) (*big.Int, error)
	// TotalMessages returns the registry's message count. Diagnostics only.
	TotalMessages(ctx context.Context) (uint64, error)
	// ContractBalance returns the contract's accumulated fees. Diagnostics only.
	ContractBalance(ctx context.Context) (*big.Int, error)

	// Capabilities reports the deployed contract variant's feature set.
	Capabilities(ctx context.Context) (Capabilities, error)

	// AddContact stores an address-book entry; requires Contacts capability.
	AddContact(ctx context.Context, signer wallet.Signer, contact Contact) (string, error)
	// UserContacts lists an address's stored contacts.
	UserContacts(ctx context.Context, user address.Address) ([]Contact, error)

	// React records a reaction toggle on a ledger message; requires the
	// Reactions capability.
	React(ctx context.Context, signer wallet.Signer, messageID, emoji string) (string, error)
}

// Watcher is an optional Backend extension that streams records as they
// are included. It is a freshness hint only; correctness always comes
// from the read path, and backends without event support simply do not
// implement it.
type Watcher interface {
	// WatchMessages delivers newly included records until ctx is done.
	// The channel is closed when the subscription ends.
	WatchMessages(ctx context.Context) (<-chan *Record, error)
}
