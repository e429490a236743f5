package registry

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/wallet"
)

// MemBackend simulates the registry contract in process. It implements the
// full rich-variant surface and is used for development without a deployed
// contract and for tests that need scripted failures.
type MemBackend struct {
	mu sync.Mutex

	records  map[string]*Record
	byUser   map[address.Address][]string
	order    []string
	contacts map[address.Address][]Contact
	pending  map[string]error // txRef -> inclusion outcome

	fee     *big.Int
	balance *big.Int
	caps    Capabilities

	uninitialized bool
	submitFail    []error // consumed one per Submit call
	inclusionFail error   // consumed by the next WaitInclusion
	feeErr        error
	submitCalls   int
	reactCalls    int
	clock         func() time.Time

	watchers map[int]chan *Record
	watchSeq int
}

var (
	_ Backend = (*MemBackend)(nil)
	_ Watcher = (*MemBackend)(nil)
)

// NewMemBackend creates an empty simulated registry with the rich
// capability set and a nominal fee.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		records:  make(map[string]*Record),
		byUser:   make(map[address.Address][]string),
		contacts: make(map[address.Address][]Contact),
		pending:  make(map[string]error),
		watchers: make(map[int]chan *Record),
		fee:      new(big.Int).Set(DefaultFee),
		balance:  big.NewInt(0),
		caps: Capabilities{
			DirectMessages: true,
			Fees:           true,
			Contacts:       true,
		},
		clock: time.Now,
	}
}

// SetCapabilities overrides the reported contract variant.
func (b *MemBackend) SetCapabilities(caps Capabilities) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caps = caps
}

// SetUninitialized makes every mutating call fail with
// ErrContractUninitialized.
func (b *MemBackend) SetUninitialized(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uninitialized = v
}

// SetFee changes the per-message fee.
func (b *MemBackend) SetFee(fee *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fee = new(big.Int).Set(fee)
}

// FailFee makes fee lookups fail with err until cleared with nil.
func (b *MemBackend) FailFee(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feeErr = err
}

// FailNextSubmits queues errors returned by the next Submit calls, one
// each, before normal behavior resumes.
func (b *MemBackend) FailNextSubmits(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitFail = append(b.submitFail, errs...)
}

// FailNextInclusion scripts the outcome of the next WaitInclusion call,
// whatever transaction it waits on.
func (b *MemBackend) FailNextInclusion(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inclusionFail = err
}

// SubmitCalls returns how many Submit calls the backend has seen.
func (b *MemBackend) SubmitCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitCalls
}

// DropRecord forgets a record's fields while keeping its id listed,
// simulating a per-id fetch failure on the read path.
func (b *MemBackend) DropRecord(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, id)
}

// SetClock injects a time source for deterministic record timestamps.
func (b *MemBackend) SetClock(clock func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}

// Seed inserts a record directly, bypassing the send pipeline. Intended
// for read-path tests and local development fixtures.
func (b *MemBackend) Seed(record *Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertLocked(record)
}

func (b *MemBackend) insertLocked(record *Record) {
	b.records[record.ID] = record
	b.order = append(b.order, record.ID)
	b.byUser[record.Sender] = append(b.byUser[record.Sender], record.ID)
	if !record.Recipient.Sentinel() && record.Recipient != record.Sender {
		b.byUser[record.Recipient] = append(b.byUser[record.Recipient], record.ID)
	}

	for _, ch := range b.watchers {
		copied := *record
		select {
		case ch <- &copied:
		default: // slow watcher, drop the hint
		}
	}
}

// WatcherCount returns how many event subscriptions are live.
func (b *MemBackend) WatcherCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

// WatchMessages implements the optional Watcher extension. Events may be
// dropped under load; subscribers reload through the read path.
func (b *MemBackend) WatchMessages(ctx context.Context) (<-chan *Record, error) {
	b.mu.Lock()
	id := b.watchSeq
	b.watchSeq++
	ch := make(chan *Record, 16)
	b.watchers[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Submit implements Backend.
func (b *MemBackend) Submit(ctx context.Context, sub Submission) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.submitCalls++
	if len(b.submitFail) > 0 {
		err := b.submitFail[0]
		b.submitFail = b.submitFail[1:]
		if err != nil {
			return "", err
		}
	}
	if b.uninitialized {
		return "", ErrContractUninitialized
	}
	if sub.Signer == nil {
		return "", fmt.Errorf("%w: no signing handle", ErrUserRejected)
	}

	now := b.clock()
	id := refFor(sub.ContentID, len(b.order), now)
	b.insertLocked(&Record{
		ID:        id,
		ContentID: sub.ContentID,
		Sender:    sub.Sender,
		Recipient: sub.Recipient,
		Encrypted: sub.Encrypted,
		Kind:      sub.Kind,
		Timestamp: now,
		BlockRef:  uint64(len(b.order)),
	})
	b.pending[id] = nil
	if sub.Fee != nil {
		b.balance.Add(b.balance, sub.Fee)
	}
	return id, nil
}

// FailInclusion scripts the inclusion outcome for the next submitted
// transaction reference.
func (b *MemBackend) FailInclusion(txRef string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[txRef] = err
}

// WaitInclusion implements Backend.
func (b *MemBackend) WaitInclusion(ctx context.Context, txRef string) error {
	b.mu.Lock()
	if b.inclusionFail != nil {
		err := b.inclusionFail
		b.inclusionFail = nil
		b.mu.Unlock()
		return err
	}
	outcome, known := b.pending[txRef]
	b.mu.Unlock()

	if !known {
		return fmt.Errorf("%w: unknown transaction %s", ErrTransportFailure, txRef)
	}
	return outcome
}

// UserMessages implements Backend. The sentinel address lists the room.
func (b *MemBackend) UserMessages(ctx context.Context, user address.Address) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if user.Sentinel() {
		var ids []string
		for _, id := range b.order {
			if b.records[id].Recipient.Sentinel() {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}

	ids := make([]string, len(b.byUser[user]))
	copy(ids, b.byUser[user])
	return ids, nil
}

// Conversation implements Backend.
func (b *MemBackend) Conversation(ctx context.Context, x, y address.Address) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []string
	for _, id := range b.order {
		r := b.records[id]
		if (r.Sender == x && r.Recipient == y) || (r.Sender == y && r.Recipient == x) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Message implements Backend.
func (b *MemBackend) Message(ctx context.Context, id string) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown message %s", ErrTransportFailure, id)
	}
	copied := *record
	return &copied, nil
}

// MessageFee implements Backend.
func (b *MemBackend) MessageFee(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.feeErr != nil {
		return nil, b.feeErr
	}
	return new(big.Int).Set(b.fee), nil
}

// TotalMessages implements Backend.
func (b *MemBackend) TotalMessages(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.order)), nil
}

// ContractBalance implements Backend.
func (b *MemBackend) ContractBalance(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance), nil
}

// Capabilities implements Backend.
func (b *MemBackend) Capabilities(ctx context.Context) (Capabilities, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.caps, nil
}

// AddContact implements Backend.
func (b *MemBackend) AddContact(ctx context.Context, signer wallet.Signer, contact Contact) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.uninitialized {
		return "", ErrContractUninitialized
	}
	if signer == nil {
		return "", fmt.Errorf("%w: no signing handle", ErrUserRejected)
	}

	owner := signer.Address()
	contact.AddedAt = b.clock()
	contact.Active = true
	b.contacts[owner] = append(b.contacts[owner], contact)
	return refFor(contact.Address.Hex(), len(b.contacts[owner]), contact.AddedAt), nil
}

// React implements Backend.
func (b *MemBackend) React(ctx context.Context, signer wallet.Signer, messageID, emoji string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.uninitialized {
		return "", ErrContractUninitialized
	}
	if signer == nil {
		return "", fmt.Errorf("%w: no signing handle", ErrUserRejected)
	}
	if _, ok := b.records[messageID]; !ok {
		return "", fmt.Errorf("%w: unknown message %s", ErrTransactionReverted, messageID)
	}

	b.reactCalls++
	return refFor(messageID+emoji, b.reactCalls, b.clock()), nil
}

// ReactCalls returns how many React calls the backend has seen.
func (b *MemBackend) ReactCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reactCalls
}

// UserContacts implements Backend.
func (b *MemBackend) UserContacts(ctx context.Context, user address.Address) ([]Contact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Contact, len(b.contacts[user]))
	copy(out, b.contacts[user])
	return out, nil
}

// refFor derives a deterministic transaction-style reference.
func refFor(seed string, n int, at time.Time) string {
	digest := sha3.NewLegacyKeccak256()
	fmt.Fprintf(digest, "%s|%d|%d", seed, n, at.UnixNano())
	return "0x" + hex.EncodeToString(digest.Sum(nil))
}
