package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/config"
	"github.com/opd-ai/chainchat/content"
	"github.com/opd-ai/chainchat/message"
	"github.com/opd-ai/chainchat/wallet"
)

func newTestClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	return NewClient(
		backend,
		connectedManager(t, testSender),
		content.NewMemoryStore(),
		testContract,
		WithRetryBaseDelay(time.Millisecond),
	)
}

func textRequest(body string, recipient address.Address) SendRequest {
	return SendRequest{Recipient: recipient, Content: message.Text{Body: body}}
}

func transportErr(n int) error {
	return fmt.Errorf("%w: rpc hiccup %d", ErrTransportFailure, n)
}

func TestSendSuccess(t *testing.T) {
	backend := NewMemBackend()
	client := newTestClient(t, backend)

	var phases []SendPhase
	req := textRequest("hello room", address.Zero)
	req.OnPhase = func(p SendPhase) { phases = append(phases, p) }

	result, err := client.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.TxRef == "" {
		t.Error("confirmed send must carry a transaction reference")
	}
	if result.ContentID == "" {
		t.Error("confirmed send must carry the content identifier")
	}

	want := []SendPhase{PhaseBuilding, PhaseSubmitted, PhaseConfirmed}
	if len(phases) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("expected phases %v, got %v", want, phases)
		}
	}

	total, err := client.TotalMessages(context.Background())
	if err != nil {
		t.Fatalf("TotalMessages failed: %v", err)
	}
	if total != 1 {
		t.Errorf("expected one registry message, got %d", total)
	}
}

func TestSendRetryBoundedness(t *testing.T) {
	t.Run("transport failure on every attempt", func(t *testing.T) {
		backend := NewMemBackend()
		backend.FailNextSubmits(transportErr(1), transportErr(2), transportErr(3), transportErr(4))
		client := newTestClient(t, backend)

		_, err := client.Send(context.Background(), textRequest("x", address.Zero))
		if !errors.Is(err, ErrTransportFailure) {
			t.Fatalf("expected ErrTransportFailure, got %v", err)
		}
		if calls := backend.SubmitCalls(); calls != DefaultMaxAttempts {
			t.Errorf("expected exactly %d attempts, got %d", DefaultMaxAttempts, calls)
		}
	})

	t.Run("transient failure recovers within budget", func(t *testing.T) {
		backend := NewMemBackend()
		backend.FailNextSubmits(transportErr(1))
		client := newTestClient(t, backend)

		if _, err := client.Send(context.Background(), textRequest("x", address.Zero)); err != nil {
			t.Fatalf("Send failed after transient error: %v", err)
		}
		if calls := backend.SubmitCalls(); calls != 2 {
			t.Errorf("expected 2 attempts, got %d", calls)
		}
	})

	t.Run("user rejection is never retried", func(t *testing.T) {
		backend := NewMemBackend()
		backend.FailNextSubmits(fmt.Errorf("%w (code 4001)", ErrUserRejected))
		client := newTestClient(t, backend)

		_, err := client.Send(context.Background(), textRequest("x", address.Zero))
		if !errors.Is(err, ErrUserRejected) {
			t.Fatalf("expected ErrUserRejected, got %v", err)
		}
		if calls := backend.SubmitCalls(); calls != 1 {
			t.Errorf("expected exactly 1 attempt, got %d", calls)
		}
	})

	t.Run("insufficient funds is never retried", func(t *testing.T) {
		backend := NewMemBackend()
		backend.FailNextSubmits(fmt.Errorf("%w: balance too low", ErrInsufficientFunds))
		client := newTestClient(t, backend)

		_, err := client.Send(context.Background(), textRequest("x", address.Zero))
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("expected ErrInsufficientFunds, got %v", err)
		}
		if calls := backend.SubmitCalls(); calls != 1 {
			t.Errorf("expected exactly 1 attempt, got %d", calls)
		}
	})
}

func TestSendStateMachine(t *testing.T) {
	t.Run("ledger failure passes through Submitted", func(t *testing.T) {
		backend := NewMemBackend()
		backend.FailNextInclusion(fmt.Errorf("%w: out of gas", ErrTransactionReverted))
		client := newTestClient(t, backend)

		var phases []SendPhase
		req := textRequest("x", address.Zero)
		req.OnPhase = func(p SendPhase) { phases = append(phases, p) }

		_, err := client.Send(context.Background(), req)
		if !errors.Is(err, ErrTransactionReverted) {
			t.Fatalf("expected ErrTransactionReverted, got %v", err)
		}

		// Broadcast succeeded, so Submitted must appear before Failed.
		want := []SendPhase{PhaseBuilding, PhaseSubmitted, PhaseFailed}
		if len(phases) != len(want) {
			t.Fatalf("expected phases %v, got %v", want, phases)
		}
		for i := range want {
			if phases[i] != want[i] {
				t.Fatalf("expected phases %v, got %v", want, phases)
			}
		}
	})

	t.Run("client-side failure never reaches Submitted", func(t *testing.T) {
		backend := NewMemBackend()
		backend.FailNextSubmits(fmt.Errorf("%w (code 4001)", ErrUserRejected))
		client := newTestClient(t, backend)

		var phases []SendPhase
		req := textRequest("x", address.Zero)
		req.OnPhase = func(p SendPhase) { phases = append(phases, p) }

		if _, err := client.Send(context.Background(), req); err == nil {
			t.Fatal("expected the send to fail")
		}
		for _, p := range phases {
			if p == PhaseSubmitted {
				t.Fatal("a send that never broadcast must not report Submitted")
			}
		}
	})
}

func TestSendFailFast(t *testing.T) {
	t.Run("contract not deployed", func(t *testing.T) {
		backend := NewMemBackend()
		client := NewClient(backend, connectedManager(t, testSender), content.NewMemoryStore(), address.Zero)

		_, err := client.Send(context.Background(), textRequest("x", address.Zero))
		if !errors.Is(err, ErrContractNotDeployed) {
			t.Fatalf("expected ErrContractNotDeployed, got %v", err)
		}
		if backend.SubmitCalls() != 0 {
			t.Error("misconfigured client must not attempt the call")
		}
	})

	t.Run("not connected", func(t *testing.T) {
		manager := wallet.NewManager(&testProvider{account: testSender}, config.Testnet)
		client := NewClient(NewMemBackend(), manager, content.NewMemoryStore(), testContract)

		_, err := client.Send(context.Background(), textRequest("x", address.Zero))
		if !errors.Is(err, wallet.ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("contract uninitialized is not retried", func(t *testing.T) {
		backend := NewMemBackend()
		backend.SetUninitialized(true)
		client := newTestClient(t, backend)

		_, err := client.Send(context.Background(), textRequest("x", address.Zero))
		if !errors.Is(err, ErrContractUninitialized) {
			t.Fatalf("expected ErrContractUninitialized, got %v", err)
		}
		if calls := backend.SubmitCalls(); calls != 1 {
			t.Errorf("expected exactly 1 attempt, got %d", calls)
		}
	})
}

func TestCapabilityGating(t *testing.T) {
	backend := NewMemBackend()
	backend.SetCapabilities(Capabilities{DirectMessages: false, Fees: false})
	client := newTestClient(t, backend)

	t.Run("direct message unsupported", func(t *testing.T) {
		_, err := client.Send(context.Background(), textRequest("x", testPeer))
		if !errors.Is(err, ErrUnsupported) {
			t.Fatalf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("room message still works", func(t *testing.T) {
		if _, err := client.Send(context.Background(), textRequest("x", address.Zero)); err != nil {
			t.Fatalf("room send must not need DirectMessages: %v", err)
		}
	})

	t.Run("contacts unsupported", func(t *testing.T) {
		_, err := client.AddContact(context.Background(), Contact{Address: testPeer, Name: "peer"})
		if !errors.Is(err, ErrUnsupported) {
			t.Fatalf("expected ErrUnsupported, got %v", err)
		}
	})
}

func TestFeeFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("default when lookup fails cold", func(t *testing.T) {
		backend := NewMemBackend()
		backend.FailFee(transportErr(1))
		client := newTestClient(t, backend)

		fee := client.Fee(ctx)
		if fee.Cmp(DefaultFee) != 0 {
			t.Errorf("expected default fee %s, got %s", DefaultFee, fee)
		}
	})

	t.Run("cached after success", func(t *testing.T) {
		backend := NewMemBackend()
		backend.SetFee(big.NewInt(42))
		client := newTestClient(t, backend)

		if fee := client.Fee(ctx); fee.Int64() != 42 {
			t.Fatalf("expected fee 42, got %s", fee)
		}

		backend.FailFee(transportErr(1))
		if fee := client.Fee(ctx); fee.Int64() != 42 {
			t.Errorf("expected cached fee 42, got %s", fee)
		}
	})
}

func TestReadPath(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	backend := NewMemBackend()

	// Out-of-order seeding; b and c share a timestamp and must keep their
	// registry return order (b first).
	backend.Seed(&Record{ID: "d", ContentID: "cid-d", Sender: testSender, Timestamp: base.Add(3 * time.Second)})
	backend.Seed(&Record{ID: "b", ContentID: "cid-b", Sender: testPeer, Timestamp: base.Add(time.Second)})
	backend.Seed(&Record{ID: "c", ContentID: "cid-c", Sender: testOther, Timestamp: base.Add(time.Second)})
	backend.Seed(&Record{ID: "a", ContentID: "cid-a", Sender: testSender, Timestamp: base})

	client := newTestClient(t, backend)
	ctx := context.Background()

	t.Run("room messages ascending and stable", func(t *testing.T) {
		records, err := client.MessagesFor(ctx, address.Zero)
		if err != nil {
			t.Fatalf("MessagesFor failed: %v", err)
		}
		var got []string
		for _, r := range records {
			got = append(got, r.ID)
		}
		want := []string{"a", "b", "c", "d"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected order %v, got %v", want, got)
			}
		}
	})

	t.Run("repeated load is identical", func(t *testing.T) {
		first, err := client.MessagesFor(ctx, address.Zero)
		if err != nil {
			t.Fatalf("MessagesFor failed: %v", err)
		}
		second, err := client.MessagesFor(ctx, address.Zero)
		if err != nil {
			t.Fatalf("MessagesFor failed: %v", err)
		}
		if len(first) != len(second) {
			t.Fatalf("loads differ in length: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i].ID != second[i].ID || first[i].ContentID != second[i].ContentID {
				t.Fatalf("loads differ at %d: %+v vs %+v", i, first[i], second[i])
			}
		}
	})

	t.Run("bad id is skipped not fatal", func(t *testing.T) {
		backend.DropRecord("c")

		records, err := client.MessagesFor(ctx, address.Zero)
		if err != nil {
			t.Fatalf("MessagesFor failed: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("expected 3 resolvable records, got %d", len(records))
		}
		for _, r := range records {
			if r.ID == "c" {
				t.Error("dropped record must be skipped")
			}
		}
	})
}

func TestConversationScoping(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	backend := NewMemBackend()
	backend.Seed(&Record{ID: "p1", ContentID: "c1", Sender: testSender, Recipient: testPeer, Timestamp: base})
	backend.Seed(&Record{ID: "room", ContentID: "c2", Sender: testSender, Timestamp: base.Add(time.Second)})
	backend.Seed(&Record{ID: "p2", ContentID: "c3", Sender: testPeer, Recipient: testSender, Timestamp: base.Add(2 * time.Second)})
	backend.Seed(&Record{ID: "other", ContentID: "c4", Sender: testPeer, Recipient: testOther, Timestamp: base.Add(3 * time.Second)})

	client := newTestClient(t, backend)

	records, err := client.ConversationBetween(context.Background(), testSender, testPeer)
	if err != nil {
		t.Fatalf("ConversationBetween failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 pairwise records, got %d", len(records))
	}
	if records[0].ID != "p1" || records[1].ID != "p2" {
		t.Errorf("unexpected conversation order: %s, %s", records[0].ID, records[1].ID)
	}
}

func TestContacts(t *testing.T) {
	backend := NewMemBackend()
	client := newTestClient(t, backend)
	ctx := context.Background()

	txRef, err := client.AddContact(ctx, Contact{Address: testPeer, Name: "peer", Alias: "p"})
	if err != nil {
		t.Fatalf("AddContact failed: %v", err)
	}
	if txRef == "" {
		t.Error("contact write must return a transaction reference")
	}

	contacts, err := client.Contacts(ctx)
	if err != nil {
		t.Fatalf("Contacts failed: %v", err)
	}
	if len(contacts) != 1 || !contacts[0].Address.Equal(testPeer) {
		t.Errorf("unexpected contacts: %+v", contacts)
	}
	if !contacts[0].Active {
		t.Error("stored contact must be active")
	}
}

func TestReactions(t *testing.T) {
	seed := func(backend *MemBackend) string {
		backend.Seed(&Record{
			ID:        "ledger-1",
			ContentID: "QmBody",
			Sender:    testPeer,
			Recipient: address.Zero,
			Kind:      message.KindText,
			Timestamp: time.Now(),
		})
		return "ledger-1"
	}

	t.Run("records on the ledger when supported", func(t *testing.T) {
		backend := NewMemBackend()
		backend.SetCapabilities(Capabilities{
			DirectMessages: true,
			Fees:           true,
			Contacts:       true,
			Reactions:      true,
		})
		id := seed(backend)
		client := newTestClient(t, backend)

		txRef, err := client.React(context.Background(), id, "🔥")
		if err != nil {
			t.Fatalf("React failed: %v", err)
		}
		if txRef == "" {
			t.Error("reaction write must return a transaction reference")
		}
		if backend.ReactCalls() != 1 {
			t.Errorf("backend saw %d reaction calls, want 1", backend.ReactCalls())
		}
	})

	t.Run("gated on the contract variant", func(t *testing.T) {
		backend := NewMemBackend()
		id := seed(backend)
		client := newTestClient(t, backend)

		_, err := client.React(context.Background(), id, "🔥")
		if !errors.Is(err, ErrUnsupported) {
			t.Fatalf("expected ErrUnsupported, got %v", err)
		}
		if backend.ReactCalls() != 0 {
			t.Errorf("unsupported variant still reached the backend %d times", backend.ReactCalls())
		}
	})

	t.Run("requires a session", func(t *testing.T) {
		backend := NewMemBackend()
		id := seed(backend)
		manager := wallet.NewManager(&testProvider{account: testSender}, config.Testnet)
		client := NewClient(backend, manager, content.NewMemoryStore(), testContract)

		if _, err := client.React(context.Background(), id, "🔥"); !errors.Is(err, wallet.ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
	})
}
