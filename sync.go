package chainchat

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/message"
	"github.com/opd-ai/chainchat/registry"
	"github.com/opd-ai/chainchat/wallet"
)

// Synthetic message ids. Stable so repeated loads reuse the same entry
// instead of stacking duplicates.
const (
	welcomeMessageID    = "system-welcome"
	diagnosticMessageID = "system-load-failure"
)

const welcomeBody = "Welcome to the room. Messages are stored off-chain and anchored on the ledger."

// LoadRoom loads the public room view: every broadcast record, resolved
// and ordered ascending by timestamp. An empty room yields exactly one
// synthetic welcome message. A registry failure degrades to a single
// diagnostic message instead of a blank view; the error is logged, not
// returned, because the view must always render.
func (c *Client) LoadRoom(ctx context.Context) ([]*message.Message, error) {
	records, err := c.registry.MessagesFor(ctx, address.Zero)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.LoadRoom",
			"error":    err.Error(),
		}).Error("Room load failed")
		diag := message.NewSystem(diagnosticMessageID,
			fmt.Sprintf("Could not load messages from the registry: %s. %s",
				err.Error(), registry.Hint(err)))
		c.room.Replace([]*message.Message{diag})
		return c.room.Messages(), nil
	}

	msgs := c.materialize(ctx, records)
	if len(msgs) == 0 {
		msgs = []*message.Message{message.NewSystem(welcomeMessageID, welcomeBody)}
	}

	c.room.Replace(msgs)
	logrus.WithFields(logrus.Fields{
		"function": "Client.LoadRoom",
		"count":    len(msgs),
	}).Info("Room view loaded")
	return c.room.Messages(), nil
}

// LoadConversation loads the pairwise thread with peer. Requires a live
// session; the self side of the pair is the session address. Like
// LoadRoom, a registry failure degrades to a single diagnostic message
// instead of an empty, unexplained thread.
func (c *Client) LoadConversation(ctx context.Context, peer address.Address) ([]*message.Message, error) {
	session := c.sessions.Session()
	if session == nil {
		return nil, wallet.ErrNotConnected
	}

	records, err := c.registry.ConversationBetween(ctx, session.Address, peer)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.LoadConversation",
			"peer":     peer.Hex(),
			"error":    err.Error(),
		}).Error("Conversation load failed")
		diag := message.NewSystem(diagnosticMessageID,
			fmt.Sprintf("Could not load messages from the registry: %s. %s",
				err.Error(), registry.Hint(err)))
		ix := c.thread(peer)
		ix.Replace([]*message.Message{diag})
		return ix.Messages(), nil
	}

	msgs := c.materialize(ctx, records)
	if len(msgs) == 0 {
		msgs = []*message.Message{message.NewSystem(
			welcomeMessageID, "No messages yet. Say hello!")}
	}

	ix := c.thread(peer)
	ix.Replace(msgs)
	return ix.Messages(), nil
}

// materialize converts registry records into messages, resolving bodies
// from the content store. Resolution is non-fatal: an unavailable or
// undecodable body degrades to the raw content identifier so the rest of
// the conversation still renders. Records arrive already ordered.
func (c *Client) materialize(ctx context.Context, records []*registry.Record) []*message.Message {
	msgs := make([]*message.Message, 0, len(records))
	for _, rec := range records {
		msgs = append(msgs, c.toMessage(ctx, rec))
	}
	return msgs
}

func (c *Client) toMessage(ctx context.Context, rec *registry.Record) *message.Message {
	var body message.Content

	raw, err := c.store.Retrieve(ctx, rec.ContentID)
	if err == nil {
		body, err = message.Decode(rec.Kind, raw)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Client.toMessage",
			"message_id": rec.ID,
			"content_id": rec.ContentID,
			"error":      err.Error(),
		}).Warn("Content resolution failed, showing raw identifier")
		body = message.Text{Body: rec.ContentID}
	}

	m := message.NewConfirmed(rec.ID, rec.Sender, rec.Recipient, body, rec.Timestamp)
	m.ContentID = rec.ContentID
	m.Encrypted = rec.Encrypted
	m.BlockRef = rec.BlockRef
	return m
}

// Search returns the room messages whose display body contains term,
// case-insensitively. Purely local; the ledger is never touched.
func (c *Client) Search(term string) []*message.Message {
	return c.room.Search(term)
}

// watch consumes the backend's record stream and folds each new record
// into the matching view. Events are hints; a dropped event is corrected
// by the next load.
func (c *Client) watch(ctx context.Context, watcher registry.Watcher) {
	records, err := watcher.WatchMessages(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.watch",
			"error":    err.Error(),
		}).Warn("Event subscription unavailable")
		return
	}

	for rec := range records {
		session := c.sessions.Session()
		if session == nil || rec.Sender == session.Address {
			// Own sends are already represented by their optimistic entry.
			continue
		}

		m := c.toMessage(ctx, rec)
		ix := c.indexFor(session.Address, rec.Sender, rec.Recipient)
		ix.Append(m)
		c.notify(m, m.Status())
	}
}
