package chainchat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chainchat/address"
	"github.com/opd-ai/chainchat/media"
	"github.com/opd-ai/chainchat/message"
	"github.com/opd-ai/chainchat/registry"
	"github.com/opd-ai/chainchat/wallet"
)

// ErrEmptyMessage indicates a send with no content.
var ErrEmptyMessage = errors.New("message has no content")

// SendText sends a text message. The sentinel recipient targets the
// public room. replyTo optionally references the message being answered;
// pass the empty string for a top-level message.
func (c *Client) SendText(ctx context.Context, recipient address.Address, body, replyTo string) (*message.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	return c.send(ctx, recipient, message.Text{Body: body}, replyTo)
}

// SendVoice validates and sends a voice clip.
func (c *Client) SendVoice(ctx context.Context, recipient address.Address, payload []byte, durationSeconds int) (*message.Message, error) {
	if err := media.ValidateClip(payload, durationSeconds); err != nil {
		return nil, err
	}
	if !media.ProbeOpus(payload) {
		logrus.WithFields(logrus.Fields{
			"function": "Client.SendVoice",
			"size":     len(payload),
		}).Warn("Payload did not probe as Opus, sending anyway")
	}
	return c.send(ctx, recipient, message.Voice{Payload: payload, Duration: durationSeconds}, "")
}

// SendMedia sends a reference to an already-stored media object.
func (c *Client) SendMedia(ctx context.Context, recipient address.Address, hash, mediaType, fileName string) (*message.Message, error) {
	if hash == "" {
		return nil, ErrEmptyMessage
	}
	return c.send(ctx, recipient, message.Media{Hash: hash, MediaType: mediaType, FileName: fileName}, "")
}

// send drives one optimistic send. The pending message joins its view
// before anything touches the network, so observers always see the
// optimistic entry first; the registry pipeline then confirms or fails
// it in place. The returned message is terminal when err is nil or the
// failure happened after the optimistic insert.
func (c *Client) send(ctx context.Context, recipient address.Address, body message.Content, replyTo string) (*message.Message, error) {
	session := c.sessions.Session()
	if session == nil {
		return nil, wallet.ErrNotConnected
	}

	m := message.NewPending(session.Address, recipient, body)
	m.ReplyTo = replyTo
	m.OnStatusChange(c.notify)

	ix := c.indexFor(session.Address, session.Address, recipient)
	ix.Append(m)
	c.notify(m, m.Status())

	result, err := c.registry.Send(ctx, registry.SendRequest{
		Recipient: recipient,
		Content:   body,
	})
	if err != nil {
		m.Fail(fmt.Sprintf("%s. %s", err.Error(), registry.Hint(err)))
		return m, err
	}

	m.ContentID = result.ContentID
	m.Confirm(result.TxRef)
	return m, nil
}

// React toggles the session account's reaction on a local message and
// reports the resulting membership. The local aggregate is the source of
// truth for the view; when the contract variant supports reactions the
// toggle is also recorded on the ledger, best-effort. A failed ledger
// write never undoes the local toggle.
func (c *Client) React(ctx context.Context, messageID, emoji string) (bool, error) {
	session := c.sessions.Session()
	if session == nil {
		return false, wallet.ErrNotConnected
	}

	m, ok := c.find(messageID)
	if !ok {
		return false, fmt.Errorf("unknown message %s", messageID)
	}
	on := m.ToggleReaction(emoji, session.Address)

	// Optimistic client ids never reached the ledger; only confirmed
	// ledger records can carry a durable reaction.
	if m.System || m.TxRef() != "" || m.Status() != message.StatusConfirmed {
		return on, nil
	}
	if _, err := c.registry.React(ctx, messageID, emoji); err != nil {
		if errors.Is(err, registry.ErrUnsupported) {
			logrus.WithFields(logrus.Fields{
				"function": "Client.React",
			}).Debug("Contract variant has no reaction support, kept local")
		} else {
			logrus.WithFields(logrus.Fields{
				"function":   "Client.React",
				"message_id": messageID,
				"error":      err.Error(),
			}).Warn("Ledger reaction write failed, kept local")
		}
	}
	return on, nil
}

func (c *Client) find(id string) (*message.Message, bool) {
	if m, ok := c.room.Get(id); ok {
		return m, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ix := range c.threads {
		if m, ok := ix.Get(id); ok {
			return m, true
		}
	}
	return nil, false
}

// LoadContacts lists the session account's ledger-stored contacts.
func (c *Client) LoadContacts(ctx context.Context) ([]registry.Contact, error) {
	return c.registry.Contacts(ctx)
}

// AddContact stores an address-book entry on the ledger.
func (c *Client) AddContact(ctx context.Context, peer address.Address, name, alias string) (string, error) {
	return c.registry.AddContact(ctx, registry.Contact{
		Address: peer,
		Name:    name,
		Alias:   alias,
	})
}
