package message

import (
	"github.com/opd-ai/chainchat/address"
)

// Reaction is the aggregate view of one emoji on one message.
type Reaction struct {
	Emoji string
	Count int
	Users []string
}

// ToggleReaction flips the given identity's membership in the message's
// reacting set for emoji. Toggling twice restores the prior state exactly.
// It returns true when the identity is a member after the call.
//
// Reactions are client-local; they are never written to the ledger in the
// minimal contract variant and are lost on reload.
func (m *Message) ToggleReaction(emoji string, who address.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reactions == nil {
		m.reactions = make(map[string][]string)
	}

	user := who.Hex()
	users := m.reactions[emoji]
	for i, u := range users {
		if u == user {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.reactions, emoji)
				m.dropReactionOrder(emoji)
			} else {
				m.reactions[emoji] = users
			}
			return false
		}
	}

	if len(users) == 0 {
		m.reactionOrder = append(m.reactionOrder, emoji)
	}
	m.reactions[emoji] = append(users, user)
	return true
}

func (m *Message) dropReactionOrder(emoji string) {
	for i, e := range m.reactionOrder {
		if e == emoji {
			m.reactionOrder = append(m.reactionOrder[:i], m.reactionOrder[i+1:]...)
			return
		}
	}
}

// Reactions returns the message's reaction aggregates. Emojis appear in
// first-reaction order and user lists preserve reaction order.
func (m *Message) Reactions() []Reaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.reactions) == 0 {
		return nil
	}

	out := make([]Reaction, 0, len(m.reactions))
	for _, emoji := range m.reactionOrder {
		users := m.reactions[emoji]
		copied := make([]string, len(users))
		copy(copied, users)
		out = append(out, Reaction{Emoji: emoji, Count: len(users), Users: copied})
	}
	return out
}
