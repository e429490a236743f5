package message

import (
	"strings"
	"sync"
)

// Index holds a loaded message collection as an id-keyed map plus a
// separately maintained ordered id list. Status transitions touch one
// entry; they never rewrite or re-derive the collection.
type Index struct {
	mu    sync.RWMutex
	byID  map[string]*Message
	order []string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byID: make(map[string]*Message)}
}

// Replace swaps the indexed collection for msgs, preserving their order.
func (ix *Index) Replace(msgs []*Message) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.byID = make(map[string]*Message, len(msgs))
	ix.order = make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := ix.byID[m.ID]; dup {
			continue
		}
		ix.byID[m.ID] = m
		ix.order = append(ix.order, m.ID)
	}
}

// Append adds a message to the end of the collection. A duplicate id is
// ignored; ledger ids are unique and client ids are freshly generated.
func (ix *Index) Append(m *Message) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, dup := ix.byID[m.ID]; dup {
		return
	}
	ix.byID[m.ID] = m
	ix.order = append(ix.order, m.ID)
}

// Get returns the message with the given id.
func (ix *Index) Get(id string) (*Message, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	m, ok := ix.byID[id]
	return m, ok
}

// Len returns the number of indexed messages.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.order)
}

// Messages returns the collection in its maintained order.
func (ix *Index) Messages() []*Message {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]*Message, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.byID[id])
	}
	return out
}

// Search returns the ordered subsequence of messages whose display body
// contains term, case-insensitively. It is side-effect free and never
// touches the ledger.
func (ix *Index) Search(term string) []*Message {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []*Message
	for _, id := range ix.order {
		m := ix.byID[id]
		if strings.Contains(strings.ToLower(DisplayBody(m.Content)), needle) {
			out = append(out, m)
		}
	}
	return out
}
