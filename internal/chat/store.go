// Package chat holds the client-side core of a live team conversation:
// the merged message list, scroll/banner state, presence, the optimistic
// send pipeline and the notification fanout that follows a durable send.
package chat

import (
	"sync"

	"github.com/koinonia/teamchat/internal/models"
)

// Message is the chat core's view of a message.
type Message = models.Message

// MessageStore is the ordered message list of one conversation. It keeps two
// tiers: the durable list, replaced wholesale by every stream snapshot, and a
// provisional overlay of optimistic sends in insertion order.
//
// The merged view is always durable messages (snapshot order) followed by the
// provisional messages that have not been matched by the stream yet.
// Provisional entries are never sorted into the durable sequence.
//
// A durable message that newly arrives at the tail of a snapshot with the
// sender, text and reply target of a still unacknowledged provisional entry
// is taken to be its echo and hidden until the send is reconciled or rolled
// back, so the message is never shown twice.
type MessageStore struct {
	mu sync.RWMutex

	durable    []Message
	durableIDs map[string]struct{}

	provisional []Message

	// provisional entries that already carry their durable id
	reconciled map[string]struct{}

	// provisional id -> durable id of its hidden echo
	echoes map[string]string
	hidden map[string]struct{}
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		durableIDs: make(map[string]struct{}),
		reconciled: make(map[string]struct{}),
		echoes:     make(map[string]string),
		hidden:     make(map[string]struct{}),
	}
}

// ApplySnapshot replaces the durable tier with the latest full snapshot.
// Provisional entries whose durable counterpart is now present are dropped.
func (s *MessageStore) ApplySnapshot(messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.durableIDs

	s.durable = make([]Message, len(messages))
	copy(s.durable, messages)

	s.durableIDs = make(map[string]struct{}, len(messages))
	for i := range s.durable {
		s.durable[i].Provisional = false
		s.durableIDs[s.durable[i].ID] = struct{}{}
	}

	kept := s.provisional[:0]
	for _, p := range s.provisional {
		if _, ok := s.durableIDs[p.ID]; ok {
			delete(s.reconciled, p.ID)
			continue
		}
		kept = append(kept, p)
	}
	s.provisional = kept

	s.matchEchoes(prev)
}

// matchEchoes pairs unacknowledged provisional entries with durable messages
// that arrived since the previous snapshot. Existing pairs are kept while
// their durable message is still present.
func (s *MessageStore) matchEchoes(prev map[string]struct{}) {
	echoes := make(map[string]string)
	used := make(map[string]struct{})

	for _, p := range s.provisional {
		if _, ok := s.reconciled[p.ID]; ok {
			continue
		}
		if d, ok := s.echoes[p.ID]; ok {
			if _, present := s.durableIDs[d]; present {
				echoes[p.ID] = d
				used[d] = struct{}{}
				continue
			}
		}
		for i := len(s.durable) - 1; i >= 0; i-- {
			d := s.durable[i]
			if _, known := prev[d.ID]; known {
				break
			}
			if _, taken := used[d.ID]; taken {
				continue
			}
			if sameContent(d, p) {
				echoes[p.ID] = d.ID
				used[d.ID] = struct{}{}
				break
			}
		}
	}

	s.echoes = echoes
	s.hidden = used
}

func sameContent(a, b Message) bool {
	if models.NormalizeUserID(a.SenderID) != models.NormalizeUserID(b.SenderID) || a.Text != b.Text {
		return false
	}
	if a.ReplyTo == nil || b.ReplyTo == nil {
		return a.ReplyTo == nil && b.ReplyTo == nil
	}
	return a.ReplyTo.MessageID == b.ReplyTo.MessageID
}

func (s *MessageStore) unhide(provisionalID string) {
	if d, ok := s.echoes[provisionalID]; ok {
		delete(s.echoes, provisionalID)
		delete(s.hidden, d)
	}
}

// InsertProvisional appends an optimistic message at the end of the view.
func (s *MessageStore) InsertProvisional(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Provisional = true
	s.provisional = append(s.provisional, msg)
}

// ReconcileProvisional gives a provisional entry its durable id in place.
// The entry keeps its position until a snapshot containing durableID
// absorbs it. Unknown provisional ids are ignored.
func (s *MessageStore) ReconcileProvisional(provisionalID, durableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.provisional {
		if s.provisional[i].ID != provisionalID {
			continue
		}
		s.unhide(provisionalID)
		if _, ok := s.durableIDs[durableID]; ok {
			// the stream echoed the message before the persist call returned
			s.provisional = append(s.provisional[:i], s.provisional[i+1:]...)
			return
		}
		s.provisional[i].ID = durableID
		s.reconciled[durableID] = struct{}{}
		return
	}
}

// RollbackProvisional removes a provisional entry after a failed send.
// Removing an id that is not present is a no-op.
func (s *MessageStore) RollbackProvisional(provisionalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unhide(provisionalID)
	s.removeProvisional(provisionalID)
}

// RemoveMessage hard-deletes a message from both tiers.
func (s *MessageStore) RemoveMessage(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.durableIDs[id]; ok {
		delete(s.durableIDs, id)
		for i := range s.durable {
			if s.durable[i].ID == id {
				s.durable = append(s.durable[:i], s.durable[i+1:]...)
				break
			}
		}
	}
	for p, d := range s.echoes {
		if d == id {
			delete(s.echoes, p)
			delete(s.hidden, d)
		}
	}
	s.unhide(id)
	delete(s.reconciled, id)
	s.removeProvisional(id)
}

func (s *MessageStore) removeProvisional(id string) {
	for i := range s.provisional {
		if s.provisional[i].ID == id {
			s.provisional = append(s.provisional[:i], s.provisional[i+1:]...)
			return
		}
	}
}

// merged is the visible list. Callers hold s.mu.
func (s *MessageStore) merged() []Message {
	out := make([]Message, 0, len(s.durable)+len(s.provisional))
	for _, m := range s.durable {
		if _, ok := s.hidden[m.ID]; ok {
			continue
		}
		out = append(out, m)
	}
	return append(out, s.provisional...)
}

// Messages returns a copy of the merged view.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merged()
}

// Durable returns a copy of the durable tier only.
func (s *MessageStore) Durable() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.durable))
	copy(out, s.durable)
	return out
}

// Len is the length of the merged view.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.durable) - len(s.hidden) + len(s.provisional)
}

// Find looks a message up by id in the merged view.
func (s *MessageStore) Find(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.merged() {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// IndexOf returns the position of id in the merged view, or -1.
func (s *MessageStore) IndexOf(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, m := range s.merged() {
		if m.ID == id {
			return i
		}
	}
	return -1
}
