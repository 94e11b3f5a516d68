package docstore

import (
	"context"
	"sync"

	"github.com/koinonia/teamchat/internal/chat"
	"github.com/koinonia/teamchat/internal/models"
)

// subscription delivers snapshots of one conversation on its own goroutine.
// signal has capacity one, so bursts of writes coalesce into a single read
// of the latest state.
type subscription struct {
	store          *Store
	conversationID string
	onSnapshot     func([]models.Message)
	onError        func(error)

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Subscribe streams full ordered snapshots of a conversation's messages.
// The current snapshot is delivered right away; later ones follow each
// write. Delivery stops when ctx is done or Close is called.
func (s *Store) Subscribe(ctx context.Context, conversationID string, onSnapshot func([]models.Message), onError func(error)) (chat.Subscription, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	sub := &subscription{
		store:          s,
		conversationID: conversationID,
		onSnapshot:     onSnapshot,
		onError:        onError,
		signal:         make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	s.watchMu.Lock()
	if s.closed {
		s.watchMu.Unlock()
		return nil, ErrClosed
	}
	set := s.watchers[conversationID]
	if set == nil {
		set = make(map[*subscription]struct{})
		s.watchers[conversationID] = set
	}
	set[sub] = struct{}{}
	s.watchMu.Unlock()

	sub.signal <- struct{}{}
	go sub.run(ctx)
	return sub, nil
}

// Subscribers is the number of live subscriptions of a conversation.
func (s *Store) Subscribers(conversationID string) int {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return len(s.watchers[conversationID])
}

func (s *Store) notify(conversationID string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for sub := range s.watchers[conversationID] {
		select {
		case sub.signal <- struct{}{}:
		default:
			// a delivery is already pending and will read the latest state
		}
	}
}

func (s *Store) unwatch(sub *subscription) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if set, ok := s.watchers[sub.conversationID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.watchers, sub.conversationID)
		}
	}
}

func (sub *subscription) run(ctx context.Context) {
	defer sub.store.unwatch(sub)

	for {
		select {
		case <-sub.signal:
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		}

		// Close may have raced with the signal
		select {
		case <-sub.done:
			return
		default:
		}

		msgs, err := sub.store.Messages(ctx, sub.conversationID)
		if err != nil {
			if ctx.Err() != nil || err == ErrClosed {
				return
			}
			if sub.onError != nil {
				sub.onError(err)
			}
			continue
		}
		if sub.onSnapshot != nil {
			sub.onSnapshot(msgs)
		}
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}

// Close stops delivery. It does not wait for a callback in progress.
func (sub *subscription) Close() error {
	sub.stop()
	sub.store.unwatch(sub)
	return nil
}
