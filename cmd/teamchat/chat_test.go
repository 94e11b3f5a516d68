package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koinonia/teamchat/internal/chat"
	"github.com/koinonia/teamchat/internal/models"
)

type memIdentity models.Identity

func (i memIdentity) Load(context.Context) (models.Identity, error) { return models.Identity(i), nil }

// pushStream hands snapshots from the test straight to the session.
type pushStream struct {
	mu         sync.Mutex
	onSnapshot func([]chat.Message)
}

func (p *pushStream) Subscribe(_ context.Context, _ string, onSnapshot func([]chat.Message), _ func(error)) (chat.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSnapshot = onSnapshot
	return p, nil
}

func (p *pushStream) Close() error { return nil }

func (p *pushStream) push(msgs []chat.Message) {
	p.mu.Lock()
	fn := p.onSnapshot
	p.mu.Unlock()
	fn(msgs)
}

type noopPersister struct{}

func (noopPersister) AddMessage(context.Context, string, models.NewMessage) (string, error) {
	return "", fmt.Errorf("not used")
}

func history(n int) []chat.Message {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := make([]chat.Message, n)
	for i := range msgs {
		msgs[i] = chat.Message{
			ID:         fmt.Sprintf("m%d", i+1),
			SenderID:   "ann@x.io",
			SenderName: "Ann",
			Text:       fmt.Sprintf("note %d", i+1),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func TestHandleInput_JumpLeavesReaderScrolledUp(t *testing.T) {
	stream := &pushStream{}
	view := newTerminalView(10)
	ui := &chatUI{out: io.Discard, title: "Design", view: view}
	session := chat.NewSession(chat.SessionConfig{
		ConversationID: "c1",
		Identity:       memIdentity{UserID: "ann@x.io", DisplayName: "Ann"},
		Stream:         stream,
		Persister:      noopPersister{},
		Viewport:       view,
		Hooks:          chat.SessionHooks{OnChange: ui.redraw},
	})
	ui.session = session
	require.NoError(t, session.Open(context.Background()))
	defer session.Close()

	msgs := history(50)
	msgs[49].ReplyTo = &models.ReplyRef{MessageID: "m2", SenderName: "Ann", Text: "note 2"}
	stream.push(msgs)

	quit := handleInput(context.Background(), ui, "/jump 50")
	require.False(t, quit)
	require.False(t, session.ViewState().ScrollIsAtBottom)
	highlighted, ok := session.Highlighted()
	require.True(t, ok)
	assert.Equal(t, "m2", highlighted)

	incoming := append(msgs, chat.Message{
		ID: "m51", SenderID: "bob@x.io", SenderName: "Bob", Text: "lunch?",
		CreatedAt: msgs[49].CreatedAt.Add(time.Minute),
	})
	stream.push(incoming)

	st := session.ViewState()
	require.True(t, st.BannerVisible())
	assert.Equal(t, "Bob", st.PendingBannerMessage.SenderName)

	from, _ := view.bounds(len(incoming))
	assert.Zero(t, from, "reader stays on the jumped-to history")
}

func TestHandleInput_UnknownAndQuit(t *testing.T) {
	stream := &pushStream{}
	view := newTerminalView(10)
	ui := &chatUI{out: io.Discard, title: "Design", view: view}
	session := chat.NewSession(chat.SessionConfig{
		ConversationID: "c1",
		Identity:       memIdentity{UserID: "ann@x.io", DisplayName: "Ann"},
		Stream:         stream,
		Persister:      noopPersister{},
		Viewport:       view,
	})
	ui.session = session
	require.NoError(t, session.Open(context.Background()))
	defer session.Close()
	stream.push(history(3))

	assert.False(t, handleInput(context.Background(), ui, "/nope"))
	assert.Contains(t, ui.notice, "unknown command /nope")

	assert.False(t, handleInput(context.Background(), ui, "/jump 1"))
	assert.Contains(t, ui.notice, "is not a reply")

	assert.True(t, handleInput(context.Background(), ui, "/quit"))
}
