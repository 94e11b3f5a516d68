package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koinonia/teamchat/internal/models"
)

// fakeStream delivers snapshots pushed by the test synchronously.
type fakeStream struct {
	mu         sync.Mutex
	onSnapshot func([]Message)
	onError    func(error)
	closed     int
	failWith   error
}

func (f *fakeStream) Subscribe(_ context.Context, _ string, onSnapshot func([]Message), onError func(error)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.onSnapshot = onSnapshot
	f.onError = onError
	return f, nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStream) push(messages ...Message) {
	f.mu.Lock()
	fn := f.onSnapshot
	f.mu.Unlock()
	fn(messages)
}

func (f *fakeStream) fail(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

// fakePersister blocks each AddMessage until the test releases it, unless auto is set.
type fakePersister struct {
	mu      sync.Mutex
	auto    bool
	err     error
	next    int
	calls   []models.NewMessage
	release chan persistResult
}

type persistResult struct {
	id  string
	err error
}

func newFakePersister(auto bool) *fakePersister {
	return &fakePersister{auto: auto, release: make(chan persistResult)}
}

func (f *fakePersister) AddMessage(ctx context.Context, _ string, msg models.NewMessage) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	auto, err := f.auto, f.err
	f.next++
	id := fmt.Sprintf("durable-%d", f.next)
	f.mu.Unlock()

	if auto {
		if err != nil {
			return "", err
		}
		return id, nil
	}
	select {
	case r := <-f.release:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakePersister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memPresence is an in-memory PresenceStore.
type memPresence struct {
	mu      sync.Mutex
	records map[string]models.PresenceRecord
	err     error
}

func newMemPresence() *memPresence {
	return &memPresence{records: make(map[string]models.PresenceRecord)}
}

func (m *memPresence) UpsertPresence(_ context.Context, rec models.PresenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[rec.ConversationID+"/"+rec.UserID] = rec
	return nil
}

func (m *memPresence) RemovePresence(_ context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, conversationID+"/"+userID)
	return nil
}

func (m *memPresence) ListPresence(_ context.Context, conversationID string) ([]models.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []models.PresenceRecord
	for _, r := range m.records {
		if r.ConversationID == conversationID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memPresence) has(conversationID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[conversationID+"/"+userID]
	return ok
}

// fakeDirectory serves members and tokens from maps and records calls.
type fakeDirectory struct {
	mu         sync.Mutex
	conv       models.Conversation
	members    []models.Member
	tokens     map[string]string
	membersErr error
	lookupErr  error
	lookups    [][]string
	unread     map[string]int
}

func (d *fakeDirectory) Conversation(context.Context, string) (models.Conversation, error) {
	return d.conv, nil
}

func (d *fakeDirectory) Members(context.Context, string) ([]models.Member, error) {
	if d.membersErr != nil {
		return nil, d.membersErr
	}
	return d.members, nil
}

func (d *fakeDirectory) PushTokens(_ context.Context, userIDs []string) ([]models.PushToken, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups = append(d.lookups, append([]string(nil), userIDs...))
	if d.lookupErr != nil {
		return nil, d.lookupErr
	}
	var out []models.PushToken
	for _, id := range userIDs {
		if tok, ok := d.tokens[id]; ok {
			out = append(out, models.PushToken{UserID: id, Token: tok})
		}
	}
	return out, nil
}

func (d *fakeDirectory) IncrementUnread(_ context.Context, _ string, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unread == nil {
		d.unread = make(map[string]int)
	}
	d.unread[userID]++
	return nil
}

// fakePusher records pushes; tokens listed in fail are rejected.
type fakePusher struct {
	mu   sync.Mutex
	sent []models.PushMessage
	fail map[string]bool
}

func (p *fakePusher) Send(_ context.Context, msg models.PushMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, to := range msg.To {
		if p.fail[to] {
			return errors.New("push rejected")
		}
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePusher) sentTo() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.sent {
		out = append(out, m.To...)
	}
	return out
}

// staticIdentity is an IdentitySource returning a fixed user.
type staticIdentity struct {
	id  models.Identity
	err error
}

func (s staticIdentity) Load(context.Context) (models.Identity, error) {
	return s.id, s.err
}

// recordingViewport collects scroll commands.
type recordingViewport struct {
	mu   sync.Mutex
	cmds []ScrollCommand
}

func (v *recordingViewport) Scroll(cmd ScrollCommand) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cmds = append(v.cmds, cmd)
}

func (v *recordingViewport) commands() []ScrollCommand {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]ScrollCommand(nil), v.cmds...)
}

func msgAt(id, sender, text string, minute int) Message {
	return Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       sender,
		SenderName:     sender,
		Text:           text,
		CreatedAt:      time.Date(2026, 1, 1, 10, minute, 0, 0, time.UTC),
	}
}

func ids(messages []Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}
