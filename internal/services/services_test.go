package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koinonia/teamchat/internal/docstore"
	"github.com/koinonia/teamchat/internal/models"
)

func newStore(t *testing.T) *docstore.Store {
	t.Helper()
	db, err := docstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedConversation(t *testing.T, db *docstore.Store, members ...string) (*ConversationService, string) {
	t.Helper()
	ctx := context.Background()
	convs := NewConversationService(db)
	conv, err := convs.Create(ctx, "Platform", members[0])
	require.NoError(t, err)
	for _, m := range members[1:] {
		_, err := convs.Join(ctx, conv.ID, m, strings.Split(m, "@")[0])
		require.NoError(t, err)
	}
	return convs, conv.ID
}

func TestConversationService_CreateJoinLeave(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	convs := NewConversationService(db)

	conv, err := convs.Create(ctx, "  ", "Owner@x.io")
	require.NoError(t, err)
	assert.Equal(t, DefaultConversationName, conv.Name)
	assert.Len(t, conv.ID, 8)
	assert.Equal(t, "owner@x.io", conv.CreatedBy)

	members, err := convs.Join(ctx, conv.ID, "Bob@x.io", "Bob")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	_, err = convs.Join(ctx, conv.ID, "", "nobody")
	assert.ErrorIs(t, err, ErrMissingUser)
	_, err = convs.Join(ctx, "missing", "bob@x.io", "Bob")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	require.NoError(t, db.UpsertPresence(ctx, models.PresenceRecord{ConversationID: conv.ID, UserID: "bob@x.io"}))
	require.NoError(t, convs.Leave(ctx, conv.ID, "bob@x.io"))

	got, members, err := convs.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Len(t, members, 1)

	recs, err := db.ListPresence(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)

	list, err := convs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConversationService_Unread(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	convs, id := seedConversation(t, db, "a@x.io", "b@x.io")

	require.NoError(t, db.IncrementUnread(ctx, id, "b@x.io"))
	n, err := convs.UnreadCount(ctx, id, "b@x.io")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, convs.MarkRead(ctx, id, "b@x.io"))
	n, err = convs.UnreadCount(ctx, id, "b@x.io")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMessageService_Validation(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	_, id := seedConversation(t, db, "a@x.io", "b@x.io")
	msgs := NewMessageService(db)

	cases := []struct {
		name string
		conv string
		req  models.SendMessageRequest
		want error
	}{
		{"blank", id, models.SendMessageRequest{SenderID: "a@x.io", Text: "  \n "}, ErrEmptyText},
		{"too long", id, models.SendMessageRequest{SenderID: "a@x.io", Text: strings.Repeat("é", MaxMessageRunes+1)}, ErrTextTooLong},
		{"no sender", id, models.SendMessageRequest{Text: "hi"}, ErrMissingSender},
		{"unknown conversation", "nope", models.SendMessageRequest{SenderID: "a@x.io", Text: "hi"}, ErrConversationNotFound},
		{"outsider", id, models.SendMessageRequest{SenderID: "eve@x.io", Text: "hi"}, ErrNotMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := msgs.Send(ctx, tc.conv, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := msgs.Send(ctx, id, models.SendMessageRequest{SenderID: "a@x.io", Text: strings.Repeat("é", MaxMessageRunes)})
	assert.NoError(t, err)
}

func TestMessageService_SendListDelete(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	_, id := seedConversation(t, db, "a@x.io", "b@x.io")
	msgs := NewMessageService(db)

	sent, err := msgs.Send(ctx, id, models.SendMessageRequest{SenderID: "A@x.io", SenderName: "Ann", Text: "  hello  "})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "hello", sent.Text)
	assert.Equal(t, "a@x.io", sent.SenderID)
	assert.False(t, sent.CreatedAt.IsZero())

	list, err := msgs.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.ErrorIs(t, msgs.DeleteMessage(ctx, id, sent.ID, "b@x.io"), ErrForbidden)
	assert.ErrorIs(t, msgs.DeleteMessage(ctx, id, "missing", "a@x.io"), ErrMessageNotFound)
	require.NoError(t, msgs.DeleteMessage(ctx, id, sent.ID, "A@X.io"))

	list, err = msgs.List(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, list)
}

type stubPusher struct {
	sent []models.PushMessage
	err  error
}

func (p *stubPusher) Send(_ context.Context, msg models.PushMessage) error {
	p.sent = append(p.sent, msg)
	return p.err
}

func TestDirectoryService(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	pusher := &stubPusher{}
	dir := NewDirectoryService(db, pusher)

	assert.ErrorIs(t, dir.RegisterPushToken(ctx, "a@x.io", " "), ErrMissingToken)
	require.NoError(t, dir.RegisterPushToken(ctx, "A@x.io", "tok-a"))

	tokens, err := dir.LookupPushTokens(ctx, []string{"a@x.io"})
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "tok-a", tokens[0].Token)

	_, err = dir.LookupPushTokens(ctx, make([]string, dir.BatchLimit()+1))
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	assert.ErrorIs(t, dir.RelayPush(ctx, models.PushMessage{Title: "t"}), ErrInvalidPayload)
	require.NoError(t, dir.RelayPush(ctx, models.PushMessage{To: []string{"tok-a"}, Title: "t", Body: "b"}))
	assert.Len(t, pusher.sent, 1)

	pusher.err = errors.New("down")
	assert.Error(t, dir.RelayPush(ctx, models.PushMessage{To: []string{"tok-a"}, Body: "b"}))

	assert.ErrorIs(t, NewDirectoryService(db, nil).RelayPush(ctx, models.PushMessage{To: []string{"x"}, Body: "b"}), ErrPushDisabled)

	require.NoError(t, dir.TouchPresence(ctx, "c1", "a@x.io"))
	recs, err := dir.Presence(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	require.NoError(t, dir.ClearPresence(ctx, "c1", "a@x.io"))
	recs, err = dir.Presence(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPresenceSweeper_RemovesStale(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertPresence(ctx, models.PresenceRecord{ConversationID: "c1", UserID: "gone", LastUpdatedAt: time.Now().Add(-10 * time.Minute)}))
	require.NoError(t, db.UpsertPresence(ctx, models.PresenceRecord{ConversationID: "c1", UserID: "here"}))

	sweeper := NewPresenceSweeper(db, time.Hour, 2*time.Minute)
	assert.Equal(t, 1, sweeper.Sweep(ctx))

	recs, err := db.ListPresence(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "here", recs[0].UserID)

	go sweeper.Start()
	sweeper.Stop()
}
