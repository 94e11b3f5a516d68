package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koinonia/teamchat/internal/models"
)

func members(ids ...string) []models.Member {
	out := make([]models.Member, len(ids))
	for i, id := range ids {
		out[i] = models.Member{ConversationID: "c1", UserID: id}
	}
	return out
}

func TestRecipients_NeverIncludesSender(t *testing.T) {
	cases := [][]models.Member{
		nil,
		members("a@x.org"),
		members("a@x.org", "b@x.org"),
		members("A@X.org ", "b@x.org", "a@x.org"),
		members("b@x.org", "b@x.org", "c@x.org", ""),
	}
	for i, ms := range cases {
		got := Recipients(ms, "a@x.org", nil)
		assert.NotContains(t, got, "a@x.org", "case %d", i)
	}
}

func TestRecipients_ExcludesActiveViewersAndDedups(t *testing.T) {
	active := map[string]struct{}{"c@x.org": {}}
	got := Recipients(members("b@x.org", "c@x.org", "B@x.org", "d@x.org"), "a@x.org", active)
	assert.Equal(t, []string{"b@x.org", "d@x.org"}, got)
}

func TestFanout_NotifiesAbsentMembersOnly(t *testing.T) {
	dir := &fakeDirectory{
		conv:    models.Conversation{ID: "c1", Name: "Youth Team"},
		members: members("a@x.org", "b@x.org", "c@x.org"),
		tokens:  map[string]string{"b@x.org": "tok-b", "c@x.org": "tok-c"},
	}
	presence := newMemPresence()
	tracker := NewPresenceTracker(presence, 0)
	require.NoError(t, tracker.Enter(context.Background(), "c1", "c@x.org"))
	pusher := &fakePusher{}

	f := NewNotificationFanout(dir, tracker, pusher, 0)
	report := f.Notify(context.Background(), msgAt("m1", "a@x.org", "hello", 1))

	assert.Equal(t, []string{"b@x.org"}, report.Recipients)
	assert.Equal(t, 1, report.Pushed)
	assert.Equal(t, []string{"tok-b"}, pusher.sentTo())
	assert.Equal(t, "Youth Team", pusher.sent[0].Title)
	assert.Equal(t, "a@x.org: hello", pusher.sent[0].Body)
	assert.Equal(t, "c1", pusher.sent[0].Data["conversationId"])
	assert.Equal(t, map[string]int{"b@x.org": 1}, dir.unread)
}

func TestFanout_BatchesLookups(t *testing.T) {
	var ids []string
	tokens := map[string]string{}
	for i := 0; i < 23; i++ {
		id := fmt.Sprintf("u%02d@x.org", i)
		ids = append(ids, id)
		tokens[id] = "tok-" + id
	}
	dir := &fakeDirectory{members: members(append(ids, "sender@x.org")...), tokens: tokens}
	pusher := &fakePusher{}

	report := NewNotificationFanout(dir, nil, pusher, 10).Notify(context.Background(), msgAt("m1", "sender@x.org", "hi", 1))

	require.Len(t, dir.lookups, 3)
	assert.Len(t, dir.lookups[0], 10)
	assert.Len(t, dir.lookups[1], 10)
	assert.Len(t, dir.lookups[2], 3)
	assert.Equal(t, 23, report.Pushed)
	assert.Len(t, dir.unread, 23)
}

func TestFanout_NoRecipientsStops(t *testing.T) {
	dir := &fakeDirectory{members: members("a@x.org")}
	pusher := &fakePusher{}

	report := NewNotificationFanout(dir, nil, pusher, 10).Notify(context.Background(), msgAt("m1", "a@x.org", "solo", 1))

	assert.Empty(t, report.Recipients)
	assert.Empty(t, dir.lookups)
	assert.Empty(t, pusher.sent)
	assert.Empty(t, dir.unread)
}

func TestFanout_FailuresAreContained(t *testing.T) {
	dir := &fakeDirectory{
		members: members("a@x.org", "b@x.org", "c@x.org"),
		tokens:  map[string]string{"b@x.org": "tok-b", "c@x.org": "tok-c"},
	}
	pusher := &fakePusher{fail: map[string]bool{"tok-b": true}}

	report := NewNotificationFanout(dir, nil, pusher, 10).Notify(context.Background(), msgAt("m1", "a@x.org", "hi", 1))

	assert.Equal(t, 1, report.PushFailures)
	assert.Equal(t, 1, report.Pushed)
	assert.Equal(t, 1, dir.unread["b@x.org"], "unread still bumped when push fails")

	dir.lookupErr = errors.New("quota")
	dir.unread = nil
	report = NewNotificationFanout(dir, nil, pusher, 10).Notify(context.Background(), msgAt("m2", "a@x.org", "hi", 2))
	assert.Equal(t, 1, report.LookupFailures)
	assert.Len(t, dir.unread, 2)
}

func TestFanout_PresenceFailureNotifiesEveryone(t *testing.T) {
	dir := &fakeDirectory{
		members: members("a@x.org", "b@x.org"),
		tokens:  map[string]string{"b@x.org": "tok-b"},
	}
	presence := newMemPresence()
	presence.err = errors.New("offline")
	pusher := &fakePusher{}

	report := NewNotificationFanout(dir, NewPresenceTracker(presence, 0), pusher, 10).
		Notify(context.Background(), msgAt("m1", "a@x.org", "hi", 1))

	assert.Equal(t, []string{"b@x.org"}, report.Recipients)
	assert.Equal(t, 1, report.Pushed)
}

func TestFanout_TruncatesLongBodies(t *testing.T) {
	dir := &fakeDirectory{members: members("a@x.org", "b@x.org"), tokens: map[string]string{"b@x.org": "tok"}}
	pusher := &fakePusher{}

	NewNotificationFanout(dir, nil, pusher, 10).Notify(context.Background(), msgAt("m1", "a@x.org", strings.Repeat("é", 500), 1))

	require.Len(t, pusher.sent, 1)
	assert.Equal(t, maxPushBodyRunes, len([]rune(pusher.sent[0].Body)))
	assert.Equal(t, "New message", pusher.sent[0].Title)
}
