package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koinonia/teamchat/internal/models"
)

func TestMessageStore_SnapshotIsAuthoritative(t *testing.T) {
	s := NewMessageStore()

	snapshots := [][]Message{
		{msgAt("a", "u1", "one", 1)},
		{msgAt("a", "u1", "one", 1), msgAt("b", "u2", "two", 2), msgAt("c", "u1", "three", 3)},
		{msgAt("c", "u1", "three", 3)},
		{},
		{msgAt("b", "u2", "two", 2), msgAt("a", "u1", "one", 1)},
	}
	for i, snap := range snapshots {
		s.ApplySnapshot(snap)
		assert.Equal(t, ids(snap), ids(s.Durable()), "snapshot %d", i)
		assert.Equal(t, ids(snap), ids(s.Messages()), "snapshot %d", i)
	}
}

func TestMessageStore_SnapshotCopiesInput(t *testing.T) {
	s := NewMessageStore()
	snap := []Message{msgAt("a", "u1", "one", 1)}
	s.ApplySnapshot(snap)

	snap[0].Text = "mutated"
	got, ok := s.Find("a")
	require.True(t, ok)
	assert.Equal(t, "one", got.Text)
}

func TestMessageStore_ProvisionalStaysAtEnd(t *testing.T) {
	s := NewMessageStore()
	s.ApplySnapshot([]Message{msgAt("a", "u1", "one", 1)})

	p := msgAt("local-1", "me", "pending", 0) // older timestamp than "a"
	s.InsertProvisional(p)
	s.ApplySnapshot([]Message{msgAt("a", "u1", "one", 1), msgAt("b", "u2", "two", 5)})

	assert.Equal(t, []string{"a", "b", "local-1"}, ids(s.Messages()))
	got, _ := s.Find("local-1")
	assert.True(t, got.Provisional)
}

func TestMessageStore_ReconcileKeepsPosition(t *testing.T) {
	s := NewMessageStore()
	s.ApplySnapshot([]Message{msgAt("a", "u1", "one", 1)})
	s.InsertProvisional(msgAt("local-1", "me", "first", 2))
	s.InsertProvisional(msgAt("local-2", "me", "second", 3))

	before := s.Len()
	idx := s.IndexOf("local-1")

	s.ReconcileProvisional("local-1", "d1")

	assert.Equal(t, before, s.Len())
	assert.Equal(t, idx, s.IndexOf("d1"))
	assert.Equal(t, -1, s.IndexOf("local-1"))
	assert.Equal(t, []string{"a", "d1", "local-2"}, ids(s.Messages()))
}

func TestMessageStore_SnapshotAbsorbsReconciled(t *testing.T) {
	s := NewMessageStore()
	s.InsertProvisional(msgAt("local-1", "me", "hello", 2))
	s.ReconcileProvisional("local-1", "d1")

	s.ApplySnapshot([]Message{msgAt("d1", "me", "hello", 2)})

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "d1", msgs[0].ID)
	assert.False(t, msgs[0].Provisional)
}

func TestMessageStore_ReconcileAfterEcho(t *testing.T) {
	s := NewMessageStore()
	s.InsertProvisional(msgAt("local-1", "me", "hello", 2))

	// stream delivers the durable message before the persist ack
	s.ApplySnapshot([]Message{msgAt("d1", "me", "hello", 2)})
	s.ReconcileProvisional("local-1", "d1")

	assert.Equal(t, []string{"d1"}, ids(s.Messages()))
}

func TestMessageStore_RollbackIsIdempotent(t *testing.T) {
	s := NewMessageStore()
	s.ApplySnapshot([]Message{msgAt("a", "u1", "one", 1)})
	s.InsertProvisional(msgAt("local-1", "me", "x", 2))

	s.RollbackProvisional("local-1")
	assert.Equal(t, []string{"a"}, ids(s.Messages()))

	s.RollbackProvisional("local-1")
	s.RollbackProvisional("never-existed")
	s.RollbackProvisional("a") // durable entries are not provisional
	assert.Equal(t, []string{"a"}, ids(s.Messages()))
}

func TestMessageStore_RemoveMessage(t *testing.T) {
	s := NewMessageStore()
	s.ApplySnapshot([]Message{msgAt("a", "u1", "one", 1), msgAt("b", "u2", "two", 2)})
	s.InsertProvisional(msgAt("local-1", "me", "x", 3))

	s.RemoveMessage("a")
	s.RemoveMessage("local-1")
	s.RemoveMessage("missing")

	assert.Equal(t, []string{"b"}, ids(s.Messages()))
	_, ok := s.Find("a")
	assert.False(t, ok)
}

func TestMessageStore_EchoBeforeAckShowsOnce(t *testing.T) {
	s := NewMessageStore()
	s.ApplySnapshot([]Message{msgAt("a", "u1", "one", 1)})
	s.InsertProvisional(msgAt("local-1", "me", "hello", 2))

	s.ApplySnapshot([]Message{msgAt("a", "u1", "one", 1), msgAt("d1", "Me", "hello", 2)})
	assert.Equal(t, []string{"a", "local-1"}, ids(s.Messages()))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, -1, s.IndexOf("d1"))

	// a later unrelated snapshot keeps the pairing
	s.ApplySnapshot([]Message{msgAt("a", "u1", "one", 1), msgAt("d1", "me", "hello", 2), msgAt("b", "u2", "hi", 3)})
	assert.Equal(t, []string{"a", "b", "local-1"}, ids(s.Messages()))

	s.ReconcileProvisional("local-1", "d1")
	assert.Equal(t, []string{"a", "d1", "b"}, ids(s.Messages()))
}

func TestMessageStore_EchoMatchingNeedsSameContent(t *testing.T) {
	s := NewMessageStore()
	s.ApplySnapshot([]Message{msgAt("a", "me", "hello", 1)})

	p := msgAt("local-1", "me", "hello", 2)
	p.ReplyTo = &models.ReplyRef{MessageID: "a"}
	s.InsertProvisional(p)

	// a copy without the reply target or from someone else is not an echo
	s.ApplySnapshot([]Message{msgAt("a", "me", "hello", 1), msgAt("d9", "me", "hello", 3), msgAt("d8", "u2", "hello", 3)})
	assert.Equal(t, []string{"a", "d9", "d8", "local-1"}, ids(s.Messages()))
}

func TestMessageStore_RollbackRevealsLookalike(t *testing.T) {
	s := NewMessageStore()
	s.InsertProvisional(msgAt("local-1", "me", "ok", 2))

	// same sender and text, sent from another device
	s.ApplySnapshot([]Message{msgAt("d1", "me", "ok", 2)})
	require.Equal(t, []string{"local-1"}, ids(s.Messages()))

	s.RollbackProvisional("local-1")
	assert.Equal(t, []string{"d1"}, ids(s.Messages()))
}

func TestMessageStore_ReconcileToOtherIDRevealsLookalike(t *testing.T) {
	s := NewMessageStore()
	s.InsertProvisional(msgAt("local-1", "me", "ok", 2))
	s.ApplySnapshot([]Message{msgAt("d1", "me", "ok", 2)})

	s.ReconcileProvisional("local-1", "d2")
	assert.Equal(t, []string{"d1", "d2"}, ids(s.Messages()))

	s.ApplySnapshot([]Message{msgAt("d1", "me", "ok", 2), msgAt("d2", "me", "ok", 3)})
	assert.Equal(t, []string{"d1", "d2"}, ids(s.Messages()))
}

func TestMessageStore_KnownHistoryIsNeverHidden(t *testing.T) {
	s := NewMessageStore()
	s.ApplySnapshot([]Message{msgAt("d1", "me", "ok", 1)})
	s.InsertProvisional(msgAt("local-1", "me", "ok", 2))

	s.ApplySnapshot([]Message{msgAt("d1", "me", "ok", 1)})
	assert.Equal(t, []string{"d1", "local-1"}, ids(s.Messages()))
	assert.Equal(t, 2, s.Len())
}
