package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koinonia/teamchat/internal/docstore"
	"github.com/koinonia/teamchat/internal/models"
)

type harness struct {
	db  *docstore.Store
	hub *Hub
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := docstore.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.PutConversation(ctx, models.Conversation{ID: "c1", Name: "General"}))
	require.NoError(t, db.AddMember(ctx, models.Member{ConversationID: "c1", UserID: "a@x.io"}))
	require.NoError(t, db.AddMember(ctx, models.Member{ConversationID: "c1", UserID: "b@x.io"}))

	hub := NewHub(db, db)
	go hub.Run()

	r := chi.NewRouter()
	r.Get("/ws/conversations/{id}", NewHandler(hub, db).ServeWS)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		_ = db.Close()
	})
	return &harness{db: db, hub: hub, srv: srv}
}

func (h *harness) dial(t *testing.T, conv, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/conversations/" + conv + "?user_id=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) []models.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, FrameSnapshot, frame.Type)

	var payload SnapshotPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	return payload.Messages
}

func TestHub_StreamsSnapshots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.db.AddMessage(ctx, "c1", models.NewMessage{SenderID: "a@x.io", Text: "first"})
	require.NoError(t, err)

	a := h.dial(t, "c1", "a@x.io")
	defer a.Close()
	snap := readSnapshot(t, a)
	require.Len(t, snap, 1)
	assert.Equal(t, "first", snap[0].Text)

	// a late joiner gets the current snapshot replayed
	b := h.dial(t, "c1", "b@x.io")
	defer b.Close()
	assert.Len(t, readSnapshot(t, b), 1)
	assert.Equal(t, 2, h.hub.ClientCount("c1"))

	_, err = h.db.AddMessage(ctx, "c1", models.NewMessage{SenderID: "b@x.io", Text: "second"})
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{a, b} {
		snap := readSnapshot(t, conn)
		require.Len(t, snap, 2)
		assert.Equal(t, "second", snap[1].Text)
	}
}

func TestHandler_RejectsNonMembers(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/conversations/c1?user_id=eve@x.io"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)

	url = "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/conversations/c1"
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestHub_AbnormalDisconnectClearsPresence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.db.UpsertPresence(ctx, models.PresenceRecord{ConversationID: "c1", UserID: "a@x.io"}))

	a := h.dial(t, "c1", "a@x.io")
	readSnapshot(t, a)

	// drop the TCP connection without a close handshake
	require.NoError(t, a.UnderlyingConn().Close())

	require.Eventually(t, func() bool {
		recs, err := h.db.ListPresence(ctx, "c1")
		return err == nil && len(recs) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.hub.ClientCount("c1") == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.db.Subscribers("c1"))
}

func TestHub_CleanCloseKeepsPresence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.db.UpsertPresence(ctx, models.PresenceRecord{ConversationID: "c1", UserID: "b@x.io"}))

	b := h.dial(t, "c1", "b@x.io")
	readSnapshot(t, b)
	require.NoError(t, b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	b.Close()

	require.Eventually(t, func() bool { return h.hub.ClientCount("c1") == 0 }, 2*time.Second, 10*time.Millisecond)
	recs, err := h.db.ListPresence(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
