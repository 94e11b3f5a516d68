// Package websocket streams conversation snapshots to connected clients.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/koinonia/teamchat/internal/chat"
	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/metrics"
	"github.com/koinonia/teamchat/internal/models"
)

// Frame types sent to clients.
const (
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// Frame is the envelope of every message sent to clients.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SnapshotPayload is the payload of a snapshot frame.
type SnapshotPayload struct {
	Messages []models.Message `json:"messages"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// PresenceRemover clears a presence record after an abnormal disconnect.
type PresenceRemover interface {
	RemovePresence(ctx context.Context, conversationID, userID string) error
}

// conversation is the hub's state for one conversation with connected clients.
type conversation struct {
	clients map[*Client]bool
	sub     chat.Subscription

	// last is the most recent snapshot frame, replayed to late joiners
	last []byte
}

// broadcastFrame carries one encoded frame to every client of a conversation.
type broadcastFrame struct {
	conversationID string
	frame          []byte
	snapshot       bool
}

// Hub maintains the set of active clients per conversation. The first client
// of a conversation opens a datastore subscription; the last one closes it.
type Hub struct {
	conversations map[string]*conversation

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastFrame

	stream   chat.Subscriber
	presence PresenceRemover

	// mu guards conversations for readers outside Run
	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger zerolog.Logger
}

// NewHub creates a hub reading snapshots from stream. presence may be nil.
func NewHub(stream chat.Subscriber, presence PresenceRemover) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		conversations: make(map[string]*conversation),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan broadcastFrame, 64),
		stream:        stream,
		presence:      presence,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		logger:        logging.Component("websocket"),
	}
}

// Run starts the hub's main event loop. Call it with 'go'; it returns
// after Stop.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToConversation(msg)

		case <-h.ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Stop ends Run, disconnecting every client and closing all subscriptions.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

// Register adds a client. It returns false when the hub is stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	conv := h.conversations[client.ConversationID]
	if conv == nil {
		conv = &conversation{clients: make(map[*Client]bool)}
		h.conversations[client.ConversationID] = conv
	}
	conv.clients[client] = true
	first := conv.sub == nil
	last := conv.last
	count := len(conv.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Inc()
	h.logger.Info().Str("conversation", client.ConversationID).Str("user", client.UserID).Int("total", count).Msg("client joined")

	if first {
		h.subscribe(conv, client.ConversationID)
		return
	}
	if last != nil {
		h.sendTo(client, last)
	}
}

func (h *Hub) subscribe(conv *conversation, conversationID string) {
	onSnapshot := func(msgs []models.Message) {
		frame, err := encodeFrame(FrameSnapshot, SnapshotPayload{Messages: msgs})
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to encode snapshot")
			return
		}
		h.enqueue(broadcastFrame{conversationID: conversationID, frame: frame, snapshot: true})
	}
	onError := func(err error) {
		frame, encErr := encodeFrame(FrameError, ErrorPayload{Message: err.Error()})
		if encErr != nil {
			return
		}
		h.enqueue(broadcastFrame{conversationID: conversationID, frame: frame})
	}

	sub, err := h.stream.Subscribe(h.ctx, conversationID, onSnapshot, onError)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation", conversationID).Msg("failed to subscribe")
		frame, encErr := encodeFrame(FrameError, ErrorPayload{Message: "snapshot stream unavailable"})
		if encErr == nil {
			h.broadcastToConversation(broadcastFrame{conversationID: conversationID, frame: frame})
		}
		return
	}

	h.mu.Lock()
	conv.sub = sub
	h.mu.Unlock()
}

func (h *Hub) enqueue(msg broadcastFrame) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	conv, ok := h.conversations[client.ConversationID]
	if !ok || !conv.clients[client] {
		h.mu.Unlock()
		return
	}
	delete(conv.clients, client)
	close(client.send)
	remaining := len(conv.clients)
	var sub chat.Subscription
	if remaining == 0 {
		sub = conv.sub
		delete(h.conversations, client.ConversationID)
	}
	h.mu.Unlock()

	metrics.WebsocketClients.Dec()
	h.logger.Info().Str("conversation", client.ConversationID).Str("user", client.UserID).Int("remaining", remaining).Msg("client left")

	if sub != nil {
		if err := sub.Close(); err != nil {
			h.logger.Warn().Err(err).Str("conversation", client.ConversationID).Msg("failed to close subscription")
		}
	}

	if client.Abnormal() && h.presence != nil {
		if err := h.presence.RemovePresence(h.ctx, client.ConversationID, client.UserID); err != nil {
			h.logger.Warn().Err(err).Str("user", client.UserID).Msg("failed to clear presence after disconnect")
		} else {
			h.logger.Debug().Str("user", client.UserID).Msg("presence cleared after abnormal disconnect")
		}
	}
}

func (h *Hub) broadcastToConversation(msg broadcastFrame) {
	h.mu.Lock()
	conv := h.conversations[msg.conversationID]
	if conv == nil {
		h.mu.Unlock()
		return
	}
	if msg.snapshot {
		conv.last = msg.frame
	}
	clients := make([]*Client, 0, len(conv.clients))
	for c := range conv.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.sendTo(c, msg.frame)
	}
}

// sendTo queues a frame. A client with a full buffer is disconnected; its
// read pump then unregisters it.
func (h *Hub) sendTo(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.logger.Warn().Str("user", c.UserID).Msg("client too slow, disconnecting")
		c.disconnect()
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conv := range h.conversations {
		for c := range conv.clients {
			close(c.send)
			metrics.WebsocketClients.Dec()
		}
		if conv.sub != nil {
			_ = conv.sub.Close()
		}
		delete(h.conversations, id)
	}
}

// ClientCount returns the number of connected clients in a conversation.
func (h *Hub) ClientCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conv := h.conversations[conversationID]; conv != nil {
		return len(conv.clients)
	}
	return 0
}

func encodeFrame(kind string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: kind, Payload: raw})
}
