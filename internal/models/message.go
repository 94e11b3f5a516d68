package models

import (
	"strings"
	"time"
)

// Message is a chat message inside a team conversation.
// The JSON shape matches the stored message document:
// {senderEmail, senderName, text, createdAt, replyTo}.
type Message struct {
	// ID is the document id assigned by the datastore. Provisional messages
	// carry a locally generated id until they are reconciled.
	ID string `json:"id"`

	// ConversationID is the conversation (team chat) owning the message
	ConversationID string `json:"conversationId"`

	// SenderID is the sender's account email, used as the user identifier
	SenderID string `json:"senderEmail"`

	// SenderName is the sender's display name at send time
	SenderName string `json:"senderName"`

	// Text is the message body
	Text string `json:"text"`

	// CreatedAt is server-assigned on durable messages and approximate
	// (client clock) on provisional ones
	CreatedAt time.Time `json:"createdAt"`

	// ReplyTo is a snapshot of the message being replied to
	ReplyTo *ReplyRef `json:"replyTo"`

	// Provisional marks an optimistic local message not yet confirmed.
	// It never leaves the process.
	Provisional bool `json:"-"`
}

// ReplyRef is a denormalized copy of a reply target taken when the reply
// was composed. It is not a live link: edits or deletion of the target do
// not change it.
type ReplyRef struct {
	MessageID  string `json:"messageId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
}

// AsReply builds the reply snapshot for m.
func (m Message) AsReply() *ReplyRef {
	return &ReplyRef{
		MessageID:  m.ID,
		SenderName: m.SenderName,
		Text:       m.Text,
	}
}

// NewMessage is the payload persisted by the datastore. The datastore
// assigns the id and the timestamp.
type NewMessage struct {
	SenderID   string    `json:"senderEmail"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	ReplyTo    *ReplyRef `json:"replyTo"`
}

// SendMessageRequest is the request body for sending a message
type SendMessageRequest struct {
	SenderID   string    `json:"senderEmail"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	ReplyTo    *ReplyRef `json:"replyTo,omitempty"`
}

// SendMessageResponse is returned once a message is durable
type SendMessageResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// GetMessagesResponse is the response for fetching messages
type GetMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// NormalizeUserID canonicalizes an email-style user identifier so that
// membership and sender comparisons are case-insensitive.
func NormalizeUserID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
