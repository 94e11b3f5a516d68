package models

import "time"

// Conversation is a team (small group) chat.
type Conversation struct {
	// ID is the unique identifier of the conversation
	ID string `json:"id"`

	// Name is the team name, also used as the push notification title
	Name string `json:"name"`

	// CreatedBy is the user id of the creator
	CreatedBy string `json:"created_by"`

	// CreatedAt is when the conversation was created
	CreatedAt time.Time `json:"created_at"`
}

// Member is a user belonging to a conversation.
type Member struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	JoinedAt       time.Time `json:"joined_at"`
}

// PresenceRecord marks a user as currently viewing a conversation.
// It is a best-effort signal used to suppress pushes to active viewers.
type PresenceRecord struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
}

// PushToken is a device push address registered for a user.
type PushToken struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PushMessage is one push notification request.
type PushMessage struct {
	To    []string          `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// CreateConversationRequest is the request body for creating a conversation
type CreateConversationRequest struct {
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
}

// CreateConversationResponse is the response after creating a conversation
type CreateConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// JoinConversationRequest is the request body for joining a conversation
type JoinConversationRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// LeaveConversationRequest is the request body for leaving a conversation
type LeaveConversationRequest struct {
	UserID string `json:"user_id"`
}

// ConversationInfoResponse contains conversation details and its members
type ConversationInfoResponse struct {
	Conversation Conversation `json:"conversation"`
	Members      []Member     `json:"members"`
}

// RegisterPushTokenRequest is the request body for registering a device token
type RegisterPushTokenRequest struct {
	Token string `json:"token"`
}

// PushTokenLookupRequest asks for the push tokens of a batch of users
type PushTokenLookupRequest struct {
	UserIDs []string `json:"user_ids"`
}

// PushTokenLookupResponse lists the tokens found for a batch of users
type PushTokenLookupResponse struct {
	Tokens []PushToken `json:"tokens"`
}

// UnreadResponse reports a user's unread counter for a conversation
type UnreadResponse struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Count          int64  `json:"count"`
}

// PresenceResponse lists the presence records of a conversation together
// with the server clock they were stamped against
type PresenceResponse struct {
	Records    []PresenceRecord `json:"records"`
	ServerTime time.Time        `json:"server_time"`
}

// Identity is the signed-in user of a client, cached locally across sessions.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	PushToken   string `json:"push_token,omitempty"`
}
