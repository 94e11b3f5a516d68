// Package remote implements the chat core's collaborators against a teamchat
// server: REST calls for writes and lookups, a websocket for snapshots.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/models"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (status %d): %s", e.Code, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404s.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client talks to the teamchat server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logging.Component("remote"),
	}
}

// doRequest executes an HTTP request against the server API and decodes a
// JSON response into out when out is non-nil.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func conversationPath(id string, parts ...string) string {
	p := "/api/conversations/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// ListConversations returns every conversation on the server.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := c.doRequest(ctx, http.MethodGet, "/api/conversations", nil, &convs)
	return convs, err
}

// CreateConversation creates a conversation owned by createdBy.
func (c *Client) CreateConversation(ctx context.Context, name, createdBy string) (string, error) {
	var resp models.CreateConversationResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/conversations", models.CreateConversationRequest{Name: name, CreatedBy: createdBy}, &resp)
	return resp.ConversationID, err
}

// JoinConversation adds the user to a conversation.
func (c *Client) JoinConversation(ctx context.Context, conversationID, userID, displayName string) ([]models.Member, error) {
	var members []models.Member
	err := c.doRequest(ctx, http.MethodPost, conversationPath(conversationID, "join"),
		models.JoinConversationRequest{UserID: userID, DisplayName: displayName}, &members)
	return members, err
}

// Conversation fetches conversation metadata.
func (c *Client) Conversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var info models.ConversationInfoResponse
	if err := c.doRequest(ctx, http.MethodGet, conversationPath(conversationID), nil, &info); err != nil {
		return models.Conversation{}, err
	}
	return info.Conversation, nil
}

// Members fetches the member list.
func (c *Client) Members(ctx context.Context, conversationID string) ([]models.Member, error) {
	var members []models.Member
	err := c.doRequest(ctx, http.MethodGet, conversationPath(conversationID, "members"), nil, &members)
	return members, err
}

// AddMessage persists a message and returns its durable id.
func (c *Client) AddMessage(ctx context.Context, conversationID string, msg models.NewMessage) (string, error) {
	var resp models.SendMessageResponse
	err := c.doRequest(ctx, http.MethodPost, conversationPath(conversationID, "messages"), models.SendMessageRequest{
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		ReplyTo:    msg.ReplyTo,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Messages fetches the current ordered message list.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var resp models.GetMessagesResponse
	err := c.doRequest(ctx, http.MethodGet, conversationPath(conversationID, "messages"), nil, &resp)
	return resp.Messages, err
}

// DeleteMessage hard-deletes a message sent by userID.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID, userID string) error {
	endpoint := conversationPath(conversationID, "messages", messageID) + "?user_id=" + url.QueryEscape(userID)
	return c.doRequest(ctx, http.MethodDelete, endpoint, nil, nil)
}

// UpsertPresence marks the record's user as viewing. The server stamps the time.
func (c *Client) UpsertPresence(ctx context.Context, rec models.PresenceRecord) error {
	return c.doRequest(ctx, http.MethodPut, conversationPath(rec.ConversationID, "presence", rec.UserID), nil, nil)
}

// RemovePresence clears a presence record.
func (c *Client) RemovePresence(ctx context.Context, conversationID, userID string) error {
	return c.doRequest(ctx, http.MethodDelete, conversationPath(conversationID, "presence", userID), nil, nil)
}

// ListPresence fetches a conversation's presence records. Timestamps are
// shifted from the server clock onto the local one.
func (c *Client) ListPresence(ctx context.Context, conversationID string) ([]models.PresenceRecord, error) {
	var resp models.PresenceResponse
	if err := c.doRequest(ctx, http.MethodGet, conversationPath(conversationID, "presence"), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.ServerTime.IsZero() {
		skew := time.Since(resp.ServerTime)
		for i := range resp.Records {
			resp.Records[i].LastUpdatedAt = resp.Records[i].LastUpdatedAt.Add(skew)
		}
	}
	return resp.Records, nil
}

// PushTokens looks up the tokens of a bounded batch of users.
func (c *Client) PushTokens(ctx context.Context, userIDs []string) ([]models.PushToken, error) {
	var resp models.PushTokenLookupResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/push-tokens/lookup", models.PushTokenLookupRequest{UserIDs: userIDs}, &resp)
	return resp.Tokens, err
}

// RegisterPushToken stores this device's token for userID.
func (c *Client) RegisterPushToken(ctx context.Context, userID, token string) error {
	return c.doRequest(ctx, http.MethodPut, "/api/users/"+url.PathEscape(userID)+"/push-token",
		models.RegisterPushTokenRequest{Token: token}, nil)
}

// IncrementUnread bumps a member's unread counter.
func (c *Client) IncrementUnread(ctx context.Context, conversationID, userID string) error {
	return c.doRequest(ctx, http.MethodPost, conversationPath(conversationID, "unread", userID), nil, nil)
}

// ResetUnread clears a member's unread counter.
func (c *Client) ResetUnread(ctx context.Context, conversationID, userID string) error {
	return c.doRequest(ctx, http.MethodDelete, conversationPath(conversationID, "unread", userID), nil, nil)
}

// UnreadCount reads a member's unread counter.
func (c *Client) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	var resp models.UnreadResponse
	err := c.doRequest(ctx, http.MethodGet, conversationPath(conversationID, "unread", userID), nil, &resp)
	return resp.Count, err
}

// Send relays one push notification through the server.
func (c *Client) Send(ctx context.Context, msg models.PushMessage) error {
	return c.doRequest(ctx, http.MethodPost, "/api/push", msg, nil)
}
