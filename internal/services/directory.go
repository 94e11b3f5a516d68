package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/koinonia/teamchat/internal/chat"
	"github.com/koinonia/teamchat/internal/docstore"
	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/metrics"
	"github.com/koinonia/teamchat/internal/models"
)

var (
	ErrMissingToken   = errors.New("push token is required")
	ErrBatchTooLarge  = errors.New("too many user ids in one lookup")
	ErrPushDisabled   = errors.New("push relay is not configured")
	ErrInvalidPayload = errors.New("push message needs recipients and a body")
)

// DirectoryService covers push addresses, presence, unread bumps and the
// push relay used by clients after a durable send.
type DirectoryService struct {
	db     *docstore.Store
	pusher chat.Pusher
	logger zerolog.Logger
}

// NewDirectoryService creates a DirectoryService. pusher may be nil, which
// disables the relay.
func NewDirectoryService(db *docstore.Store, pusher chat.Pusher) *DirectoryService {
	return &DirectoryService{db: db, pusher: pusher, logger: logging.Component("directory")}
}

// RegisterPushToken stores the device token of userID.
func (s *DirectoryService) RegisterPushToken(ctx context.Context, userID, token string) error {
	userID = models.NormalizeUserID(userID)
	if userID == "" {
		return ErrMissingUser
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingToken
	}
	return s.db.PutPushToken(ctx, models.PushToken{UserID: userID, Token: token, UpdatedAt: time.Now().UTC()})
}

// LookupPushTokens resolves the tokens of a bounded batch of users.
func (s *DirectoryService) LookupPushTokens(ctx context.Context, userIDs []string) ([]models.PushToken, error) {
	tokens, err := s.db.PushTokens(ctx, userIDs)
	if errors.Is(err, docstore.ErrBatchTooLarge) {
		return nil, ErrBatchTooLarge
	}
	return tokens, err
}

// BatchLimit is the largest accepted lookup.
func (s *DirectoryService) BatchLimit() int { return s.db.BatchLimit() }

// IncrementUnread bumps a member's unread counter.
func (s *DirectoryService) IncrementUnread(ctx context.Context, conversationID, userID string) error {
	if models.NormalizeUserID(userID) == "" {
		return ErrMissingUser
	}
	return s.db.IncrementUnread(ctx, conversationID, userID)
}

// TouchPresence records userID as viewing the conversation now.
func (s *DirectoryService) TouchPresence(ctx context.Context, conversationID, userID string) error {
	if models.NormalizeUserID(userID) == "" {
		return ErrMissingUser
	}
	return s.db.UpsertPresence(ctx, models.PresenceRecord{
		UserID:         userID,
		ConversationID: conversationID,
		LastUpdatedAt:  time.Now().UTC(),
	})
}

// ClearPresence removes userID's presence record.
func (s *DirectoryService) ClearPresence(ctx context.Context, conversationID, userID string) error {
	if models.NormalizeUserID(userID) == "" {
		return ErrMissingUser
	}
	return s.db.RemovePresence(ctx, conversationID, userID)
}

// Presence lists the raw presence records of a conversation.
func (s *DirectoryService) Presence(ctx context.Context, conversationID string) ([]models.PresenceRecord, error) {
	return s.db.ListPresence(ctx, conversationID)
}

// RelayPush forwards one push request to the push service.
func (s *DirectoryService) RelayPush(ctx context.Context, msg models.PushMessage) error {
	if s.pusher == nil {
		return ErrPushDisabled
	}
	if len(msg.To) == 0 || (msg.Title == "" && msg.Body == "") {
		return ErrInvalidPayload
	}

	err := s.pusher.Send(ctx, msg)
	metrics.ObservePush(err)
	if err != nil {
		s.logger.Error().Err(err).Int("tokens", len(msg.To)).Msg("push relay failed")
	}
	return err
}
