// Package services holds the server's business logic between the HTTP
// handlers and the document datastore.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/koinonia/teamchat/internal/docstore"
	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMissingUser          = errors.New("user id is required")
)

// DefaultConversationName is used when a conversation is created without a name.
const DefaultConversationName = "Untitled Team"

// ConversationService handles conversation and membership logic.
type ConversationService struct {
	db     *docstore.Store
	logger zerolog.Logger
}

// NewConversationService creates a new ConversationService instance.
func NewConversationService(db *docstore.Store) *ConversationService {
	return &ConversationService{db: db, logger: logging.Component("conversations")}
}

// Create stores a new conversation with a short random id. The creator, when
// given, becomes its first member.
func (s *ConversationService) Create(ctx context.Context, name, createdBy string) (*models.Conversation, error) {
	id, err := generateConversationID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate conversation ID: %w", err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultConversationName
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        id,
		Name:      name,
		CreatedBy: models.NormalizeUserID(createdBy),
		CreatedAt: now,
	}
	if err := s.db.PutConversation(ctx, *conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	if conv.CreatedBy != "" {
		err := s.db.AddMember(ctx, models.Member{
			ConversationID: id,
			UserID:         conv.CreatedBy,
			JoinedAt:       now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add creator: %w", err)
		}
	}

	s.logger.Info().Str("conversation", id).Str("name", name).Msg("conversation created")
	return conv, nil
}

// Get returns a conversation and its members.
func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, []models.Member, error) {
	conv, err := s.lookup(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.db.Members(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, members, nil
}

// List returns all conversations.
func (s *ConversationService) List(ctx context.Context) ([]models.Conversation, error) {
	return s.db.ListConversations(ctx)
}

// Members returns the member list of an existing conversation.
func (s *ConversationService) Members(ctx context.Context, id string) ([]models.Member, error) {
	if _, err := s.lookup(ctx, id); err != nil {
		return nil, err
	}
	return s.db.Members(ctx, id)
}

// Join adds userID to the conversation and returns the updated member list.
// Joining twice refreshes the display name.
func (s *ConversationService) Join(ctx context.Context, id, userID, displayName string) ([]models.Member, error) {
	userID = models.NormalizeUserID(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}
	if _, err := s.lookup(ctx, id); err != nil {
		return nil, err
	}

	err := s.db.AddMember(ctx, models.Member{
		ConversationID: id,
		UserID:         userID,
		DisplayName:    strings.TrimSpace(displayName),
		JoinedAt:       time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join conversation: %w", err)
	}

	s.logger.Info().Str("conversation", id).Str("user", userID).Msg("member joined")
	return s.db.Members(ctx, id)
}

// Leave removes userID from the conversation along with its presence record
// and unread counter.
func (s *ConversationService) Leave(ctx context.Context, id, userID string) error {
	userID = models.NormalizeUserID(userID)
	if userID == "" {
		return ErrMissingUser
	}
	if _, err := s.lookup(ctx, id); err != nil {
		return err
	}

	if err := s.db.RemoveMember(ctx, id, userID); err != nil {
		return fmt.Errorf("failed to leave conversation: %w", err)
	}
	if err := s.db.RemovePresence(ctx, id, userID); err != nil {
		s.logger.Warn().Err(err).Str("user", userID).Msg("failed to clear presence on leave")
	}
	if err := s.db.ResetUnread(ctx, id, userID); err != nil {
		s.logger.Warn().Err(err).Str("user", userID).Msg("failed to clear unread on leave")
	}

	s.logger.Info().Str("conversation", id).Str("user", userID).Msg("member left")
	return nil
}

// UnreadCount reads a member's unread counter.
func (s *ConversationService) UnreadCount(ctx context.Context, id, userID string) (int64, error) {
	if models.NormalizeUserID(userID) == "" {
		return 0, ErrMissingUser
	}
	return s.db.UnreadCount(ctx, id, userID)
}

// MarkRead resets a member's unread counter.
func (s *ConversationService) MarkRead(ctx context.Context, id, userID string) error {
	if models.NormalizeUserID(userID) == "" {
		return ErrMissingUser
	}
	return s.db.ResetUnread(ctx, id, userID)
}

func (s *ConversationService) lookup(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := s.db.Conversation(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// generateConversationID creates a short, URL-friendly identifier.
func generateConversationID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
