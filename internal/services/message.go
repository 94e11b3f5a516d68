package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/koinonia/teamchat/internal/docstore"
	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/metrics"
	"github.com/koinonia/teamchat/internal/models"
)

// MaxMessageRunes is the longest accepted message body.
const MaxMessageRunes = 4000

var (
	ErrEmptyText       = errors.New("message text is empty")
	ErrTextTooLong     = errors.New("message text is too long")
	ErrMissingSender   = errors.New("sender is required")
	ErrNotMember       = errors.New("sender is not a member of the conversation")
	ErrMessageNotFound = errors.New("message not found")
	ErrForbidden       = errors.New("only the sender may delete a message")
)

// MessageService validates and persists messages.
type MessageService struct {
	db     *docstore.Store
	logger zerolog.Logger
}

// NewMessageService creates a new MessageService instance.
func NewMessageService(db *docstore.Store) *MessageService {
	return &MessageService{db: db, logger: logging.Component("messages")}
}

// Send validates req and stores it. The returned message carries the
// server-assigned id and timestamp.
func (s *MessageService) Send(ctx context.Context, conversationID string, req models.SendMessageRequest) (*models.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return nil, ErrTextTooLong
	}
	sender := models.NormalizeUserID(req.SenderID)
	if sender == "" {
		return nil, ErrMissingSender
	}

	if _, err := s.db.Conversation(ctx, conversationID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	member, err := s.db.IsMember(ctx, conversationID, sender)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotMember
	}

	id, err := s.db.AddMessage(ctx, conversationID, models.NewMessage{
		SenderID:   sender,
		SenderName: strings.TrimSpace(req.SenderName),
		Text:       text,
		ReplyTo:    req.ReplyTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	metrics.MessagesPersisted.Inc()

	msg, err := s.db.GetMessage(ctx, conversationID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read back message: %w", err)
	}

	s.logger.Debug().Str("conversation", conversationID).Str("message", id).Str("sender", sender).Msg("message stored")
	return &msg, nil
}

// List returns the conversation's messages in order.
func (s *MessageService) List(ctx context.Context, conversationID string) ([]models.Message, error) {
	if _, err := s.db.Conversation(ctx, conversationID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return s.db.Messages(ctx, conversationID)
}

// DeleteMessage hard-deletes a message on behalf of userID, who must be its
// sender.
func (s *MessageService) DeleteMessage(ctx context.Context, conversationID, messageID, userID string) error {
	userID = models.NormalizeUserID(userID)
	if userID == "" {
		return ErrMissingUser
	}

	msg, err := s.db.GetMessage(ctx, conversationID, messageID)
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if models.NormalizeUserID(msg.SenderID) != userID {
		return ErrForbidden
	}

	if err := s.db.DeleteMessage(ctx, conversationID, messageID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	metrics.MessagesDeleted.Inc()

	s.logger.Info().Str("conversation", conversationID).Str("message", messageID).Msg("message deleted")
	return nil
}
