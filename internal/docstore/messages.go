package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/koinonia/teamchat/internal/models"
)

// AddMessage stores a message document under the conversation and returns
// its generated id. The timestamp is assigned here.
func (s *Store) AddMessage(ctx context.Context, conversationID string, msg models.NewMessage) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")

	s.mu.Lock()
	doc := models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		Text:           msg.Text,
		CreatedAt:      s.nextTimestamp(),
		ReplyTo:        msg.ReplyTo,
	}
	key := messageKey(conversationID, doc.CreatedAt, id)
	data, err := json.Marshal(doc)
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	b := s.db.NewBatch()
	b.Set(key, data, nil)
	b.Set(messageIndexKey(conversationID, id), key, nil)
	err = b.Commit(pebble.Sync)
	b.Close()
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to store message: %w", err)
	}

	s.logger.Debug().Str("conversation", conversationID).Str("message", id).Msg("message stored")
	s.notify(conversationID)
	return id, nil
}

// GetMessage fetches one message.
func (s *Store) GetMessage(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	if err := s.check(ctx); err != nil {
		return models.Message{}, err
	}

	key, closer, err := s.db.Get(messageIndexKey(conversationID, messageID))
	if err == pebble.ErrNotFound {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgKey := append([]byte(nil), key...)
	closer.Close()

	var msg models.Message
	if err := s.getJSON(msgKey, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// DeleteMessage hard-deletes a message. Replies keep their snapshot of it.
func (s *Store) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	idxKey := messageIndexKey(conversationID, messageID)
	key, closer, err := s.db.Get(idxKey)
	if err == pebble.ErrNotFound {
		s.mu.Unlock()
		return ErrNotFound
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	msgKey := append([]byte(nil), key...)
	closer.Close()

	b := s.db.NewBatch()
	b.Delete(msgKey, nil)
	b.Delete(idxKey, nil)
	err = b.Commit(pebble.Sync)
	b.Close()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	s.notify(conversationID)
	return nil
}

// Messages returns every message of the conversation in ascending
// timestamp order.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	msgs, err := scanJSON[models.Message](s, messagePrefix(conversationID))
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}
