package docstore

import (
	"context"
	"errors"
	"strconv"

	"github.com/cockroachdb/pebble"

	"github.com/koinonia/teamchat/internal/models"
)

// PutConversation creates or replaces a conversation document.
func (s *Store) PutConversation(ctx context.Context, conv models.Conversation) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.putJSON(convKey(conv.ID), conv)
}

// Conversation fetches a conversation document.
func (s *Store) Conversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	if err := s.check(ctx); err != nil {
		return models.Conversation{}, err
	}
	var conv models.Conversation
	if err := s.getJSON(convKey(conversationID), &conv); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// ListConversations returns all conversations ordered by id.
func (s *Store) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	convs, err := scanJSON[models.Conversation](s, convPrefix())
	if convs == nil {
		convs = []models.Conversation{}
	}
	return convs, err
}

// AddMember upserts a member document.
func (s *Store) AddMember(ctx context.Context, m models.Member) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	m.UserID = models.NormalizeUserID(m.UserID)
	return s.putJSON(memberKey(m.ConversationID, m.UserID), m)
}

// RemoveMember deletes a member document. Removing a non-member is a no-op.
func (s *Store) RemoveMember(ctx context.Context, conversationID, userID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.Delete(memberKey(conversationID, models.NormalizeUserID(userID)), pebble.Sync)
}

// IsMember reports whether userID belongs to the conversation.
func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.exists(memberKey(conversationID, models.NormalizeUserID(userID)))
}

// Members returns the full member list of a conversation.
func (s *Store) Members(ctx context.Context, conversationID string) ([]models.Member, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	members, err := scanJSON[models.Member](s, memberPrefix(conversationID))
	if members == nil {
		members = []models.Member{}
	}
	return members, err
}

// PutPushToken registers the device token of a user, replacing any previous one.
func (s *Store) PutPushToken(ctx context.Context, tok models.PushToken) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	tok.UserID = models.NormalizeUserID(tok.UserID)
	if tok.UpdatedAt.IsZero() {
		tok.UpdatedAt = s.now().UTC()
	}
	return s.putJSON(tokenKey(tok.UserID), tok)
}

// PushTokens resolves the tokens of up to BatchLimit users. Users without a
// token are skipped.
func (s *Store) PushTokens(ctx context.Context, userIDs []string) ([]models.PushToken, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if len(userIDs) > s.batchLimit {
		return nil, ErrBatchTooLarge
	}

	tokens := make([]models.PushToken, 0, len(userIDs))
	for _, id := range userIDs {
		var tok models.PushToken
		err := s.getJSON(tokenKey(models.NormalizeUserID(id)), &tok)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// IncrementUnread adds one to the user's unread counter for the conversation.
func (s *Store) IncrementUnread(ctx context.Context, conversationID, userID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := unreadKey(conversationID, models.NormalizeUserID(userID))
	n, err := s.readCounter(key)
	if err != nil {
		return err
	}
	return s.db.Set(key, []byte(strconv.FormatInt(n+1, 10)), pebble.Sync)
}

// ResetUnread sets the counter back to zero.
func (s *Store) ResetUnread(ctx context.Context, conversationID, userID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(unreadKey(conversationID, models.NormalizeUserID(userID)), pebble.Sync)
}

// UnreadCount reads the user's unread counter.
func (s *Store) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return s.readCounter(unreadKey(conversationID, models.NormalizeUserID(userID)))
}

func (s *Store) readCounter(key []byte) (int64, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return strconv.ParseInt(string(data), 10, 64)
}
