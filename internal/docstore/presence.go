package docstore

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/koinonia/teamchat/internal/models"
)

// UpsertPresence records that a user is viewing a conversation.
func (s *Store) UpsertPresence(ctx context.Context, rec models.PresenceRecord) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	rec.UserID = models.NormalizeUserID(rec.UserID)
	if rec.LastUpdatedAt.IsZero() {
		rec.LastUpdatedAt = s.now().UTC()
	}
	return s.putJSON(presenceKey(rec.ConversationID, rec.UserID), rec)
}

// RemovePresence clears a presence record. Missing records are ignored.
func (s *Store) RemovePresence(ctx context.Context, conversationID, userID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.Delete(presenceKey(conversationID, models.NormalizeUserID(userID)), pebble.Sync)
}

// ListPresence returns every presence record of a conversation, fresh or not.
func (s *Store) ListPresence(ctx context.Context, conversationID string) ([]models.PresenceRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	recs, err := scanJSON[models.PresenceRecord](s, presencePrefix(conversationID))
	if recs == nil {
		recs = []models.PresenceRecord{}
	}
	return recs, err
}

// StalePresence returns records across all conversations last updated
// before threshold.
func (s *Store) StalePresence(ctx context.Context, threshold time.Time) ([]models.PresenceRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	all, err := scanJSON[models.PresenceRecord](s, presencePrefix(""))
	if err != nil {
		return nil, err
	}
	var stale []models.PresenceRecord
	for _, r := range all {
		if r.LastUpdatedAt.Before(threshold) {
			stale = append(stale, r)
		}
	}
	return stale, nil
}
