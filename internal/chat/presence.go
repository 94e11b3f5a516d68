package chat

import (
	"context"
	"time"

	"github.com/koinonia/teamchat/internal/models"
)

// DefaultPresenceTTL is how long a presence record counts as active when it
// has not been refreshed.
const DefaultPresenceTTL = 2 * time.Minute

// PresenceStore persists presence records.
type PresenceStore interface {
	UpsertPresence(ctx context.Context, rec models.PresenceRecord) error
	RemovePresence(ctx context.Context, conversationID, userID string) error
	ListPresence(ctx context.Context, conversationID string) ([]models.PresenceRecord, error)
}

// PresenceTracker records which users are currently viewing a conversation.
// It is best-effort: wrong answers only change notification volume.
type PresenceTracker struct {
	store PresenceStore
	ttl   time.Duration
	now   func() time.Time
}

// NewPresenceTracker creates a tracker over store. A non-positive ttl
// selects DefaultPresenceTTL.
func NewPresenceTracker(store PresenceStore, ttl time.Duration) *PresenceTracker {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &PresenceTracker{store: store, ttl: ttl, now: time.Now}
}

// TTL is the freshness window of presence records.
func (t *PresenceTracker) TTL() time.Duration { return t.ttl }

// Enter marks userID as viewing conversationID.
func (t *PresenceTracker) Enter(ctx context.Context, conversationID, userID string) error {
	return t.store.UpsertPresence(ctx, models.PresenceRecord{
		UserID:         models.NormalizeUserID(userID),
		ConversationID: conversationID,
		LastUpdatedAt:  t.now().UTC(),
	})
}

// Touch refreshes the record while the user stays on the screen.
func (t *PresenceTracker) Touch(ctx context.Context, conversationID, userID string) error {
	return t.Enter(ctx, conversationID, userID)
}

// Leave clears the user's record.
func (t *PresenceTracker) Leave(ctx context.Context, conversationID, userID string) error {
	return t.store.RemovePresence(ctx, conversationID, models.NormalizeUserID(userID))
}

// ActiveViewers returns the users with a fresh record for conversationID.
func (t *PresenceTracker) ActiveViewers(ctx context.Context, conversationID string) (map[string]struct{}, error) {
	records, err := t.store.ListPresence(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	cutoff := t.now().Add(-t.ttl)
	active := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.LastUpdatedAt.Before(cutoff) {
			continue
		}
		active[models.NormalizeUserID(r.UserID)] = struct{}{}
	}
	return active, nil
}
