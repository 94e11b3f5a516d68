package chat

import (
	"context"
	"fmt"
	"sort"

	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/models"
)

const (
	// DefaultFanoutBatchSize matches the remote datastore's "in" query limit.
	DefaultFanoutBatchSize = 10

	maxPushBodyRunes = 120
)

// Directory resolves conversation metadata, members, push addresses and
// unread counters.
type Directory interface {
	Conversation(ctx context.Context, conversationID string) (models.Conversation, error)
	Members(ctx context.Context, conversationID string) ([]models.Member, error)
	PushTokens(ctx context.Context, userIDs []string) ([]models.PushToken, error)
	IncrementUnread(ctx context.Context, conversationID, userID string) error
}

// Pusher dispatches one push notification request.
type Pusher interface {
	Send(ctx context.Context, msg models.PushMessage) error
}

// ViewerSource reports who is currently viewing a conversation.
type ViewerSource interface {
	ActiveViewers(ctx context.Context, conversationID string) (map[string]struct{}, error)
}

// FanoutReport summarizes one Notify call. Failures are counted, never returned.
type FanoutReport struct {
	Recipients     []string
	Pushed         int
	PushFailures   int
	LookupFailures int
	UnreadFailures int
}

// NotificationFanout alerts conversation members who are not viewing the
// thread after a durable send. It is best-effort and never affects the send.
type NotificationFanout struct {
	directory Directory
	viewers   ViewerSource
	pusher    Pusher
	batchSize int
}

// NewNotificationFanout wires a fanout. viewers may be nil, in which case
// nobody is considered active. A non-positive batchSize selects
// DefaultFanoutBatchSize.
func NewNotificationFanout(directory Directory, viewers ViewerSource, pusher Pusher, batchSize int) *NotificationFanout {
	if batchSize <= 0 {
		batchSize = DefaultFanoutBatchSize
	}
	return &NotificationFanout{
		directory: directory,
		viewers:   viewers,
		pusher:    pusher,
		batchSize: batchSize,
	}
}

// Notify sends pushes and bumps unread counters for msg's recipients.
func (f *NotificationFanout) Notify(ctx context.Context, msg Message) FanoutReport {
	logger := logging.Component("fanout").With().
		Str("conversation", msg.ConversationID).
		Str("message", msg.ID).
		Logger()

	var report FanoutReport

	members, err := f.directory.Members(ctx, msg.ConversationID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch members")
		report.LookupFailures++
		return report
	}

	var active map[string]struct{}
	if f.viewers != nil {
		active, err = f.viewers.ActiveViewers(ctx, msg.ConversationID)
		if err != nil {
			// notify everyone rather than nobody
			logger.Warn().Err(err).Msg("failed to read presence")
			active = nil
		}
	}

	report.Recipients = Recipients(members, msg.SenderID, active)
	if len(report.Recipients) == 0 {
		logger.Debug().Msg("no recipients")
		return report
	}

	title := "New message"
	if conv, err := f.directory.Conversation(ctx, msg.ConversationID); err != nil {
		logger.Warn().Err(err).Msg("failed to fetch conversation name")
	} else if conv.Name != "" {
		title = conv.Name
	}
	body := truncateRunes(fmt.Sprintf("%s: %s", msg.SenderName, msg.Text), maxPushBodyRunes)

	for start := 0; start < len(report.Recipients); start += f.batchSize {
		end := start + f.batchSize
		if end > len(report.Recipients) {
			end = len(report.Recipients)
		}
		batch := report.Recipients[start:end]

		tokens, err := f.directory.PushTokens(ctx, batch)
		if err != nil {
			logger.Error().Err(err).Int("batch_start", start).Msg("push token lookup failed")
			report.LookupFailures++
			continue
		}

		for _, tok := range tokens {
			if tok.Token == "" {
				continue
			}
			err := f.pusher.Send(ctx, models.PushMessage{
				To:    []string{tok.Token},
				Title: title,
				Body:  body,
				Data: map[string]string{
					"conversationId": msg.ConversationID,
					"messageId":      msg.ID,
				},
			})
			if err != nil {
				logger.Error().Err(err).Str("user", tok.UserID).Msg("push dispatch failed")
				report.PushFailures++
				continue
			}
			report.Pushed++
		}
	}

	for _, userID := range report.Recipients {
		if err := f.directory.IncrementUnread(ctx, msg.ConversationID, userID); err != nil {
			logger.Error().Err(err).Str("user", userID).Msg("unread increment failed")
			report.UnreadFailures++
		}
	}

	logger.Info().
		Int("recipients", len(report.Recipients)).
		Int("pushed", report.Pushed).
		Int("failures", report.PushFailures+report.LookupFailures+report.UnreadFailures).
		Msg("fanout complete")
	return report
}

// Recipients is members minus the sender minus active viewers, normalized,
// de-duplicated and sorted.
func Recipients(members []models.Member, senderID string, active map[string]struct{}) []string {
	sender := models.NormalizeUserID(senderID)
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		id := models.NormalizeUserID(m.UserID)
		if id == "" || id == sender {
			continue
		}
		if _, viewing := active[id]; viewing {
			continue
		}
		set[id] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
