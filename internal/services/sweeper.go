package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/koinonia/teamchat/internal/docstore"
	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/metrics"
)

// PresenceSweeper removes presence records whose owner stopped refreshing
// them, so a crashed client cannot suppress notifications forever.
// It runs as a background goroutine.
type PresenceSweeper struct {
	db       *docstore.Store
	interval time.Duration
	ttl      time.Duration
	stopChan chan struct{}
	done     chan struct{}
	logger   zerolog.Logger
}

// NewPresenceSweeper creates a sweeper.
//   - interval: how often to look for stale records
//   - ttl: how old a record may get before it is removed
func NewPresenceSweeper(db *docstore.Store, interval, ttl time.Duration) *PresenceSweeper {
	return &PresenceSweeper{
		db:       db,
		interval: interval,
		ttl:      ttl,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logging.Component("sweeper"),
	}
}

// Start runs the sweep loop until Stop. Call it with 'go'.
func (s *PresenceSweeper) Start() {
	defer close(s.done)
	s.logger.Info().Dur("interval", s.interval).Dur("ttl", s.ttl).Msg("presence sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopChan:
			s.logger.Info().Msg("presence sweeper stopped")
			return
		}
	}
}

// Stop shuts the loop down and waits for it to exit.
func (s *PresenceSweeper) Stop() {
	close(s.stopChan)
	<-s.done
}

// Sweep removes every record older than the TTL and returns how many went.
func (s *PresenceSweeper) Sweep(ctx context.Context) int {
	threshold := time.Now().UTC().Add(-s.ttl)

	stale, err := s.db.StalePresence(ctx, threshold)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list stale presence")
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	removed := 0
	for _, rec := range stale {
		if err := s.db.RemovePresence(ctx, rec.ConversationID, rec.UserID); err != nil {
			s.logger.Warn().Err(err).Str("conversation", rec.ConversationID).Str("user", rec.UserID).Msg("failed to remove stale presence")
			continue
		}
		removed++
	}
	metrics.PresenceSwept.Add(float64(removed))
	s.logger.Info().Int("removed", removed).Msg("stale presence swept")
	return removed
}
