package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/models"
)

var (
	// ErrSessionOpen is returned by Open on a session already opened.
	ErrSessionOpen = errors.New("session already opened")

	// ErrSessionClosed is returned when using a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrMessageNotFound is returned for ids missing from the merged view.
	ErrMessageNotFound = errors.New("message not found")
)

// Subscription is a live snapshot stream. Close stops delivery.
type Subscription interface {
	Close() error
}

// Subscriber opens snapshot streams. onSnapshot receives the full ordered
// message list on every change; onError receives stream failures. Calls to
// the two callbacks are sequential for one subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string, onSnapshot func([]Message), onError func(error)) (Subscription, error)
}

// Deleter hard-deletes a message document.
type Deleter interface {
	DeleteMessage(ctx context.Context, conversationID, messageID, userID string) error
}

// UnreadResetter clears a user's unread counter when they open the thread.
type UnreadResetter interface {
	ResetUnread(ctx context.Context, conversationID, userID string) error
}

// IdentitySource supplies the locally cached user.
type IdentitySource interface {
	Load(ctx context.Context) (models.Identity, error)
}

// SessionHooks are optional UI callbacks.
type SessionHooks struct {
	// OnChange runs after the merged view or view state changed
	OnChange func()

	// OnAlert shows a blocking error, once per failed send
	OnAlert func(err error)

	// OnStreamError reports stream failures; the list stays as it was
	OnStreamError func(err error)

	// OnInputCleared clears the compose field and reply target
	OnInputCleared func()
}

// SessionConfig wires a Session.
type SessionConfig struct {
	ConversationID string

	Identity  IdentitySource
	Stream    Subscriber
	Persister Persister

	// Optional collaborators
	Deleter  Deleter
	Presence *PresenceTracker
	Unread   UnreadResetter
	Notifier Notifier
	Viewport Viewport

	ScrollThreshold    float64
	SendTimeout        time.Duration
	HeartbeatInterval  time.Duration
	InitialScrollDelay time.Duration

	Hooks SessionHooks
}

// Session is the explicit lifetime of one open conversation screen. It owns
// the message store, the scroll controller (including the seen set) and the
// send pipeline, and holds the stream subscription and presence record
// between Open and Close.
type Session struct {
	cfg      SessionConfig
	store    *MessageStore
	scroll   *ScrollPositionController
	pipeline *SendPipeline
	logger   zerolog.Logger

	mu          sync.Mutex
	opened      bool
	closed      bool
	identity    *models.Identity
	sub         Subscription
	cancel      context.CancelFunc
	foreground  bool
	initialized bool
	known       map[string]struct{}
	initTimer   *time.Timer
	streamErr   error

	heartbeatDone chan struct{}
	closeOnce     sync.Once
	closeErr      error
}

// NewSession creates a session. Nothing is acquired until Open.
func NewSession(cfg SessionConfig) *Session {
	if cfg.HeartbeatInterval <= 0 && cfg.Presence != nil {
		cfg.HeartbeatInterval = cfg.Presence.TTL() / 3
	}

	s := &Session{
		cfg:    cfg,
		store:  NewMessageStore(),
		logger: logging.Component("session").With().Str("conversation", cfg.ConversationID).Logger(),
		known:  make(map[string]struct{}),
	}
	s.scroll = NewScrollPositionController(cfg.ScrollThreshold, cfg.Viewport)
	s.pipeline = NewSendPipeline(PipelineConfig{
		ConversationID: cfg.ConversationID,
		Store:          s.store,
		Persister:      cfg.Persister,
		Notifier:       cfg.Notifier,
		Identity:       s.Identity,
		Timeout:        cfg.SendTimeout,
		Hooks: PipelineHooks{
			OnInputCleared: cfg.Hooks.OnInputCleared,
			OnSendFailed: func(err *SendError) {
				s.changed()
				if s.cfg.Hooks.OnAlert != nil {
					s.cfg.Hooks.OnAlert(err)
				}
			},
			OnSent: func(Message) { s.changed() },
		},
	})
	return s
}

// Open loads the local identity, subscribes to the conversation stream and
// registers presence. A missing identity does not fail Open; sends are then
// ignored. Callers should defer Close right after a successful Open.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.opened {
		s.mu.Unlock()
		return ErrSessionOpen
	}
	s.opened = true
	s.mu.Unlock()

	if s.cfg.Identity != nil {
		id, err := s.cfg.Identity.Load(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("no local identity, sending disabled")
		} else {
			id.UserID = models.NormalizeUserID(id.UserID)
			s.mu.Lock()
			s.identity = &id
			s.mu.Unlock()
		}
	}

	sctx, cancel := context.WithCancel(context.Background())
	sub, err := s.cfg.Stream.Subscribe(sctx, s.cfg.ConversationID, s.handleSnapshot, s.handleStreamError)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = sub.Close()
		return ErrSessionClosed
	}
	s.sub = sub
	s.cancel = cancel
	if s.cfg.Presence != nil && s.cfg.HeartbeatInterval > 0 {
		s.heartbeatDone = make(chan struct{})
		go s.heartbeat(sctx, s.heartbeatDone)
	}
	s.mu.Unlock()

	s.enterPresence(ctx)
	s.resetUnread(ctx)

	s.logger.Debug().Msg("session opened")
	return nil
}

// Close releases the subscription and presence record. It is safe to call
// more than once and on a session whose Open failed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		sub, cancel, timer, heartbeatDone := s.sub, s.cancel, s.initTimer, s.heartbeatDone
		s.sub, s.cancel, s.initTimer, s.heartbeatDone = nil, nil, nil, nil
		s.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		if cancel != nil {
			cancel()
		}
		if heartbeatDone != nil {
			<-heartbeatDone
		}
		if sub != nil {
			s.closeErr = sub.Close()
		}

		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		s.leavePresence(ctx)
		s.logger.Debug().Msg("session closed")
	})
	return s.closeErr
}

// Foreground re-registers presence when the app returns to the foreground.
func (s *Session) Foreground(ctx context.Context) {
	s.enterPresence(ctx)
	s.resetUnread(ctx)
}

// Background clears presence while the app is in the background.
func (s *Session) Background(ctx context.Context) {
	s.leavePresence(ctx)
}

// Send submits text, optionally as a reply to replyToID. It returns nil when
// the send was ignored (blank text, unknown sender, closed session, unknown
// reply target).
func (s *Session) Send(ctx context.Context, text, replyToID string) *PendingSend {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}

	var reply *models.ReplyRef
	if replyToID != "" {
		target, ok := s.store.Find(replyToID)
		if !ok {
			return nil
		}
		reply = target.AsReply()
	}

	pending := s.pipeline.Send(ctx, text, reply)
	if pending != nil {
		s.scroll.OnExplicitScrollToBottomRequested()
		s.changed()
	}
	return pending
}

// Delete removes a message remotely, then locally.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	if s.cfg.Deleter == nil {
		return errors.New("deletion not supported")
	}
	if _, ok := s.store.Find(messageID); !ok {
		return ErrMessageNotFound
	}
	userID := ""
	if id := s.Identity(); id != nil {
		userID = id.UserID
	}
	if err := s.cfg.Deleter.DeleteMessage(ctx, s.cfg.ConversationID, messageID, userID); err != nil {
		return err
	}
	s.store.RemoveMessage(messageID)
	s.changed()
	return nil
}

// JumpToReply scrolls to the message a reply points at and highlights it.
func (s *Session) JumpToReply(targetID string) error {
	idx := s.store.IndexOf(targetID)
	if idx < 0 {
		return ErrMessageNotFound
	}
	s.scroll.ScrollToMessage(targetID, idx)
	s.changed()
	return nil
}

// OnScroll forwards a scroll event from the view.
func (s *Session) OnScroll(offset, viewportHeight, contentHeight float64) {
	before := s.scroll.State()
	s.scroll.OnScroll(offset, viewportHeight, contentHeight)
	if after := s.scroll.State(); after.ScrollIsAtBottom != before.ScrollIsAtBottom || after.BannerVisible() != before.BannerVisible() {
		s.changed()
	}
}

// ScrollToBottom handles a tap on the banner or the jump-to-latest control.
func (s *Session) ScrollToBottom() {
	s.scroll.OnExplicitScrollToBottomRequested()
	s.changed()
}

// Messages returns the merged message view.
func (s *Session) Messages() []Message { return s.store.Messages() }

// ViewState returns the scroll and banner state.
func (s *Session) ViewState() ConversationViewState { return s.scroll.State() }

// Highlighted returns the highlighted reply target, if any.
func (s *Session) Highlighted() (string, bool) { return s.scroll.Highlighted() }

// StreamError is the last stream failure, if any.
func (s *Session) StreamError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamErr
}

// Identity is the local user, or nil when unknown.
func (s *Session) Identity() *models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// Drain waits for in-flight sends (including their fanout).
func (s *Session) Drain(ctx context.Context) error { return s.pipeline.Drain(ctx) }

func (s *Session) handleSnapshot(messages []Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	first := !s.initialized
	s.initialized = true
	prev := s.known
	s.known = make(map[string]struct{}, len(messages))
	for _, m := range messages {
		s.known[m.ID] = struct{}{}
	}
	s.streamErr = nil
	local := ""
	if s.identity != nil {
		local = s.identity.UserID
	}
	s.mu.Unlock()

	s.store.ApplySnapshot(messages)

	if first {
		ids := make([]string, len(messages))
		for i, m := range messages {
			ids[i] = m.ID
		}
		s.scroll.MarkSeen(ids...)
		s.scheduleInitialScroll()
	} else {
		for _, m := range messages {
			if _, ok := prev[m.ID]; ok {
				continue
			}
			fromLocal := local != "" && models.NormalizeUserID(m.SenderID) == local
			s.scroll.OnNewDurableMessageArrived(m, fromLocal)
		}
	}

	s.changed()
}

func (s *Session) handleStreamError(err error) {
	s.logger.Warn().Err(err).Msg("message stream failed, keeping last known messages")

	s.mu.Lock()
	s.streamErr = err
	s.mu.Unlock()

	if s.cfg.Hooks.OnStreamError != nil {
		s.cfg.Hooks.OnStreamError(err)
	}
}

func (s *Session) scheduleInitialScroll() {
	if s.cfg.InitialScrollDelay <= 0 {
		s.scroll.ScrollToEndNow()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.initTimer = time.AfterFunc(s.cfg.InitialScrollDelay, s.scroll.ScrollToEndNow)
}

func (s *Session) heartbeat(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			fg := s.foreground
			s.mu.Unlock()
			if fg {
				s.touchPresence(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) enterPresence(ctx context.Context) {
	id := s.Identity()
	if s.cfg.Presence == nil || id == nil {
		return
	}
	if err := s.cfg.Presence.Enter(ctx, s.cfg.ConversationID, id.UserID); err != nil {
		s.logger.Warn().Err(err).Msg("presence upsert failed")
		return
	}
	s.mu.Lock()
	closed := s.closed
	s.foreground = !closed
	s.mu.Unlock()

	// Close ran while the upsert was in flight
	if closed {
		if err := s.cfg.Presence.Leave(ctx, s.cfg.ConversationID, id.UserID); err != nil {
			s.logger.Warn().Err(err).Msg("presence removal failed")
		}
	}
}

func (s *Session) touchPresence(ctx context.Context) {
	id := s.Identity()
	if id == nil {
		return
	}
	if err := s.cfg.Presence.Touch(ctx, s.cfg.ConversationID, id.UserID); err != nil {
		s.logger.Debug().Err(err).Msg("presence heartbeat failed")
	}
}

func (s *Session) leavePresence(ctx context.Context) {
	s.mu.Lock()
	wasForeground := s.foreground
	s.foreground = false
	s.mu.Unlock()

	id := s.Identity()
	if s.cfg.Presence == nil || id == nil || !wasForeground {
		return
	}
	if err := s.cfg.Presence.Leave(ctx, s.cfg.ConversationID, id.UserID); err != nil {
		s.logger.Warn().Err(err).Msg("presence removal failed")
	}
}

func (s *Session) resetUnread(ctx context.Context) {
	id := s.Identity()
	if s.cfg.Unread == nil || id == nil {
		return
	}
	if err := s.cfg.Unread.ResetUnread(ctx, s.cfg.ConversationID, id.UserID); err != nil {
		s.logger.Debug().Err(err).Msg("unread reset failed")
	}
}

func (s *Session) changed() {
	if s.cfg.Hooks.OnChange != nil {
		s.cfg.Hooks.OnChange()
	}
}
