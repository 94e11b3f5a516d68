package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/models"
)

// DefaultSendTimeout bounds the remote persist call of a send. A send that
// does not resolve in time is rolled back like any other failure.
const DefaultSendTimeout = 15 * time.Second

// ProvisionalIDPrefix marks locally generated message ids.
const ProvisionalIDPrefix = "local-"

// ErrSendTimeout is wrapped by a SendError when the persist call timed out.
var ErrSendTimeout = errors.New("send timed out")

// Persister writes a message document and returns its generated id.
type Persister interface {
	AddMessage(ctx context.Context, conversationID string, msg models.NewMessage) (string, error)
}

// Notifier runs after a send became durable.
type Notifier interface {
	Notify(ctx context.Context, msg Message) FanoutReport
}

// SendError is handed to the failure hook when a send was rolled back.
// Text is the message the user typed, which is not put back in the input.
type SendError struct {
	ProvisionalID string
	Text          string
	Err           error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("message not sent: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// PipelineHooks are the UI-facing callbacks of the send pipeline. Any may be nil.
type PipelineHooks struct {
	// OnInputCleared runs right after the optimistic insert
	OnInputCleared func()

	// OnSendFailed runs exactly once per rolled back send
	OnSendFailed func(err *SendError)

	// OnSent runs once the message is durable
	OnSent func(msg Message)
}

// PipelineConfig wires a SendPipeline.
type PipelineConfig struct {
	ConversationID string
	Store          *MessageStore
	Persister      Persister

	// Notifier may be nil when another component fans out
	Notifier Notifier

	// Identity returns the local sender or nil when unknown
	Identity func() *models.Identity

	Timeout time.Duration
	Hooks   PipelineHooks
}

// SendPipeline turns outgoing text into a durable message with an
// optimistic local entry and rollback on failure.
//
// Each Send is independent: rapid sends produce separate provisional entries,
// reconciled in the order their persist calls complete.
type SendPipeline struct {
	cfg   PipelineConfig
	now   func() time.Time
	newID func() string

	wg sync.WaitGroup
}

// NewSendPipeline creates a pipeline from cfg.
func NewSendPipeline(cfg PipelineConfig) *SendPipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSendTimeout
	}
	return &SendPipeline{
		cfg: cfg,
		now: time.Now,
		newID: func() string {
			return ProvisionalIDPrefix + uuid.NewString()
		},
	}
}

// PendingSend follows one send through persistence and fanout.
type PendingSend struct {
	ProvisionalID string

	mu        sync.Mutex
	durableID string
	err       error
	report    FanoutReport

	done       chan struct{}
	fanoutDone chan struct{}
}

// Wait blocks until the send is durable or rolled back and returns the
// durable id or the SendError.
func (p *PendingSend) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.durableID, p.err
}

// WaitFanout blocks until the notification fanout finished. It returns a
// zero report for failed sends or when no notifier is configured.
func (p *PendingSend) WaitFanout(ctx context.Context) (FanoutReport, error) {
	select {
	case <-p.fanoutDone:
	case <-ctx.Done():
		return FanoutReport{}, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.report, nil
}

// Send validates text, inserts a provisional message, clears the input and
// persists in the background. It returns nil when the text is blank or no
// local identity is known; that is not an error.
//
// The persist call is detached from ctx cancellation so that leaving the
// screen does not abort a send the user already made; it is bounded by the
// pipeline timeout instead.
func (p *SendPipeline) Send(ctx context.Context, text string, replyTo *models.ReplyRef) *PendingSend {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	var sender *models.Identity
	if p.cfg.Identity != nil {
		sender = p.cfg.Identity()
	}
	if sender == nil || sender.UserID == "" {
		return nil
	}

	msg := Message{
		ID:             p.newID(),
		ConversationID: p.cfg.ConversationID,
		SenderID:       sender.UserID,
		SenderName:     sender.DisplayName,
		Text:           trimmed,
		CreatedAt:      p.now().UTC(),
		Provisional:    true,
	}
	if replyTo != nil {
		rt := *replyTo
		msg.ReplyTo = &rt
	}

	p.cfg.Store.InsertProvisional(msg)
	if p.cfg.Hooks.OnInputCleared != nil {
		p.cfg.Hooks.OnInputCleared()
	}

	pending := &PendingSend{
		ProvisionalID: msg.ID,
		done:          make(chan struct{}),
		fanoutDone:    make(chan struct{}),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.persist(context.WithoutCancel(ctx), msg, pending)
	}()
	return pending
}

func (p *SendPipeline) persist(ctx context.Context, msg Message, pending *PendingSend) {
	defer close(pending.fanoutDone)

	logger := logging.Component("send").With().
		Str("conversation", msg.ConversationID).
		Str("provisional_id", msg.ID).
		Logger()

	pctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	durableID, err := p.cfg.Persister.AddMessage(pctx, msg.ConversationID, models.NewMessage{
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		ReplyTo:    msg.ReplyTo,
	})
	if err == nil && durableID == "" {
		err = errors.New("datastore returned an empty id")
	}
	if err != nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrSendTimeout, p.cfg.Timeout, err)
	}
	cancel()

	if err != nil {
		p.cfg.Store.RollbackProvisional(msg.ID)
		serr := &SendError{ProvisionalID: msg.ID, Text: msg.Text, Err: err}

		pending.mu.Lock()
		pending.err = serr
		pending.mu.Unlock()
		close(pending.done)

		logger.Warn().Err(err).Msg("send failed, provisional message rolled back")
		if p.cfg.Hooks.OnSendFailed != nil {
			p.cfg.Hooks.OnSendFailed(serr)
		}
		return
	}

	p.cfg.Store.ReconcileProvisional(msg.ID, durableID)
	msg.ID = durableID
	msg.Provisional = false

	pending.mu.Lock()
	pending.durableID = durableID
	pending.mu.Unlock()
	close(pending.done)

	logger.Debug().Str("message", durableID).Msg("message persisted")
	if p.cfg.Hooks.OnSent != nil {
		p.cfg.Hooks.OnSent(msg)
	}

	if p.cfg.Notifier != nil {
		report := p.cfg.Notifier.Notify(ctx, msg)
		pending.mu.Lock()
		pending.report = report
		pending.mu.Unlock()
	}
}

// Drain waits for outstanding sends, or until ctx is done.
func (p *SendPipeline) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
