package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/koinonia/teamchat/internal/chat"
	"github.com/koinonia/teamchat/internal/config"
	"github.com/koinonia/teamchat/internal/remote"
)

const clearScreen = "\033[H\033[2J"

const helpText = `commands:
  <text>              send a message
  /reply <n> <text>   reply to message n
  /delete <n>         delete message n
  /jump <n>           jump to the message n replies to
  /up, /down          scroll
  /bottom             jump to the latest message
  /away, /back        leave or return to the conversation
  /quit               close the conversation`

// chatUI redraws the conversation whenever the session changes.
type chatUI struct {
	out     io.Writer
	title   string
	view    *terminalView
	session *chat.Session

	mu     sync.Mutex
	notice string
}

func (ui *chatUI) setNotice(format string, args ...interface{}) {
	ui.mu.Lock()
	ui.notice = fmt.Sprintf(format, args...)
	ui.mu.Unlock()
	ui.redraw()
}

func (ui *chatUI) redraw() {
	if ui.session == nil {
		return
	}
	msgs := ui.session.Messages()
	from, to := ui.view.bounds(len(msgs))
	highlight, _ := ui.session.Highlighted()

	local := ""
	if id := ui.session.Identity(); id != nil {
		local = id.UserID
	}

	ui.mu.Lock()
	defer ui.mu.Unlock()
	io.WriteString(ui.out, clearScreen)
	render(ui.out, screen{
		Title:     ui.title,
		LocalUser: local,
		Messages:  msgs,
		From:      from,
		To:        to,
		State:     ui.session.ViewState(),
		Highlight: highlight,
		StreamErr: ui.session.StreamError(),
		Notice:    ui.notice,
		Now:       time.Now(),
	})
}

func runChat(ctx context.Context, cfg *config.ClientConfig, ids chat.IdentitySource, conversationID string, in io.Reader, out io.Writer) error {
	client := remote.NewClient(cfg.Server.URL)

	conv, err := client.Conversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}
	id, err := ids.Load(ctx)
	if err != nil {
		return fmt.Errorf("not signed in: %w", err)
	}

	presence := chat.NewPresenceTracker(client, cfg.Chat.PresenceTTL)
	ui := &chatUI{out: out, title: conv.Name, view: newTerminalView(cfg.Chat.HistoryLines)}

	session := chat.NewSession(chat.SessionConfig{
		ConversationID:  conversationID,
		Identity:        ids,
		Stream:          client.Stream(id.UserID),
		Persister:       client,
		Deleter:         client,
		Presence:        presence,
		Unread:          client,
		Notifier:        chat.NewNotificationFanout(client, presence, client, cfg.Chat.FanoutBatchSize),
		Viewport:        ui.view,
		ScrollThreshold: cfg.Chat.ScrollThreshold,
		SendTimeout:     cfg.Chat.SendTimeout,
		Hooks: chat.SessionHooks{
			OnChange: ui.redraw,
			OnAlert: func(err error) {
				var se *chat.SendError
				if errors.As(err, &se) {
					ui.setNotice("%v (you wrote: %q)", se, preview(se.Text, 60))
					return
				}
				ui.setNotice("%v", err)
			},
			OnStreamError: func(error) { ui.redraw() },
		},
	})
	ui.session = session

	if err := session.Open(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer session.Close()

	ui.redraw()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		quit := handleInput(ctx, ui, strings.TrimSpace(scanner.Text()))
		if quit {
			break
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Chat.SendTimeout)
	defer cancel()
	if err := session.Drain(drainCtx); err != nil {
		fmt.Fprintf(out, "\nsome messages may not have been sent: %v\n", err)
	}
	return scanner.Err()
}

// handleInput runs one line of input and reports whether to quit.
func handleInput(ctx context.Context, ui *chatUI, line string) bool {
	s := ui.session
	ui.mu.Lock()
	ui.notice = ""
	ui.mu.Unlock()

	if line == "" {
		ui.redraw()
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if s.Send(ctx, line, "") == nil {
			ui.setNotice("message not sent")
		}
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/q":
		return true
	case "/help":
		ui.setNotice("%s", helpText)
	case "/reply":
		nStr, text, _ := strings.Cut(rest, " ")
		target, err := messageAt(s, nStr)
		if err != nil {
			ui.setNotice("%v", err)
			return false
		}
		if s.Send(ctx, strings.TrimSpace(text), target.ID) == nil {
			ui.setNotice("reply not sent")
		}
	case "/delete":
		target, err := messageAt(s, rest)
		if err != nil {
			ui.setNotice("%v", err)
			return false
		}
		if err := s.Delete(ctx, target.ID); err != nil {
			ui.setNotice("delete failed: %v", err)
		}
	case "/jump":
		msg, err := messageAt(s, rest)
		if err != nil {
			ui.setNotice("%v", err)
			return false
		}
		if msg.ReplyTo == nil {
			ui.setNotice("message %s is not a reply", rest)
			return false
		}
		if err := s.JumpToReply(msg.ReplyTo.MessageID); err != nil {
			ui.setNotice("original message is gone")
			return false
		}
		// the jump moved the view; the controller has to see where it landed
		s.OnScroll(ui.view.move(0, len(s.Messages())))
		ui.redraw()
	case "/up":
		s.OnScroll(ui.view.move(-ui.view.window/2, len(s.Messages())))
		ui.redraw()
	case "/down":
		s.OnScroll(ui.view.move(ui.view.window/2, len(s.Messages())))
		ui.redraw()
	case "/bottom":
		s.ScrollToBottom()
	case "/away":
		s.Background(ctx)
		ui.setNotice("away, notifications resume")
	case "/back":
		s.Foreground(ctx)
		ui.redraw()
	default:
		ui.setNotice("unknown command %s, try /help", cmd)
	}
	return false
}

func messageAt(s *chat.Session, arg string) (chat.Message, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return chat.Message{}, fmt.Errorf("expected a message number, got %q", arg)
	}
	msgs := s.Messages()
	if n < 1 || n > len(msgs) {
		return chat.Message{}, fmt.Errorf("no message %d", n)
	}
	return msgs[n-1], nil
}
