package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/koinonia/teamchat/internal/chat"
)

// rowHeight converts terminal rows to the pixel units the scroll
// controller reasons in.
const rowHeight = 20.0

// terminalView is a window of rows over the merged message list.
type terminalView struct {
	mu     sync.Mutex
	window int
	top    int
	pinned bool
}

func newTerminalView(window int) *terminalView {
	if window <= 0 {
		window = 20
	}
	return &terminalView{window: window, pinned: true}
}

// Scroll implements chat.Viewport.
func (v *terminalView) Scroll(cmd chat.ScrollCommand) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch cmd.Kind {
	case chat.ScrollToEnd:
		v.pinned = true
	case chat.ScrollToIndex:
		v.pinned = false
		v.top = cmd.Index - v.window/2
		if v.top < 0 {
			v.top = 0
		}
	}
}

// move shifts the window by delta rows and returns the resulting geometry
// for the scroll controller.
func (v *terminalView) move(delta, count int) (offset, viewport, content float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	top := v.topLocked(count) + delta
	if max := count - v.window; top > max {
		top = max
	}
	if top < 0 {
		top = 0
	}
	v.top = top
	v.pinned = top+v.window >= count

	return float64(top) * rowHeight, float64(v.window) * rowHeight, float64(count) * rowHeight
}

// bounds returns the visible [from, to) range for count messages.
func (v *terminalView) bounds(count int) (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	from := v.topLocked(count)
	to := from + v.window
	if to > count {
		to = count
	}
	return from, to
}

func (v *terminalView) topLocked(count int) int {
	if v.pinned {
		if count > v.window {
			return count - v.window
		}
		return 0
	}
	if v.top > count {
		return count
	}
	return v.top
}

// screen is everything needed to draw one frame.
type screen struct {
	Title     string
	LocalUser string
	Messages  []chat.Message
	From, To  int
	State     chat.ConversationViewState
	Highlight string
	StreamErr error
	Notice    string
	Now       time.Time
}

func render(w io.Writer, s screen) {
	var b strings.Builder

	fmt.Fprintf(&b, "== %s ==\n", s.Title)
	if s.From > 0 {
		fmt.Fprintf(&b, "   ... %d earlier\n", s.From)
	}
	if len(s.Messages) == 0 {
		b.WriteString("   (no messages yet)\n")
	}
	for i := s.From; i < s.To && i < len(s.Messages); i++ {
		writeMessage(&b, i+1, s.Messages[i], s)
	}
	if s.To < len(s.Messages) {
		fmt.Fprintf(&b, "   ... %d newer\n", len(s.Messages)-s.To)
	}

	if banner := s.State.PendingBannerMessage; banner != nil {
		fmt.Fprintf(&b, "-- new message from %s: %q (/bottom to read) --\n", banner.SenderName, preview(banner.Text, 40))
	}
	if s.StreamErr != nil {
		fmt.Fprintf(&b, "!! live updates stopped: %v\n", s.StreamErr)
	}
	if s.Notice != "" {
		fmt.Fprintf(&b, "!! %s\n", s.Notice)
	}
	b.WriteString("> ")

	io.WriteString(w, b.String())
}

func writeMessage(b *strings.Builder, n int, m chat.Message, s screen) {
	marker := "  "
	if m.ID == s.Highlight {
		marker = "=>"
	}

	when := humanize.RelTime(m.CreatedAt, s.Now, "ago", "from now")
	if m.Provisional {
		when = "sending..."
	}

	name := m.SenderName
	if m.SenderID == s.LocalUser {
		name = "you"
	}

	fmt.Fprintf(b, "%s[%d] %s (%s)\n", marker, n, name, when)
	if m.ReplyTo != nil {
		fmt.Fprintf(b, "      | %s: %s\n", m.ReplyTo.SenderName, preview(m.ReplyTo.Text, 60))
	}
	for _, line := range strings.Split(m.Text, "\n") {
		fmt.Fprintf(b, "      %s\n", line)
	}
}

func preview(text string, max int) string {
	r := []rune(strings.ReplaceAll(text, "\n", " "))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max-1]) + "…"
}
