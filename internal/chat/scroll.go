package chat

import (
	"sync"
	"time"
)

const (
	// DefaultScrollThreshold is the pixel distance from the end of the list
	// still treated as "at bottom". It absorbs momentum and rounding.
	DefaultScrollThreshold = 40.0

	// DefaultHighlightDuration is how long a jumped-to reply target stays highlighted.
	DefaultHighlightDuration = 1500 * time.Millisecond
)

// ScrollKind is the kind of scroll effect requested from the view.
type ScrollKind int

const (
	// ScrollToEnd scrolls to the newest message.
	ScrollToEnd ScrollKind = iota
	// ScrollToIndex scrolls to a message position and highlights it.
	ScrollToIndex
)

// ScrollCommand is a scroll effect for the view to perform.
type ScrollCommand struct {
	Kind     ScrollKind
	Index    int
	Animated bool

	// HighlightID is the message to highlight after a ScrollToIndex
	HighlightID string
}

// Viewport performs scroll commands. The terminal client and tests
// implement it; nil means commands are dropped.
type Viewport interface {
	Scroll(cmd ScrollCommand)
}

// ViewportFunc adapts a function to Viewport.
type ViewportFunc func(cmd ScrollCommand)

// Scroll calls f(cmd).
func (f ViewportFunc) Scroll(cmd ScrollCommand) { f(cmd) }

// ConversationViewState is the per-session view state of a conversation.
type ConversationViewState struct {
	ScrollIsAtBottom     bool
	PendingBannerMessage *Message
}

// BannerVisible reports whether the "new message" banner is shown.
func (s ConversationViewState) BannerVisible() bool {
	return s.PendingBannerMessage != nil
}

// ScrollPositionController tracks whether the viewport rests at the bottom
// of the list and decides between auto-scrolling and showing a banner.
//
// States are AT_BOTTOM and SCROLLED_UP; the banner overlay only exists in
// SCROLLED_UP and only for messages from other senders.
type ScrollPositionController struct {
	mu sync.Mutex

	threshold         float64
	highlightDuration time.Duration
	viewport          Viewport
	now               func() time.Time

	atBottom bool
	banner   *Message
	latestID string
	seen     map[string]struct{}

	highlightID    string
	highlightUntil time.Time
}

// NewScrollPositionController creates a controller that starts at the bottom.
// A non-positive threshold selects DefaultScrollThreshold.
func NewScrollPositionController(threshold float64, viewport Viewport) *ScrollPositionController {
	if threshold <= 0 {
		threshold = DefaultScrollThreshold
	}
	return &ScrollPositionController{
		threshold:         threshold,
		highlightDuration: DefaultHighlightDuration,
		viewport:          viewport,
		now:               time.Now,
		atBottom:          true,
		seen:              make(map[string]struct{}),
	}
}

// OnScroll classifies the viewport after a scroll event. Entering the bottom
// clears the banner and marks the most recent message as seen.
func (c *ScrollPositionController) OnScroll(offset, viewportHeight, contentHeight float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	atBottom := contentHeight-(offset+viewportHeight) <= c.threshold
	if atBottom && !c.atBottom {
		c.banner = nil
		if c.latestID != "" {
			c.seen[c.latestID] = struct{}{}
		}
	}
	c.atBottom = atBottom
}

// OnNewDurableMessageArrived reacts to a message newly present in the stream.
func (c *ScrollPositionController) OnNewDurableMessageArrived(msg Message, isFromLocalUser bool) {
	c.mu.Lock()
	c.latestID = msg.ID

	if c.atBottom {
		c.seen[msg.ID] = struct{}{}
		c.mu.Unlock()
		c.emit(ScrollCommand{Kind: ScrollToEnd, Animated: true})
		return
	}

	if !isFromLocalUser {
		if _, seen := c.seen[msg.ID]; !seen {
			m := msg
			c.banner = &m
		}
	}
	c.mu.Unlock()
}

// OnExplicitScrollToBottomRequested scrolls to the end, as when the banner
// or a "jump to latest" button is tapped, or after a local send.
func (c *ScrollPositionController) OnExplicitScrollToBottomRequested() {
	c.mu.Lock()
	if c.banner != nil {
		c.seen[c.banner.ID] = struct{}{}
		c.banner = nil
	}
	if c.latestID != "" {
		c.seen[c.latestID] = struct{}{}
	}
	c.atBottom = true
	c.mu.Unlock()

	c.emit(ScrollCommand{Kind: ScrollToEnd, Animated: true})
}

// ScrollToMessage jumps to the message at index and highlights it for the
// highlight duration.
func (c *ScrollPositionController) ScrollToMessage(id string, index int) {
	c.mu.Lock()
	c.highlightID = id
	c.highlightUntil = c.now().Add(c.highlightDuration)
	c.mu.Unlock()

	c.emit(ScrollCommand{Kind: ScrollToIndex, Index: index, Animated: true, HighlightID: id})
}

// Highlighted returns the id currently highlighted, if the highlight has not expired.
func (c *ScrollPositionController) Highlighted() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.highlightID == "" || !c.now().Before(c.highlightUntil) {
		return "", false
	}
	return c.highlightID, true
}

// MarkSeen records ids as acknowledged by this session, e.g. the history
// present when the conversation was opened.
func (c *ScrollPositionController) MarkSeen(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		c.seen[id] = struct{}{}
		c.latestID = id
	}
}

// Seen reports whether id was acknowledged during this session.
func (c *ScrollPositionController) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[id]
	return ok
}

// ScrollToEndNow asks the view to jump to the end without touching state.
// Used for the deferred initial scroll.
func (c *ScrollPositionController) ScrollToEndNow() {
	c.emit(ScrollCommand{Kind: ScrollToEnd, Animated: false})
}

// State returns a copy of the view state.
func (c *ScrollPositionController) State() ConversationViewState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := ConversationViewState{ScrollIsAtBottom: c.atBottom}
	if c.banner != nil {
		b := *c.banner
		st.PendingBannerMessage = &b
	}
	return st
}

func (c *ScrollPositionController) emit(cmd ScrollCommand) {
	if c.viewport != nil {
		c.viewport.Scroll(cmd)
	}
}
