package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrolledUp(c *ScrollPositionController) {
	// 1000px of content, 300px viewport, 200px down from the top
	c.OnScroll(200, 300, 1000)
}

func TestScroll_ThresholdClassification(t *testing.T) {
	c := NewScrollPositionController(40, nil)

	tests := []struct {
		name                     string
		offset, viewport, height float64
		atBottom                 bool
	}{
		{"exactly at end", 700, 300, 1000, true},
		{"within tolerance", 665, 300, 1000, true},
		{"on the threshold", 660, 300, 1000, true},
		{"just beyond tolerance", 659, 300, 1000, false},
		{"top of long list", 0, 300, 1000, false},
		{"content shorter than viewport", 0, 300, 100, true},
		{"overscroll bounce", 720, 300, 1000, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c.OnScroll(tc.offset, tc.viewport, tc.height)
			assert.Equal(t, tc.atBottom, c.State().ScrollIsAtBottom)
		})
	}
}

func TestScroll_AtBottomNeverShowsBanner(t *testing.T) {
	vp := &recordingViewport{}
	c := NewScrollPositionController(0, vp)

	c.OnNewDurableMessageArrived(msgAt("m1", "other", "hi", 1), false)
	c.OnNewDurableMessageArrived(msgAt("m2", "other", "again", 2), false)

	st := c.State()
	assert.True(t, st.ScrollIsAtBottom)
	assert.False(t, st.BannerVisible())

	cmds := vp.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, ScrollToEnd, cmds[0].Kind)
	assert.True(t, c.Seen("m2"))
}

func TestScroll_ScrolledUpShowsBannerForOthers(t *testing.T) {
	vp := &recordingViewport{}
	c := NewScrollPositionController(0, vp)
	scrolledUp(c)

	msg := msgAt("m1", "other", "hello there", 1)
	c.OnNewDurableMessageArrived(msg, false)

	st := c.State()
	assert.False(t, st.ScrollIsAtBottom)
	require.True(t, st.BannerVisible())
	assert.Equal(t, "m1", st.PendingBannerMessage.ID)
	assert.Equal(t, "hello there", st.PendingBannerMessage.Text)
	assert.Empty(t, vp.commands(), "no auto-scroll while reading history")
}

func TestScroll_OwnMessageNeverShowsBanner(t *testing.T) {
	c := NewScrollPositionController(0, nil)
	scrolledUp(c)

	c.OnNewDurableMessageArrived(msgAt("m1", "me", "echo", 1), true)

	assert.False(t, c.State().BannerVisible())
}

func TestScroll_SeenMessageDoesNotReraiseBanner(t *testing.T) {
	c := NewScrollPositionController(0, nil)
	c.MarkSeen("m1")
	scrolledUp(c)

	c.OnNewDurableMessageArrived(msgAt("m1", "other", "old", 1), false)
	assert.False(t, c.State().BannerVisible())
}

func TestScroll_ScrollingNearBottomClearsBanner(t *testing.T) {
	c := NewScrollPositionController(0, nil)
	scrolledUp(c)
	c.OnNewDurableMessageArrived(msgAt("m1", "other", "hi", 1), false)
	require.True(t, c.State().BannerVisible())

	c.OnScroll(690, 300, 1000)

	st := c.State()
	assert.True(t, st.ScrollIsAtBottom)
	assert.False(t, st.BannerVisible())
	assert.True(t, c.Seen("m1"))

	// the same message arriving again after scrolling away does not re-raise
	scrolledUp(c)
	c.OnNewDurableMessageArrived(msgAt("m1", "other", "hi", 1), false)
	assert.False(t, c.State().BannerVisible())
}

func TestScroll_ExplicitScrollToBottom(t *testing.T) {
	vp := &recordingViewport{}
	c := NewScrollPositionController(0, vp)
	scrolledUp(c)
	c.OnNewDurableMessageArrived(msgAt("m1", "other", "hi", 1), false)

	c.OnExplicitScrollToBottomRequested()

	st := c.State()
	assert.True(t, st.ScrollIsAtBottom)
	assert.False(t, st.BannerVisible())
	assert.True(t, c.Seen("m1"))
	require.Len(t, vp.commands(), 1)
	assert.Equal(t, ScrollToEnd, vp.commands()[0].Kind)
}

func TestScroll_BannerTracksLatestUnseen(t *testing.T) {
	c := NewScrollPositionController(0, nil)
	scrolledUp(c)

	c.OnNewDurableMessageArrived(msgAt("m1", "other", "first", 1), false)
	c.OnNewDurableMessageArrived(msgAt("m2", "other", "second", 2), false)

	assert.Equal(t, "m2", c.State().PendingBannerMessage.ID)
}

func TestScroll_HighlightExpires(t *testing.T) {
	vp := &recordingViewport{}
	c := NewScrollPositionController(0, vp)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.ScrollToMessage("m7", 3)

	cmds := vp.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, ScrollToIndex, cmds[0].Kind)
	assert.Equal(t, 3, cmds[0].Index)
	assert.Equal(t, "m7", cmds[0].HighlightID)

	id, ok := c.Highlighted()
	assert.True(t, ok)
	assert.Equal(t, "m7", id)

	now = now.Add(DefaultHighlightDuration)
	_, ok = c.Highlighted()
	assert.False(t, ok)
}
