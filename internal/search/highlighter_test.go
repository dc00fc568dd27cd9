package search

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeView struct {
	mu       sync.Mutex
	visible  Range
	revealed []Range
}

func (v *fakeView) VisibleRange() Range {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

func (v *fakeView) Reveal(r Range) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.revealed = append(v.revealed, r)
}

func (v *fakeView) scrollTo(loc int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible.Location = loc
}

type fakeRenderer struct {
	mu      sync.Mutex
	shown   map[Range]Style
	removed int
	shows   int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{shown: map[Range]Style{}}
}

func (f *fakeRenderer) ShowHighlight(r Range, s Style) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown[r] = s
	f.shows++
}

func (f *fakeRenderer) RestyleHighlight(r Range, s Style) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown[r] = s
}

func (f *fakeRenderer) RemoveHighlight(r Range) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.shown, r)
	f.removed++
}

func (f *fakeRenderer) snapshot() map[Range]Style {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[Range]Style, len(f.shown))
	for r, s := range f.shown {
		out[r] = s
	}
	return out
}

// body 每 10 个字节出现一次 "!"，位置为 9, 19, 29...
var body = strings.Repeat("xxxxxxxxx!", 1000)

func newTestHighlighter(t *testing.T, cfg HighlighterConfig) (*Highlighter, *fakeView, *fakeRenderer) {
	t.Helper()
	view := &fakeView{visible: Range{Location: 0, Length: 100}}
	render := newFakeRenderer()
	cfg.Viewport = view
	cfg.Renderer = render
	h := NewHighlighter(body, cfg)
	t.Cleanup(h.Close)
	return h, view, render
}

func TestSearchHighlightsVisibleWindow(t *testing.T) {
	h, view, render := newTestHighlighter(t, HighlighterConfig{})

	hit, ok, err := h.Search("!", Forward)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Range{Location: 9, Length: 1}, hit)
	assert.Equal(t, []Range{hit}, view.revealed)
	assert.Equal(t, 1000, h.Count())

	live := h.Live()
	assert.Len(t, live, 10)
	assert.Equal(t, StylePrimary, live[hit])
	assert.Equal(t, StyleSecondary, live[Range{Location: 19, Length: 1}])
	assert.Equal(t, live, render.snapshot())

	next, ok, err := h.Search("!", Forward)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 19, next.Location)
	live = h.Live()
	assert.Equal(t, StyleSecondary, live[hit])
	assert.Equal(t, StylePrimary, live[next])
}

func TestScrollEvictsOutsideWindowButKeepsPrimary(t *testing.T) {
	h, view, render := newTestHighlighter(t, HighlighterConfig{})
	primary, _, err := h.Search("!", Forward)
	require.NoError(t, err)

	view.scrollTo(1000)
	h.Refresh()

	live := h.Live()
	assert.Len(t, live, 11)
	assert.Equal(t, StylePrimary, live[primary])
	_, ok := live[Range{Location: 19, Length: 1}]
	assert.False(t, ok)
	_, ok = live[Range{Location: 1009, Length: 1}]
	assert.True(t, ok)
	assert.Equal(t, live, render.snapshot())
}

func TestEvictionWindowKeepsNeighbours(t *testing.T) {
	h, view, _ := newTestHighlighter(t, HighlighterConfig{})
	_, _, err := h.Search("!", Backward)
	require.NoError(t, err)

	view.scrollTo(500)
	h.Refresh()
	view.scrollTo(550)
	h.Refresh()

	// 窗口为 [450, 750)，500 开始的匹配仍然保留
	live := h.Live()
	_, ok := live[Range{Location: 509, Length: 1}]
	assert.True(t, ok)
	_, ok = live[Range{Location: 649, Length: 1}]
	assert.True(t, ok)
}

func TestSearchResumesFromVisibleRangeAfterScroll(t *testing.T) {
	h, view, _ := newTestHighlighter(t, HighlighterConfig{SettleDelay: time.Hour})
	hit, _, err := h.Search("!", Forward)
	require.NoError(t, err)
	assert.Equal(t, 9, hit.Location)

	view.scrollTo(900)
	h.ScrollChanged(false)
	h.ScrollEnded()
	hit, ok, err := h.Search("!", Forward)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 909, hit.Location)

	// 没有新的滚动时继续按序号前进
	hit, _, err = h.Search("!", Forward)
	require.NoError(t, err)
	assert.Equal(t, 919, hit.Location)

	view.scrollTo(500)
	h.ScrollChanged(false)
	hit, _, err = h.Search("!", Backward)
	require.NoError(t, err)
	assert.Equal(t, 499, hit.Location)
	p, _ := h.Primary()
	assert.Equal(t, hit, p)
}

func TestMaxHighlightsBound(t *testing.T) {
	h, _, _ := newTestHighlighter(t, HighlighterConfig{MaxHighlights: 5})
	primary, _, err := h.Search("!", Forward)
	require.NoError(t, err)

	live := h.Live()
	assert.Len(t, live, 5)
	assert.Equal(t, StylePrimary, live[primary])
}

func TestDragTickerAndSettle(t *testing.T) {
	h, view, render := newTestHighlighter(t, HighlighterConfig{
		RefreshInterval: 10 * time.Millisecond,
		SettleDelay:     30 * time.Millisecond,
	})
	_, _, err := h.Search("!", Forward)
	require.NoError(t, err)

	h.ScrollChanged(true)
	assert.True(t, h.Ticking())
	view.scrollTo(2000)

	assert.Eventually(t, func() bool {
		_, ok := render.snapshot()[Range{Location: 2009, Length: 1}]
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !h.Ticking() }, time.Second, 5*time.Millisecond)
}

func TestScrollEndedRefreshesSynchronously(t *testing.T) {
	h, view, render := newTestHighlighter(t, HighlighterConfig{RefreshInterval: time.Hour, SettleDelay: time.Hour})
	_, _, err := h.Search("!", Forward)
	require.NoError(t, err)

	h.ScrollChanged(true)
	view.scrollTo(3000)
	h.ScrollEnded()

	assert.False(t, h.Ticking())
	_, ok := render.snapshot()[Range{Location: 3009, Length: 1}]
	assert.True(t, ok)
}

func TestChangingPatternClearsHighlights(t *testing.T) {
	h, _, render := newTestHighlighter(t, HighlighterConfig{})
	_, _, err := h.Search("!", Forward)
	require.NoError(t, err)

	_, ok, err := h.Search("x{3}", Forward)
	require.NoError(t, err)
	require.True(t, ok)
	for r := range render.snapshot() {
		assert.Equal(t, 3, r.Length)
	}

	_, _, err = h.Search("[", Forward)
	assert.ErrorIs(t, err, ErrInvalidPattern)
	assert.Empty(t, h.Live())

	_, ok, err = h.Search("", Forward)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, render.snapshot())
}
