package search

import (
	"sort"
	"sync"
	"time"

	"netmonitor/internal/logger"

	"github.com/bep/debounce"
)

const (
	DefaultMaxHighlights   = 100
	DefaultRefreshInterval = 200 * time.Millisecond
	DefaultSettleDelay     = 150 * time.Millisecond
)

// Viewport 正在展示正文的视图
type Viewport interface {
	// VisibleRange 当前可见的字节区间
	VisibleRange() Range
	// Reveal 滚动使 r 可见
	Reveal(r Range)
}

type Style int

const (
	StyleSecondary Style = iota
	StylePrimary
)

func (s Style) String() string {
	if s == StylePrimary {
		return "primary"
	}
	return "secondary"
}

// Renderer 绘制高亮，在持有高亮器锁时被调用，不能反过来调用 Highlighter
type Renderer interface {
	ShowHighlight(r Range, s Style)
	RestyleHighlight(r Range, s Style)
	RemoveHighlight(r Range)
}

type Direction int

const (
	Forward Direction = iota
	Backward
)

// HighlighterConfig 高亮器配置，零值字段使用默认值
type HighlighterConfig struct {
	Viewport        Viewport
	Renderer        Renderer
	Options         Options
	MaxHighlights   int
	RefreshInterval time.Duration
	SettleDelay     time.Duration
	Logger          logger.Logger
}

// Highlighter 只为可见窗口附近的匹配维护高亮，滚动时定时刷新，滚动停止后再刷新一次
type Highlighter struct {
	mu       sync.Mutex
	matcher  *Matcher
	vp       Viewport
	render   Renderer
	opts     Options
	max      int
	interval time.Duration
	settle   func(func())
	log      logger.Logger

	pattern    string
	live       map[Range]Style
	primary    Range
	hasPrimary bool

	stopTick           chan struct{}
	performedNewScroll bool
	// 用户滚动后，下一次搜索从可见区间开始
	resumeFromView bool
}

// NewHighlighter 在 text 上创建高亮器
func NewHighlighter(text string, cfg HighlighterConfig) *Highlighter {
	if cfg.MaxHighlights <= 0 {
		cfg.MaxHighlights = DefaultMaxHighlights
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	m := NewMatcher()
	m.SetTarget(text)
	return &Highlighter{
		matcher:  m,
		vp:       cfg.Viewport,
		render:   cfg.Renderer,
		opts:     cfg.Options,
		max:      cfg.MaxHighlights,
		interval: cfg.RefreshInterval,
		settle:   debounce.New(cfg.SettleDelay),
		log:      cfg.Logger,
		live:     make(map[Range]Style),
	}
}

// Search 匹配 pattern 并按方向移动到下一个匹配作为主高亮；空模式清除所有高亮
func (h *Highlighter) Search(pattern string, dir Direction) (Range, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if pattern != h.pattern {
		h.clearLocked()
	}
	if err := h.matcher.Match(pattern, h.opts); err != nil {
		h.pattern = ""
		return Range{}, false, err
	}
	h.pattern = pattern
	if pattern == "" {
		return Range{}, false, nil
	}

	var (
		hit Range
		ok  bool
	)
	if h.resumeFromView {
		h.resumeFromView = false
		hit, ok = h.resumeLocked(dir)
	}
	if !ok {
		if dir == Backward {
			hit, ok = h.matcher.Previous()
		} else {
			hit, ok = h.matcher.Next()
		}
	}
	if !ok {
		h.refreshLocked()
		return Range{}, false, nil
	}
	h.setPrimaryLocked(hit)
	h.vp.Reveal(hit)
	h.refreshLocked()
	h.log.Debug("定位到匹配", "index", h.matcher.CurrentIndex(), "count", h.matcher.Count())
	return hit, true, nil
}

// Count 当前模式的匹配数
func (h *Highlighter) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.matcher.Count()
}

// ScrollChanged 视图滚动时调用；拖动期间定时刷新，停止一段时间后触发 ScrollEnded
func (h *Highlighter) ScrollChanged(dragging bool) {
	h.mu.Lock()
	h.performedNewScroll = true
	h.resumeFromView = true
	if dragging {
		h.startTickerLocked()
	}
	h.mu.Unlock()
	h.settle(h.ScrollEnded)
}

// ScrollEnded 停止定时刷新并同步执行最后一次刷新
func (h *Highlighter) ScrollEnded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopTickerLocked()
	if h.performedNewScroll {
		h.refreshLocked()
	}
	h.performedNewScroll = false
}

// Ticking 是否正在定时刷新
func (h *Highlighter) Ticking() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopTick != nil
}

// Refresh 按当前可见区间重新计算高亮
func (h *Highlighter) Refresh() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshLocked()
}

// Reset 移除所有高亮并清除匹配
func (h *Highlighter) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopTickerLocked()
	h.clearLocked()
	h.pattern = ""
	h.resumeFromView = false
	h.matcher.Reset()
}

// Close 停止定时刷新
func (h *Highlighter) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopTickerLocked()
}

// Live 当前存在的高亮
func (h *Highlighter) Live() map[Range]Style {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[Range]Style, len(h.live))
	for r, s := range h.live {
		out[r] = s
	}
	return out
}

// Primary 主高亮
func (h *Highlighter) Primary() (Range, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.primary, h.hasPrimary
}

// resumeLocked 从可见区间起点向前或向后找最近的匹配，起点不在匹配范围内时不处理
func (h *Highlighter) resumeLocked(dir Direction) (Range, bool) {
	b, ok := h.matcher.Bounds()
	loc := h.vp.VisibleRange().Location
	if !ok || loc < b.Location || loc >= b.End() {
		return Range{}, false
	}
	if dir == Backward {
		return h.matcher.LastIn(Range{Location: 0, Length: loc})
	}
	return h.matcher.FirstIn(Range{Location: loc, Length: len(h.matcher.Target()) - loc})
}

func (h *Highlighter) setPrimaryLocked(r Range) {
	if h.hasPrimary && h.primary != r {
		if _, ok := h.live[h.primary]; ok {
			h.live[h.primary] = StyleSecondary
			h.render.RestyleHighlight(h.primary, StyleSecondary)
		}
	}
	h.primary, h.hasPrimary = r, true
	if s, ok := h.live[r]; !ok {
		h.render.ShowHighlight(r, StylePrimary)
	} else if s != StylePrimary {
		h.render.RestyleHighlight(r, StylePrimary)
	}
	h.live[r] = StylePrimary
}

func (h *Highlighter) refreshLocked() {
	if h.pattern == "" {
		return
	}
	vis := h.vp.VisibleRange()
	for _, r := range h.matcher.MatchesIn(vis) {
		if _, ok := h.live[r]; ok {
			continue
		}
		style := StyleSecondary
		if h.hasPrimary && r == h.primary {
			style = StylePrimary
		}
		h.render.ShowHighlight(r, style)
		h.live[r] = style
	}
	h.evictLocked(vis)
}

// evictLocked 移除远离可见区间的高亮，并把数量限制在 max 以内；主高亮始终保留
func (h *Highlighter) evictLocked(vis Range) {
	lo := max(0, vis.Location-vis.Length)
	window := Range{Location: lo, Length: 3 * vis.Length}
	for r := range h.live {
		if h.isPrimary(r) || window.Intersects(r) {
			continue
		}
		h.removeLocked(r)
	}
	if len(h.live) <= h.max {
		return
	}

	center := vis.Location + vis.Length/2
	candidates := make([]Range, 0, len(h.live))
	for r := range h.live {
		if !h.isPrimary(r) {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := distance(candidates[i], center), distance(candidates[j], center)
		if di != dj {
			return di > dj
		}
		return candidates[i].Location > candidates[j].Location
	})
	for _, r := range candidates {
		if len(h.live) <= h.max {
			break
		}
		h.removeLocked(r)
	}
}

func (h *Highlighter) isPrimary(r Range) bool {
	return h.hasPrimary && r == h.primary
}

func (h *Highlighter) removeLocked(r Range) {
	h.render.RemoveHighlight(r)
	delete(h.live, r)
}

func (h *Highlighter) clearLocked() {
	for r := range h.live {
		h.removeLocked(r)
	}
	h.hasPrimary = false
	h.primary = Range{}
}

func distance(r Range, center int) int {
	d := r.Location + r.Length/2 - center
	if d < 0 {
		return -d
	}
	return d
}

func (h *Highlighter) startTickerLocked() {
	if h.stopTick != nil {
		return
	}
	stop := make(chan struct{})
	h.stopTick = stop
	ticker := time.NewTicker(h.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.Refresh()
			case <-stop:
				return
			}
		}
	}()
}

func (h *Highlighter) stopTickerLocked() {
	if h.stopTick != nil {
		close(h.stopTick)
		h.stopTick = nil
	}
}
