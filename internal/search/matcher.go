package search

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidPattern 正则表达式无法编译
var ErrInvalidPattern = errors.New("search: invalid pattern")

// Range 以字节为单位的区间
type Range struct {
	Location int `json:"location"`
	Length   int `json:"length"`
}

func (r Range) End() int { return r.Location + r.Length }

// Contains o 完全落在 r 内
func (r Range) Contains(o Range) bool {
	return o.Location >= r.Location && o.End() <= r.End()
}

// Intersects 两个区间有重叠
func (r Range) Intersects(o Range) bool {
	return o.Location < r.End() && r.Location < o.End()
}

// Options 匹配选项，默认忽略大小写且不循环
type Options struct {
	CaseSensitive bool
	Circular      bool
}

type cacheKey struct {
	pattern       string
	caseSensitive bool
	within        Range
	target        uint64
}

// Matcher 对目标文本做正则匹配并缓存按位置排序的结果
type Matcher struct {
	target   string
	hash     uint64
	key      cacheKey
	cached   bool
	circular bool
	matches  []Range
	current  int
}

func NewMatcher() *Matcher {
	return &Matcher{current: -1}
}

// SetTarget 设置目标文本，内容变化时清除缓存
func (m *Matcher) SetTarget(text string) {
	h := xxhash.Sum64String(text)
	if h == m.hash && text == m.target {
		return
	}
	m.target = text
	m.hash = h
	m.Reset()
}

func (m *Matcher) Target() string { return m.target }

// Match 在整个目标文本上匹配
func (m *Matcher) Match(pattern string, opts Options) error {
	return m.MatchIn(pattern, opts, Range{Length: len(m.target)})
}

// MatchIn 只在 within 内匹配；模式、选项、区间与目标都未变化时复用缓存，空模式清除所有状态
func (m *Matcher) MatchIn(pattern string, opts Options, within Range) error {
	m.circular = opts.Circular
	if pattern == "" {
		m.Reset()
		return nil
	}
	within = clamp(within, len(m.target))
	key := cacheKey{pattern: pattern, caseSensitive: opts.CaseSensitive, within: within, target: m.hash}
	if m.cached && key == m.key {
		return nil
	}

	expr := pattern
	if !opts.CaseSensitive {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		m.Reset()
		return fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}

	text := m.target[within.Location:within.End()]
	found := re.FindAllStringIndex(text, -1)
	matches := make([]Range, 0, len(found))
	for _, loc := range found {
		if loc[1] == loc[0] {
			continue
		}
		matches = append(matches, Range{Location: within.Location + loc[0], Length: loc[1] - loc[0]})
	}
	m.matches = matches
	m.current = -1
	m.key = key
	m.cached = true
	return nil
}

func clamp(r Range, n int) Range {
	if r.Location < 0 {
		r.Length += r.Location
		r.Location = 0
	}
	if r.Location > n {
		r.Location = n
	}
	if r.Length < 0 {
		r.Length = 0
	}
	if r.End() > n {
		r.Length = n - r.Location
	}
	return r
}

// Reset 清除匹配结果
func (m *Matcher) Reset() {
	m.matches = nil
	m.current = -1
	m.cached = false
	m.key = cacheKey{}
}

func (m *Matcher) Count() int { return len(m.matches) }

// Ranges 所有匹配的副本
func (m *Matcher) Ranges() []Range {
	return append([]Range(nil), m.matches...)
}

// Current 当前匹配
func (m *Matcher) Current() (Range, bool) {
	if m.current < 0 || m.current >= len(m.matches) {
		return Range{}, false
	}
	return m.matches[m.current], true
}

// CurrentIndex 当前匹配的序号，没有时为 -1
func (m *Matcher) CurrentIndex() int { return m.current }

// SetCurrent 设置当前匹配的序号
func (m *Matcher) SetCurrent(i int) bool {
	if i < 0 || i >= len(m.matches) {
		return false
	}
	m.current = i
	return true
}

// Next 下一个匹配，到达末尾时循环模式回到第一个
func (m *Matcher) Next() (Range, bool) {
	if len(m.matches) == 0 {
		return Range{}, false
	}
	i := m.current + 1
	if i >= len(m.matches) {
		if !m.circular {
			return Range{}, false
		}
		i = 0
	}
	m.current = i
	return m.matches[i], true
}

// Previous 上一个匹配，到达开头时循环模式回到最后一个
func (m *Matcher) Previous() (Range, bool) {
	if len(m.matches) == 0 {
		return Range{}, false
	}
	i := m.current - 1
	if m.current < 0 {
		i = len(m.matches) - 1
	} else if i < 0 {
		if !m.circular {
			return Range{}, false
		}
		i = len(m.matches) - 1
	}
	m.current = i
	return m.matches[i], true
}

func (m *Matcher) First() (Range, bool) { return m.at(0) }

func (m *Matcher) Last() (Range, bool) { return m.at(len(m.matches) - 1) }

func (m *Matcher) at(i int) (Range, bool) {
	if !m.SetCurrent(i) {
		return Range{}, false
	}
	return m.matches[i], true
}

// FirstIn 完全落在 r 内的第一个匹配
func (m *Matcher) FirstIn(r Range) (Range, bool) {
	i := sort.Search(len(m.matches), func(i int) bool {
		return m.matches[i].Location >= r.Location
	})
	if i < len(m.matches) && r.Contains(m.matches[i]) {
		return m.at(i)
	}
	return Range{}, false
}

// LastIn 完全落在 r 内的最后一个匹配
func (m *Matcher) LastIn(r Range) (Range, bool) {
	i := sort.Search(len(m.matches), func(i int) bool {
		return m.matches[i].End() > r.End()
	}) - 1
	if i >= 0 && r.Contains(m.matches[i]) {
		return m.at(i)
	}
	return Range{}, false
}

// MatchesIn 与 r 相交的所有匹配
func (m *Matcher) MatchesIn(r Range) []Range {
	start := sort.Search(len(m.matches), func(i int) bool {
		return m.matches[i].End() > r.Location
	})
	var out []Range
	for i := start; i < len(m.matches) && m.matches[i].Location < r.End(); i++ {
		out = append(out, m.matches[i])
	}
	return out
}

// Bounds 从第一个匹配到最后一个匹配覆盖的区间
func (m *Matcher) Bounds() (Range, bool) {
	if len(m.matches) == 0 {
		return Range{}, false
	}
	first, last := m.matches[0], m.matches[len(m.matches)-1]
	return Range{Location: first.Location, Length: last.End() - first.Location}, true
}

// Nearest 位置距离 loc 最近的匹配序号
func (m *Matcher) Nearest(loc int) int {
	if len(m.matches) == 0 {
		return -1
	}
	i := sort.Search(len(m.matches), func(i int) bool {
		return m.matches[i].Location >= loc
	})
	switch {
	case i == 0:
		return 0
	case i == len(m.matches):
		return i - 1
	}
	if loc-m.matches[i-1].Location <= m.matches[i].Location-loc {
		return i - 1
	}
	return i
}
