package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"netmonitor/internal/bodystore"
	"netmonitor/internal/search"

	"github.com/spf13/cobra"
)

type searchOptions struct {
	caseSensitive bool
	circular      bool
	backward      bool
	pretty        bool
	window        int
	index         int
}

func newSearchCmd(a *app) *cobra.Command {
	o := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <file> <pattern>",
		Short: "Search a saved body with a regular expression and highlight the matches",
		Example: `  netmonitor search netmonitor-data/network_response_body_1f3e9a_response_body.txt token --index 3
  netmonitor search body.json '"id":\s*\d+' --pretty --window 200`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(a, o, args[0], args[1], cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.BoolVar(&o.caseSensitive, "case-sensitive", false, "match case")
	f.BoolVar(&o.circular, "circular", true, "wrap around at the ends")
	f.BoolVar(&o.backward, "backward", false, "search backwards")
	f.BoolVar(&o.pretty, "pretty", false, "pretty print JSON before searching")
	f.IntVar(&o.window, "window", 400, "bytes shown around the current match")
	f.IntVar(&o.index, "index", 1, "move to the n-th match in the search direction")
	return cmd
}

func runSearch(a *app, o *searchOptions, path, pattern string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	text := string(data)
	if o.pretty {
		if p, ok := bodystore.PrettyJSON(data); ok {
			text = p
		}
	}
	if o.window <= 0 {
		o.window = len(text)
	}

	view := &termView{size: len(text), visible: search.Range{Length: o.window}}
	render := &termRenderer{live: make(map[search.Range]search.Style)}
	h := search.NewHighlighter(text, search.HighlighterConfig{
		Viewport:        view,
		Renderer:        render,
		Options:         search.Options{CaseSensitive: o.caseSensitive, Circular: o.circular},
		MaxHighlights:   a.cfg.Highlight.MaxHighlights,
		RefreshInterval: a.cfg.RefreshInterval(),
		SettleDelay:     a.cfg.SettleDelay(),
		Logger:          a.log,
	})
	defer h.Close()

	dir := search.Forward
	if o.backward {
		dir = search.Backward
	}
	var (
		hit search.Range
		ok  bool
	)
	for i := 0; i < max(o.index, 1); i++ {
		hit, ok, err = h.Search(pattern, dir)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	if !ok {
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("no match for %q", pattern)))
		return nil
	}
	h.ScrollEnded()

	win := view.VisibleRange()
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("match at byte %d, %d matches, showing [%d, %d)", hit.Location, h.Count(), win.Location, win.End())))
	fmt.Fprintln(out, renderWindow(text, win, render.snapshot()))
	return nil
}

// termView 终端中展示的一段固定长度的字节窗口
type termView struct {
	mu      sync.Mutex
	size    int
	visible search.Range
}

func (v *termView) VisibleRange() search.Range {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

// Reveal 将窗口居中到 r
func (v *termView) Reveal(r search.Range) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.visible.Location <= r.Location && r.End() <= v.visible.End() {
		return
	}
	loc := r.Location + r.Length/2 - v.visible.Length/2
	if loc+v.visible.Length > v.size {
		loc = v.size - v.visible.Length
	}
	v.visible.Location = max(loc, 0)
}

type termRenderer struct {
	mu   sync.Mutex
	live map[search.Range]search.Style
}

func (t *termRenderer) ShowHighlight(r search.Range, s search.Style) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live[r] = s
}

func (t *termRenderer) RestyleHighlight(r search.Range, s search.Style) {
	t.ShowHighlight(r, s)
}

func (t *termRenderer) RemoveHighlight(r search.Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.live, r)
}

func (t *termRenderer) snapshot() map[search.Range]search.Style {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[search.Range]search.Style, len(t.live))
	for r, s := range t.live {
		out[r] = s
	}
	return out
}

// renderWindow 输出窗口内的文本，落在窗口内的高亮按样式着色
func renderWindow(text string, win search.Range, live map[search.Range]search.Style) string {
	start, end := runeFloor(text, win.Location), runeFloor(text, min(win.End(), len(text)))
	ranges := make([]search.Range, 0, len(live))
	for r := range live {
		if r.Location >= start && r.End() <= end {
			ranges = append(ranges, r)
		}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Location < ranges[j].Location })

	var b strings.Builder
	pos := start
	for _, r := range ranges {
		if r.Location < pos {
			continue
		}
		b.WriteString(text[pos:r.Location])
		style := secondaryMatch
		if live[r] == search.StylePrimary {
			style = primaryMatch
		}
		b.WriteString(style.Render(text[r.Location:r.End()]))
		pos = r.End()
	}
	b.WriteString(text[pos:end])
	return b.String()
}

// runeFloor 向前对齐到 UTF-8 字符边界
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
