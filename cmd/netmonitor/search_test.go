package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"netmonitor/internal/bodystore"
	"netmonitor/internal/config"
	"netmonitor/internal/logger"
	"netmonitor/internal/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Storage.Dir = filepath.Join(dir, "bodies")
	cfg.Sqlite.Dsn = filepath.Join(dir, "netmonitor.sqlite3")
	return &app{cfg: cfg, log: logger.NewNop()}
}

func TestRenderWindowStylesHighlights(t *testing.T) {
	text := "ab-ab-ab"
	live := map[search.Range]search.Style{
		{Location: 0, Length: 2}: search.StyleSecondary,
		{Location: 3, Length: 2}: search.StylePrimary,
		{Location: 6, Length: 2}: search.StyleSecondary,
	}
	got := renderWindow(text, search.Range{Location: 0, Length: 6}, live)
	want := secondaryMatch.Render("ab") + "-" + primaryMatch.Render("ab") + "-"
	assert.Equal(t, want, got)
}

func TestSearchExampleUsesBodyFileNames(t *testing.T) {
	bodies, err := bodystore.New(bodystore.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer bodies.Close()
	name := filepath.Base(bodies.ResponsePath("1f3e9a"))
	assert.Contains(t, newSearchCmd(testApp(t)).Example, "netmonitor-data/"+name)
}

func TestRenderWindowKeepsRuneBoundaries(t *testing.T) {
	text := "é-é"
	// 起点落在 "é" 的第二个字节上
	got := renderWindow(text, search.Range{Location: 1, Length: 2}, nil)
	assert.Equal(t, "é-", got)
}

func TestTermViewRevealCentersMatch(t *testing.T) {
	v := &termView{size: 1000, visible: search.Range{Length: 100}}
	v.Reveal(search.Range{Location: 50, Length: 2})
	assert.Zero(t, v.VisibleRange().Location)

	v.Reveal(search.Range{Location: 500, Length: 2})
	assert.Equal(t, 451, v.VisibleRange().Location)

	v.Reveal(search.Range{Location: 990, Length: 2})
	assert.Equal(t, 900, v.VisibleRange().Location)
}

func TestRunSearchSelectsNthMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("token ", 20)), 0o644))

	var out bytes.Buffer
	o := &searchOptions{circular: true, window: 30, index: 3}
	require.NoError(t, runSearch(testApp(t), o, path, "TOKEN", &out))
	assert.Contains(t, out.String(), "match at byte 12, 20 matches")

	out.Reset()
	o.caseSensitive = true
	require.NoError(t, runSearch(testApp(t), o, path, "TOKEN", &out))
	assert.Contains(t, out.String(), "no match")

	assert.Error(t, runSearch(testApp(t), o, path, "(", &out))
}
