package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"netmonitor/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFetchRewritesAndExportsHAR(t *testing.T) {
	var (
		mu     sync.Mutex
		tokens []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokens = append(tokens, r.Header.Get("X-Token"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"real":true}`)
	}))
	defer srv.Close()

	a := testApp(t)
	dir := t.TempDir()
	mock := filepath.Join(dir, "mock.json")
	require.NoError(t, os.WriteFile(mock, []byte(`{"mock":true}`), 0o644))
	harPath := filepath.Join(dir, "out.har")

	o := &fetchOptions{
		method:      http.MethodGet,
		headers:     []string{"X-Token: a"},
		setResponse: mock,
		setHeaders:  []string{"x-token=b"},
		order:       "asc",
		sortBy:      "startTime",
		harPath:     harPath,
	}
	var out bytes.Buffer
	u := srv.URL + "/v1/items"
	require.NoError(t, runFetch(context.Background(), a, o, []string{u}, &out))

	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, tokens)
	mu.Unlock()
	assert.Contains(t, out.String(), u)
	assert.Contains(t, out.String(), "2 records")

	data, err := os.ReadFile(harPath)
	require.NoError(t, err)
	entries := gjson.GetBytes(data, "log.entries")
	require.Len(t, entries.Array(), 2)

	// 规则已落库，重新打开后仍可见
	ctx := context.Background()
	svc, err := api.NewService(ctx, a.cfg, a.log)
	require.NoError(t, err)
	rs := svc.Rules()
	require.Len(t, rs, 1)
	assert.Len(t, rs[0].Commands, 2)
	require.NoError(t, svc.Close())

	out.Reset()
	require.NoError(t, withService(ctx, a, func(svc api.Service) error {
		return deleteRule(svc, rs[0].Identity(), &out)
	}))
	assert.Contains(t, out.String(), "deleted")
	require.NoError(t, withService(ctx, a, func(svc api.Service) error {
		assert.Empty(t, svc.Rules())
		return nil
	}))
}

func TestFetchRejectsUnknownSortKey(t *testing.T) {
	_, err := (&fetchOptions{sortBy: "size"}).listOptions()
	assert.Error(t, err)
}
