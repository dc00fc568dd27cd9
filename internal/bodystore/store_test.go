package bodystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"netmonitor/pkg/model"
	"netmonitor/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFileNames(t *testing.T) {
	s := newStore(t)
	assert.Equal(t, filepath.Join(s.Dir(), "network_request_body_abc_request_body.txt"), s.RequestPath("abc"))
	assert.Equal(t, filepath.Join(s.Dir(), "network_response_body_abc_response_body.txt"), s.ResponsePath("abc"))
}

func TestPrettyJSONMatchesPlatformLayout(t *testing.T) {
	out, ok := PrettyJSON([]byte(`{"ok":true}`))
	require.True(t, ok)
	assert.Equal(t, "{\n  \"ok\" : true\n}", out)

	out, ok = PrettyJSON([]byte(`{"a":[1,{"b":null}],"c":{},"d":[]}`))
	require.True(t, ok)
	assert.Equal(t, "{\n  \"a\" : [\n    1,\n    {\n      \"b\" : null\n    }\n  ],\n  \"c\" : {},\n  \"d\" : []\n}", out)
}

func TestPrettyJSONRoundTrip(t *testing.T) {
	inputs := []string{
		`{"ok":true}`,
		`[1,2.5,-3e10,"x\"y",null,false]`,
		`{"nested":{"deep":{"list":[{"k":"v"},[],{}]}},"unicode":"é中"}`,
		`"just a string"`,
		`42`,
	}
	for _, in := range inputs {
		out, ok := PrettyJSON([]byte(in))
		require.True(t, ok, in)
		assert.JSONEq(t, in, out)
		assert.True(t, json.Valid([]byte(out)))
	}
}

func TestPrettyFallsBackToRaw(t *testing.T) {
	assert.Equal(t, "{not json", Pretty([]byte("{not json"), "application/json"))
	assert.Equal(t, "a=%zz", Pretty([]byte("a=%zz"), "application/x-www-form-urlencoded"))
	assert.Equal(t, "a=b c&d=é", Pretty([]byte("a=b%20c&d=%C3%A9"), "application/x-www-form-urlencoded; charset=utf-8"))
	assert.Equal(t, "<p>hi</p>", Pretty([]byte("<p>hi</p>"), "text/html"))
}

func TestSaveAndReadBodies(t *testing.T) {
	s := newStore(t)
	key := traffic.NewBodyKey()

	require.NoError(t, s.SaveRequestBody(key, []byte(`{"q":1}`)))
	require.NoError(t, s.SaveResponseBody(key, model.ShortJSON, []byte(`{"ok":true}`)))

	assert.Equal(t, "{\n  \"q\" : 1\n}", s.RequestText(key, "application/json"))
	assert.Equal(t, "{\n  \"ok\" : true\n}", s.ResponseText(key, "application/json"))

	require.NoError(t, s.SaveResponseBody(key, model.ShortJSON, []byte(`{"ok":false}`)))
	raw, err := s.ResponseBody(key, model.ShortJSON)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":false}`, string(raw))
}

func TestImageBodiesAreBase64(t *testing.T) {
	s := newStore(t)
	png := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}

	require.NoError(t, s.SaveResponseBody("img", model.ShortImage, png))
	onDisk, err := os.ReadFile(s.ResponsePath("img"))
	require.NoError(t, err)
	assert.Equal(t, "iVBORwD/", string(onDisk))

	raw, err := s.ResponseBody("img", model.ShortImage)
	require.NoError(t, err)
	assert.Equal(t, png, raw)
}

func TestMissingBodyIsEmpty(t *testing.T) {
	s := newStore(t)
	data, err := s.RequestBody("nope")
	assert.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, "", s.ResponseText("nope", "application/json"))
}

func TestPurgeRemovesReservedFilesAndSessionLog(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveRequestBody("k", []byte("x")))
	require.NoError(t, s.SaveResponseBody("k", model.ShortOther, []byte("y")))
	require.NoError(t, s.AppendSession("entry\n"))
	other := filepath.Join(s.Dir(), "keep.txt")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0o644))

	require.NoError(t, s.Purge())

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.txt", entries[0].Name())

	// 清理后仍可继续写入
	require.NoError(t, s.AppendSession("again\n"))
	data, err := os.ReadFile(s.SessionPath())
	require.NoError(t, err)
	assert.Equal(t, "again\n", string(data))
}

func TestSessionEntries(t *testing.T) {
	code := 200
	elapsed := 42 * time.Millisecond
	rec := traffic.NewRecord()
	rec.Request = traffic.RequestSnapshot{
		URL:         "https://api.example.com/v1/items?x=1",
		Method:      model.MethodGet,
		ContentType: "application/json",
		Timeout:     60 * time.Second,
		Headers:     traffic.Fields{traffic.NewField("Accept", "application/json")},
		Date:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Time:        "03:04:05",
	}
	rec.SaveResponse(traffic.ResponseSnapshot{
		StatusCode:  &code,
		ContentType: "application/json",
		Headers:     traffic.Fields{traffic.NewField("Content-Type", "application/json")},
		Date:        rec.Request.Date.Add(elapsed),
	})

	req := RequestEntry(rec, "")
	assert.Contains(t, req, "[Request URL - Start] - https://api.example.com/v1/items?x=1\n")
	assert.Contains(t, req, "[Request Method] GET\n")
	assert.Contains(t, req, "[Request Timeout] 60.0\n")
	assert.Contains(t, req, "Accept: application/json\n")
	assert.Contains(t, req, "[End Request] - https://api.example.com/v1/items?x=1\n")

	resp := ResponseEntry(rec, "{\n  \"ok\" : true\n}")
	assert.Contains(t, resp, "[Start Response] - https://api.example.com/v1/items?x=1\n")
	assert.Contains(t, resp, "[Response Status] 200\n")
	assert.Contains(t, resp, "[Response Duration] 42 ms\n")
	assert.Contains(t, resp, "[Response Body]\n{\n  \"ok\" : true\n}\n")
	assert.Contains(t, resp, "[End Response] - https://api.example.com/v1/items?x=1\n")
}
