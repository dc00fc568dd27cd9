package rules

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"netmonitor/pkg/model"
	"netmonitor/pkg/rulespec"
	"netmonitor/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBodies struct {
	mu   sync.Mutex
	req  map[string][]byte
	resp map[string][]byte
}

func newMemBodies() *memBodies {
	return &memBodies{req: map[string][]byte{}, resp: map[string][]byte{}}
}

func (m *memBodies) SaveRequestBody(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.req[key] = data
	return nil
}

func (m *memBodies) SaveResponseBody(key string, _ model.ShortType, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resp[key] = data
	return nil
}

func snapshot(t *testing.T, method model.Method, raw string, headers ...string) traffic.RequestSnapshot {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	var hs traffic.Fields
	for i := 0; i+1 < len(headers); i += 2 {
		hs = append(hs, traffic.NewField(headers[i], headers[i+1]))
	}
	now := time.Now()
	return traffic.RequestSnapshot{
		URL:     raw,
		Host:    u.Hostname(),
		Path:    u.Path,
		Method:  method,
		Query:   traffic.FieldsFromQuery(u.RawQuery),
		Headers: hs,
		Date:    now,
		Time:    now.Format(traffic.TimeLayout),
	}
}

func record(t *testing.T, method model.Method, raw string, headers ...string) *traffic.Record {
	rec := traffic.NewRecord()
	rec.SaveRequest(snapshot(t, method, raw, headers...))
	return rec
}

func headerID(rec *traffic.Record, name string) string {
	for _, f := range rec.Request.Headers {
		if f.OriginName == name {
			return f.ID
		}
	}
	return ""
}

func TestIdentityMatching(t *testing.T) {
	e := New(newMemBodies(), nil)
	rec := record(t, model.MethodGet, "https://api.example.com/v1/items?x=1", "X-Token", "a")

	_, ok := e.Add(rec, Body{}, rulespec.ReplaceHeaderValue{FieldID: headerID(rec, "X-Token"), Value: "b"})
	require.True(t, ok)

	id := Identity{Host: "api.example.com", Path: "/v1/items", Method: model.MethodGet}
	assert.NotNil(t, e.Match(id))
	assert.NotNil(t, e.Match(IdentityOf(snapshot(t, model.MethodGet, "https://api.example.com/v1/items?x=2"))))

	assert.Nil(t, e.Match(Identity{Host: "other.example.com", Path: "/v1/items", Method: model.MethodGet}))
	assert.Nil(t, e.Match(Identity{Host: "api.example.com", Path: "/v1/other", Method: model.MethodGet}))
	assert.Nil(t, e.Match(Identity{Host: "api.example.com", Path: "/v1/items", Method: model.MethodPost}))
}

func TestOverrideIdempotence(t *testing.T) {
	e := New(newMemBodies(), nil)
	rec := record(t, model.MethodGet, "https://api.example.com/v1/items", "X-Token", "a")
	cmd := rulespec.ReplaceHeaderValue{FieldID: headerID(rec, "X-Token"), Value: "v"}

	r, ok := e.Add(rec, Body{}, cmd)
	require.True(t, ok)
	once := r.Latest.Clone()

	_, ok = e.Add(rec, Body{}, cmd)
	require.True(t, ok)
	assert.Equal(t, once, r.Latest)
	assert.Equal(t, "v", r.Latest.Request.Headers.Get("X-Token"))
}

func TestResetRestoresOriginCurrentValue(t *testing.T) {
	e := New(newMemBodies(), nil)
	rec := record(t, model.MethodGet, "https://api.example.com/v1/items", "X-Token", "a")
	id := headerID(rec, "X-Token")

	r, ok := e.Add(rec, Body{}, rulespec.ReplaceHeaderValue{FieldID: id, Value: "v"})
	require.True(t, ok)

	// 实时流量中的值发生了变化
	e.UpdateToLatestRequest(r, snapshot(t, model.MethodGet, "https://api.example.com/v1/items", "X-Token", "live"), nil)
	assert.Equal(t, "v", r.Latest.Request.Headers.Get("X-Token"))
	assert.Equal(t, "live", r.Origin.Request.Headers.Get("X-Token"))

	removed, _, deleted := e.Remove(rec, rulespec.ResetHeaderValue{FieldID: id})
	require.NotNil(t, removed)
	assert.True(t, deleted)
	assert.Equal(t, "live", removed.Latest.Request.Headers.Get("X-Token"))
	assert.False(t, removed.Latest.Request.Headers.Overridden())
	assert.Empty(t, e.Rules())
}

func TestRemoveKeepsRuleWithRemainingCommands(t *testing.T) {
	e := New(newMemBodies(), nil)
	rec := record(t, model.MethodPost, "https://api.example.com/v1/items", "X-A", "1", "X-B", "2")

	_, ok := e.Add(rec, Body{}, rulespec.ReplaceHeaderValue{FieldID: headerID(rec, "X-A"), Value: "a"})
	require.True(t, ok)
	_, ok = e.Add(rec, Body{}, rulespec.SetRequestBody{Data: []byte("new")})
	require.True(t, ok)

	r, _, deleted := e.Remove(rec, rulespec.ResetHeaderValue{FieldID: headerID(rec, "X-A")})
	assert.False(t, deleted)
	require.Len(t, r.Commands, 1)
	assert.Equal(t, rulespec.KindRequestParamData, r.Commands[0].Kind())
	assert.Equal(t, "1", r.Latest.Request.Headers.Get("X-A"))

	_, _, deleted = e.Remove(rec, rulespec.ResetRequestBody{})
	assert.True(t, deleted)
	assert.Empty(t, e.Rules())
}

func TestKeyRenameAppliesToEveryOccurrence(t *testing.T) {
	e := New(newMemBodies(), nil)
	rec := record(t, model.MethodGet, "https://api.example.com/search?a=1&a=2&b=3")
	first := rec.Request.Query[0].ID

	r, ok := e.Add(rec, Body{}, rulespec.ReplaceQueryKey{FieldID: first, Key: "z"})
	require.True(t, ok)
	assert.Equal(t, "https://api.example.com/search?z=1&z=2&b=3", r.Latest.Request.URL)
	assert.Equal(t, "https://api.example.com/search?a=1&a=2&b=3", r.Origin.Request.URL)

	_, _, deleted := e.Remove(rec, rulespec.ResetQueryKey{FieldID: first})
	assert.True(t, deleted)
	assert.Equal(t, "https://api.example.com/search?a=1&a=2&b=3", r.Latest.Request.URL)
}

func TestStaleFieldIsIgnored(t *testing.T) {
	e := New(newMemBodies(), nil)
	rec := record(t, model.MethodGet, "https://api.example.com/v1/items", "X-Token", "a")

	r, ok := e.Add(rec, Body{}, rulespec.ReplaceHeaderValue{FieldID: "missing", Value: "v"})
	assert.False(t, ok)
	assert.Nil(t, r)
	assert.Empty(t, e.Rules())

	r, ok = e.Add(rec, Body{}, rulespec.ReplaceHeaderKey{FieldID: headerID(rec, "X-Token"), Key: "X-Auth"})
	require.True(t, ok)
	before := r.Latest.Clone()

	_, ok = e.Add(rec, Body{}, rulespec.ReplaceQueryValue{FieldID: "missing", Value: "v"})
	assert.False(t, ok)
	assert.Len(t, r.Commands, 1)
	assert.Equal(t, before, r.Latest)

	_, changed, deleted := e.Remove(rec, rulespec.ResetHeaderValue{FieldID: "missing"})
	assert.False(t, changed)
	assert.False(t, deleted)
	assert.Len(t, r.Commands, 1)
}

func TestRemoveWithoutMatchingCommandChangesNothing(t *testing.T) {
	e := New(newMemBodies(), nil)
	rec := record(t, model.MethodGet, "https://api.example.com/v1/items", "X-A", "1", "X-B", "2")

	r, ok := e.Add(rec, Body{}, rulespec.ReplaceHeaderValue{FieldID: headerID(rec, "X-A"), Value: "a"})
	require.True(t, ok)
	before := r.Latest.Clone()

	// 字段存在，但没有对应的命令
	_, changed, deleted := e.Remove(rec, rulespec.ResetHeaderValue{FieldID: headerID(rec, "X-B")})
	assert.False(t, changed)
	assert.False(t, deleted)
	assert.Len(t, r.Commands, 1)
	assert.Equal(t, before, r.Latest)

	_, changed, _ = e.Remove(rec, rulespec.ResetResponseBody{})
	assert.False(t, changed)
	assert.Len(t, e.Rules(), 1)
}

func TestFieldFromNewerCaptureResolvesByOriginalName(t *testing.T) {
	e := New(newMemBodies(), nil)
	first := record(t, model.MethodGet, "https://api.example.com/v1/items", "X-Token", "a")
	_, ok := e.Add(first, Body{}, rulespec.SetResponseBody{Data: []byte("{}")})
	require.True(t, ok)

	second := record(t, model.MethodGet, "https://api.example.com/v1/items", "X-Token", "b")
	r, ok := e.Add(second, Body{}, rulespec.ReplaceHeaderValue{FieldID: headerID(second, "X-Token"), Value: "v"})
	require.True(t, ok)
	assert.Equal(t, "v", r.Latest.Request.Headers.Get("X-Token"))
	assert.Len(t, e.Rules(), 1)
}

func TestUpdateToLatestRequestKeepsOverrides(t *testing.T) {
	e := New(newMemBodies(), nil)
	rec := record(t, model.MethodGet, "https://api.example.com/v1/items?page=1", "X-Token", "a")
	qid := rec.Request.Query[0].ID

	r, ok := e.Add(rec, Body{}, rulespec.ReplaceQueryValue{FieldID: qid, Value: "9"})
	require.True(t, ok)
	_, ok = e.Add(rec, Body{}, rulespec.ReplaceHeaderKey{FieldID: headerID(rec, "X-Token"), Key: "X-Auth"})
	require.True(t, ok)

	e.UpdateToLatestRequest(r, snapshot(t, model.MethodGet, "https://api.example.com/v1/items?page=2", "X-Token", "c"), []byte("live"))

	assert.Equal(t, "https://api.example.com/v1/items?page=9", r.Latest.Request.URL)
	assert.Equal(t, qid, r.Latest.Request.Query[0].ID)
	assert.Equal(t, "2", r.Latest.Request.Query[0].OriginValue)
	assert.Equal(t, "c", r.Latest.Request.Headers.Get("X-Auth"))
	assert.Equal(t, "https://api.example.com/v1/items?page=2", r.Origin.Request.URL)
	assert.Equal(t, "live", string(r.LatestBody.Request))
}

func TestResponseBodyCommands(t *testing.T) {
	bodies := newMemBodies()
	e := New(bodies, nil)
	rec := record(t, model.MethodGet, "https://api.example.com/v1/items")

	r, ok := e.Add(rec, Body{Response: []byte(`{"ok":true,"n":1}`)}, rulespec.PatchResponseJSON{Path: "n", Value: "2"})
	require.True(t, ok)
	assert.Equal(t, `{"ok":true,"n":2}`, string(r.LatestBody.Response))
	assert.Equal(t, `{"ok":true,"n":2}`, string(bodies.resp[r.Latest.BodyKey]))

	_, ok = e.Add(rec, Body{}, rulespec.PatchResponseJSON{Path: "n", Value: "{broken"})
	assert.False(t, ok)

	code := 200
	e.UpdateToLatestResponse(r, traffic.ResponseSnapshot{StatusCode: &code, Date: time.Now()}, []byte(`{"ok":false}`))
	assert.Equal(t, `{"ok":true,"n":2}`, string(r.LatestBody.Response))
	assert.Equal(t, `{"ok":false}`, string(r.OriginBody.Response))
	assert.Equal(t, model.StatusSucceeded, r.Latest.Status())

	_, _, deleted := e.Remove(rec, rulespec.ResetResponseBody{})
	assert.True(t, deleted)
	assert.Equal(t, `{"ok":false}`, string(r.LatestBody.Response))
}

func TestSetEnabled(t *testing.T) {
	e := New(newMemBodies(), nil)
	rec := record(t, model.MethodGet, "https://api.example.com/v1/items")
	r, ok := e.Add(rec, Body{}, rulespec.SetResponseBody{Data: []byte("x")})
	require.True(t, ok)
	id := r.Identity()

	assert.NotNil(t, e.MatchFor(id, model.CategoryResponseBody))
	assert.Nil(t, e.MatchFor(id, model.CategoryHeader))

	_, ok = e.SetEnabled(id, false)
	require.True(t, ok)
	assert.Nil(t, e.Match(id))
	assert.NotNil(t, e.Find(id))
	assert.Len(t, r.Commands, 1)

	_, ok = e.SetEnabled(Identity{Host: "nope"}, true)
	assert.False(t, ok)
}

func TestRuleRecordsAreIndependentCopies(t *testing.T) {
	e := New(newMemBodies(), nil)
	rec := record(t, model.MethodGet, "https://api.example.com/v1/items", "X-Token", "a")
	r, ok := e.Add(rec, Body{}, rulespec.ReplaceHeaderValue{FieldID: headerID(rec, "X-Token"), Value: "v"})
	require.True(t, ok)

	assert.Equal(t, "a", rec.Request.Headers.Get("X-Token"))
	assert.Equal(t, "a", r.Origin.Request.Headers.Get("X-Token"))
	assert.NotEqual(t, rec.BodyKey, r.Origin.BodyKey)
	assert.NotEqual(t, r.Origin.BodyKey, r.Latest.BodyKey)
}
