package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatmon/emote"
	"github.com/onnwee/chatmon/hub"
)

type fakeHub struct {
	upgrades int
	channels map[string]int
}

func (f *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.upgrades++
	w.WriteHeader(http.StatusTeapot)
}

func (f *fakeHub) Channels() map[string]int { return f.channels }

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
	forgotten   []string
}

func (f *fakeCache) Stats() emote.Stats {
	return emote.Stats{TotalChannels: 1, Channels: []emote.ChannelStats{{ChannelID: "42", Counts: map[string]int{"bttv": 3}}}}
}

func (f *fakeCache) Invalidate(id string) {
	f.mu.Lock()
	f.invalidated = append(f.invalidated, id)
	f.mu.Unlock()
}

func (f *fakeCache) ForgetChannel(id string) {
	f.mu.Lock()
	f.forgotten = append(f.forgotten, id)
	f.mu.Unlock()
}

type statusCall struct {
	channel, text string
	d             time.Duration
	clear         bool
}

type fakeStatus struct {
	calls []statusCall
}

func (f *fakeStatus) Send(channel, text string, d time.Duration) {
	f.calls = append(f.calls, statusCall{channel: channel, text: text, d: d})
}

func (f *fakeStatus) Clear(channel string) {
	f.calls = append(f.calls, statusCall{channel: channel, clear: true})
}

type fakeChat []string

func (f fakeChat) Channels() []string { return f }

type fakeUsers map[string]string

func (f fakeUsers) GetUserID(_ context.Context, login string) (string, error) {
	if id, ok := f[login]; ok {
		return id, nil
	}
	return "", errors.New("user not found")
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testDeps struct {
	Deps
	hub    *fakeHub
	cache  *fakeCache
	status *fakeStatus
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>overlay</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o600))

	td := &testDeps{
		hub:    &fakeHub{channels: map[string]int{"streamer": 2}},
		cache:  &fakeCache{},
		status: &fakeStatus{},
	}
	td.Deps = Deps{
		Hub:        td.hub,
		Cache:      td.cache,
		Badges:     td.cache,
		Status:     td.status,
		Chat:       fakeChat{"streamer"},
		Users:      fakeUsers{"streamer": "42"},
		StaticDir:  dir,
		AdminToken: "secret-token",
	}
	return td
}

func serve(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzOK(t *testing.T) {
	h := NewMux(context.Background(), newTestDeps(t).Deps)
	rr := serve(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))
}

func TestCorrelationIDEchoed(t *testing.T) {
	h := NewMux(context.Background(), newTestDeps(t).Deps)
	rr := serve(t, h, http.MethodGet, "/healthz", "", map[string]string{"X-Correlation-ID": "abc"})
	assert.Equal(t, "abc", rr.Header().Get("X-Correlation-ID"))
}

func TestReadyz(t *testing.T) {
	td := newTestDeps(t)

	rr := serve(t, NewMux(context.Background(), td.Deps), http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"server":"ok"}}`, rr.Body.String())

	td.Archive = fakePinger{err: errors.New("connection refused")}
	rr = serve(t, NewMux(context.Background(), td.Deps), http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"failed_check":"archive"`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	td.Archive = fakePinger{}
	rr = serve(t, NewMux(ctx, td.Deps), http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"failed_check":"server"`)
}

func TestStats(t *testing.T) {
	h := NewMux(context.Background(), newTestDeps(t).Deps)
	rr := serve(t, h, http.MethodGet, "/stats", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got struct {
		Viewers      map[string]int `json:"viewers"`
		ChatSessions []string       `json:"chatSessions"`
		Emotes       emote.Stats    `json:"emotes"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Viewers["streamer"])
	assert.Equal(t, []string{"streamer"}, got.ChatSessions)
	assert.Equal(t, 1, got.Emotes.TotalChannels)
	assert.Equal(t, 3, got.Emotes.Channels[0].Counts["bttv"])
}

func TestUpgradeGoesToHub(t *testing.T) {
	td := newTestDeps(t)
	h := NewMux(context.Background(), td.Deps)

	rr := serve(t, h, http.MethodGet, "/chatmon/streamer", "", map[string]string{
		"Connection": "Upgrade",
		"Upgrade":    "websocket",
	})
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, 1, td.hub.upgrades)
}

func TestOverlayPageAndStatic(t *testing.T) {
	td := newTestDeps(t)
	h := NewMux(context.Background(), td.Deps)

	rr := serve(t, h, http.MethodGet, "/chatmon/streamer", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "overlay")

	rr = serve(t, h, http.MethodGet, "/app.js", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "console.log(1)", rr.Body.String())

	rr = serve(t, h, http.MethodGet, "/missing/page", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "overlay", "unknown paths fall back to index")

	rr = serve(t, h, http.MethodGet, "/chatmon/../../etc/passwd", "", nil)
	assert.NotContains(t, rr.Body.String(), "root:")

	assert.Equal(t, 0, td.hub.upgrades)
}

func TestAdminRequiresToken(t *testing.T) {
	td := newTestDeps(t)
	h := NewMux(context.Background(), td.Deps)

	rr := serve(t, h, http.MethodPost, "/admin/emotes/invalidate", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(t, h, http.MethodPost, "/admin/emotes/invalidate", "", map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(t, h, http.MethodPost, "/admin/emotes/invalidate", "", map[string]string{"Authorization": "Bearer secret-token"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	td := newTestDeps(t)
	td.AdminToken = ""
	h := NewMux(context.Background(), td.Deps)

	rr := serve(t, h, http.MethodPost, "/admin/status", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminInvalidateEmotes(t *testing.T) {
	td := newTestDeps(t)
	h := NewMux(context.Background(), td.Deps)
	auth := map[string]string{"X-Admin-Token": "secret-token"}

	rr := serve(t, h, http.MethodPost, "/admin/emotes/invalidate?channel_id=99", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = serve(t, h, http.MethodPost, "/admin/emotes/invalidate?channel=streamer", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = serve(t, h, http.MethodPost, "/admin/emotes/invalidate", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"invalidated":"all"`)

	rr = serve(t, h, http.MethodPost, "/admin/emotes/invalidate?channel=nobody", "", auth)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = serve(t, h, http.MethodGet, "/admin/emotes/invalidate", "", auth)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	assert.Equal(t, []string{"99", "42", ""}, td.cache.invalidated)
	assert.Equal(t, []string{"99", "42", ""}, td.cache.forgotten)
}

func TestAdminStatus(t *testing.T) {
	td := newTestDeps(t)
	h := NewMux(context.Background(), td.Deps)
	auth := map[string]string{"X-Admin-Token": "secret-token"}

	rr := serve(t, h, http.MethodPost, "/admin/status", `{"channel":"Streamer","message":"BRB","durationMs":2500}`, auth)
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = serve(t, h, http.MethodDelete, "/admin/status?channel=streamer", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, h, http.MethodPost, "/admin/status", `{"channel":"abc","message":"x"}`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = serve(t, h, http.MethodPost, "/admin/status", `{"channel":"streamer","message":"  "}`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = serve(t, h, http.MethodPost, "/admin/status", `not json`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	require.Len(t, td.status.calls, 2)
	assert.Equal(t, statusCall{channel: "Streamer", text: "BRB", d: 2500 * time.Millisecond}, td.status.calls[0])
	assert.Equal(t, statusCall{channel: "streamer", clear: true}, td.status.calls[1])
}

func TestCORS(t *testing.T) {
	td := newTestDeps(t)
	td.AllowedOrigins = []string{"https://overlay.example"}
	h := NewMux(context.Background(), td.Deps)

	rr := serve(t, h, http.MethodOptions, "/stats", "", map[string]string{"Origin": "https://overlay.example"})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://overlay.example", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = serve(t, h, http.MethodGet, "/stats", "", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestViewerUpgradeThroughMiddleware(t *testing.T) {
	hb := hub.New(hub.Config{})
	srv := httptest.NewServer(NewMux(context.Background(), Deps{Hub: hb}))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/chatmon/streamer", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return hb.ViewerCount("streamer") == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hb.Broadcast("streamer", map[string]string{"type": "chat"}) == 1 }, 2*time.Second, 5*time.Millisecond)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]string
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "chat", got["type"])
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
