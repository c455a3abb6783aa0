package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eric-Song-Nop/agentwatch/internal/model"
	"github.com/Eric-Song-Nop/agentwatch/internal/vcs"
)

type fakePoller struct {
	mu    sync.Mutex
	resp  model.SessionsResponse
	calls int
}

func (f *fakePoller) Poll(context.Context) model.SessionsResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.resp
}

func (f *fakePoller) set(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resp = model.SessionsResponse{Sessions: []model.Session{}, BackgroundSessions: []model.Session{}}
	for _, id := range ids {
		f.resp.Sessions = append(f.resp.Sessions, model.Session{ID: id, Status: model.StatusWaiting})
	}
	f.resp.TotalCount = len(ids)
	f.resp.WaitingCount = len(ids)
}

func (f *fakePoller) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDiff struct {
	st  vcs.DiffStat
	err error
}

func (f fakeDiff) DiffStat(context.Context, string) (vcs.DiffStat, error) { return f.st, f.err }

func newTestServer(diff DiffStater) (*Server, *fakePoller) {
	p := &fakePoller{}
	p.set("s1")
	return New(p, diff, time.Hour), p
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(nil)
	w := get(t, srv.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionsPollsLazilyOnce(t *testing.T) {
	srv, p := newTestServer(nil)
	h := srv.Handler()

	for i := 0; i < 2; i++ {
		w := get(t, h, "/api/sessions")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var resp model.SessionsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Sessions, 1)
		assert.Equal(t, "s1", resp.Sessions[0].ID)
		assert.Equal(t, 1, resp.WaitingCount)
	}
	assert.Equal(t, 1, p.pollCount())
}

func TestSessionsOutliveCancelledRequest(t *testing.T) {
	srv, p := newTestServer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.SessionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 1)
	assert.Equal(t, 1, p.pollCount())
}

func TestRefreshDiscardsCancelledPoll(t *testing.T) {
	srv, p := newTestServer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, srv.Refresh(ctx))
	srv.mu.RLock()
	cached := srv.latest
	srv.mu.RUnlock()
	assert.Nil(t, cached)

	w := get(t, srv.Handler(), "/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, p.pollCount())
}

func TestDiffStatEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		diff   DiffStater
		target string
		code   int
		body   string
	}{
		{"disabled", nil, "/api/diffstat?path=/x", http.StatusNotFound, ""},
		{"missing path", fakeDiff{}, "/api/diffstat", http.StatusBadRequest, "path is required"},
		{"not a repo", fakeDiff{err: vcs.ErrNotRepository}, "/api/diffstat?path=/x", http.StatusNotFound, "not a git repository"},
		{"ok", fakeDiff{st: vcs.DiffStat{Files: 2, Additions: 5, Deletions: 1}}, "/api/diffstat?path=/x", http.StatusOK, `"additions":5`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(tt.diff)
			w := get(t, srv.Handler(), tt.target)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestRefreshReportsChanges(t *testing.T) {
	srv, p := newTestServer(nil)
	ctx := context.Background()
	assert.True(t, srv.Refresh(ctx))
	assert.False(t, srv.Refresh(ctx))
	p.set("s1", "s2")
	assert.True(t, srv.Refresh(ctx))
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocketPushesChanges(t *testing.T) {
	srv, p := newTestServer(nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	assert.Equal(t, MessageSessions, first.Type)
	require.NotNil(t, first.Payload)
	assert.Len(t, first.Payload.Sessions, 1)

	require.Eventually(t, func() bool { return srv.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	p.set("s1", "s2")
	require.True(t, srv.Refresh(context.Background()))
	second := readMessage(t, conn)
	require.NotNil(t, second.Payload)
	assert.Equal(t, 2, second.Payload.TotalCount)
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, p := newTestServer(nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return p.pollCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.Trigger()
	require.Eventually(t, func() bool { return p.pollCount() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
