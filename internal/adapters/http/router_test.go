package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/lanrelay/internal/app"
	"github.com/dkeye/lanrelay/internal/app/orch"
	"github.com/dkeye/lanrelay/internal/config"
	"github.com/dkeye/lanrelay/internal/core"
	"github.com/dkeye/lanrelay/internal/transfer"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct{ closed bool }

func (c *stubConn) TrySend(core.Frame) error { return nil }
func (c *stubConn) Close()                   { c.closed = true }
func (c *stubConn) RemoteAddr() net.Addr     { return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 4242} }

func newTestRouter(t *testing.T, ready bool) (*gin.Engine, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := &orch.Orchestrator{
		Registry:  app.NewRegistry(),
		Presenter: app.NewPresenterSlot(),
		Transfers: transfer.NewTracker(),
		Events:    app.NewEventBus(8),
	}
	cfg := &config.Config{Mode: "test"}
	r := SetupRouter(context.Background(), cfg, o, func() bool { return ready })
	return r, o
}

func get(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndReady(t *testing.T) {
	r, _ := newTestRouter(t, false)
	assert.Equal(t, http.StatusOK, get(r, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(r, http.MethodGet, "/readyz").Code)

	r, o := newTestRouter(t, true)
	c := &stubConn{}
	o.Registry.Register("alice", "sid-a", c, c.RemoteAddr())
	_, cancel := o.Events.Subscribe()
	defer cancel()
	w := get(r, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","users":1,"event_subscribers":1}`, w.Body.String())
}

func TestUsersEndpoint(t *testing.T) {
	r, o := newTestRouter(t, true)
	c := &stubConn{}
	o.Registry.Register("alice", "sid-a", c, c.RemoteAddr())

	w := get(r, http.MethodGet, "/api/users")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Users []core.SessionDTO `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Users, 1)
	assert.Equal(t, "alice", body.Users[0].Username)
	assert.Equal(t, "10.0.0.7:4242", body.Users[0].Remote)

	assert.Equal(t, http.StatusNoContent, get(r, http.MethodDelete, "/api/users/alice").Code)
	assert.True(t, c.closed)
	assert.Equal(t, http.StatusNotFound, get(r, http.MethodDelete, "/api/users/alice").Code)
}

func TestPresenterAndTransfers(t *testing.T) {
	r, o := newTestRouter(t, true)
	o.Presenter.Start("carol")
	o.Transfers.Open("bob", "movie.mkv", 1000)

	w := get(r, http.MethodGet, "/api/presenter")
	assert.JSONEq(t, `{"presenter":"carol","active":true}`, w.Body.String())

	w = get(r, http.MethodGet, "/api/transfers")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Pending []transfer.Progress `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Pending, 1)
	assert.Equal(t, "movie.mkv", body.Pending[0].Filename)
	assert.Equal(t, int64(1000), body.Pending[0].Size)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, true)
	w := get(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lanrelay_registered_clients")
}

func TestEventStream(t *testing.T) {
	r, o := newTestRouter(t, true)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/events"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	require.Eventually(t, func() bool { return o.Events.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	o.Events.Publish(app.Event{Type: app.EventChat, Username: "alice", Text: "hi"})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev app.Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, app.EventChat, ev.Type)
	assert.Equal(t, "hi", ev.Text)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return o.Events.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
