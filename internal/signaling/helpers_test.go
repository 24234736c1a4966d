package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/relay"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	svc     *relay.Service
	metrics *metrics.Metrics
	url     string
}

func startServer(t *testing.T, cfg Config, relayCfg relay.Config) *testServer {
	t.Helper()
	m := metrics.New()
	relayCfg.Logger = discardLogger()
	relayCfg.Metrics = m
	svc := relay.NewService(relayCfg)

	cfg.Relay = svc
	cfg.Logger = discardLogger()
	cfg.Metrics = m
	srv := NewServer(cfg)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		svc.Close()
		ts.Close()
	})

	return &testServer{
		svc:     svc,
		metrics: m,
		url:     "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sendText(t *testing.T, c *websocket.Conn, msg string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readText(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("message type=%d, want text", msgType)
	}
	return string(data)
}

type peerFoundMsg struct {
	Type     string `json:"type"`
	PeerID   string `json:"peerId"`
	IsCaller bool   `json:"isCaller"`
}

func readPeerFound(t *testing.T, c *websocket.Conn) peerFoundMsg {
	t.Helper()
	raw := readText(t, c)
	var msg peerFoundMsg
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	if msg.Type != "peerFound" {
		t.Fatalf("got %s, want peerFound", raw)
	}
	return msg
}

func expectClose(t *testing.T, c *websocket.Conn, code int) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, code) {
			t.Fatalf("read err=%v, want close code %d", err, code)
		}
		return
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
