package signaling

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/relay"
)

func pairClients(t *testing.T, ts *testServer) (callee, caller *websocket.Conn) {
	t.Helper()
	callee = dial(t, ts.url+SignalPath)
	caller = dial(t, ts.url+SignalPath)

	sendText(t, callee, `{"type":"search","userId":"alice"}`)
	waitFor(t, "first searcher", func() bool { return ts.svc.Stats().Searching == 1 })
	sendText(t, caller, `{"type":"search","userId":"bob"}`)

	got := readPeerFound(t, caller)
	if !got.IsCaller || got.PeerID != "alice" {
		t.Fatalf("caller got %+v", got)
	}
	got = readPeerFound(t, callee)
	if got.IsCaller || got.PeerID != "bob" {
		t.Fatalf("callee got %+v", got)
	}
	return callee, caller
}

func TestSignal_PairsAndRelaysVerbatim(t *testing.T) {
	ts := startServer(t, Config{}, relay.Config{})
	callee, caller := pairClients(t, ts)

	offer := `{"type":"offer", "sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`
	sendText(t, caller, offer)
	if got := readText(t, callee); got != offer {
		t.Fatalf("callee got %s, want %s", got, offer)
	}

	for i := 0; i < 10; i++ {
		sendText(t, callee, fmt.Sprintf(`{"type":"ice-candidate","n":%d}`, i))
	}
	for i := 0; i < 10; i++ {
		want := fmt.Sprintf(`{"type":"ice-candidate","n":%d}`, i)
		if got := readText(t, caller); got != want {
			t.Fatalf("caller got %s, want %s", got, want)
		}
	}
	waitFor(t, "relay counter", func() bool { return ts.metrics.Get(metrics.Relayed) == 11 })
}

func TestSignal_PartnerDisconnectSendsSkipToNext(t *testing.T) {
	ts := startServer(t, Config{}, relay.Config{})
	callee, caller := pairClients(t, ts)

	_ = caller.Close()
	if got := readText(t, callee); got != `{"type":"skipToNext"}` {
		t.Fatalf("callee got %s", got)
	}
	waitFor(t, "disconnect", func() bool { return ts.svc.Stats().Connections == 1 })
}

func TestSignal_SkipToNextReachesPartner(t *testing.T) {
	ts := startServer(t, Config{}, relay.Config{})
	callee, caller := pairClients(t, ts)

	sendText(t, callee, `{"type":"skipToNext"}`)
	if got := readText(t, caller); got != `{"type":"skipToNext"}` {
		t.Fatalf("caller got %s", got)
	}
	waitFor(t, "skipper searching", func() bool { return ts.svc.Stats().Searching == 1 })
}

func TestSignal_MalformedInputKeepsConnection(t *testing.T) {
	ts := startServer(t, Config{}, relay.Config{})
	a := dial(t, ts.url+SignalPath)
	b := dial(t, ts.url+SignalPath)

	sendText(t, a, `garbage`)
	sendText(t, a, `{"no":"type"}`)
	if err := a.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	sendText(t, a, `{"type":"search"}`)
	waitFor(t, "searcher", func() bool { return ts.svc.Stats().Searching == 1 })
	sendText(t, b, `{"type":"search"}`)

	readPeerFound(t, a)
	readPeerFound(t, b)
	if got := ts.metrics.Get(metrics.MessagesMalformed); got != 2 {
		t.Fatalf("messages_malformed=%d, want 2", got)
	}
	if got := ts.metrics.Get(metrics.MessagesNonText); got != 1 {
		t.Fatalf("messages_non_text=%d, want 1", got)
	}
}

func TestSignal_OversizedMessageClosesSocket(t *testing.T) {
	ts := startServer(t, Config{MaxMessageBytes: 128}, relay.Config{})
	c := dial(t, ts.url+SignalPath)

	sendText(t, c, `{"type":"chat","text":"`+strings.Repeat("x", 1024)+`"}`)
	expectClose(t, c, websocket.CloseMessageTooBig)
	waitFor(t, "unregister", func() bool { return ts.svc.Stats().Connections == 0 })
	if got := ts.metrics.Get(metrics.DropReasonOversized); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.DropReasonOversized, got)
	}
}

func TestSignal_TooManyConnections(t *testing.T) {
	ts := startServer(t, Config{}, relay.Config{MaxConnections: 1})
	dial(t, ts.url+SignalPath)
	waitFor(t, "first registration", func() bool { return ts.svc.Stats().Connections == 1 })

	second := dial(t, ts.url+SignalPath)
	expectClose(t, second, websocket.CloseTryAgainLater)
	if got := ts.metrics.Get(metrics.DropReasonTooManyConnections); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.DropReasonTooManyConnections, got)
	}
}

func TestSignal_RejectsForeignOrigin(t *testing.T) {
	policy, err := origin.NewPolicy([]string{"https://app.example.com"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	ts := startServer(t, Config{Origins: policy}, relay.Config{})

	h := http.Header{}
	h.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(ts.url+SignalPath, h)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}

	h.Set("Origin", "https://app.example.com")
	c, _, err := websocket.DefaultDialer.Dial(ts.url+SignalPath, h)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	_ = c.Close()
	if got := ts.metrics.Get(metrics.DropReasonOriginRejected); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.DropReasonOriginRejected, got)
	}
}

func TestSignal_RootPathIsSignaling(t *testing.T) {
	ts := startServer(t, Config{}, relay.Config{})
	c := dial(t, ts.url+"/")
	sendText(t, c, `{"type":"search"}`)
	waitFor(t, "searcher", func() bool { return ts.svc.Stats().Searching == 1 })
}

func TestSignal_ServiceCloseClosesSockets(t *testing.T) {
	ts := startServer(t, Config{}, relay.Config{})
	c := dial(t, ts.url+SignalPath)
	waitFor(t, "registration", func() bool { return ts.svc.Stats().Connections == 1 })

	ts.svc.Close()
	expectClose(t, c, websocket.CloseNormalClosure)

	late := dial(t, ts.url+SignalPath)
	expectClose(t, late, websocket.CloseGoingAway)
}
