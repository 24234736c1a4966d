package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/signaling"
)

func TestSmokeAgainstRelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := relay.NewService(relay.Config{Logger: logger})
	sig := signaling.NewServer(signaling.Config{Relay: svc, Logger: logger})
	mux := http.NewServeMux()
	sig.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		svc.Close()
		ts.Close()
	})

	relayURL := "ws" + strings.TrimPrefix(ts.URL, "http") + signaling.SignalPath
	if err := smoke(relayURL, originFor(relayURL), 5*time.Second); err != nil {
		t.Fatalf("smoke: %v", err)
	}
}

func TestOriginFor(t *testing.T) {
	cases := map[string]string{
		"ws://127.0.0.1:8080/signal": "http://127.0.0.1:8080",
		"wss://relay.example.com/":   "https://relay.example.com",
	}
	for in, want := range cases {
		if got := originFor(in); got != want {
			t.Fatalf("originFor(%q)=%q, want %q", in, got, want)
		}
	}
}
