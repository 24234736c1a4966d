package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/websocket"
)

type message struct {
	Type     string `json:"type"`
	PeerID   string `json:"peerId,omitempty"`
	IsCaller bool   `json:"isCaller,omitempty"`
	Text     string `json:"text,omitempty"`
}

func main() {
	relayURL := envOrDefault("RELAY_URL", "ws://127.0.0.1:8080/signal")
	timeout := time.Duration(envIntOrDefault("SMOKE_TIMEOUT_SECONDS", 5)) * time.Second

	if err := smoke(relayURL, envOrDefault("ORIGIN", originFor(relayURL)), timeout); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func smoke(relayURL, origin string, timeout time.Duration) error {
	alice, err := websocket.Dial(relayURL, "", origin)
	if err != nil {
		return fmt.Errorf("dial alice: %w", err)
	}
	defer alice.Close()
	bob, err := websocket.Dial(relayURL, "", origin)
	if err != nil {
		return fmt.Errorf("dial bob: %w", err)
	}
	defer bob.Close()

	deadline := time.Now().Add(timeout)
	for _, ws := range []*websocket.Conn{alice, bob} {
		if err := ws.SetReadDeadline(deadline); err != nil {
			return err
		}
	}

	if err := send(alice, map[string]any{"type": "search", "userId": "smoke-alice"}); err != nil {
		return err
	}
	if err := send(bob, map[string]any{"type": "search", "userId": "smoke-bob"}); err != nil {
		return err
	}

	aliceFound, err := expect(alice, "peerFound")
	if err != nil {
		return fmt.Errorf("alice: %w", err)
	}
	bobFound, err := expect(bob, "peerFound")
	if err != nil {
		return fmt.Errorf("bob: %w", err)
	}
	if aliceFound.PeerID != "smoke-bob" || bobFound.PeerID != "smoke-alice" {
		return fmt.Errorf("peer ids: alice saw %q, bob saw %q", aliceFound.PeerID, bobFound.PeerID)
	}
	if aliceFound.IsCaller == bobFound.IsCaller {
		return errors.New("exactly one peer must be the caller")
	}

	if err := send(alice, map[string]any{"type": "chat", "text": "hello bob"}); err != nil {
		return err
	}
	if got, err := expect(bob, "chat"); err != nil || got.Text != "hello bob" {
		return fmt.Errorf("bob chat: %+v, %v", got, err)
	}
	if err := send(bob, map[string]any{"type": "chat", "text": "hello alice"}); err != nil {
		return err
	}
	if got, err := expect(alice, "chat"); err != nil || got.Text != "hello alice" {
		return fmt.Errorf("alice chat: %+v, %v", got, err)
	}

	if err := send(alice, map[string]any{"type": "skipToNext"}); err != nil {
		return err
	}
	if _, err := expect(bob, "skipToNext"); err != nil {
		return fmt.Errorf("bob after skip: %w", err)
	}
	return nil
}

func send(ws *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return websocket.Message.Send(ws, string(b))
}

func expect(ws *websocket.Conn, msgType string) (message, error) {
	var raw string
	if err := websocket.Message.Receive(ws, &raw); err != nil {
		return message{}, fmt.Errorf("waiting for %s: %w", msgType, err)
	}
	var msg message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return message{}, fmt.Errorf("decode %q: %w", raw, err)
	}
	if msg.Type != msgType {
		return msg, fmt.Errorf("got %q, want %q", msg.Type, msgType)
	}
	return msg, nil
}

// originFor returns an Origin matching the relay's host, which the relay's
// default same-host policy admits.
func originFor(relayURL string) string {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "http://localhost"
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}
