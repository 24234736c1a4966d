package signaling

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/relay"
)

// SignalPath is the WebSocket endpoint. The same handler also answers the root
// path for clients that connect to the bare host.
const SignalPath = "/signal"

const (
	DefaultMaxMessageBytes = 64 << 10
	DefaultSendQueueBytes  = 1 << 20
	DefaultIdleTimeout     = 60 * time.Second
	DefaultPingInterval    = 20 * time.Second
)

type Config struct {
	Relay   *relay.Service
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Origins restricts browser origins. Nil means same-host only.
	Origins *origin.Policy

	MaxMessageBytes int64
	SendQueueBytes  int
	IdleTimeout     time.Duration
	PingInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Origins == nil {
		c.Origins, _ = origin.NewPolicy(nil)
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.SendQueueBytes <= 0 {
		c.SendQueueBytes = DefaultSendQueueBytes
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout / 2
	}
	return c
}

type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg, log: cfg.Logger}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if cfg.Origins.CheckRequest(r) {
				return true
			}
			cfg.Metrics.Inc(metrics.DropReasonOriginRejected)
			s.log.Warn("origin_rejected", "origin", r.Header.Get("Origin"), "remote_addr", r.RemoteAddr)
			return false
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+SignalPath, s.handleSignal)
	mux.HandleFunc("GET /{$}", s.handleSignal)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Debug("websocket_upgrade_failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	wc := newWSConn(conn, s.cfg.SendQueueBytes, s.cfg.PingInterval)
	go wc.writeLoop()
	defer wc.wait()

	id, err := s.cfg.Relay.Register(wc)
	if err != nil {
		code, reason := websocket.CloseInternalServerErr, "registration failed"
		switch {
		case errors.Is(err, relay.ErrTooManyConnections):
			code, reason = websocket.CloseTryAgainLater, "too many connections"
		case errors.Is(err, relay.ErrServiceClosed):
			code, reason = websocket.CloseGoingAway, "server shutting down"
		}
		s.log.Warn("client_rejected", "remote_addr", r.RemoteAddr, "err", err)
		wc.CloseWith(code, reason)
		return
	}
	defer func() {
		s.cfg.Relay.Disconnect(id)
		_ = wc.Close()
	}()

	go wc.pingLoop()
	s.readLoop(id, conn)
}

func (s *Server) readLoop(id string, conn *websocket.Conn) {
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.cfg.Metrics.Inc(metrics.DropReasonOversized)
				s.log.Warn("message_oversized", "conn_id", id, "limit_bytes", s.cfg.MaxMessageBytes)
			} else {
				s.log.Debug("client_read_ended", "conn_id", id, "err", err)
			}
			return
		}
		extend()

		if msgType != websocket.TextMessage {
			s.cfg.Metrics.Inc(metrics.MessagesNonText)
			s.log.Warn("message_malformed", "conn_id", id, "reason", "non_text_frame")
			continue
		}
		s.cfg.Relay.Route(id, data)
	}
}
