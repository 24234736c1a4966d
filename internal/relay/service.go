package relay

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/metrics"
)

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// MaxConnections caps concurrently registered connections. 0 means
	// unlimited.
	MaxConnections int

	// NewID overrides connection id generation (uuid v4 by default).
	NewID func() string
}

// Service owns every piece of matchmaking state. It is safe for concurrent use.
type Service struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	newID   func() string

	mu       sync.Mutex
	closed   bool
	reg      *registry
	pool     *searchPool
	partners partnerTable
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newConnID
	}
	return &Service{
		log:      logger,
		metrics:  cfg.Metrics,
		newID:    newID,
		reg:      newRegistry(cfg.MaxConnections),
		pool:     newSearchPool(),
		partners: make(partnerTable),
	}
}

// Register admits a new connection in the Idle state and returns its id.
func (s *Service) Register(t Transport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrServiceClosed
	}
	if s.reg.full() {
		s.metrics.Inc(metrics.DropReasonTooManyConnections)
		return "", ErrTooManyConnections
	}
	for attempt := 0; attempt < 3; attempt++ {
		id := s.newID()
		if id == "" || s.reg.inUse(id) {
			continue
		}
		s.reg.add(id, t)
		s.metrics.Inc(metrics.ConnectionsOpened)
		s.log.Info("client_connected", "conn_id", id, "connections", s.reg.len())
		return id, nil
	}
	return "", errors.New("failed to allocate unique connection id")
}

// Send delivers payload to id. Delivery failures are logged and reported but
// do not tear the connection down.
func (s *Service) Send(id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.reg.get(id)
	if !ok {
		s.metrics.Inc(metrics.UnknownTarget)
		s.log.Debug("send_unknown_connection", "conn_id", id)
		return ErrUnknownConnection
	}
	return s.sendLocked(c, payload)
}

// SetUser records the client's self-declared user id. Empty ids are ignored.
func (s *Service) SetUser(id, userID string) {
	s.withConn(id, "set_user", func(c *connection) {
		s.setUserLocked(c, userID)
	})
}

func (s *Service) State(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.reg.get(id)
	if !ok {
		return StateIdle, false
	}
	return c.state, true
}

func (s *Service) Partner(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partners.lookup(id)
}

// Searching returns the pool in FIFO order.
func (s *Service) Searching() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.members()
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Connections: s.reg.len(),
		Searching:   s.pool.len(),
		Paired:      len(s.partners),
	}
}

// Close unregisters and closes every connection. Later registrations fail
// with ErrServiceClosed; partners are not notified.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	transports := make([]Transport, 0, s.reg.len())
	for _, c := range s.reg.conns {
		transports = append(transports, c.transport)
	}
	s.reg = newRegistry(s.reg.max)
	s.pool = newSearchPool()
	s.partners = make(partnerTable)
	s.mu.Unlock()

	s.metrics.Add(metrics.ConnectionsClosed, uint64(len(transports)))
	for _, t := range transports {
		_ = t.Close()
	}
	s.log.Info("relay_closed", "connections", len(transports))
}

func (s *Service) withConn(id, op string, fn func(c *connection)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.reg.get(id)
	if !ok {
		s.metrics.Inc(metrics.UnknownTarget)
		s.log.Debug("unknown_connection", "conn_id", id, "op", op)
		return
	}
	fn(c)
}

func (s *Service) setUserLocked(c *connection, userID string) {
	if userID == "" || userID == c.userID {
		return
	}
	c.userID = userID
	s.log.Debug("user_identified", "conn_id", c.id, "user_id", userID)
}

func (s *Service) sendLocked(c *connection, payload []byte) error {
	if err := c.transport.Send(payload); err != nil {
		s.metrics.Inc(metrics.SendFailures)
		s.log.Warn("send_failed", "conn_id", c.id, "err", err)
		return err
	}
	return nil
}
