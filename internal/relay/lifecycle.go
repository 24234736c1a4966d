package relay

import "github.com/wilsonzlin/aero/proxy/roulette-relay/internal/metrics"

// Disconnect removes id from every structure after its transport went away.
// A former partner is sent skipToNext and left Idle. Unknown ids are ignored,
// so calling this more than once is harmless.
func (s *Service) Disconnect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.reg.get(id)
	if !ok {
		return
	}
	s.disconnectLocked(c, "transport_closed")
}

func (s *Service) disconnectLocked(c *connection, reason string) {
	switch c.state {
	case StateSearching:
		s.pool.remove(c.id)
	case StatePaired:
		s.dissolveLocked(c)
	}
	c.state = StateIdle
	s.reg.remove(c.id)
	_ = c.transport.Close()

	s.metrics.Inc(metrics.ConnectionsClosed)
	s.log.Info("client_disconnected", "conn_id", c.id, "reason", reason, "connections", s.reg.len())
}

// dissolveLocked ends c's partnership. c becomes Idle; the partner becomes
// Idle and is sent skipToNext, or is disconnected if that send fails.
func (s *Service) dissolveLocked(c *connection) {
	c.state = StateIdle
	partnerID, ok := s.partners.unbind(c.id)
	if !ok {
		return
	}
	p, ok := s.reg.get(partnerID)
	if !ok {
		return
	}
	p.state = StateIdle
	s.metrics.Inc(metrics.PartnersLeft)
	s.log.Info("partner_left", "conn_id", p.id, "partner_id", c.id)

	if err := s.sendLocked(p, partnerLeftPayload); err != nil {
		s.disconnectLocked(p, "send_failed")
	}
}
