package relay

import "github.com/wilsonzlin/aero/proxy/roulette-relay/internal/metrics"

// Route handles one inbound text message from id.
//
// Control messages (search, stopSearch, skipToNext) drive matchmaking; a
// userId field on them is recorded. Any other typed message is forwarded
// byte-for-byte to the current partner, or dropped when there is none.
// Malformed input is dropped and never closes the connection.
func (s *Service) Route(id string, data []byte) {
	env, err := parseEnvelope(data)
	if err != nil {
		s.metrics.Inc(metrics.MessagesMalformed)
		s.log.Warn("message_malformed", "conn_id", id, "err", err)
		return
	}

	switch env.Type {
	case TypeSearch:
		s.Search(id, env.userID())
	case TypeStopSearch:
		s.withConn(id, env.Type, func(c *connection) {
			s.setUserLocked(c, env.userID())
			s.stopSearchLocked(c)
		})
	case TypeSkipToNext:
		s.withConn(id, env.Type, func(c *connection) {
			s.setUserLocked(c, env.userID())
			s.skipLocked(c)
		})
	default:
		s.withConn(id, env.Type, func(c *connection) {
			s.relayLocked(c, env.Type, data)
		})
	}
}

func (s *Service) relayLocked(c *connection, msgType string, data []byte) {
	partnerID, ok := s.partners.lookup(c.id)
	if !ok {
		s.metrics.Inc(metrics.DropReasonNoPartner)
		s.log.Debug("relay_dropped", "conn_id", c.id, "type", msgType, "reason", "no_partner")
		return
	}
	p, ok := s.reg.get(partnerID)
	if !ok {
		s.metrics.Inc(metrics.DropReasonNoPartner)
		s.log.Error("relay_dropped", "conn_id", c.id, "type", msgType, "reason", "partner_unregistered")
		return
	}
	if err := s.sendLocked(p, data); err != nil {
		s.disconnectLocked(p, "send_failed")
		return
	}
	s.metrics.Inc(metrics.Relayed)
	s.log.Debug("relayed", "conn_id", c.id, "partner_id", p.id, "type", msgType, "bytes", len(data))
}
