package relay

import "github.com/wilsonzlin/aero/proxy/roulette-relay/internal/metrics"

// Search puts id into the pool and pairs it with the longest-waiting other
// searcher, if there is one. A Paired connection is left alone, and a
// connection already searching keeps its place in the queue.
func (s *Service) Search(id, userID string) {
	s.withConn(id, TypeSearch, func(c *connection) {
		if c.state == StatePaired {
			s.log.Debug("search_ignored", "conn_id", c.id, "state", c.state.String())
			return
		}
		s.setUserLocked(c, userID)
		s.searchLocked(c)
	})
}

// StopSearch takes id out of the pool. It has no effect unless id is
// Searching.
func (s *Service) StopSearch(id string) {
	s.withConn(id, TypeStopSearch, s.stopSearchLocked)
}

// Skip ends id's current partnership, if any, telling the partner, and then
// searches again.
func (s *Service) Skip(id string) {
	s.withConn(id, TypeSkipToNext, s.skipLocked)
}

func (s *Service) searchLocked(c *connection) {
	if c.state == StatePaired {
		s.log.Debug("search_ignored", "conn_id", c.id, "state", c.state.String())
		return
	}
	s.metrics.Inc(metrics.Searches)

	// Each failed pairing evicts one connection, so this terminates.
	for {
		if !s.reg.inUse(c.id) || c.state == StatePaired {
			return
		}
		if c.state == StateIdle {
			s.pool.push(c.id)
			c.state = StateSearching
			s.log.Info("search_started", "conn_id", c.id, "pool_size", s.pool.len())
		}

		candID, ok := s.pool.oldestExcept(c.id)
		if !ok {
			return
		}
		cand, ok := s.reg.get(candID)
		if !ok || cand.state != StateSearching {
			s.log.Error("pool_member_invalid", "conn_id", candID)
			s.pool.remove(candID)
			continue
		}
		if !s.pairLocked(c, cand) {
			return
		}
	}
}

// pairLocked binds caller and callee and sends each a peerFound. The caller is
// the connection whose search triggered the match.
//
// If the caller cannot be told, it is disconnected and the callee goes back to
// the head of the pool without having heard anything. If the callee cannot be
// told, it is disconnected, which leaves the caller Idle with a skipToNext.
func (s *Service) pairLocked(caller, callee *connection) bool {
	if !s.partners.bind(caller.id, callee.id) {
		s.log.Error("pair_rejected", "conn_id", caller.id, "partner_id", callee.id)
		return false
	}
	s.pool.remove(caller.id)
	s.pool.remove(callee.id)
	caller.state = StatePaired
	callee.state = StatePaired

	if err := s.sendLocked(caller, peerFoundPayload(callee.peerID(), true)); err != nil {
		s.partners.unbind(caller.id)
		caller.state = StateIdle
		callee.state = StateSearching
		s.pool.pushFront(callee.id)
		s.disconnectLocked(caller, "send_failed")
		return true
	}
	if err := s.sendLocked(callee, peerFoundPayload(caller.peerID(), false)); err != nil {
		s.disconnectLocked(callee, "send_failed")
		return true
	}

	s.metrics.Inc(metrics.PairsFormed)
	s.log.Info("pair_formed",
		"conn_id", caller.id,
		"partner_id", callee.id,
		"user_id", caller.userID,
		"partner_user_id", callee.userID,
		"pool_size", s.pool.len(),
	)
	return true
}

func (s *Service) stopSearchLocked(c *connection) {
	if c.state != StateSearching {
		return
	}
	s.pool.remove(c.id)
	c.state = StateIdle
	s.metrics.Inc(metrics.SearchStops)
	s.log.Info("search_stopped", "conn_id", c.id, "pool_size", s.pool.len())
}

func (s *Service) skipLocked(c *connection) {
	s.metrics.Inc(metrics.Skips)
	if c.state == StatePaired {
		s.log.Info("skip", "conn_id", c.id)
		s.dissolveLocked(c)
	}
	s.searchLocked(c)
}
