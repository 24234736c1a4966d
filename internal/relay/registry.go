package relay

// connection is the service-side record of one live client connection.
type connection struct {
	id        string
	transport Transport
	userID    string
	state     State
}

// peerID is what a partner is told to call this connection: the client's
// self-declared user id when it sent one, the connection id otherwise.
func (c *connection) peerID() string {
	if c.userID != "" {
		return c.userID
	}
	return c.id
}

type registry struct {
	max   int
	conns map[string]*connection
}

func newRegistry(maxConns int) *registry {
	return &registry{
		max:   maxConns,
		conns: make(map[string]*connection),
	}
}

func (r *registry) len() int { return len(r.conns) }

func (r *registry) full() bool {
	return r.max > 0 && len(r.conns) >= r.max
}

func (r *registry) inUse(id string) bool {
	_, ok := r.conns[id]
	return ok
}

func (r *registry) add(id string, t Transport) *connection {
	c := &connection{id: id, transport: t, state: StateIdle}
	r.conns[id] = c
	return c
}

func (r *registry) get(id string) (*connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

func (r *registry) remove(id string) {
	delete(r.conns, id)
}
