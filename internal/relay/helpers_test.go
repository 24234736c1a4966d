package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/metrics"
)

var errFakeSend = errors.New("fake send failure")

type fakeTransport struct {
	mu       sync.Mutex
	msgs     []string
	failSend bool
	closes   int
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closes > 0 {
		return errors.New("transport closed")
	}
	if f.failSend {
		return errFakeSend
	}
	f.msgs = append(f.msgs, string(payload))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) setFailSend(v bool) {
	f.mu.Lock()
	f.failSend = v
	f.mu.Unlock()
}

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

func (f *fakeTransport) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes > 0
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("c%d", n)
	}
}

func newTestService(t *testing.T, cfg Config) (*Service, *metrics.Metrics) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.NewID == nil {
		cfg.NewID = sequentialIDs()
	}
	svc := NewService(cfg)
	t.Cleanup(svc.Close)
	return svc, cfg.Metrics
}

func mustRegister(t *testing.T, svc *Service) (string, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	id, err := svc.Register(tr)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return id, tr
}

func expectMessages(t *testing.T, tr *fakeTransport, want ...string) {
	t.Helper()
	got := tr.messages()
	if len(got) != len(want) {
		t.Fatalf("messages=%q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message[%d]=%s, want %s", i, got[i], want[i])
		}
	}
}

func expectState(t *testing.T, svc *Service, id string, want State) {
	t.Helper()
	got, ok := svc.State(id)
	if !ok {
		t.Fatalf("%s not registered", id)
	}
	if got != want {
		t.Fatalf("%s state=%s, want %s", id, got, want)
	}
}

// checkInvariants verifies that the registry, pool and partnership table agree
// with each other and with every connection's state.
func checkInvariants(t *testing.T, svc *Service) {
	t.Helper()
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.pool.order.Len() != len(svc.pool.index) {
		t.Fatalf("pool list len=%d, index len=%d", svc.pool.order.Len(), len(svc.pool.index))
	}
	for id, c := range svc.reg.conns {
		if c.id != id {
			t.Fatalf("registry key %s holds connection %s", id, c.id)
		}
		inPool := svc.pool.contains(id)
		partner, paired := svc.partners.lookup(id)
		switch c.state {
		case StateIdle:
			if inPool || paired {
				t.Fatalf("%s idle but inPool=%v paired=%v", id, inPool, paired)
			}
		case StateSearching:
			if !inPool || paired {
				t.Fatalf("%s searching but inPool=%v paired=%v", id, inPool, paired)
			}
		case StatePaired:
			if inPool || !paired {
				t.Fatalf("%s paired but inPool=%v paired=%v", id, inPool, paired)
			}
			p, ok := svc.reg.get(partner)
			if !ok || p.state != StatePaired {
				t.Fatalf("%s partner %s missing or not paired", id, partner)
			}
		}
	}
	for _, id := range svc.pool.members() {
		if !svc.reg.inUse(id) {
			t.Fatalf("pool member %s not registered", id)
		}
	}
	for a, b := range svc.partners {
		if a == b {
			t.Fatalf("%s paired with itself", a)
		}
		if svc.partners[b] != a {
			t.Fatalf("partnership %s->%s not symmetric", a, b)
		}
		if !svc.reg.inUse(a) || !svc.reg.inUse(b) {
			t.Fatalf("partnership %s<->%s names unregistered connection", a, b)
		}
	}
}
