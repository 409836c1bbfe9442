package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telegate/teleop/internal/adapters/memstore"
	"github.com/telegate/teleop/internal/core"
	"github.com/telegate/teleop/internal/domain"
	"github.com/telegate/teleop/pkg/protocol"
)

type emitted struct {
	to      core.TransportID
	event   string
	payload any
}

// fakeEmitter records every Emit call, concurrency-safe.
type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(_ context.Context, to core.TransportID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{to: to, event: event, payload: payload})
	return nil
}

func (f *fakeEmitter) all() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.events...)
}

func (f *fakeEmitter) sentTo(to core.TransportID) []emitted {
	var out []emitted
	for _, e := range f.all() {
		if e.to == to {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// fakeRoster is a hand-maintained view of live transports per service.
type fakeRoster struct {
	mu      sync.Mutex
	live    map[string][]core.TransportID
	dropped []core.TransportID
}

func newFakeRoster() *fakeRoster {
	return &fakeRoster{live: make(map[string][]core.TransportID)}
}

func (f *fakeRoster) add(serviceID string, tid core.TransportID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[serviceID] = append(f.live[serviceID], tid)
}

func (f *fakeRoster) remove(serviceID string, tid core.TransportID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.live[serviceID][:0]
	for _, id := range f.live[serviceID] {
		if id != tid {
			kept = append(kept, id)
		}
	}
	f.live[serviceID] = kept
}

func (f *fakeRoster) Connected(serviceID string) []core.TransportID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.TransportID(nil), f.live[serviceID]...)
}

func (f *fakeRoster) Disconnect(tid core.TransportID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, tid)
	for svc, ids := range f.live {
		kept := ids[:0]
		for _, id := range ids {
			if id != tid {
				kept = append(kept, id)
			}
		}
		f.live[svc] = kept
	}
}

func (f *fakeRoster) wasDropped(tid core.TransportID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.dropped {
		if id == tid {
			return true
		}
	}
	return false
}

// fixture wires a gateway over the in-memory store and the fakes above.
type fixture struct {
	store  *memstore.Store
	em     *fakeEmitter
	roster *fakeRoster
	gw     *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	em := &fakeEmitter{}
	roster := newFakeRoster()
	gw := NewGateway(store, em, roster, Options{
		SendTimeout:   time.Second,
		SweepInterval: time.Minute,
		MaxIdle:       2 * time.Hour,
	})
	return &fixture{store: store, em: em, roster: roster, gw: gw}
}

func (f *fixture) seedService(t *testing.T, id string, status domain.ServiceStatus, token string) {
	t.Helper()
	err := f.store.UpdateService(context.Background(), id, &domain.Service{
		ID:         id,
		Token:      token,
		Status:     status,
		CreateTime: time.Now(),
		UpdateTime: time.Now(),
	})
	require.NoError(t, err)
}

func (f *fixture) connect(t *testing.T, tid core.TransportID, serviceID string) {
	t.Helper()
	require.NoError(t, f.gw.OnConnect(context.Background(), tid, serviceID, ""))
	f.roster.add(serviceID, tid)
}

func (f *fixture) join(t *testing.T, tid core.TransportID, room, name string) {
	t.Helper()
	err := f.gw.JoinRoom(context.Background(), tid, protocol.JoinRoom{
		Room: room,
		Name: name,
		Type: "publisher",
		Role: "console",
	})
	require.NoError(t, err)
}
