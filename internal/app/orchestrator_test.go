package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegate/teleop/internal/core"
	"github.com/telegate/teleop/internal/domain"
	"github.com/telegate/teleop/pkg/protocol"
)

func meshFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.seedService(t, "s1", domain.ServiceActive, "")
	for _, tid := range []core.TransportID{"A", "B", "C"} {
		f.connect(t, tid, "s1")
		f.join(t, tid, "Teleop", "user-"+string(tid))
	}
	f.em.reset()
	return f
}

func peersOf(t *testing.T, e emitted) []string {
	t.Helper()
	require.Equal(t, protocol.EventMakePeerCall, e.event)
	peers, ok := e.payload.([]string)
	require.True(t, ok)
	return peers
}

func TestCallIdsMesh(t *testing.T) {
	f := meshFixture(t)

	f.gw.Orchestrator.CallIds(context.Background(), "A", []core.TransportID{"A", "B", "C"})

	// The caller moves to the end of the ordered list; each id is invited
	// to call everyone after it. Every unordered pair appears exactly once.
	events := f.em.all()
	require.Len(t, events, 2)
	require.Len(t, f.em.sentTo("B"), 1)
	require.Len(t, f.em.sentTo("C"), 1)
	assert.Empty(t, f.em.sentTo("A"))

	assert.Equal(t, []string{"C", "A"}, peersOf(t, f.em.sentTo("B")[0]))
	assert.Equal(t, []string{"A"}, peersOf(t, f.em.sentTo("C")[0]))

	pairs := 0
	for _, e := range events {
		pairs += len(peersOf(t, e))
	}
	assert.Equal(t, 3, pairs)
}

func TestCallIdsDedupesAndDropsUnknown(t *testing.T) {
	f := meshFixture(t)

	// Duplicates collapse, the caller's own id is ignored, and an id that
	// never joined a room is dropped before the mesh is built.
	f.gw.Orchestrator.CallIds(context.Background(), "A", []core.TransportID{"B", "B", "A", "ghost"})

	events := f.em.all()
	require.Len(t, events, 1)
	assert.Equal(t, core.TransportID("B"), events[0].to)
	assert.Equal(t, []string{"A"}, peersOf(t, events[0]))
}

func TestCallIdsTooFewPeers(t *testing.T) {
	f := meshFixture(t)

	f.gw.Orchestrator.CallIds(context.Background(), "A", nil)
	f.gw.Orchestrator.CallIds(context.Background(), "A", []core.TransportID{"A"})
	f.gw.Orchestrator.CallIds(context.Background(), "A", []core.TransportID{"ghost"})

	assert.Empty(t, f.em.all())
}

func TestCallAll(t *testing.T) {
	f := newFixture(t)
	f.seedService(t, "s1", domain.ServiceActive, "")
	f.connect(t, "A", "s1")
	f.connect(t, "B", "s1")
	f.join(t, "A", "Teleop", "user-A")
	f.join(t, "B", "Teleop", "user-B")
	// A room where the caller is alone is skipped.
	f.join(t, "A", "other", "user-A")
	f.em.reset()

	f.gw.Orchestrator.CallAll(context.Background(), "A")

	events := f.em.all()
	require.Len(t, events, 1)
	assert.Equal(t, core.TransportID("B"), events[0].to)
	assert.Equal(t, []string{"A"}, peersOf(t, events[0]))
}

func TestCallAllSkipsDeadPeer(t *testing.T) {
	f := meshFixture(t)
	f.roster.remove("s1", "C")

	f.gw.Orchestrator.CallAll(context.Background(), "A")

	events := f.em.all()
	require.Len(t, events, 1)
	assert.Equal(t, core.TransportID("B"), events[0].to)
	assert.Empty(t, f.em.sentTo("C"))
}

func TestRelayStampsSender(t *testing.T) {
	f := meshFixture(t)
	data := json.RawMessage(`{"toId":"B","offer":{"type":"offer","sdp":"v=0"}}`)

	f.gw.Orchestrator.Relay(context.Background(), "A", protocol.EventPeerCallReceived, data)

	events := f.em.all()
	require.Len(t, events, 1)
	assert.Equal(t, core.TransportID("B"), events[0].to)
	assert.Equal(t, protocol.EventPeerCallReceived, events[0].event)

	payload, ok := events[0].payload.(map[string]json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `"A"`, string(payload["fromId"]))
	assert.JSONEq(t, `"B"`, string(payload["toId"]))
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(payload["offer"]))
}

func TestRelayDrops(t *testing.T) {
	f := meshFixture(t)
	f.seedService(t, "s2", domain.ServiceActive, "")
	f.connect(t, "D", "s2")
	f.em.reset()

	tests := []struct {
		name string
		data string
	}{
		{"empty target", `{"toId":""}`},
		{"self target", `{"toId":"A"}`},
		{"unbound target", `{"toId":"ghost"}`},
		{"cross-service target", `{"toId":"D"}`},
		{"malformed payload", `not-json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.gw.Orchestrator.Relay(context.Background(), "A", protocol.EventICECandidateReceived, json.RawMessage(tt.data))
			assert.Empty(t, f.em.all())
		})
	}
}

func TestCloseNotifiesPeersAndEvicts(t *testing.T) {
	f := meshFixture(t)
	shutdowns := 0
	f.gw.Orchestrator.OnShutdown = func() { shutdowns++ }

	f.gw.Orchestrator.Close(context.Background(), "A")

	var notified []core.TransportID
	for _, e := range f.em.all() {
		require.Equal(t, protocol.EventClosePeersRequested, e.event)
		notified = append(notified, e.to)
	}
	assert.ElementsMatch(t, []core.TransportID{"B", "C"}, notified)

	_, bound := f.gw.Directory.ServiceOf("A")
	assert.False(t, bound)
	assert.True(t, f.roster.wasDropped("A"))
	assert.Equal(t, 1, shutdowns)

	// A second close from another transport does not fire shutdown again.
	f.gw.Orchestrator.Close(context.Background(), "B")
	assert.Equal(t, 1, shutdowns)
}
