package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/core"
	"github.com/telegate/teleop/pkg/protocol"
)

// Orchestrator computes call meshes and relays point-to-point signaling
// payloads between participants of one service. It is payload-agnostic:
// offers, answers and candidates pass through unparsed.
type Orchestrator struct {
	Directory *Directory
	Emitter   core.Emitter
	Roster    core.Roster
	Presence  *Presence

	// SendTimeout bounds the invitation fan-out of one call.
	SendTimeout time.Duration

	// OnShutdown, when set, is invoked once by Close to request gateway
	// shutdown (stops the reaper loop).
	OnShutdown func()

	closeOnce sync.Once
}

// CallAll enumerates every room the caller belongs to and calls the live
// participants of each. Rooms with fewer than two live participants are
// skipped.
func (o *Orchestrator) CallAll(ctx context.Context, from core.TransportID) {
	svc, ok := o.Directory.ServiceOf(from)
	if !ok {
		log.Warn().Str("module", "app.orch").Str("tid", string(from)).Msg("call-all from unbound transport")
		return
	}
	reg, ok := o.Directory.RegistryOf(svc.ID)
	if !ok {
		return
	}

	live := make(map[string]struct{})
	for _, id := range o.Roster.Connected(svc.ID) {
		live[string(id)] = struct{}{}
	}

	for roomName := range reg.RoomsOf(from) {
		room, ok := reg.Resolve(roomName, 0)
		if !ok {
			log.Debug().Str("module", "app.orch").Str("room", roomName).Msg("call-all: room not found")
			continue
		}
		ids := make([]core.TransportID, 0, len(room.Participants))
		for _, p := range room.Participants {
			if _, ok := live[p.ID]; ok {
				ids = append(ids, core.TransportID(p.ID))
			}
		}
		if len(ids) < 2 {
			continue
		}
		o.CallIds(ctx, from, ids)
	}
}

// CallIds introduces every unordered pair from the given id set exactly
// once. The ids are deduplicated, intersected with the registry's known
// participants, and the caller is moved to the end of the ordered list;
// then each id receives one make-peer-call invitation naming every id that
// follows it. The earlier id always initiates the offer, a fixed tie-break
// that keeps two peers from calling each other simultaneously.
func (o *Orchestrator) CallIds(ctx context.Context, from core.TransportID, ids []core.TransportID) {
	reg, ok := o.Directory.RegistryFor(from)
	if !ok {
		log.Warn().Str("module", "app.orch").Str("tid", string(from)).Msg("call-ids from unbound transport")
		return
	}

	seen := make(map[core.TransportID]struct{}, len(ids))
	ordered := make([]core.TransportID, 0, len(ids)+1)
	for _, id := range ids {
		if id == from {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	ordered = reg.Known(ordered)
	ordered = append(ordered, from) // the caller is always included exactly once
	if len(ordered) < 2 {
		return
	}
	log.Debug().Str("module", "app.orch").Str("from", string(from)).Int("peers", len(ordered)).Msg("building call mesh")

	timeout := o.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < len(ordered)-1; i++ {
		caller := ordered[i]
		peers := make([]string, 0, len(ordered)-i-1)
		for _, id := range ordered[i+1:] {
			peers = append(peers, string(id))
		}
		wg.Add(1)
		go func(caller core.TransportID, peers []string) {
			defer wg.Done()
			if err := o.Emitter.Emit(ctx, caller, protocol.EventMakePeerCall, peers); err != nil {
				log.Warn().Err(err).Str("module", "app.orch").Str("to", string(caller)).Msg("make-peer-call send failed")
			}
		}(caller, peers)
	}
	wg.Wait()
}

// Relay stamps fromId onto the payload and forwards it unmodified to the
// toId named inside it. A relay addressed to an unbound or cross-session
// target is dropped with a log line, never escalated to the caller: a
// racing disconnect is expected and non-fatal.
func (o *Orchestrator) Relay(ctx context.Context, from core.TransportID, event string, data json.RawMessage) {
	var hdr struct {
		ToID string `json:"toId"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("event", event).Msg("relay: bad payload")
		return
	}
	to := core.TransportID(hdr.ToID)
	if to == "" || to == from {
		return
	}
	if _, ok := o.Directory.ServiceOf(to); !ok {
		log.Debug().Str("module", "app.orch").Str("event", event).Str("to", hdr.ToID).Msg("relay: target not connected")
		return
	}
	if _, ok := o.Directory.SameService(from, to); !ok {
		log.Warn().Str("module", "app.orch").Str("event", event).Str("from", string(from)).Str("to", hdr.ToID).Msg("relay: cross-service target refused")
		return
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("event", event).Msg("relay: bad payload")
		return
	}
	fromID, err := json.Marshal(string(from))
	if err != nil {
		return
	}
	payload["fromId"] = fromID

	log.Debug().Str("module", "app.orch").Str("event", event).Str("from", string(from)).Str("to", hdr.ToID).Msg("relay")
	if err := o.Emitter.Emit(ctx, to, event, payload); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("event", event).Str("to", hdr.ToID).Msg("relay send failed")
	}
}

// Close requests gateway shutdown, tells every co-room peer of the caller
// to tear down its peer connections, then evicts the caller.
func (o *Orchestrator) Close(ctx context.Context, from core.TransportID) {
	if o.OnShutdown != nil {
		o.closeOnce.Do(o.OnShutdown)
	}

	svc, ok := o.Directory.ServiceOf(from)
	if !ok {
		log.Warn().Str("module", "app.orch").Str("tid", string(from)).Msg("close from unbound transport")
		return
	}
	reg, ok := o.Directory.RegistryOf(svc.ID)
	if !ok {
		return
	}

	for roomName := range reg.RoomsOf(from) {
		room, ok := reg.Resolve(roomName, 0)
		if !ok {
			continue
		}
		var recipients []core.TransportID
		for _, p := range o.Presence.Live(svc.ID, room, from) {
			recipients = append(recipients, core.TransportID(p.ID))
		}
		if len(recipients) == 0 {
			continue
		}
		o.Presence.Broadcast(ctx, recipients, protocol.EventClosePeersRequested, struct{}{})
	}

	o.Directory.OnDisconnect(ctx, from)
	o.Roster.Disconnect(from)
}
