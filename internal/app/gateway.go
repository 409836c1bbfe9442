package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/core"
	"github.com/telegate/teleop/internal/domain"
	"github.com/telegate/teleop/pkg/protocol"
)

var (
	ErrNeverConnected = errors.New("transport never connected")
	ErrBadJoin        = errors.New("join needs a room and a name")
)

// Options carries the tunables the gateway components need.
type Options struct {
	SendTimeout   time.Duration
	SweepInterval time.Duration
	MaxIdle       time.Duration
}

// Gateway is the outward-facing event dispatcher: it wires inbound
// transport events to the directory, orchestrator, presence broadcaster
// and reaper, and owns their lifecycles. One explicit instance per
// process; no ambient globals.
type Gateway struct {
	Directory    *Directory
	Orchestrator *Orchestrator
	Presence     *Presence
	Reaper       *Reaper
}

func NewGateway(store core.Store, emitter core.Emitter, roster core.Roster, opts Options) *Gateway {
	dir := NewDirectory(store)
	presence := &Presence{Roster: roster, Emitter: emitter, SendTimeout: opts.SendTimeout}
	orch := &Orchestrator{
		Directory:   dir,
		Emitter:     emitter,
		Roster:      roster,
		Presence:    presence,
		SendTimeout: opts.SendTimeout,
	}
	reaper := &Reaper{
		Directory: dir,
		Store:     store,
		Roster:    roster,
		Interval:  opts.SweepInterval,
		MaxIdle:   opts.MaxIdle,
	}
	return &Gateway{
		Directory:    dir,
		Orchestrator: orch,
		Presence:     presence,
		Reaper:       reaper,
	}
}

// Run starts the reaper and ties orchestrator-requested shutdown to its
// cancellation. Returns when ctx is canceled or a close event fires.
func (g *Gateway) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.Orchestrator.OnShutdown = cancel
	g.Reaper.Run(ctx)
}

// OnConnect registers a fresh transport against its service.
func (g *Gateway) OnConnect(ctx context.Context, tid core.TransportID, serviceID, token string) error {
	return g.Directory.OnConnect(ctx, tid, serviceID, token)
}

// OnDisconnect evicts the transport from every room it occupied and
// re-announces membership to the survivors.
func (g *Gateway) OnDisconnect(ctx context.Context, tid core.TransportID) {
	svc, bound := g.Directory.ServiceOf(tid)
	var occupied []string
	if bound {
		if reg, ok := g.Directory.RegistryOf(svc.ID); ok {
			for name := range reg.RoomsOf(tid) {
				occupied = append(occupied, name)
			}
		}
	}

	g.Directory.OnDisconnect(ctx, tid)

	if !bound {
		return
	}
	reg, ok := g.Directory.RegistryOf(svc.ID)
	if !ok {
		return
	}
	for _, name := range occupied {
		if room, ok := reg.Resolve(name, 0); ok {
			g.Presence.Announce(ctx, svc.ID, room)
		}
	}
}

// JoinRoom admits the transport into a room and announces the updated
// membership to every live member, the joiner included.
func (g *Gateway) JoinRoom(ctx context.Context, tid core.TransportID, req protocol.JoinRoom) error {
	svc, ok := g.Directory.ServiceOf(tid)
	if !ok {
		return fmt.Errorf("join-room %s: %w", tid, ErrNeverConnected)
	}
	if (req.Room == "" && req.RoomID == 0) || req.Name == "" {
		return ErrBadJoin
	}
	reg, ok := g.Directory.RegistryOf(svc.ID)
	if !ok {
		return fmt.Errorf("join-room %s: %w", tid, ErrNeverConnected)
	}
	if reg.Empty() {
		reg.Initialize()
	}

	p := domain.Participant{
		ID:   string(tid),
		Name: req.Name,
		Type: req.Type,
		Role: req.Role,
	}
	if err := reg.Join(req.Room, req.RoomID, p); err != nil {
		return fmt.Errorf("join-room %s to %q: %w", tid, req.Room, err)
	}
	g.Directory.Persist(ctx, svc.ID)

	room, ok := reg.Resolve(req.Room, req.RoomID)
	if !ok {
		return nil
	}
	g.Presence.Announce(ctx, svc.ID, room)
	log.Info().Str("module", "app.gateway").Str("tid", string(tid)).Str("room", room.Name).Str("name", req.Name).Msg("joined room")
	return nil
}

// LeaveRoom removes the transport from one room and re-announces. Unknown
// room or non-member is a soft no-op surfaced only in logs.
func (g *Gateway) LeaveRoom(ctx context.Context, tid core.TransportID, req protocol.LeaveRoom) error {
	svc, ok := g.Directory.ServiceOf(tid)
	if !ok {
		return fmt.Errorf("leave-room %s: %w", tid, ErrNeverConnected)
	}
	reg, ok := g.Directory.RegistryOf(svc.ID)
	if !ok {
		return fmt.Errorf("leave-room %s: %w", tid, ErrNeverConnected)
	}
	room, ok := reg.Resolve(req.Room, req.RoomID)
	if !ok {
		log.Warn().Str("module", "app.gateway").Str("tid", string(tid)).Str("room", req.Room).Msg("leave-room: unknown room")
		return nil
	}

	reg.Leave(req.Room, req.RoomID, tid)
	g.Directory.Persist(ctx, svc.ID)

	if room, ok = reg.Resolve(req.Room, req.RoomID); ok {
		g.Presence.Announce(ctx, svc.ID, room)
	}
	log.Info().Str("module", "app.gateway").Str("tid", string(tid)).Str("room", room.Name).Msg("left room")
	return nil
}

// CallAll asks the orchestrator to mesh every room of the caller.
func (g *Gateway) CallAll(ctx context.Context, tid core.TransportID) {
	g.Orchestrator.CallAll(ctx, tid)
}

// CallIds meshes an explicit id set.
func (g *Gateway) CallIds(ctx context.Context, tid core.TransportID, ids []string) {
	targets := make([]core.TransportID, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, core.TransportID(id))
	}
	g.Orchestrator.CallIds(ctx, tid, targets)
}

// Relay forwards an opaque offer/answer/candidate payload.
func (g *Gateway) Relay(ctx context.Context, tid core.TransportID, event string, data json.RawMessage) {
	g.Orchestrator.Relay(ctx, tid, event, data)
}

// CloseAll tears down every peer connection around the caller and requests
// gateway shutdown.
func (g *Gateway) CloseAll(ctx context.Context, tid core.TransportID) {
	g.Orchestrator.Close(ctx, tid)
}
