package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/core"
	"github.com/telegate/teleop/internal/domain"
	"github.com/telegate/teleop/pkg/protocol"
)

const defaultSendTimeout = 5 * time.Second

// Presence notifies room members of membership changes. The stored
// participant list may contain transports that vanished without a clean
// leave; they are filtered lazily against the live roster here rather than
// purged eagerly.
type Presence struct {
	Roster  core.Roster
	Emitter core.Emitter

	// SendTimeout bounds the whole fan-out of one announcement.
	SendTimeout time.Duration
}

// Live intersects a room's stored participant list with the transports
// currently connected to the service, preserving join order.
func (p *Presence) Live(serviceID string, room domain.Room, excluding ...core.TransportID) []domain.Participant {
	connected := make(map[core.TransportID]struct{})
	for _, id := range p.Roster.Connected(serviceID) {
		connected[id] = struct{}{}
	}
	skip := make(map[core.TransportID]struct{}, len(excluding))
	for _, id := range excluding {
		skip[id] = struct{}{}
	}

	out := make([]domain.Participant, 0, len(room.Participants))
	for _, c := range room.Participants {
		if _, ok := connected[core.TransportID(c.ID)]; !ok {
			log.Info().Str("module", "app.presence").Str("room", room.Name).Str("client", c.ID).Msg("filtering stale participant")
			continue
		}
		if _, ok := skip[core.TransportID(c.ID)]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Announce emits the room's membership snapshot to every surviving
// participant, or to an explicit recipient subset when given. Sends run
// concurrently under one shared deadline; one failed send never cancels
// the others.
func (p *Presence) Announce(ctx context.Context, serviceID string, room domain.Room, to ...core.TransportID) {
	live := p.Live(serviceID, room)
	snapshot := make([]protocol.RoomClient, 0, len(live))
	for _, c := range live {
		snapshot = append(snapshot, protocol.RoomClient{ID: c.ID, Name: c.Name, Type: c.Type})
	}

	recipients := to
	if len(recipients) == 0 {
		for _, c := range live {
			recipients = append(recipients, core.TransportID(c.ID))
		}
	}
	if len(recipients) == 0 {
		return
	}

	p.fanOut(ctx, recipients, protocol.EventRoomClients, snapshot)
}

// Broadcast sends one event concurrently to a recipient set.
func (p *Presence) Broadcast(ctx context.Context, recipients []core.TransportID, event string, payload any) {
	p.fanOut(ctx, recipients, event, payload)
}

func (p *Presence) fanOut(ctx context.Context, recipients []core.TransportID, event string, payload any) {
	timeout := p.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, tid := range recipients {
		wg.Add(1)
		go func(tid core.TransportID) {
			defer wg.Done()
			if err := p.Emitter.Emit(ctx, tid, event, payload); err != nil {
				log.Warn().Err(err).Str("module", "app.presence").Str("event", event).Str("to", string(tid)).Msg("send failed")
			}
		}(tid)
	}
	wg.Wait()
}
