package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/core"
	"github.com/telegate/teleop/pkg/protocol"
)

// dispatch routes one inbound envelope into the gateway. Soft failures
// stay here as log lines; the client sees them only as the absence of the
// expected response.
func (h *Hub) dispatch(ctx context.Context, c *conn, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("tid", string(c.id)).Msg("bad envelope")
		return
	}

	switch env.Event {
	case protocol.EventJoinRoom:
		var req protocol.JoinRoom
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.Warn().Err(err).Str("module", "ws").Msg("bad join-room payload")
			return
		}
		if err := h.GW.JoinRoom(ctx, c.id, req); err != nil {
			if errors.Is(err, core.ErrRoomFull) {
				log.Warn().Str("module", "ws").Str("tid", string(c.id)).Str("room", req.Room).Msg("join refused: room full")
				return
			}
			log.Warn().Err(err).Str("module", "ws").Str("tid", string(c.id)).Msg("join-room failed")
		}

	case protocol.EventLeaveRoom:
		var req protocol.LeaveRoom
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.Warn().Err(err).Str("module", "ws").Msg("bad leave-room payload")
			return
		}
		if err := h.GW.LeaveRoom(ctx, c.id, req); err != nil {
			log.Warn().Err(err).Str("module", "ws").Str("tid", string(c.id)).Msg("leave-room failed")
		}

	case protocol.EventCallAll:
		h.GW.CallAll(ctx, c.id)

	case protocol.EventCallIds:
		var ids []string
		if err := json.Unmarshal(env.Data, &ids); err != nil {
			log.Warn().Err(err).Str("module", "ws").Msg("bad call-ids payload")
			return
		}
		h.GW.CallIds(ctx, c.id, ids)

	case protocol.EventCallPeer:
		h.GW.Relay(ctx, c.id, protocol.EventPeerCallReceived, env.Data)

	case protocol.EventPeerAnswer:
		h.GW.Relay(ctx, c.id, protocol.EventPeerAnswerReceived, env.Data)

	case protocol.EventICECandidate:
		h.GW.Relay(ctx, c.id, protocol.EventICECandidateReceived, env.Data)

	case protocol.EventCloseAllPeers:
		h.GW.CloseAll(ctx, c.id)

	default:
		log.Warn().Str("module", "ws").Str("event", env.Event).Msg("unknown event")
	}
}
