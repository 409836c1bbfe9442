// Package client is the Go signaling client robots and consoles use to
// talk to the gateway. It speaks the pkg/protocol wire contract and leaves
// peer-connection establishment to the caller's WebRTC engine.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/pkg/protocol"
)

const writeTimeout = 5 * time.Second

// Handler carries the callbacks for gateway-to-client events. Nil fields
// are skipped.
type Handler struct {
	OnRoomClients    func(clients []protocol.RoomClient)
	OnMakePeerCall   func(peerIDs []string)
	OnPeerCall       func(call protocol.PeerCall)
	OnPeerAnswer     func(answer protocol.PeerAnswer)
	OnICECandidate   func(cand protocol.ICECandidate)
	OnCloseRequested func()
}

type Client struct {
	conn *websocket.Conn
	h    Handler

	writeMu sync.Mutex

	once sync.Once
	done chan struct{}
}

// Dial connects to ws(s)://host/ws/<service_id>[?token=...] and starts the
// read loop.
func Dial(ctx context.Context, url string, h Handler) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{conn: conn, h: h, done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *Client) JoinRoom(room, name, clientType, role string) error {
	return c.send(protocol.EventJoinRoom, protocol.JoinRoom{Room: room, Name: name, Type: clientType, Role: role})
}

func (c *Client) LeaveRoom(room string) error {
	return c.send(protocol.EventLeaveRoom, protocol.LeaveRoom{Room: room})
}

func (c *Client) CallAll() error {
	return c.send(protocol.EventCallAll, nil)
}

func (c *Client) CallIds(ids []string) error {
	return c.send(protocol.EventCallIds, ids)
}

func (c *Client) CallPeer(toID string, offer webrtc.SessionDescription) error {
	return c.send(protocol.EventCallPeer, protocol.PeerCall{ToID: toID, Offer: offer})
}

func (c *Client) AnswerPeer(toID string, answer webrtc.SessionDescription) error {
	return c.send(protocol.EventPeerAnswer, protocol.PeerAnswer{ToID: toID, Answer: answer})
}

func (c *Client) SendICECandidate(toID string, cand webrtc.ICECandidateInit) error {
	return c.send(protocol.EventICECandidate, protocol.ICECandidate{ToID: toID, Candidate: cand})
}

func (c *Client) CloseAllRoomPeers() error {
	return c.send(protocol.EventCloseAllPeers, nil)
}

func (c *Client) send(event string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", event, err)
		}
		data = b
	}
	frame, err := json.Marshal(protocol.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readLoop() {
	defer c.once.Do(func() { close(c.done) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad envelope")
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventRoomClients:
		if c.h.OnRoomClients == nil {
			return
		}
		var clients []protocol.RoomClient
		if err := json.Unmarshal(env.Data, &clients); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad room-clients payload")
			return
		}
		c.h.OnRoomClients(clients)

	case protocol.EventMakePeerCall:
		if c.h.OnMakePeerCall == nil {
			return
		}
		var ids []string
		if err := json.Unmarshal(env.Data, &ids); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad make-peer-call payload")
			return
		}
		c.h.OnMakePeerCall(ids)

	case protocol.EventPeerCallReceived:
		if c.h.OnPeerCall == nil {
			return
		}
		var call protocol.PeerCall
		if err := json.Unmarshal(env.Data, &call); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad peer-call payload")
			return
		}
		c.h.OnPeerCall(call)

	case protocol.EventPeerAnswerReceived:
		if c.h.OnPeerAnswer == nil {
			return
		}
		var ans protocol.PeerAnswer
		if err := json.Unmarshal(env.Data, &ans); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad peer-answer payload")
			return
		}
		c.h.OnPeerAnswer(ans)

	case protocol.EventICECandidateReceived:
		if c.h.OnICECandidate == nil {
			return
		}
		var cand protocol.ICECandidate
		if err := json.Unmarshal(env.Data, &cand); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad ice-candidate payload")
			return
		}
		c.h.OnICECandidate(cand)

	case protocol.EventClosePeersRequested:
		if c.h.OnCloseRequested != nil {
			c.h.OnCloseRequested()
		}
	}
}
