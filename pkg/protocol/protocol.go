// Package protocol is the wire contract between the signaling gateway and
// its peers (robots and consoles). Offer, answer and candidate payloads are
// typed for clients but the gateway relays them opaquely; it never reads
// SDP contents.
package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Events sent by clients to the gateway.
const (
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventCallAll       = "call-all"
	EventCallIds       = "call-ids"
	EventCallPeer      = "call-peer"
	EventPeerAnswer    = "make-peer-call-answer"
	EventICECandidate  = "send-ice-candidate"
	EventCloseAllPeers = "close-all-room-peer-connections"
)

// Events sent by the gateway to clients.
const (
	EventRoomClients          = "room-clients"
	EventMakePeerCall         = "make-peer-call"
	EventPeerCallReceived     = "peer-call-received"
	EventPeerAnswerReceived   = "peer-call-answer-received"
	EventICECandidateReceived = "ice-candidate-received"
	EventClosePeersRequested  = "close-all-peer-connections-request-received"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoom admits the sender into a room. Room or RoomID selects the room;
// Name is the display name, unique within the room.
type JoinRoom struct {
	Room   string `json:"room,omitempty"`
	RoomID int    `json:"roomId,omitempty"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"` // publisher or subscriber
	Role   string `json:"role,omitempty"` // robot or console
}

type LeaveRoom struct {
	Room   string `json:"room,omitempty"`
	RoomID int    `json:"roomId,omitempty"`
}

// RoomClient is one entry of the room-clients membership snapshot.
type RoomClient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// PeerCall carries an SDP offer toward ToID. FromID is stamped by the
// gateway on delivery.
type PeerCall struct {
	ToID   string                    `json:"toId,omitempty"`
	FromID string                    `json:"fromId,omitempty"`
	Offer  webrtc.SessionDescription `json:"offer"`
}

// PeerAnswer carries an SDP answer back to the offering peer.
type PeerAnswer struct {
	ToID   string                    `json:"toId,omitempty"`
	FromID string                    `json:"fromId,omitempty"`
	Answer webrtc.SessionDescription `json:"answer"`
}

// ICECandidate trickles one ICE candidate to a peer.
type ICECandidate struct {
	ToID      string                  `json:"toId,omitempty"`
	FromID    string                  `json:"fromId,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}
