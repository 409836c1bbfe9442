package domain

// Participant is one transport-connection inside a room. ID is the live
// transport identifier and doubles as the addressable peer id; Name is the
// human-chosen display name, unique within a room.
type Participant struct {
	ID   string `json:"client_id"`
	Name string `json:"client_name"`
	Type string `json:"client_type,omitempty"` // publisher or subscriber
	Role string `json:"client_role,omitempty"` // robot or console
}

// Room belongs to exactly one service. Kind is an opaque tag (video, text,
// binary, ...) the gateway never interprets.
type Room struct {
	ID           int           `json:"room_id"`
	Name         string        `json:"room_name"`
	Alias        string        `json:"room_alias,omitempty"`
	Kind         string        `json:"room_type,omitempty"`
	ServiceID    string        `json:"service_id,omitempty"`
	MaxUsers     int           `json:"max_users"`
	Participants []Participant `json:"participants_list"`
}

// RoomState is the persisted blob round-tripped through the service record:
// the full room map plus the id counter. Live participants survive a
// snapshot but not a reconstruction.
type RoomState struct {
	ServiceID string          `json:"service_id"`
	Rooms     map[string]Room `json:"rooms"`
	BaseNum   int             `json:"base_num"`
}
