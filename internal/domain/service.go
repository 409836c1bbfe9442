// Package domain contains entity without logic, just meta-data
package domain

import "time"

// ServiceStatus is the lifecycle state of a teleop service record.
type ServiceStatus string

const (
	ServiceNew      ServiceStatus = "new"
	ServiceActive   ServiceStatus = "active"
	ServiceInactive ServiceStatus = "inactive"
	ServiceDeleted  ServiceStatus = "deleted"
)

// ICEServer is the STUN/TURN endpoint handed to clients of a service.
// The gateway never dials it; it is configuration passed through verbatim.
type ICEServer struct {
	URLs       string `json:"urls"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// Service is the logical session record owned by the external store.
// The gateway holds only a cached mirror keyed by service id.
type Service struct {
	ID         string        `json:"service_id"`
	Token      string        `json:"token,omitempty"`
	UserID     string        `json:"user_id,omitempty"`
	ICEServer  *ICEServer    `json:"ice_server,omitempty"`
	Rooms      *RoomState    `json:"rooms,omitempty"`
	Status     ServiceStatus `json:"status"`
	CreateTime time.Time     `json:"create_time"`
	UpdateTime time.Time     `json:"update_time"`
}

// Connectable reports whether a transport may register against this record.
func (s *Service) Connectable() bool {
	return s.Status == ServiceActive || s.Status == ServiceInactive
}
