package core

import (
	"context"
	"errors"

	"github.com/telegate/teleop/internal/domain"
)

// TransportID identifies one live websocket connection. It is reused as the
// addressable peer id in every signaling payload.
type TransportID string

var (
	// ErrNotFound is the soft absence outcome for store lookups.
	ErrNotFound = errors.New("not found")
	// ErrRoomFull rejects a join beyond the room capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrServiceUnavailable refuses a connect against a missing, deleted
	// or not-yet-activated service record.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Store is the boundary to the external service-record store.
// The production deployment backs it with redis; tests and single-node
// setups use the in-memory adapter.
type Store interface {
	GetService(ctx context.Context, id string) (*domain.Service, error)
	UpdateService(ctx context.Context, id string, svc *domain.Service) error
	DeleteService(ctx context.Context, id string) error
	ListServices(ctx context.Context) ([]*domain.Service, error)
}

// Emitter delivers one named event to one connected transport.
// Owned by the transport adapter; delivery is best effort.
type Emitter interface {
	Emit(ctx context.Context, to TransportID, event string, payload any) error
}

// Roster reports which transports are currently connected per service and
// can sever one of them. Implemented by the websocket hub.
type Roster interface {
	Connected(serviceID string) []TransportID
	Disconnect(id TransportID)
}
