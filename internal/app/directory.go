package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/core"
	"github.com/telegate/teleop/internal/domain"
)

// Directory maps live transports to their cached service record and each
// service to its live room registry. Created on connect, destroyed on
// disconnect; registries are built lazily on the first transport of a
// service and hydrated from the persisted room-state blob.
type Directory struct {
	store core.Store

	mu         sync.Mutex
	services   map[core.TransportID]*domain.Service
	registries map[string]*core.Registry
}

func NewDirectory(store core.Store) *Directory {
	return &Directory{
		store:      store,
		services:   make(map[core.TransportID]*domain.Service),
		registries: make(map[string]*core.Registry),
	}
}

// OnConnect validates the service record and binds the transport to it.
// Fails closed: no registration happens unless the record exists, its
// status is active or inactive, and the token matches when the record
// carries one.
func (d *Directory) OnConnect(ctx context.Context, tid core.TransportID, serviceID, token string) error {
	svc, err := d.store.GetService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("service %s: %w", serviceID, core.ErrServiceUnavailable)
		}
		return fmt.Errorf("fetch service %s: %w", serviceID, err)
	}
	if !svc.Connectable() {
		return fmt.Errorf("service %s status %s: %w", serviceID, svc.Status, core.ErrServiceUnavailable)
	}
	if svc.Token != "" && token != svc.Token {
		return fmt.Errorf("service %s token mismatch: %w", serviceID, core.ErrServiceUnavailable)
	}

	svc.UpdateTime = time.Now()
	if err := d.store.UpdateService(ctx, serviceID, svc); err != nil {
		return fmt.Errorf("stamp service %s: %w", serviceID, err)
	}

	d.mu.Lock()
	d.services[tid] = svc
	reg, ok := d.registries[serviceID]
	if !ok {
		reg = core.NewRegistry(serviceID)
		reg.Hydrate(svc.Rooms)
		d.registries[serviceID] = reg
	}
	d.mu.Unlock()

	log.Info().Str("module", "app.directory").Str("tid", string(tid)).Str("service", serviceID).Msg("transport bound")
	return nil
}

// OnDisconnect evicts the transport from every room of its service and
// drops the binding. A transport that was never bound is a logged no-op,
// defensive against double-disconnect.
func (d *Directory) OnDisconnect(ctx context.Context, tid core.TransportID) {
	d.mu.Lock()
	svc, ok := d.services[tid]
	var reg *core.Registry
	if ok {
		reg = d.registries[svc.ID]
		delete(d.services, tid)
	}
	d.mu.Unlock()

	if !ok {
		log.Debug().Str("module", "app.directory").Str("tid", string(tid)).Msg("disconnect for unbound transport")
		return
	}
	if reg != nil {
		reg.Evict(tid)
		d.Persist(ctx, svc.ID)
	}
	log.Info().Str("module", "app.directory").Str("tid", string(tid)).Str("service", svc.ID).Msg("transport unbound")
}

// ServiceOf returns the cached service record bound to a transport.
func (d *Directory) ServiceOf(tid core.TransportID) (*domain.Service, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	svc, ok := d.services[tid]
	return svc, ok
}

// RegistryOf returns the live registry for a service id, if any.
func (d *Directory) RegistryOf(serviceID string) (*core.Registry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, ok := d.registries[serviceID]
	return reg, ok
}

// RegistryFor resolves transport -> service -> registry in one step.
func (d *Directory) RegistryFor(tid core.TransportID) (*core.Registry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	svc, ok := d.services[tid]
	if !ok {
		return nil, false
	}
	reg, ok := d.registries[svc.ID]
	return reg, ok
}

// SameService reports whether two transports are bound to one service and
// returns its id.
func (d *Directory) SameService(a, b core.TransportID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sa, ok := d.services[a]
	if !ok {
		return "", false
	}
	sb, ok := d.services[b]
	if !ok || sa.ID != sb.ID {
		return "", false
	}
	return sa.ID, true
}

// Persist writes the registry's current snapshot into the service record,
// so the store reflects the latest membership after any mutating call.
// Absence of either side is a soft, logged no-op.
func (d *Directory) Persist(ctx context.Context, serviceID string) {
	d.mu.Lock()
	reg, ok := d.registries[serviceID]
	d.mu.Unlock()
	if !ok {
		return
	}
	svc, err := d.store.GetService(ctx, serviceID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.directory").Str("service", serviceID).Msg("persist: service record not loadable")
		return
	}
	svc.Rooms = reg.Snapshot()
	svc.UpdateTime = time.Now()
	if err := d.store.UpdateService(ctx, serviceID, svc); err != nil {
		log.Warn().Err(err).Str("module", "app.directory").Str("service", serviceID).Msg("persist: update failed")
	}
}

// ServiceIDs lists every service with a live registry, for the reaper.
func (d *Directory) ServiceIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.registries))
	for id := range d.registries {
		out = append(out, id)
	}
	return out
}

// Bound lists every bound transport and its service id, for the reaper.
func (d *Directory) Bound() map[core.TransportID]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[core.TransportID]string, len(d.services))
	for tid, svc := range d.services {
		out[tid] = svc.ID
	}
	return out
}

// DropRegistry forgets the live registry of a reaped service.
func (d *Directory) DropRegistry(serviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.registries, serviceID)
}

// Unbind drops a transport binding without touching rooms. Used by the
// reaper when the registry is already gone.
func (d *Directory) Unbind(tid core.TransportID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.services, tid)
}
