package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/core"
)

// Reaper periodically reclaims state the request path cannot: services
// whose record vanished or went idle, and transports whose service was
// reaped underneath them. Runs independently of traffic; one sweep failing
// never blocks the other or the next cycle.
type Reaper struct {
	Directory *Directory
	Store     core.Store
	Roster    core.Roster

	Interval time.Duration
	MaxIdle  time.Duration

	// Now is a clock seam for tests; nil means time.Now.
	Now func() time.Time
}

func (r *Reaper) clock() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run loops until the context is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	log.Info().Str("module", "app.reaper").Dur("interval", r.Interval).Dur("max_idle", r.MaxIdle).Msg("reaper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.reaper").Msg("reaper stopped")
			return
		case <-ticker.C:
			if err := r.SweepInactive(ctx); err != nil {
				log.Error().Err(err).Str("module", "app.reaper").Msg("inactivity sweep failed")
			}
			if err := r.SweepOrphans(ctx); err != nil {
				log.Error().Err(err).Str("module", "app.reaper").Msg("orphan sweep failed")
			}
		}
	}
}

// SweepInactive deletes the record and drops the registry of every service
// that is gone from the store, or has zero live transports and an activity
// stamp older than MaxIdle. A service with any live transport is retained
// regardless of its stamp.
func (r *Reaper) SweepInactive(ctx context.Context) error {
	for _, serviceID := range r.Directory.ServiceIDs() {
		svc, err := r.Store.GetService(ctx, serviceID)
		if errors.Is(err, core.ErrNotFound) {
			log.Info().Str("module", "app.reaper").Str("service", serviceID).Msg("service record gone, dropping registry")
			r.Directory.DropRegistry(serviceID)
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "app.reaper").Str("service", serviceID).Msg("service fetch failed")
			continue
		}
		if len(r.Roster.Connected(serviceID)) > 0 {
			continue
		}
		if svc.UpdateTime.IsZero() || r.clock().Sub(svc.UpdateTime) <= r.MaxIdle {
			continue
		}
		log.Info().Str("module", "app.reaper").Str("service", serviceID).Time("update_time", svc.UpdateTime).Msg("service idle, reaping")
		if err := r.Store.DeleteService(ctx, serviceID); err != nil {
			log.Warn().Err(err).Str("module", "app.reaper").Str("service", serviceID).Msg("service delete failed")
			continue
		}
		r.Directory.DropRegistry(serviceID)
	}
	return ctx.Err()
}

// SweepOrphans force-disconnects every bound transport whose service
// registry no longer exists.
func (r *Reaper) SweepOrphans(ctx context.Context) error {
	for tid, serviceID := range r.Directory.Bound() {
		if _, ok := r.Directory.RegistryOf(serviceID); ok {
			continue
		}
		log.Info().Str("module", "app.reaper").Str("tid", string(tid)).Str("service", serviceID).Msg("orphan transport, disconnecting")
		r.Directory.Unbind(tid)
		r.Roster.Disconnect(tid)
	}
	return ctx.Err()
}
