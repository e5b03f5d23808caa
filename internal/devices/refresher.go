package devices

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"go.uber.org/zap"
)

// Refresher keeps the inventory current in the background: periodic
// enumeration rebuilds the device set, periodic battery sweeps update
// readings opportunistically. Queries never wait on a refresh; they
// see whatever the last completed sweep produced.
type Refresher struct {
	bridge    *Bridge
	inventory *Inventory
	enumEvery time.Duration
	battEvery time.Duration
	logger    *zap.Logger

	// onBattery, when set, is notified after each battery sweep so the
	// transport can push fresh readings to clients.
	onBattery func([]types.Device)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRefresher(bridge *Bridge, inventory *Inventory, enumEvery, battEvery time.Duration, logger *zap.Logger) *Refresher {
	if enumEvery <= 0 {
		enumEvery = 30 * time.Second
	}
	if battEvery <= 0 {
		battEvery = 60 * time.Second
	}
	return &Refresher{
		bridge:    bridge,
		inventory: inventory,
		enumEvery: enumEvery,
		battEvery: battEvery,
		logger:    logger,
	}
}

// SetBatteryListener registers the sweep-completion callback.
func (r *Refresher) SetBatteryListener(fn func([]types.Device)) {
	r.onBattery = fn
}

// Start launches the refresh loops. An initial enumeration runs
// immediately so the inventory is usable right after startup.
func (r *Refresher) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel

	r.RefreshDevices(ctx)

	r.wg.Add(2)
	go r.enumerateLoop(ctx)
	go r.batteryLoop(ctx)
}

// Stop terminates the loops and waits for them to drain.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Refresher) enumerateLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.enumEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshDevices(ctx)
		}
	}
}

func (r *Refresher) batteryLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.battEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshBattery(ctx)
		}
	}
}

// RefreshDevices runs one enumeration sweep and rebuilds the inventory.
// A failed enumeration leaves the previous snapshot in place.
func (r *Refresher) RefreshDevices(ctx context.Context) {
	ids, err := r.bridge.Enumerate(ctx)
	if err != nil {
		return
	}
	enumerated := make([]types.Device, 0, len(ids))
	for _, id := range ids {
		enumerated = append(enumerated, types.Device{ID: id})
	}
	r.inventory.Rebuild(enumerated)
	r.logger.Debug("device enumeration complete", zap.Int("devices", len(ids)))
}

// RefreshBattery reads the battery of every known device.
func (r *Refresher) RefreshBattery(ctx context.Context) {
	known := r.inventory.ListKnown()
	for _, d := range known {
		if ctx.Err() != nil {
			return
		}
		r.inventory.SetBattery(d.ID, r.bridge.ReadBattery(ctx, d.ID))
	}
	if r.onBattery != nil {
		r.onBattery(r.inventory.ListKnown())
	}
}
