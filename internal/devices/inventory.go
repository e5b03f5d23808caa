// Package devices tracks the physical units bots run on: identifiers,
// display labels, last-known battery readings and the weak binding to
// the process currently using each device.
package devices

import (
	"sync"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"go.uber.org/zap"
)

// Inventory is the in-memory device registry. Entries are created
// lazily when first enumerated and updated in place; only a rebuild by
// the enumeration step removes them.
//
// The process binding kept here is a cache for clients. The
// authoritative device-exclusivity check lives in the process pool and
// is consulted through the activeFn hook.
type Inventory struct {
	mu      sync.RWMutex
	devices map[string]*types.Device
	labels  map[string]string
	logger  *zap.Logger

	// activeFn answers "does a RUNNING/WAITING process claim this
	// device" against the pool. Wired after construction to avoid a
	// dependency cycle.
	activeFn func(deviceID string) bool
}

func NewInventory(labels map[string]string, logger *zap.Logger) *Inventory {
	if labels == nil {
		labels = make(map[string]string)
	}
	return &Inventory{
		devices: make(map[string]*types.Device),
		labels:  labels,
		logger:  logger,
	}
}

// SetActiveChecker wires the pool-side exclusivity check.
func (inv *Inventory) SetActiveChecker(fn func(deviceID string) bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.activeFn = fn
}

// ListKnown returns a snapshot of every known device.
func (inv *Inventory) ListKnown() []types.Device {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	out := make([]types.Device, 0, len(inv.devices))
	for _, d := range inv.devices {
		out = append(out, *d)
	}
	return out
}

// Get returns one device by id.
func (inv *Inventory) Get(id string) (types.Device, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	d, ok := inv.devices[id]
	if !ok {
		return types.Device{}, types.ErrDeviceNotFound
	}
	return *d, nil
}

// Upsert creates or refreshes an entry. A device is never duplicated
// by id. The display label comes from the configured label table when
// the caller passes none.
func (inv *Inventory) Upsert(id, label, battery string, bound *types.BoundProcess) types.Device {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if label == "" {
		if configured, ok := inv.labels[id]; ok {
			label = configured
		} else {
			label = id
		}
	}

	d, ok := inv.devices[id]
	if !ok {
		d = &types.Device{ID: id}
		inv.devices[id] = d
		inv.logger.Info("device registered",
			zap.String("device", id),
			zap.String("label", label))
	}
	d.Name = label
	if battery != "" {
		d.Battery = battery
	}
	if bound != nil {
		d.Process = bound
	}
	return *d
}

// SetBattery records a battery reading for a known device. Unknown ids
// are ignored: the refresher may race a rebuild.
func (inv *Inventory) SetBattery(id, battery string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if d, ok := inv.devices[id]; ok {
		d.Battery = battery
	}
}

// Bind records the weak process reference on a device. It does not
// affect the process lifecycle.
func (inv *Inventory) Bind(id, account, configFile string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	d, ok := inv.devices[id]
	if !ok {
		return types.ErrDeviceNotFound
	}
	d.Process = &types.BoundProcess{Account: account, ConfigFile: configFile}
	return nil
}

// Unbind clears the weak process reference.
func (inv *Inventory) Unbind(id string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	d, ok := inv.devices[id]
	if !ok {
		return types.ErrDeviceNotFound
	}
	d.Process = nil
	return nil
}

// IsFree reports whether no active process claims the device. The
// check goes to the pool, not to the local binding cache.
func (inv *Inventory) IsFree(id string) bool {
	inv.mu.RLock()
	fn := inv.activeFn
	inv.mu.RUnlock()

	if fn == nil {
		return true
	}
	return !fn(id)
}

// Rebuild replaces the inventory with the given enumeration result,
// carrying over battery readings and bindings for ids that survived.
func (inv *Inventory) Rebuild(enumerated []types.Device) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	next := make(map[string]*types.Device, len(enumerated))
	for _, e := range enumerated {
		d := e
		if prev, ok := inv.devices[d.ID]; ok {
			if d.Battery == "" {
				d.Battery = prev.Battery
			}
			if d.Process == nil {
				d.Process = prev.Process
			}
		}
		if d.Name == "" {
			if label, ok := inv.labels[d.ID]; ok {
				d.Name = label
			} else {
				d.Name = d.ID
			}
		}
		next[d.ID] = &d
	}
	inv.devices = next
}
