// Package pool owns the authoritative collection of bot process
// records and enforces the account and device uniqueness invariants.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFleetCore/internal/bot"
	"github.com/KevinKickass/OpenFleetCore/internal/classifier"
	"github.com/KevinKickass/OpenFleetCore/internal/devices"
	"github.com/KevinKickass/OpenFleetCore/internal/scheduler"
	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"go.uber.org/zap"
)

// NotificationType tags push events emitted by the pool.
type NotificationType string

const (
	NotifyCreated       NotificationType = "process-created"
	NotifyRemoved       NotificationType = "process-removed"
	NotifyStatusChanged NotificationType = "process-status"
)

// Notification is a pool change worth pushing to clients.
type Notification struct {
	Type     NotificationType `json:"type"`
	Account  string           `json:"account"`
	Previous types.Status     `json:"previous,omitempty"`
	Status   types.Status     `json:"status,omitempty"`
}

// CreateRequest carries everything needed to create one process.
type CreateRequest struct {
	Account    string
	Device     types.DeviceRef
	Membership types.Membership
	Jobs       []string
	ConfigFile string
	Status     types.Status  // initial status for scheduled creates
	Scheduled  bool
	Delay      time.Duration
}

// Pool is the process registry. A RWMutex guards the account and
// device indexes; per-process field updates happen under the write
// lock, queries return value snapshots so reads never observe a
// half-applied classification.
type Pool struct {
	mu        sync.RWMutex
	byAccount map[string]*types.Process
	byDevice  map[string]string // device id -> account, active processes only
	handles   map[string]bot.Handle

	classifier *classifier.Classifier
	sched      *scheduler.Scheduler
	launcher   bot.Launcher
	inventory  *devices.Inventory
	bridge     *devices.Bridge
	logger     *zap.Logger

	notify func(Notification)
}

func New(
	cls *classifier.Classifier,
	sched *scheduler.Scheduler,
	launcher bot.Launcher,
	inventory *devices.Inventory,
	bridge *devices.Bridge,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		byAccount:  make(map[string]*types.Process),
		byDevice:   make(map[string]string),
		handles:    make(map[string]bot.Handle),
		classifier: cls,
		sched:      sched,
		launcher:   launcher,
		inventory:  inventory,
		bridge:     bridge,
		logger:     logger,
	}
}

// SetNotifier wires the push callback. Called once during startup,
// before any command reaches the pool.
func (p *Pool) SetNotifier(fn func(Notification)) {
	p.notify = fn
}

func (p *Pool) emit(n Notification) {
	if p.notify != nil {
		p.notify(n)
	}
}

// DeviceActive reports whether a RUNNING/WAITING process claims the
// device. This is the authoritative exclusivity check the inventory
// consults.
func (p *Pool) DeviceActive(deviceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byDevice[deviceID]
	return ok
}

// Create inserts a new process for the account, immediately launching
// the bot or registering a deferred launch.
//
// An account with an active entry fails with AlreadyActive; a device
// claimed by another active process fails with DeviceBusy. A terminal
// entry for the same account is replaced. On LaunchFailed nothing is
// inserted.
func (p *Pool) Create(ctx context.Context, req CreateRequest) (types.Process, error) {
	p.mu.Lock()

	if existing, ok := p.byAccount[req.Account]; ok && existing.Status.Active() {
		p.mu.Unlock()
		return types.Process{}, types.ErrAlreadyActive
	}
	if owner, ok := p.byDevice[req.Device.ID]; ok && owner != req.Account {
		p.mu.Unlock()
		return types.Process{}, types.ErrDeviceBusy
	}

	if req.Scheduled {
		status := req.Status
		if !status.Valid() {
			status = types.StatusWaiting
		}
		proc := types.NewProcess(req.Account, req.Device, req.Membership, status, req.Jobs, req.ConfigFile)
		p.insertLocked(proc)
		p.mu.Unlock()

		// The entry exists before the timer fires so queries can see
		// the pending scheduled work. The timer carries the entry it
		// was armed for: a replaced or stopped entry must not launch.
		token := p.sched.Schedule(req.Account, req.Delay, func() {
			p.launchScheduled(req.Account, proc)
		})
		p.mu.Lock()
		snap := proc.Snapshot()
		if cur, ok := p.byAccount[req.Account]; ok {
			cur.Scheduled = token
			snap = cur.Snapshot()
		}
		p.mu.Unlock()

		p.emit(Notification{Type: NotifyCreated, Account: req.Account, Status: snap.Status})
		return snap, nil
	}

	// Immediate create: launch first, only a started bot enters the
	// pool as RUNNING. The gated sink holds output produced before the
	// entry is inserted; the bot may print its start banner instantly.
	p.mu.Unlock()
	sink, release := p.gatedSink(req.Account)
	handle, err := p.launcher.Launch(ctx, req.Account, configFileOrDefault(req.ConfigFile), sink)
	if err != nil {
		return types.Process{}, fmt.Errorf("create %s: %w", req.Account, err)
	}

	p.mu.Lock()
	// Re-check the invariants: a concurrent create may have won the
	// account or the device while the launch was in flight.
	if existing, ok := p.byAccount[req.Account]; ok && existing.Status.Active() {
		p.mu.Unlock()
		release(false)
		_ = handle.Kill()
		return types.Process{}, types.ErrAlreadyActive
	}
	if owner, ok := p.byDevice[req.Device.ID]; ok && owner != req.Account {
		p.mu.Unlock()
		release(false)
		_ = handle.Kill()
		return types.Process{}, types.ErrDeviceBusy
	}

	proc := types.NewProcess(req.Account, req.Device, req.Membership, types.StatusRunning, req.Jobs, req.ConfigFile)
	proc.PID = handle.PID()
	p.insertLocked(proc)
	p.handles[req.Account] = handle
	snap := proc.Snapshot()
	p.mu.Unlock()
	release(true)

	if err := p.inventory.Bind(req.Device.ID, req.Account, snap.ConfigFile); err != nil {
		p.logger.Debug("device binding skipped", zap.String("device", req.Device.ID), zap.Error(err))
	}
	go p.scrapePid(req.Account)

	p.emit(Notification{Type: NotifyCreated, Account: req.Account, Status: types.StatusRunning})
	return snap, nil
}

// launchScheduled fires from the scheduler once the delay elapses.
// It launches only if the pool still holds the exact entry the timer
// was armed for and that entry is still live.
func (p *Pool) launchScheduled(account string, expect *types.Process) {
	p.mu.RLock()
	proc, ok := p.byAccount[account]
	if !ok || proc != expect || !proc.Status.Active() {
		p.mu.RUnlock()
		return
	}
	configFile := proc.ConfigFile
	deviceID := proc.Device.ID
	p.mu.RUnlock()

	handle, err := p.launcher.Launch(context.Background(), account, configFile, p.sinkFor(account))
	if err != nil {
		p.logger.Error("deferred launch failed",
			zap.String("account", account),
			zap.Error(err))
		p.mu.Lock()
		var prev types.Status
		if cur, ok := p.byAccount[account]; ok {
			prev = cur.Status
			cur.Status = types.StatusStopped
			cur.Scheduled = ""
			p.releaseDeviceLocked(cur)
		}
		p.mu.Unlock()
		p.emit(Notification{Type: NotifyStatusChanged, Account: account, Previous: prev, Status: types.StatusStopped})
		return
	}

	p.mu.Lock()
	if cur, ok := p.byAccount[account]; ok {
		cur.PID = handle.PID()
		p.handles[account] = handle
	}
	p.mu.Unlock()

	if err := p.inventory.Bind(deviceID, account, configFile); err != nil {
		p.logger.Debug("device binding skipped", zap.String("device", deviceID), zap.Error(err))
	}
	go p.scrapePid(account)
}

// CancelSchedule cancels a pending deferred launch. The entry stays in
// the pool as STOPPED with the schedule token cleared.
func (p *Pool) CancelSchedule(account string) (types.Process, error) {
	if !p.sched.Cancel(account) {
		return types.Process{}, types.ErrNotScheduled
	}

	p.mu.Lock()
	proc, ok := p.byAccount[account]
	if !ok {
		p.mu.Unlock()
		return types.Process{}, types.ErrNotFound
	}
	prev := proc.Status
	proc.Status = types.StatusStopped
	proc.Scheduled = ""
	p.releaseDeviceLocked(proc)
	// Explicit re-insert: the replacement must be observable to
	// queries, not a mutation lost on a loop copy.
	p.byAccount[account] = proc
	snap := proc.Snapshot()
	p.mu.Unlock()

	p.emit(Notification{Type: NotifyStatusChanged, Account: account, Previous: prev, Status: types.StatusStopped})
	return snap, nil
}

// Stop best-effort terminates the bot and marks the process STOPPED.
// Kill order: the launch handle, then the scraped PID, then the
// out-of-band device command.
func (p *Pool) Stop(ctx context.Context, account string) (types.Process, error) {
	// A stopped entry must not launch later: disarm any pending
	// deferred launch before the status flips.
	p.sched.Cancel(account)

	p.mu.Lock()
	proc, ok := p.byAccount[account]
	if !ok {
		p.mu.Unlock()
		return types.Process{}, types.ErrNotFound
	}
	handle := p.handles[account]
	pid := proc.PID
	deviceID := proc.Device.ID
	prev := proc.Status
	proc.Status = types.StatusStopped
	proc.Scheduled = ""
	p.releaseDeviceLocked(proc)
	delete(p.handles, account)
	snap := proc.Snapshot()
	p.mu.Unlock()

	switch {
	case handle != nil:
		if err := handle.Kill(); err != nil {
			p.logger.Warn("kill by handle failed", zap.String("account", account), zap.Error(err))
		}
	case pid != "":
		if err := p.bridge.Kill(ctx, pid); err != nil {
			p.logger.Warn("kill by pid failed", zap.String("account", account), zap.Error(err))
		}
	default:
		if err := p.bridge.ScreenOff(ctx, deviceID); err != nil {
			p.logger.Warn("device stop failed", zap.String("device", deviceID), zap.Error(err))
		}
	}

	if err := p.inventory.Unbind(deviceID); err != nil {
		p.logger.Debug("device unbind skipped", zap.String("device", deviceID), zap.Error(err))
	}

	p.emit(Notification{Type: NotifyStatusChanged, Account: account, Previous: prev, Status: types.StatusStopped})
	return snap, nil
}

// Remove deletes a terminal process from the pool entirely.
func (p *Pool) Remove(account string) error {
	p.mu.Lock()
	proc, ok := p.byAccount[account]
	if !ok {
		p.mu.Unlock()
		return types.ErrNotFound
	}
	if proc.Status.Active() {
		p.mu.Unlock()
		return types.ErrProcessActive
	}
	p.releaseDeviceLocked(proc)
	delete(p.byAccount, account)
	delete(p.handles, account)
	p.mu.Unlock()

	p.emit(Notification{Type: NotifyRemoved, Account: account})
	return nil
}

// OnOutput routes a batch of output lines through the classifier.
// This is the only path by which a process advances to FINISHED or
// accumulates crash counts.
func (p *Pool) OnOutput(account string, lines []string) {
	p.mu.Lock()
	proc, ok := p.byAccount[account]
	if !ok {
		p.mu.Unlock()
		return
	}
	prev := proc.Status
	events := p.classifier.Apply(proc, lines)
	status := proc.Status
	if prev.Active() && !status.Active() {
		p.releaseDeviceLocked(proc)
	} else if status.Active() {
		p.byDevice[proc.Device.ID] = account
	}
	deviceID := proc.Device.ID
	p.mu.Unlock()

	if prev != status {
		if !status.Active() {
			if err := p.inventory.Unbind(deviceID); err != nil {
				p.logger.Debug("device unbind skipped", zap.String("device", deviceID), zap.Error(err))
			}
		}
		p.emit(Notification{Type: NotifyStatusChanged, Account: account, Previous: prev, Status: status})
	}
	for _, ev := range events {
		if ev.Kind == classifier.EventCrashes && ev.Crashes >= types.CrashLimit {
			p.logger.Warn("crash limit reached", zap.String("account", account))
		}
	}
}

// Get returns a snapshot of one process.
func (p *Pool) Get(account string) (types.Process, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	proc, ok := p.byAccount[account]
	if !ok {
		return types.Process{}, types.ErrNotFound
	}
	return proc.Snapshot(), nil
}

// List returns snapshots of all processes, optionally filtered by
// status, ordered by account for stable output.
func (p *Pool) List(filter types.Status) []types.Process {
	p.mu.RLock()
	out := make([]types.Process, 0, len(p.byAccount))
	for _, proc := range p.byAccount {
		if filter != "" && proc.Status != filter {
			continue
		}
		out = append(out, proc.Snapshot())
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Update merges an externally produced snapshot into the pool. The
// match key is the (account, device) pair: an entry whose device was
// reassigned is a different run and must not be merged.
func (p *Pool) Update(snap types.Process) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	proc, ok := p.byAccount[snap.Account]
	if !ok || proc.Device.ID != snap.Device.ID {
		return types.ErrNotFound
	}

	if snap.Status.Valid() {
		switch {
		case proc.Status.Active() && !snap.Status.Active():
			p.releaseDeviceLocked(proc)
		case !proc.Status.Active() && snap.Status.Active():
			// Reviving an entry re-claims its device; another active
			// process on the device blocks the revival.
			if owner, busy := p.byDevice[proc.Device.ID]; busy && owner != proc.Account {
				return types.ErrDeviceBusy
			}
			p.byDevice[proc.Device.ID] = proc.Account
		}
		proc.Status = snap.Status
	}
	proc.Followers = snap.Followers
	proc.Following = snap.Following
	if snap.TotalCrashes > proc.TotalCrashes {
		proc.TotalCrashes = snap.TotalCrashes
	}
	// The result log only grows; never let a stale snapshot truncate it.
	if len(snap.ResultLog) > len(proc.ResultLog) {
		proc.ResultLog = snap.ResultLog
	}
	if len(snap.Session) > 0 {
		proc.Session = snap.Session
	}
	if snap.Device.Battery != "" {
		proc.Device.Battery = snap.Device.Battery
	}
	return nil
}

// UpdateMany merges a bulk snapshot; unmatched entries are counted
// and reported, not inserted.
func (p *Pool) UpdateMany(snaps []types.Process) int {
	merged := 0
	for _, s := range snaps {
		if err := p.Update(s); err == nil {
			merged++
		}
	}
	return merged
}

// SetSession replaces the session report mapping of one process.
func (p *Pool) SetSession(account string, session map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	proc, ok := p.byAccount[account]
	if !ok {
		return types.ErrNotFound
	}
	proc.Session = session
	return nil
}

// Shutdown kills every live handle and cancels pending schedules.
func (p *Pool) Shutdown() {
	p.sched.Shutdown()
	p.mu.Lock()
	handles := make([]bot.Handle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.handles = make(map[string]bot.Handle)
	p.mu.Unlock()

	for _, h := range handles {
		_ = h.Kill()
	}
}

// insertLocked places the process in both indexes. Caller holds mu.
func (p *Pool) insertLocked(proc *types.Process) {
	p.byAccount[proc.Account] = proc
	if proc.Status.Active() {
		p.byDevice[proc.Device.ID] = proc.Account
	}
}

// releaseDeviceLocked drops the device claim if this process holds it.
func (p *Pool) releaseDeviceLocked(proc *types.Process) {
	if owner, ok := p.byDevice[proc.Device.ID]; ok && owner == proc.Account {
		delete(p.byDevice, proc.Device.ID)
	}
}

func (p *Pool) sinkFor(account string) bot.LineSink {
	return func(lines []string) {
		p.OnOutput(account, lines)
	}
}

// gatedSink queues output lines until release is called. release(true)
// flushes the queue into the classifier and passes further lines
// through; release(false) discards everything, for launches that lost
// the invariant re-check. The gate mutex also keeps flushed and live
// lines in arrival order.
func (p *Pool) gatedSink(account string) (bot.LineSink, func(deliver bool)) {
	var (
		mu     sync.Mutex
		open   bool
		closed bool
		queued []string
	)

	sink := func(lines []string) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case closed:
		case open:
			p.OnOutput(account, lines)
		default:
			queued = append(queued, lines...)
		}
	}
	release := func(deliver bool) {
		mu.Lock()
		defer mu.Unlock()
		if deliver {
			open = true
			if len(queued) > 0 {
				p.OnOutput(account, queued)
			}
		} else {
			closed = true
		}
		queued = nil
	}
	return sink, release
}

// scrapePid refreshes the best-effort PID from the process table.
func (p *Pool) scrapePid(account string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pid := p.bridge.FindPid(ctx, account)
	if pid == "" {
		return
	}
	p.mu.Lock()
	if proc, ok := p.byAccount[account]; ok && proc.PID == "" {
		proc.PID = pid
	}
	p.mu.Unlock()
}

func configFileOrDefault(name string) string {
	if name == "" {
		return "config.yml"
	}
	return name
}
