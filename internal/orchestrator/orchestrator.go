// Package orchestrator is the command façade: it validates inbound
// commands, delegates to the pool, inventory and bridge, and shapes
// the acknowledgement every command answers with.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenFleetCore/internal/botconfig"
	"github.com/KevinKickass/OpenFleetCore/internal/devices"
	"github.com/KevinKickass/OpenFleetCore/internal/pool"
	"github.com/KevinKickass/OpenFleetCore/internal/report"
	"github.com/KevinKickass/OpenFleetCore/internal/session"
	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// bulkWorkers bounds the fan-out of bulk creates.
const bulkWorkers = 3

// Ack is the reply to one command: the `<command>-message` event name
// and either an entity payload or a human-readable outcome string
// prefixed with [INFO] or [ERROR].
type Ack struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// CreateProcessCommand mirrors the create-process request.
type CreateProcessCommand struct {
	Account    string           `json:"account"`
	Device     types.DeviceRef  `json:"device"`
	Membership types.Membership `json:"membership"`
	Jobs       []string         `json:"jobs"`
	ConfigFile string           `json:"config_file"`
	Status     types.Status     `json:"status"`
	Scheduled  bool             `json:"scheduled"`
	DelayMS    int64            `json:"delay_ms"`
}

// BulkCreateCommand is the array variant of create-process.
type BulkCreateCommand struct {
	Accounts    []string           `json:"accounts"`
	Devices     []types.DeviceRef  `json:"devices"`
	Memberships []types.Membership `json:"memberships"`
	Jobs        []string           `json:"jobs"`
	ConfigFile  string             `json:"config_file"`
}

type Orchestrator struct {
	pool      *pool.Pool
	inventory *devices.Inventory
	bridge    *devices.Bridge
	refresher *devices.Refresher
	sessions  *session.Store
	configs   *botconfig.Store
	reporter  *report.Reporter
	logger    *zap.Logger
}

func New(
	p *pool.Pool,
	inv *devices.Inventory,
	bridge *devices.Bridge,
	refresher *devices.Refresher,
	sessions *session.Store,
	configs *botconfig.Store,
	reporter *report.Reporter,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		pool:      p,
		inventory: inv,
		bridge:    bridge,
		refresher: refresher,
		sessions:  sessions,
		configs:   configs,
		reporter:  reporter,
		logger:    logger,
	}
}

// CreateProcess handles create-process.
func (o *Orchestrator) CreateProcess(ctx context.Context, cmd CreateProcessCommand) Ack {
	const event = "create-process-message"
	if cmd.Account == "" {
		return Ack{Event: event, Payload: "[ERROR] Account cannot be empty !"}
	}
	if cmd.Device.ID == "" {
		return Ack{Event: event, Payload: "[ERROR] Device cannot be empty !"}
	}

	_, err := o.pool.Create(ctx, pool.CreateRequest{
		Account:    cmd.Account,
		Device:     cmd.Device,
		Membership: cmd.Membership,
		Jobs:       cmd.Jobs,
		ConfigFile: cmd.ConfigFile,
		Status:     cmd.Status,
		Scheduled:  cmd.Scheduled,
		Delay:      time.Duration(cmd.DelayMS) * time.Millisecond,
	})
	if err != nil {
		o.logger.Warn("create-process rejected",
			zap.String("account", cmd.Account),
			zap.Error(err))
		return Ack{Event: event, Payload: errorMessage(err)}
	}
	if cmd.Scheduled {
		return Ack{Event: event, Payload: "[INFO] Scheduled process."}
	}
	return Ack{Event: event, Payload: "[INFO] Created process."}
}

// CreateProcesses handles the bulk variant. Creates run concurrently
// with a bounded worker count; each account gets its own verdict.
func (o *Orchestrator) CreateProcesses(ctx context.Context, cmd BulkCreateCommand) Ack {
	const event = "create-processes-message"
	if len(cmd.Accounts) == 0 {
		return Ack{Event: event, Payload: "[ERROR] No accounts provided !"}
	}
	if len(cmd.Devices) == 0 {
		return Ack{Event: event, Payload: "[ERROR] No devices provided !"}
	}
	if len(cmd.Accounts) != len(cmd.Devices) {
		return Ack{Event: event, Payload: "[ERROR] Accounts and devices length does not match !"}
	}
	if len(cmd.Accounts) != len(cmd.Memberships) {
		return Ack{Event: event, Payload: "[ERROR] Accounts and memberships length does not match !"}
	}

	results := make([]string, len(cmd.Accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkWorkers)
	for i := range cmd.Accounts {
		i := i
		g.Go(func() error {
			_, err := o.pool.Create(gctx, pool.CreateRequest{
				Account:    cmd.Accounts[i],
				Device:     cmd.Devices[i],
				Membership: cmd.Memberships[i],
				Jobs:       cmd.Jobs,
				ConfigFile: cmd.ConfigFile,
			})
			if err != nil {
				results[i] = fmt.Sprintf("%s: %s", cmd.Accounts[i], errorMessage(err))
			} else {
				results[i] = fmt.Sprintf("%s: created", cmd.Accounts[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return Ack{Event: event, Payload: results}
}

// StopProcess handles stop-process.
func (o *Orchestrator) StopProcess(ctx context.Context, account string) Ack {
	const event = "stop-process-message"
	if _, err := o.pool.Stop(ctx, account); err != nil {
		return Ack{Event: event, Payload: errorMessage(err)}
	}
	return Ack{Event: event, Payload: "[INFO] Stopped process."}
}

// RemoveProcess handles remove-process.
func (o *Orchestrator) RemoveProcess(account string) Ack {
	const event = "remove-process-message"
	if err := o.pool.Remove(account); err != nil {
		return Ack{Event: event, Payload: errorMessage(err)}
	}
	return Ack{Event: event, Payload: "[INFO] Process removed."}
}

// RemoveSchedule handles remove-schedule.
func (o *Orchestrator) RemoveSchedule(account string) Ack {
	const event = "remove-schedule-message"
	if _, err := o.pool.CancelSchedule(account); err != nil {
		return Ack{Event: event, Payload: errorMessage(err)}
	}
	return Ack{Event: event, Payload: fmt.Sprintf("[INFO] Removed schedule for %s", account)}
}

// UpdateProcess merges one external snapshot.
func (o *Orchestrator) UpdateProcess(snap types.Process) Ack {
	const event = "update-process-message"
	if err := o.pool.Update(snap); err != nil {
		return Ack{Event: event, Payload: errorMessage(err)}
	}
	return Ack{Event: event, Payload: "[INFO] Process updated."}
}

// UpdateProcesses merges a bulk snapshot.
func (o *Orchestrator) UpdateProcesses(snaps []types.Process) Ack {
	const event = "update-processes-message"
	merged := o.pool.UpdateMany(snaps)
	return Ack{Event: event, Payload: fmt.Sprintf("[INFO] Updated %d of %d processes.", merged, len(snaps))}
}

// GetProcess returns one process; the device id must match the pool
// entry so a reassigned device is not confused with the old run.
func (o *Orchestrator) GetProcess(account, deviceID string) Ack {
	const event = "get-process-message"
	proc, err := o.pool.Get(account)
	if err != nil || (deviceID != "" && proc.Device.ID != deviceID) {
		return Ack{Event: event, Payload: errorMessage(types.ErrNotFound)}
	}
	return Ack{Event: event, Payload: proc}
}

// GetProcesses returns the pool, optionally filtered by status.
func (o *Orchestrator) GetProcesses(filter types.Status) Ack {
	return Ack{Event: "get-processes-message", Payload: o.pool.List(filter)}
}

// GetDevice returns one device.
func (o *Orchestrator) GetDevice(id string) Ack {
	const event = "get-device-message"
	d, err := o.inventory.Get(id)
	if err != nil {
		return Ack{Event: event, Payload: errorMessage(err)}
	}
	return Ack{Event: event, Payload: d}
}

// GetDevices returns the device inventory.
func (o *Orchestrator) GetDevices() Ack {
	return Ack{Event: "get-devices-message", Payload: o.inventory.ListKnown()}
}

// GetDevicesBattery runs one battery sweep and returns the refreshed
// inventory. Failed reads degrade to the unknown sentinel.
func (o *Orchestrator) GetDevicesBattery(ctx context.Context) Ack {
	o.refresher.RefreshBattery(ctx)
	return Ack{Event: "get-devices-battery-message", Payload: o.inventory.ListKnown()}
}

// PreviewDevice starts the remote preview tool for a device.
func (o *Orchestrator) PreviewDevice(id string) Ack {
	const event = "preview-device-message"
	if id == "" {
		return Ack{Event: event, Payload: "[ERROR] Can not preview device when id is not provided !"}
	}
	if err := o.bridge.Preview(id); err != nil {
		return Ack{Event: event, Payload: errorMessage(err)}
	}
	return Ack{Event: event, Payload: "[INFO] Preview started."}
}

// GetSessions fills every process's session report from the report
// files and returns the refreshed pool.
func (o *Orchestrator) GetSessions() Ack {
	const event = "get-sessions-message"
	for _, p := range o.pool.List("") {
		rows, err := o.sessions.Load(p.Account)
		if err != nil {
			o.logger.Debug("session report missing",
				zap.String("account", p.Account),
				zap.Error(err))
		}
		if err := o.pool.SetSession(p.Account, session.Fill(rows, p)); err != nil {
			continue
		}
	}
	return Ack{Event: event, Payload: o.pool.List("")}
}

// GetConfig reads one account's bot config variant.
func (o *Orchestrator) GetConfig(account, name string) Ack {
	const event = "get-config-message"
	if account == "" {
		return Ack{Event: event, Payload: "[ERROR] Can not read config when account is not provided !"}
	}
	doc, err := o.configs.Read(account, name)
	if err != nil {
		return Ack{Event: event, Payload: "[ERROR] " + err.Error()}
	}
	return Ack{Event: event, Payload: doc}
}

// SaveConfig validates and persists one account's bot config variant.
func (o *Orchestrator) SaveConfig(account, name string, doc map[string]any) Ack {
	const event = "save-config-message"
	if account == "" {
		return Ack{Event: event, Payload: "[ERROR] Can not save config when account is not provided !"}
	}
	if err := o.configs.Write(account, name, doc); err != nil {
		return Ack{Event: event, Payload: "[ERROR] " + err.Error()}
	}
	return Ack{Event: event, Payload: "[INFO] Config saved."}
}

// SendStatusToTelegram reports the pool to the configured chat.
func (o *Orchestrator) SendStatusToTelegram(ctx context.Context) Ack {
	const event = "send-status-to-telegram-message"
	if err := o.reporter.SendStatus(ctx, o.pool.List("")); err != nil {
		o.logger.Warn("telegram report failed", zap.Error(err))
		return Ack{Event: event, Payload: "[ERROR] Could not send status report."}
	}
	return Ack{Event: event, Payload: "[INFO] Status report sent."}
}

// errorMessage maps domain errors to the outcome strings clients show
// verbatim.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrAlreadyActive):
		return "[ERROR] Process is already running..."
	case errors.Is(err, types.ErrDeviceBusy):
		return "[ERROR] Device is already running another process..."
	case errors.Is(err, types.ErrNotFound):
		return "[ERROR] Could not find process."
	case errors.Is(err, types.ErrNotScheduled):
		return "[INFO] Bot is not scheduled !"
	case errors.Is(err, types.ErrProcessActive):
		return "[ERROR] Process is still active !"
	case errors.Is(err, types.ErrDeviceNotFound):
		return "[ERROR] Device not found !"
	case errors.Is(err, types.ErrLaunchFailed):
		return "[ERROR] Could not start bot."
	case errors.Is(err, types.ErrExternalToolUnavailable):
		return "[ERROR] External tool is not available !"
	default:
		return "[ERROR] Something unexpected happened."
	}
}
