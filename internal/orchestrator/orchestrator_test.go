package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFleetCore/internal/bot"
	"github.com/KevinKickass/OpenFleetCore/internal/botconfig"
	"github.com/KevinKickass/OpenFleetCore/internal/classifier"
	"github.com/KevinKickass/OpenFleetCore/internal/devices"
	"github.com/KevinKickass/OpenFleetCore/internal/pool"
	"github.com/KevinKickass/OpenFleetCore/internal/report"
	"github.com/KevinKickass/OpenFleetCore/internal/scheduler"
	"github.com/KevinKickass/OpenFleetCore/internal/session"
	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopHandle struct{}

func (nopHandle) PID() string { return "4242" }
func (nopHandle) Kill() error { return nil }

type nopLauncher struct {
	mu       sync.Mutex
	launches int
}

func (l *nopLauncher) Launch(_ context.Context, _, _ string, _ bot.LineSink) (bot.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	return nopHandle{}, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *devices.Inventory) {
	t.Helper()
	logger := zap.NewNop()
	launcher := &nopLauncher{}
	inventory := devices.NewInventory(nil, logger)
	inventory.Upsert("dev-1", "", "", nil)
	inventory.Upsert("dev-2", "", "", nil)
	bridge := devices.NewBridge("adb-absent-in-tests", "scrcpy-absent-in-tests", time.Second, logger)
	refresher := devices.NewRefresher(bridge, inventory, time.Hour, time.Hour, logger)
	procPool := pool.New(classifier.New(logger), scheduler.New(logger), launcher, inventory, bridge, logger)
	inventory.SetActiveChecker(procPool.DeviceActive)

	dir := t.TempDir()
	configs, err := botconfig.NewStore(dir)
	require.NoError(t, err)
	sessions := session.NewStore(dir)
	reporter := report.NewReporter("", "", false, logger)

	return New(procPool, inventory, bridge, refresher, sessions, configs, reporter, logger), inventory
}

func createCmd(account, deviceID string) CreateProcessCommand {
	return CreateProcessCommand{
		Account:    account,
		Device:     types.DeviceRef{ID: deviceID},
		Membership: types.MembershipFree,
		Jobs:       []string{"follow"},
	}
}

func TestCreateProcessValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	ack := o.CreateProcess(ctx, createCmd("", "dev-1"))
	require.Equal(t, "create-process-message", ack.Event)
	require.Equal(t, "[ERROR] Account cannot be empty !", ack.Payload)

	ack = o.CreateProcess(ctx, createCmd("alice", ""))
	require.Equal(t, "[ERROR] Device cannot be empty !", ack.Payload)
}

func TestCreateProcessVerdicts(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	ack := o.CreateProcess(ctx, createCmd("alice", "dev-1"))
	require.Equal(t, "[INFO] Created process.", ack.Payload)

	ack = o.CreateProcess(ctx, createCmd("alice", "dev-2"))
	require.Equal(t, "[ERROR] Process is already running...", ack.Payload)

	ack = o.CreateProcess(ctx, createCmd("bob", "dev-1"))
	require.Equal(t, "[ERROR] Device is already running another process...", ack.Payload)
}

func TestScheduledCreateVerdict(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	cmd := createCmd("alice", "dev-1")
	cmd.Scheduled = true
	cmd.DelayMS = int64(time.Hour / time.Millisecond)

	ack := o.CreateProcess(context.Background(), cmd)
	require.Equal(t, "[INFO] Scheduled process.", ack.Payload)

	ack = o.RemoveSchedule("alice")
	require.Equal(t, "[INFO] Removed schedule for alice", ack.Payload)

	ack = o.RemoveSchedule("alice")
	require.Equal(t, "[INFO] Bot is not scheduled !", ack.Payload)
}

func TestBulkCreateVerdictPerAccount(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	// Occupy dev-2 so one of the bulk creates fails.
	require.Equal(t, "[INFO] Created process.",
		o.CreateProcess(ctx, createCmd("carol", "dev-2")).Payload)

	ack := o.CreateProcesses(ctx, BulkCreateCommand{
		Accounts:    []string{"alice", "bob"},
		Devices:     []types.DeviceRef{{ID: "dev-1"}, {ID: "dev-2"}},
		Memberships: []types.Membership{types.MembershipFree, types.MembershipPremium},
		Jobs:        []string{"follow"},
	})
	require.Equal(t, "create-processes-message", ack.Event)

	results := ack.Payload.([]string)
	require.Len(t, results, 2)
	require.Equal(t, "alice: created", results[0])
	require.Equal(t, "bob: [ERROR] Device is already running another process...", results[1])
}

func TestBulkCreateValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	ack := o.CreateProcesses(ctx, BulkCreateCommand{})
	require.Equal(t, "[ERROR] No accounts provided !", ack.Payload)

	ack = o.CreateProcesses(ctx, BulkCreateCommand{
		Accounts: []string{"alice"},
		Devices:  []types.DeviceRef{{ID: "dev-1"}, {ID: "dev-2"}},
	})
	require.Equal(t, "[ERROR] Accounts and devices length does not match !", ack.Payload)
}

func TestStopAndRemoveVerdicts(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	require.Equal(t, "[ERROR] Could not find process.",
		o.StopProcess(ctx, "ghost").Payload)

	o.CreateProcess(ctx, createCmd("alice", "dev-1"))

	require.Equal(t, "[ERROR] Process is still active !",
		o.RemoveProcess("alice").Payload)
	require.Equal(t, "[INFO] Stopped process.",
		o.StopProcess(ctx, "alice").Payload)
	require.Equal(t, "[INFO] Process removed.",
		o.RemoveProcess("alice").Payload)
	require.Equal(t, "[ERROR] Could not find process.",
		o.RemoveProcess("alice").Payload)
}

func TestGetProcessRequiresMatchingDevice(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	o.CreateProcess(ctx, createCmd("alice", "dev-1"))

	ack := o.GetProcess("alice", "dev-1")
	proc, ok := ack.Payload.(types.Process)
	require.True(t, ok)
	require.Equal(t, "alice", proc.Account)

	ack = o.GetProcess("alice", "dev-2")
	require.Equal(t, "[ERROR] Could not find process.", ack.Payload)
}

func TestGetDeviceVerdicts(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	ack := o.GetDevice("dev-1")
	d, ok := ack.Payload.(types.Device)
	require.True(t, ok)
	require.Equal(t, "dev-1", d.ID)

	ack = o.GetDevice("ghost")
	require.Equal(t, "[ERROR] Device not found !", ack.Payload)
}

func TestGetDevicesBatteryDegradesToSentinel(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	ack := o.GetDevicesBattery(context.Background())
	devs := ack.Payload.([]types.Device)
	require.Len(t, devs, 2)
	for _, d := range devs {
		require.Equal(t, types.BatteryUnknown, d.Battery,
			"an unreachable bridge must yield the unknown sentinel")
	}
}

func TestPreviewDeviceValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	ack := o.PreviewDevice("")
	require.Equal(t, "[ERROR] Can not preview device when id is not provided !", ack.Payload)

	// The preview tool binary does not exist here.
	ack = o.PreviewDevice("dev-1")
	require.Equal(t, "[ERROR] External tool is not available !", ack.Payload)
}

func TestGetConfigValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	ack := o.GetConfig("", "")
	require.Equal(t, "[ERROR] Can not read config when account is not provided !", ack.Payload)

	ack = o.GetConfig("alice", "")
	msg, ok := ack.Payload.(string)
	require.True(t, ok)
	require.Contains(t, msg, "[ERROR]")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	ack := o.SaveConfig("", "", nil)
	require.Equal(t, "save-config-message", ack.Event)
	require.Equal(t, "[ERROR] Can not save config when account is not provided !", ack.Payload)

	ack = o.SaveConfig("alice", "", map[string]any{"username": "alice"})
	msg, ok := ack.Payload.(string)
	require.True(t, ok)
	require.Contains(t, msg, "[ERROR]", "a document failing schema validation is rejected")

	doc := map[string]any{
		"username": "alice",
		"device":   "dev-1",
		"jobs":     []any{"follow"},
	}
	ack = o.SaveConfig("alice", "", doc)
	require.Equal(t, "[INFO] Config saved.", ack.Payload)

	ack = o.GetConfig("alice", "")
	got, ok := ack.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "alice", got["username"])
}

func TestGetSessionsFillsOverview(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	o.CreateProcess(ctx, createCmd("alice", "dev-1"))

	ack := o.GetSessions()
	procs := ack.Payload.([]types.Process)
	require.Len(t, procs, 1)
	require.Equal(t, "alice", procs[0].Session["overview-username"])
	require.Equal(t, "RUNNING", procs[0].Session["overview-status"])
}

func TestTelegramDisabledReportsSuccess(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ack := o.SendStatusToTelegram(context.Background())
	require.Equal(t, "[INFO] Status report sent.", ack.Payload)
}

func TestUpdateProcessesCountsMerges(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	o.CreateProcess(ctx, createCmd("alice", "dev-1"))
	ack := o.GetProcess("alice", "")
	snap := ack.Payload.(types.Process)
	snap.Followers = 10

	ghost := snap
	ghost.Account = "ghost"

	ack = o.UpdateProcesses([]types.Process{snap, ghost})
	require.Equal(t, "[INFO] Updated 1 of 2 processes.", ack.Payload)
}
