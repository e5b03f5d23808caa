package devices

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"go.uber.org/zap"
)

// Bridge talks to the command-line device bridge (adb) and the remote
// preview tool (scrcpy). Every call is best-effort: a failing tool
// degrades to a sentinel value, it never fails the enclosing query.
type Bridge struct {
	adbPath    string
	scrcpyPath string
	timeout    time.Duration
	logger     *zap.Logger
}

func NewBridge(adbPath, scrcpyPath string, timeout time.Duration, logger *zap.Logger) *Bridge {
	if adbPath == "" {
		adbPath = "adb"
	}
	if scrcpyPath == "" {
		scrcpyPath = "scrcpy"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bridge{
		adbPath:    adbPath,
		scrcpyPath: scrcpyPath,
		timeout:    timeout,
		logger:     logger,
	}
}

// Enumerate lists attached device ids via `adb devices`.
func (b *Bridge) Enumerate(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, b.adbPath, "devices").Output()
	if err != nil {
		b.logger.Warn("device enumeration failed", zap.Error(err))
		return nil, fmt.Errorf("%w: adb devices: %v", types.ErrExternalToolUnavailable, err)
	}
	return ParseDeviceList(string(out)), nil
}

// ReadBattery returns the battery level of a device as "N%", or the
// unknown sentinel when the device is offline or the tool fails.
func (b *Bridge) ReadBattery(ctx context.Context, deviceID string) string {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, b.adbPath, "-s", deviceID, "shell", "dumpsys", "battery").Output()
	if err != nil {
		b.logger.Warn("battery read failed",
			zap.String("device", deviceID),
			zap.Error(err))
		return types.BatteryUnknown
	}
	return ParseBatteryLevel(string(out), deviceID)
}

// Preview launches the remote preview tool for a device and returns
// immediately; the viewer window lives its own life.
func (b *Bridge) Preview(deviceID string) error {
	cmd := exec.Command(b.scrcpyPath, "-s", deviceID)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: scrcpy: %v", types.ErrExternalToolUnavailable, err)
	}
	go func() {
		// Reap the viewer when it exits.
		_ = cmd.Wait()
	}()
	b.logger.Info("device preview started", zap.String("device", deviceID))
	return nil
}

// ScreenOff sends the power keyevent, the out-of-band stop used when
// no PID is known for a bot.
func (b *Bridge) ScreenOff(ctx context.Context, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := exec.CommandContext(ctx, b.adbPath, "-s", deviceID, "shell", "input", "keyevent", "26").Run(); err != nil {
		return fmt.Errorf("%w: screen off %s: %v", types.ErrExternalToolUnavailable, deviceID, err)
	}
	return nil
}

// FindPid scrapes the system process table for the bot run of the
// given account. Best-effort by design: an empty result is normal.
func (b *Bridge) FindPid(ctx context.Context, account string) string {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pgrep", "-f", fmt.Sprintf("accounts/%s/", account)).Output()
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Kill terminates a process by PID.
func (b *Bridge) Kill(ctx context.Context, pid string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := exec.CommandContext(ctx, "kill", "-9", pid).Run(); err != nil {
		return fmt.Errorf("kill %s: %w", pid, err)
	}
	return nil
}

// ParseDeviceList extracts device ids from `adb devices` output:
//
//	List of devices attached
//	emulator-5554	device
//	R58M123ABC	offline
//
// Only ids reported as "device" are returned.
func ParseDeviceList(out string) []string {
	var ids []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "device" {
			ids = append(ids, fields[0])
		}
	}
	return ids
}

// ParseBatteryLevel pulls the "level: N" row out of dumpsys battery
// output and formats it as "N%". Unreadable output degrades to the
// unknown sentinel.
func ParseBatteryLevel(out, deviceID string) string {
	if strings.Contains(out, fmt.Sprintf("device '%s' not found", deviceID)) {
		return types.BatteryUnknown
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "level:") {
			continue
		}
		level := strings.TrimSpace(strings.TrimPrefix(line, "level:"))
		if level == "" {
			break
		}
		return level + "%"
	}
	return types.BatteryUnknown
}
