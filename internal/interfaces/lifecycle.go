package interfaces

import (
	"context"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State           string `json:"state"`
	ProcessCount    int    `json:"process_count"`
	ActiveProcesses int    `json:"active_processes"`
	DeviceCount     int    `json:"device_count"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

type LifecycleManager interface {
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
