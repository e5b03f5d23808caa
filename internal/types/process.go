package types

import "time"

// Status is the lifecycle state of a bot process.
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusWaiting  Status = "WAITING"
	StatusStopped  Status = "STOPPED"
	StatusFinished Status = "FINISHED"
)

// Active reports whether the status claims the account and device
// for the uniqueness invariants. STOPPED and FINISHED are inactive.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusWaiting
}

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusWaiting, StatusStopped, StatusFinished:
		return true
	}
	return false
}

type Membership string

const (
	MembershipFree    Membership = "FREE"
	MembershipPremium Membership = "PREMIUM"
)

// CrashLimit is the crash count at which a bot is forced to STOPPED.
const CrashLimit = 5

// DeviceRef is the device a process is bound to for its lifetime.
type DeviceRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Battery string `json:"battery"`
}

// Process is the orchestrator's record of one bot run. It is distinct
// from the OS-level subprocess the bot executes in.
type Process struct {
	Account      string            `json:"account"`
	Device       DeviceRef         `json:"device"`
	Membership   Membership        `json:"membership"`
	Status       Status            `json:"status"`
	ResultLog    string            `json:"result"`
	Followers    int               `json:"followers"`
	Following    int               `json:"following"`
	TotalCrashes int               `json:"total_crashes"`
	Session      map[string]string `json:"session"`
	Scheduled    string            `json:"scheduled,omitempty"` // schedule token, empty when not scheduled
	Jobs         []string          `json:"jobs"`
	ConfigFile   string            `json:"config_file"`
	StartTime    time.Time         `json:"start_time"`
	PID          string            `json:"pid,omitempty"` // best-effort, scraped from the process table
}

// NewProcess builds a process record with a zero-filled session skeleton.
func NewProcess(account string, device DeviceRef, membership Membership, status Status, jobs []string, configFile string) *Process {
	if configFile == "" {
		configFile = "config.yml"
	}
	return &Process{
		Account:    account,
		Device:     device,
		Membership: membership,
		Status:     status,
		Session:    SessionSkeleton(),
		Jobs:       jobs,
		ConfigFile: configFile,
		StartTime:  time.Now(),
	}
}

// Snapshot returns a deep copy safe to hand out while the pool keeps
// mutating the original.
func (p *Process) Snapshot() Process {
	cp := *p
	cp.Jobs = append([]string(nil), p.Jobs...)
	cp.Session = make(map[string]string, len(p.Session))
	for k, v := range p.Session {
		cp.Session[k] = v
	}
	return cp
}

// SessionSkeleton returns the zero-filled report-metric mapping every
// process starts with. Keys mirror the session report rows.
func SessionSkeleton() map[string]string {
	m := make(map[string]string, len(sessionKeys))
	for _, k := range sessionKeys {
		m[k] = ""
	}
	return m
}

var sessionKeys = []string{
	"overview-username",
	"overview-status",
	"overview-followers",
	"overview-following",
	"last-session-activity-likes",
	"last-session-activity-follows",
	"last-session-activity-unfollows",
	"last-session-activity-stories-watched",
	"last-session-activity-comments-done",
	"last-session-activity-pm-sent",
	"today-session-activity-likes",
	"today-session-activity-follows",
	"today-session-activity-unfollows",
	"today-session-activity-stories-watched",
	"today-session-activity-comments-done",
	"today-session-activity-pm-sent",
	"trends-new-followers-today",
	"trends-new-followers-past-3-days",
	"trends-new-followers-past-week",
	"weekly-average-followers-per-day",
	"weekly-average-likes",
	"weekly-average-follows",
	"weekly-average-unfollows",
}
