package classifier

import (
	"strings"
	"testing"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newProcess() *types.Process {
	return types.NewProcess("alice", types.DeviceRef{ID: "emulator-5554"}, types.MembershipFree, types.StatusRunning, nil, "")
}

func TestApplyStatusTransitions(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()

	c.Apply(p, []string{"INFO | Next session will start at: 14:32:11."})
	require.Equal(t, types.StatusWaiting, p.Status)

	c.Apply(p, []string{"-------- START: 14:32:11 --------"})
	require.Equal(t, types.StatusRunning, p.Status)

	c.Apply(p, []string{"-------- FINISH: 16:02:45 --------"})
	require.Equal(t, types.StatusFinished, p.Status)
}

func TestStartClearsScheduleToken(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()
	p.Status = types.StatusWaiting
	p.Scheduled = "some-token"

	c.Apply(p, []string{"-------- START: 09:00:00 --------"})
	require.Equal(t, types.StatusRunning, p.Status)
	require.Empty(t, p.Scheduled)
}

func TestGreetingLineParsesCounters(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()

	events := c.Apply(p, []string{"INFO | Hello, @alice! You have 1520 followers and 340 following so far."})
	require.Len(t, events, 1)
	require.Equal(t, EventCounters, events[0].Kind)
	require.Equal(t, 1520, p.Followers)
	require.Equal(t, 340, p.Following)
}

func TestMalformedGreetingLineIsRecoverable(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()
	p.Followers = 7

	line := "INFO | Hello, @alice! You have ??? followers and xyz following so far."
	events := c.Apply(p, []string{line})
	require.Empty(t, events)
	// Counters untouched, line still recorded.
	require.Equal(t, 7, p.Followers)
	require.Contains(t, p.ResultLog, line)
	require.Equal(t, types.StatusRunning, p.Status)
}

func TestRepeatedBatchIsIdempotent(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()

	batch := []string{
		"INFO | Hello, @alice! You have 100 followers and 50 following so far.",
		"INFO | - Total Crashes:  OK (2/5)",
	}
	c.Apply(p, batch)
	logAfterFirst := p.ResultLog
	crashesAfterFirst := p.TotalCrashes

	events := c.Apply(p, batch)
	require.Empty(t, events)
	require.Equal(t, logAfterFirst, p.ResultLog)
	require.Equal(t, crashesAfterFirst, p.TotalCrashes)
}

func TestCrashCountMonotonic(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()

	c.Apply(p, []string{"INFO | - Total Crashes:  OK (3/5)"})
	require.Equal(t, 3, p.TotalCrashes)

	// A lower report from a replayed segment must not move it back.
	c.Apply(p, []string{"INFO | - Total Crashes:  OK (1/5)"})
	require.Equal(t, 3, p.TotalCrashes)

	c.Apply(p, []string{"INFO | - Total Crashes:  OK (4/5)"})
	require.Equal(t, 4, p.TotalCrashes)
}

func TestFatalDeviceErrorStopsRun(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()

	events := c.Apply(p, []string{"RuntimeError: USB device emulator-5554 is offline"})
	require.Len(t, events, 1)
	require.Equal(t, types.StatusStopped, p.Status)
	require.Equal(t, types.CrashLimit, p.TotalCrashes)
}

func TestCrashLimitLinePegsCounterWithoutStatusChange(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()

	c.Apply(p, []string{"This kind of exception will stop the bot (no restart)."})
	require.Equal(t, types.CrashLimit, p.TotalCrashes)
	require.Equal(t, types.StatusRunning, p.Status)

	c.Apply(p, []string{"INFO | Reached crashes limit."})
	require.Equal(t, types.StatusStopped, p.Status)
}

func TestFullSessionTranscript(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()

	transcript := []string{
		"-------- START: 10:00:00 --------",
		"INFO | Hello, @alice! You have 1520 followers and 340 following so far.",
		"WARNING | Skipped private profile",
		"INFO | - Total Crashes:  OK (1/5)",
		"-------- FINISH: 11:30:00 --------",
		"INFO | Finished.",
		"This bot is backed with love by someone",
	}
	for _, line := range transcript {
		c.Apply(p, []string{line})
	}

	require.Equal(t, types.StatusFinished, p.Status)
	require.Equal(t, 1520, p.Followers)
	require.Equal(t, 340, p.Following)
	require.Equal(t, 1, p.TotalCrashes)
	require.Equal(t, len(transcript), len(strings.Split(p.ResultLog, "\n")))
}

func TestDiagnosticLinesKeptVerbatim(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()

	events := c.Apply(p, []string{"ERROR | Could not open profile page"})
	require.Len(t, events, 1)
	require.Equal(t, EventLog, events[0].Kind)
	require.Equal(t, types.StatusRunning, p.Status)
	require.Contains(t, p.ResultLog, "Could not open profile page")
}

func TestUnmatchedLinesStillLogged(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()

	events := c.Apply(p, []string{"INFO | Liking 3 posts of @bob"})
	require.Empty(t, events)
	require.Contains(t, p.ResultLog, "Liking 3 posts of @bob")
}

func TestEmptyBatchIsNoop(t *testing.T) {
	c := New(zap.NewNop())
	p := newProcess()

	require.Empty(t, c.Apply(p, nil))
	require.Empty(t, c.Apply(p, []string{""}))
	require.Empty(t, p.ResultLog)
}
