package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCmd stands in for the external start script.
type fakeCmd struct {
	mu        sync.Mutex
	stdin     bytes.Buffer
	stdinDone chan struct{}

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	startErr error
	killed   bool
	waited   chan struct{}
}

func newFakeCmd() *fakeCmd {
	c := &fakeCmd{
		stdinDone: make(chan struct{}),
		waited:    make(chan struct{}, 1),
	}
	c.stdoutR, c.stdoutW = io.Pipe()
	c.stderrR, c.stderrW = io.Pipe()
	return c
}

type stdinWriter struct{ c *fakeCmd }

func (w stdinWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.stdin.Write(p)
}

func (w stdinWriter) Close() error {
	close(w.c.stdinDone)
	return nil
}

func (c *fakeCmd) StdinPipe() (io.WriteCloser, error) { return stdinWriter{c}, nil }
func (c *fakeCmd) StdoutPipe() (io.ReadCloser, error) { return c.stdoutR, nil }
func (c *fakeCmd) StderrPipe() (io.ReadCloser, error) { return c.stderrR, nil }
func (c *fakeCmd) Start() error                       { return c.startErr }
func (c *fakeCmd) Wait() error                        { c.waited <- struct{}{}; return nil }
func (c *fakeCmd) Pid() int                           { return 4242 }

func (c *fakeCmd) Kill() error {
	c.mu.Lock()
	c.killed = true
	c.mu.Unlock()
	c.stdoutW.Close()
	c.stderrW.Close()
	return nil
}

func (c *fakeCmd) stdinJSON(t *testing.T) map[string]string {
	t.Helper()
	select {
	case <-c.stdinDone:
	case <-time.After(time.Second):
		t.Fatal("start request was never written")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var doc map[string]string
	require.NoError(t, json.Unmarshal(c.stdin.Bytes(), &doc))
	return doc
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (lc *lineCollector) sink(lines []string) {
	lc.mu.Lock()
	lc.lines = append(lc.lines, lines...)
	lc.mu.Unlock()
}

func (lc *lineCollector) snapshot() []string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return append([]string(nil), lc.lines...)
}

func TestLaunchWritesStartRequest(t *testing.T) {
	cmd := newFakeCmd()
	l := NewExecLauncher("python3", "scripts/start_bot.py", zap.NewNop())
	l.SetCommander(func(_ context.Context, _ string, _ ...string) Cmd { return cmd })

	var lc lineCollector
	h, err := l.Launch(context.Background(), "alice", "warmup.yml", lc.sink)
	require.NoError(t, err)
	require.Equal(t, "4242", h.PID())

	doc := cmd.stdinJSON(t)
	require.Equal(t, "alice", doc["username"])
	require.Equal(t, "warmup.yml", doc["config_name"])

	require.NoError(t, h.Kill())
}

func TestLaunchPumpsBothStreams(t *testing.T) {
	cmd := newFakeCmd()
	l := NewExecLauncher("python3", "scripts/start_bot.py", zap.NewNop())
	l.SetCommander(func(_ context.Context, _ string, _ ...string) Cmd { return cmd })

	var lc lineCollector
	_, err := l.Launch(context.Background(), "alice", "", lc.sink)
	require.NoError(t, err)

	go func() {
		io.WriteString(cmd.stdoutW, "-------- START: 10:00:00 --------\n")
		io.WriteString(cmd.stdoutW, "INFO | line two\n")
		cmd.stdoutW.Close()
	}()
	go func() {
		io.WriteString(cmd.stderrW, "WARNING | from stderr\n")
		cmd.stderrW.Close()
	}()

	require.Eventually(t, func() bool {
		return len(lc.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)

	lines := lc.snapshot()
	require.Contains(t, lines, "-------- START: 10:00:00 --------")
	require.Contains(t, lines, "INFO | line two")
	require.Contains(t, lines, "WARNING | from stderr")

	// Exit status is collected after the streams drain.
	select {
	case <-cmd.waited:
	case <-time.After(time.Second):
		t.Fatal("subprocess was never reaped")
	}
}

func TestLaunchStartFailure(t *testing.T) {
	cmd := newFakeCmd()
	cmd.startErr = errors.New("no such file")
	l := NewExecLauncher("python3", "missing.py", zap.NewNop())
	l.SetCommander(func(_ context.Context, _ string, _ ...string) Cmd { return cmd })

	var lc lineCollector
	_, err := l.Launch(context.Background(), "alice", "", lc.sink)
	require.ErrorIs(t, err, types.ErrLaunchFailed)
}

func TestPartialLinesStayBuffered(t *testing.T) {
	cmd := newFakeCmd()
	l := NewExecLauncher("python3", "scripts/start_bot.py", zap.NewNop())
	l.SetCommander(func(_ context.Context, _ string, _ ...string) Cmd { return cmd })

	var lc lineCollector
	_, err := l.Launch(context.Background(), "alice", "", lc.sink)
	require.NoError(t, err)
	cmd.stderrW.Close()

	// Two chunks, one line: the sink must see the stitched whole.
	io.WriteString(cmd.stdoutW, "INFO | Hello, @ali")
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, lc.snapshot())

	io.WriteString(cmd.stdoutW, "ce! session begins\n")
	cmd.stdoutW.Close()

	require.Eventually(t, func() bool {
		lines := lc.snapshot()
		return len(lines) == 1 && lines[0] == "INFO | Hello, @alice! session begins"
	}, time.Second, 5*time.Millisecond)
}
