// Package bot spawns and supervises the external bot executable.
//
// The bot is an opaque program that reports progress as line-oriented
// text on stdout and stderr. This package owns the OS-level subprocess
// only; the domain-level Process record lives in the pool.
package bot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"go.uber.org/zap"
)

// Handle is a live bot subprocess.
type Handle interface {
	// PID returns the OS process id, or empty if unknown.
	PID() string

	// Kill best-effort terminates the subprocess.
	Kill() error
}

// LineSink receives batches of complete output lines from a bot's
// stdout or stderr. Lines from the two streams arrive in each
// stream's own order; there is no ordering guarantee between them.
type LineSink func(lines []string)

// Launcher starts bot subprocesses. The launch is fire-and-forget:
// it returns a handle immediately, output arrives asynchronously.
type Launcher interface {
	Launch(ctx context.Context, account, configFile string, sink LineSink) (Handle, error)
}

// startRequest is the JSON document the start script reads on stdin.
type startRequest struct {
	Username   string `json:"username"`
	ConfigName string `json:"config_name"`
}

// ExecLauncher runs the bot through its launcher script, e.g.
// `python3 scripts/start_bot.py`, passing the account on stdin.
type ExecLauncher struct {
	interpreter string
	script      string
	logger      *zap.Logger
	commander   Commander
}

// Commander builds the exec command; swapped out in tests.
type Commander func(ctx context.Context, name string, args ...string) Cmd

// Cmd is the subset of exec.Cmd the launcher needs.
type Cmd interface {
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.ReadCloser, error)
	StderrPipe() (io.ReadCloser, error)
	Start() error
	Wait() error
	Pid() int
	Kill() error
}

func NewExecLauncher(interpreter, script string, logger *zap.Logger) *ExecLauncher {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &ExecLauncher{
		interpreter: interpreter,
		script:      script,
		logger:      logger,
		commander:   newOSCmd,
	}
}

// SetCommander overrides subprocess creation. Test hook.
func (l *ExecLauncher) SetCommander(c Commander) { l.commander = c }

// Launch starts one bot run. Both output streams are pumped to the
// sink line by line until the streams close. A start failure is
// surfaced as LaunchFailed and nothing keeps running.
func (l *ExecLauncher) Launch(ctx context.Context, account, configFile string, sink LineSink) (Handle, error) {
	cmd := l.commander(ctx, l.interpreter, l.script)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin: %v", types.ErrLaunchFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout: %v", types.ErrLaunchFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr: %v", types.ErrLaunchFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrLaunchFailed, err)
	}

	req := startRequest{Username: account, ConfigName: configFile}
	go func() {
		defer stdin.Close()
		if err := json.NewEncoder(stdin).Encode(req); err != nil {
			l.logger.Warn("writing start request failed",
				zap.String("account", account),
				zap.Error(err))
		}
	}()

	h := &execHandle{cmd: cmd, account: account, logger: l.logger}
	h.wg.Add(2)
	go h.pump(stdout, sink)
	go h.pump(stderr, sink)
	go h.reap()

	l.logger.Info("bot launched",
		zap.String("account", account),
		zap.String("config", configFile),
		zap.Int("pid", cmd.Pid()))
	return h, nil
}

type execHandle struct {
	cmd     Cmd
	account string
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func (h *execHandle) PID() string {
	pid := h.cmd.Pid()
	if pid <= 0 {
		return ""
	}
	return strconv.Itoa(pid)
}

func (h *execHandle) Kill() error {
	return h.cmd.Kill()
}

// pump reads one stream and forwards complete lines. Partial lines at
// chunk boundaries stay in the scanner until their terminator shows
// up, so the classifier only ever sees whole lines.
func (h *execHandle) pump(r io.ReadCloser, sink LineSink) {
	defer h.wg.Done()
	defer r.Close()

	scanner := bufio.NewScanner(r)
	// Bot tracebacks can produce very long lines.
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		sink([]string{scanner.Text()})
	}
	if err := scanner.Err(); err != nil {
		h.logger.Debug("output stream closed",
			zap.String("account", h.account),
			zap.Error(err))
	}
}

// reap waits for both pumps to drain, then collects the exit status.
func (h *execHandle) reap() {
	h.wg.Wait()
	if err := h.cmd.Wait(); err != nil {
		h.logger.Info("bot exited",
			zap.String("account", h.account),
			zap.Error(err))
		return
	}
	h.logger.Info("bot exited", zap.String("account", h.account))
}
