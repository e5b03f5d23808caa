package bot

import (
	"context"
	"io"
	"os/exec"
)

// osCmd adapts exec.Cmd to the Cmd interface.
type osCmd struct {
	cmd *exec.Cmd
}

func newOSCmd(ctx context.Context, name string, args ...string) Cmd {
	return &osCmd{cmd: exec.CommandContext(ctx, name, args...)}
}

func (c *osCmd) StdinPipe() (io.WriteCloser, error)  { return c.cmd.StdinPipe() }
func (c *osCmd) StdoutPipe() (io.ReadCloser, error)  { return c.cmd.StdoutPipe() }
func (c *osCmd) StderrPipe() (io.ReadCloser, error)  { return c.cmd.StderrPipe() }
func (c *osCmd) Start() error                        { return c.cmd.Start() }
func (c *osCmd) Wait() error                         { return c.cmd.Wait() }

func (c *osCmd) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *osCmd) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}
