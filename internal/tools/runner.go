package tools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// Command is one subprocess invocation with its working directory and
// environment overlay. Env entries are appended to the parent environment.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// CommandRunner abstracts subprocess execution for provisioning adapters.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) ([]byte, []byte, int32, error)
	RunStreaming(ctx context.Context, cmd Command, out io.Writer) error
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

// tools command-runner implementation backed by os/exec.
func (r ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, []byte, int32, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode(err), err
}

// RunStreaming mirrors combined output to out as the process produces it.
// Long-running installs use this path so operators see live progress.
func (r ExecRunner) RunStreaming(ctx context.Context, cmd Command, out io.Writer) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if out != nil {
		c.Stdout = out
		c.Stderr = out
	}
	return c.Run()
}

func exitCode(err error) int32 {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return int32(exitErr.ExitCode())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return 127
	}
	return 1
}
