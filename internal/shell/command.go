package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"brook/internal/logging"
	"brook/internal/task"
)

// Command is a shell command line run as an awaitable task.
type Command struct {
	Name string
	Line string
	Dir  string
	Env  []string
	// OnLine receives every output line in addition to the logger.
	OnLine  func(line string)
	Logger  *logging.Logger
	Starter Starter
	// Grace is how long a cancelled command may take to exit after SIGTERM
	// before its process group is killed.
	Grace time.Duration
}

const defaultGrace = 3 * time.Second

// Unit wraps the command as a task unit.
func (c Command) Unit() *task.Unit {
	return task.Await(c.Name, func(ctx context.Context) task.Awaitable {
		return c.Start(ctx)
	})
}

// Start launches the command. The future resolves when it exits with status
// zero and rejects otherwise. Cancelling ctx terminates the process group,
// escalating to a kill once Grace passes.
func (c Command) Start(ctx context.Context) *task.Future {
	if strings.TrimSpace(c.Line) == "" {
		return task.Rejected(errors.New("shell: command line is required"))
	}
	starter := c.Starter
	if starter == nil {
		starter = DefaultStarter()
	}
	logger := c.Logger.Category("shell").With(map[string]string{"task": c.Name})

	program, args := shellCommand(c.Line)
	cmd := exec.Command(program, args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	terminal, err := starter.Start(cmd)
	if err != nil {
		return task.Rejected(fmt.Errorf("shell: start %q: %w", c.Line, err))
	}
	logger.Debug("command started", map[string]string{
		"command": c.Line,
		"pid":     fmt.Sprint(cmd.Process.Pid),
	})

	future := task.NewFuture()
	output := make(chan struct{})
	go func() {
		defer close(output)
		scanner := bufio.NewScanner(terminal)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			logger.Info(line, map[string]string{"stream": "pty"})
			if c.OnLine != nil {
				c.OnLine(line)
			}
		}
	}()

	grace := c.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		terminate(cmd)
		select {
		case <-stop:
		case <-time.After(grace):
			logger.Warn("command ignored SIGTERM", map[string]string{"grace": grace.String()})
			kill(cmd)
		}
	}()

	go func() {
		waitErr := cmd.Wait()
		close(stop)
		<-output
		_ = terminal.Close()
		if waitErr != nil {
			if ctx.Err() != nil {
				future.Reject(ctx.Err())
				return
			}
			future.Reject(fmt.Errorf("shell: %s: %w", c.Line, exitError(waitErr)))
			return
		}
		future.Resolve()
	}()
	return future
}

// ExitCode extracts the exit status of a failed command, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func exitError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return fmt.Errorf("terminated by %s: %w", status.Signal(), err)
		}
	}
	return err
}
