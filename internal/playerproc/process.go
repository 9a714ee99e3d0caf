package playerproc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Conn is a live connection to a helper. Reads return helper frames, writes
// go to the helper. Wait blocks until the helper is gone; it is called once.
type Conn interface {
	io.Reader
	io.Writer
	Close() error
	Wait() error
}

// stopGrace is how long a helper gets to exit after stdin closes.
const stopGrace = 2 * time.Second

// procConn is a helper subprocess speaking the protocol on stdin/stdout.
type procConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *slog.Logger

	stderrDone chan struct{}
	exited     chan struct{}
	closeOnce  sync.Once
}

// spawn starts command and returns its connection.
func spawn(ctx context.Context, command string, args []string, logger *slog.Logger) (Conn, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start player helper: %w", err)
	}

	c := &procConn{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		logger:     logger.With("helper_pid", cmd.Process.Pid),
		stderrDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}

	c.logger.Info("player helper spawned", "command", command)

	go c.logStderr(stderr)

	return c, nil
}

func (c *procConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *procConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// Close closes stdin and kills the helper if it has not exited within the
// grace period.
func (c *procConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.stdin.Close()
		go func() {
			select {
			case <-c.exited:
			case <-time.After(stopGrace):
				c.logger.Warn("player helper did not exit, killing")
				_ = c.cmd.Process.Kill()
			}
		}()
	})
	return err
}

// Wait reaps the process once stderr has drained.
func (c *procConn) Wait() error {
	<-c.stderrDone
	err := c.cmd.Wait()
	close(c.exited)
	return err
}

// logStderr maps helper log levels to slog levels.
func (c *procConn) logStderr(stderr io.Reader) {
	defer close(c.stderrDone)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			c.logger.Error("player helper error", "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			c.logger.Warn("player helper warning", "log", line)
		default:
			c.logger.Debug("player helper log", "log", line)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("error reading helper stderr", "error", err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
