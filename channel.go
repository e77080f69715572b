package sshkit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/shlex"
	"go.uber.org/zap"
)

// channel is the state shared by Shell and Command: at most one engine channel, owned by a session.
type channel struct {
	session *Session

	// Owned by the worker goroutine.
	backend LibraryChannel

	mu   sync.RWMutex
	open bool
}

// Opened reports whether the channel is open.
func (c *channel) Opened() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.open
}

// Session returns the session the channel belongs to.
func (c *channel) Session() *Session {
	return c.session
}

func (c *channel) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *channel) openChannel(op string, env []EnvVar) error {
	if err := c.session.requireAuthenticated(op); err != nil {
		return err
	}

	if c.backend != nil {
		return misuse(op, ErrChannelAlreadyOpen)
	}

	engine := c.session.backend
	engine.SetBlocking(true)
	defer engine.SetBlocking(false)

	ch := engine.MakeChannel()
	if err := ch.OpenChannel(); err != nil {
		return backend(op, err)
	}

	c.backend = ch
	c.setOpen(true)
	c.session.track(c)

	for _, e := range env {
		if err := ch.SetEnvironment(e); err != nil {
			c.abandon()

			return backend("set environment "+e.Name, err)
		}
	}

	return nil
}

func (c *channel) requireOpen(op string) error {
	if err := c.session.requireAuthenticated(op); err != nil {
		return err
	}

	if c.backend == nil {
		return misuse(op, ErrChannelClosed)
	}

	return nil
}

func (c *channel) release() error {
	if c.backend == nil {
		return nil
	}

	ch := c.backend
	c.backend = nil
	c.setOpen(false)
	c.session.untrack(c)

	return ch.CloseChannel()
}

// abandon releases the channel after a failure, discarding the close error.
func (c *channel) abandon() {
	if err := c.release(); err != nil {
		c.session.log.Debug("implicit channel close failed", zap.Error(err))
	}
}

// closeOp is a barrier: resources are released even on a short-circuited session.
func (c *channel) closeOp(done func(error)) {
	c.session.queue.enqueue(&operation{
		name: "close channel",
		run: func() error {
			return backend("close channel", c.release())
		},
		complete: done,
		barrier:  true,
	})
}

// Shell is an interactive shell channel.
type Shell struct {
	channel

	terminal *Terminal
}

// Open opens the channel, sends env, requests a pseudo terminal when terminal is non-nil and starts
// the login shell.
func (sh *Shell) Open(terminal *Terminal, env []EnvVar, done func(error)) {
	sh.session.queue.Enqueue("open shell", func() error {
		if err := sh.openChannel("open shell", env); err != nil {
			return err
		}

		if terminal != nil {
			t := *terminal
			if err := sh.backend.RequestPseudoTerminal(t); err != nil {
				sh.abandon()

				return backend("request pty", err)
			}

			sh.terminal = &t
		}

		if err := sh.backend.Shell(); err != nil {
			sh.abandon()

			return backend("shell", err)
		}

		return nil
	}, done)
}

// Write sends data to the shell's stdin. done receives the number of bytes accepted, which may be
// less than len(data); callers loop to send the rest.
func (sh *Shell) Write(data []byte, done func(int, error)) {
	run, complete := withResult(func() (int, error) {
		if err := sh.requireOpen("write"); err != nil {
			return 0, err
		}

		n, err := sh.backend.Write(data)

		return n, backend("write", err)
	}, done)

	sh.session.queue.Enqueue("write", run, complete)
}

// Read returns the stdout bytes available right now (possibly none).
func (sh *Shell) Read(done func([]byte, error)) {
	sh.read("read", func(ch LibraryChannel) ([]byte, error) { return ch.Read() }, done)
}

// ReadError returns the stderr bytes available right now (possibly none).
func (sh *Shell) ReadError(done func([]byte, error)) {
	sh.read("read stderr", func(ch LibraryChannel) ([]byte, error) { return ch.ReadError() }, done)
}

func (sh *Shell) read(op string, fn func(LibraryChannel) ([]byte, error), done func([]byte, error)) {
	run, complete := withResult(func() ([]byte, error) {
		if err := sh.requireOpen(op); err != nil {
			return nil, err
		}

		data, err := fn(sh.backend)
		if err != nil {
			return nil, backend(op, err)
		}

		return data, nil
	}, done)

	sh.session.queue.Enqueue(op, run, complete)
}

// SetTerminalSize resizes the pseudo terminal requested by Open.
func (sh *Shell) SetTerminalSize(width, height uint, done func(error)) {
	sh.session.queue.Enqueue("resize pty", func() error {
		if err := sh.requireOpen("resize pty"); err != nil {
			return err
		}

		if sh.terminal == nil {
			return misuse("resize pty", errors.New("no pseudo terminal was requested"))
		}

		t := *sh.terminal
		t.Width, t.Height = width, height

		if err := sh.backend.SetPseudoTerminalSize(t); err != nil {
			return backend("resize pty", err)
		}

		sh.terminal = &t

		return nil
	}, done)
}

// SendEOF closes the shell's stdin.
func (sh *Shell) SendEOF(done func(error)) {
	sh.session.queue.Enqueue("send eof", func() error {
		if err := sh.requireOpen("send eof"); err != nil {
			return err
		}

		return backend("send eof", sh.backend.SendEOF())
	}, done)
}

// ReceivedEOF reports whether the remote side closed its output.
func (sh *Shell) ReceivedEOF(done func(bool, error)) {
	run, complete := withResult(func() (bool, error) {
		if err := sh.requireOpen("eof"); err != nil {
			return false, err
		}

		return sh.backend.ReceivedEOF(), nil
	}, done)

	sh.session.queue.Enqueue("eof", run, complete)
}

// ExitStatus reports the shell's exit status, or ErrNoExitStatus while it is still running.
func (sh *Shell) ExitStatus(done func(int, error)) {
	run, complete := withResult(func() (int, error) {
		if err := sh.requireOpen("exit status"); err != nil {
			return 0, err
		}

		status, ok := sh.backend.ExitStatus()
		if !ok {
			return 0, misuse("exit status", ErrNoExitStatus)
		}

		return status, nil
	}, done)

	sh.session.queue.Enqueue("exit status", run, complete)
}

// Close closes the channel. It is a no-op when the channel was never opened and may be called more
// than once.
func (sh *Shell) Close(done func(error)) {
	sh.closeOp(done)
}

// Command runs one remote command per Execute call on a fresh exec channel.
type Command struct {
	channel
}

// Execute runs command and collects its output until the remote side closes the channel. A non-zero
// exit status is reported as *ExitError alongside the result. The command string is validated before
// anything is queued.
func (c *Command) Execute(command string, env []EnvVar, done func(*CommandResult, error)) {
	if parts, err := shlex.Split(command); err != nil || len(parts) == 0 {
		var complete func(error)
		if done != nil {
			complete = func(err error) { done(nil, err) }
		}

		c.session.reject("execute", complete, fmt.Errorf("%w: %q", ErrInvalidCommand, command))

		return
	}

	run, complete := withResult(func() (*CommandResult, error) {
		return c.execute(command, env)
	}, done)

	c.session.queue.Enqueue("execute", run, complete)
}

func (c *Command) execute(command string, env []EnvVar) (*CommandResult, error) {
	if err := c.openChannel("execute", env); err != nil {
		return nil, err
	}

	defer c.abandon()

	if err := c.backend.Exec(command); err != nil {
		return nil, backend("exec", err)
	}

	result := &CommandResult{Command: command}
	if err := c.collect(result); err != nil {
		return result, err
	}

	status, ok := c.backend.ExitStatus()
	if !ok {
		status = -1
	}

	result.ExitStatus = status

	if status != 0 {
		return result, &ExitError{Command: command, ExitStatus: status, Stderr: result.Stderr}
	}

	return result, nil
}

// collect drains stdout and stderr until EOF. Polling backs off while the channel is idle and gives
// up once it has been idle for the session timeout.
func (c *Command) collect(result *CommandResult) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.session.Timeout()
	b.Reset()

	for {
		// EOF is sampled before reading so data buffered ahead of it is never lost.
		eof := c.backend.ReceivedEOF()

		out, err := c.backend.Read()
		if err != nil {
			return backend("read", err)
		}

		errOut, err := c.backend.ReadError()
		if err != nil {
			return backend("read stderr", err)
		}

		result.Stdout = append(result.Stdout, out...)
		result.Stderr = append(result.Stderr, errOut...)

		switch {
		case len(out) > 0 || len(errOut) > 0:
			b.Reset()
		case eof:
			return nil
		default:
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return fmt.Errorf("command %q idle for %s: %w", result.Command, b.MaxElapsedTime, ErrTimeout)
			}

			time.Sleep(wait)
		}
	}
}
