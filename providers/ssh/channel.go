package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ruffel/sshkit"
	"golang.org/x/crypto/ssh"
)

const readChunk = 32 * 1024

var errChannelNotOpen = errors.New("channel is not open")

// channel is an exec or shell channel on top of an ssh.Session. Output is pumped into buffers in
// the background so Read and ReadError never block.
type channel struct {
	owner *session

	mu     sync.Mutex
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout *outputBuffer
	stderr *outputBuffer
	closed bool

	// Variables the server refused through "env" requests. They are exported by the command itself.
	refusedEnv []sshkit.EnvVar

	started  bool
	waitDone chan struct{}
	status   int
}

func (c *channel) Opened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sess != nil && !c.closed
}

// ReceivedEOF reports whether the command finished and both output streams hit EOF.
func (c *channel) ReceivedEOF() bool {
	c.mu.Lock()
	started, waitDone := c.started, c.waitDone
	c.mu.Unlock()

	if !started {
		return false
	}

	select {
	case <-waitDone:
	default:
		return false
	}

	return c.stdout.finished() && c.stderr.finished()
}

func (c *channel) OpenChannel() error {
	client, err := c.owner.sshClient()
	if err != nil {
		return err
	}

	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()

		return fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()

		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := sess.StderrPipe()
	if err != nil {
		_ = sess.Close()

		return fmt.Errorf("stderr pipe: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sess = sess
	c.stdin = stdin
	c.stdout = newOutputBuffer(stdout)
	c.stderr = newOutputBuffer(stderr)
	c.waitDone = make(chan struct{})

	return nil
}

func (c *channel) CloseChannel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil || c.closed {
		return nil
	}

	c.closed = true

	if err := c.sess.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// SetEnvironment sends an "env" request. A refused variable is kept and exported by the command
// instead, since OpenSSH only accepts names listed in AcceptEnv.
func (c *channel) SetEnvironment(env sshkit.EnvVar) error {
	sess, err := c.session()
	if err != nil {
		return err
	}

	if err := sess.Setenv(env.Name, env.Value); err != nil {
		c.mu.Lock()
		c.refusedEnv = append(c.refusedEnv, env)
		c.mu.Unlock()
	}

	return nil
}

func (c *channel) RequestPseudoTerminal(terminal sshkit.Terminal) error {
	sess, err := c.session()
	if err != nil {
		return err
	}

	if err := sess.RequestPty(terminal.Name, int(terminal.Height), int(terminal.Width), buildTerminalModes()); err != nil {
		return fmt.Errorf("request for pty failed: %w", err)
	}

	return nil
}

func (c *channel) SetPseudoTerminalSize(terminal sshkit.Terminal) error {
	sess, err := c.session()
	if err != nil {
		return err
	}

	return sess.WindowChange(int(terminal.Height), int(terminal.Width))
}

func (c *channel) Exec(command string) error {
	sess, err := c.session()
	if err != nil {
		return err
	}

	c.mu.Lock()
	full := buildEnvPrefix(c.refusedEnv) + command
	c.mu.Unlock()

	if err := sess.Start(full); err != nil {
		return err
	}

	c.startWait(sess)

	return nil
}

func (c *channel) Shell() error {
	sess, err := c.session()
	if err != nil {
		return err
	}

	if err := sess.Shell(); err != nil {
		return err
	}

	c.startWait(sess)

	c.mu.Lock()
	prefix := buildEnvPrefix(c.refusedEnv)
	c.mu.Unlock()

	if prefix != "" {
		if _, err := io.WriteString(c.stdin, prefix+"\n"); err != nil {
			return fmt.Errorf("export environment: %w", err)
		}
	}

	return nil
}

func (c *channel) startWait(sess *ssh.Session) {
	c.mu.Lock()
	c.started = true
	done := c.waitDone
	c.mu.Unlock()

	go func() {
		status := exitStatus(sess.Wait())

		c.mu.Lock()
		c.status = status
		c.mu.Unlock()

		close(done)
	}()
}

// exitStatus maps the result of ssh.Session.Wait. A missing status or a lost connection is -1.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}

	return -1
}

func (c *channel) Read() ([]byte, error) {
	if _, err := c.session(); err != nil {
		return nil, err
	}

	return c.stdout.drain()
}

func (c *channel) ReadError() ([]byte, error) {
	if _, err := c.session(); err != nil {
		return nil, err
	}

	return c.stderr.drain()
}

func (c *channel) Write(data []byte) (int, error) {
	if _, err := c.session(); err != nil {
		return 0, err
	}

	return c.stdin.Write(data)
}

func (c *channel) ExitStatus() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return 0, false
	}

	select {
	case <-c.waitDone:
		return c.status, true
	default:
		return 0, false
	}
}

func (c *channel) SendEOF() error {
	if _, err := c.session(); err != nil {
		return err
	}

	return c.stdin.Close()
}

func (c *channel) session() (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil || c.closed {
		return nil, errChannelNotOpen
	}

	return c.sess, nil
}

// outputBuffer collects one output stream of a channel.
type outputBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	err  error
	done bool
}

func newOutputBuffer(r io.Reader) *outputBuffer {
	b := &outputBuffer{}
	go b.pump(r)

	return b
}

func (b *outputBuffer) pump(r io.Reader) {
	chunk := make([]byte, readChunk)

	for {
		n, err := r.Read(chunk)

		b.mu.Lock()
		b.buf.Write(chunk[:n])

		if err != nil {
			b.done = true
			if !errors.Is(err, io.EOF) {
				b.err = err
			}
		}
		b.mu.Unlock()

		if err != nil {
			return
		}
	}
}

// drain returns everything buffered so far. A stream error is reported once the data before it
// has been consumed.
func (b *outputBuffer) drain() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buf.Len() == 0 {
		err := b.err
		b.err = nil

		return []byte{}, err
	}

	out := bytes.Clone(b.buf.Bytes())
	b.buf.Reset()

	return out, nil
}

func (b *outputBuffer) finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.done && b.buf.Len() == 0
}
