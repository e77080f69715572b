package sshkit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Executor offers blocking calls on top of a Session for code that does not want completions.
//
// Every call submits to the session's queue and waits for the completion. Cancelling ctx stops the
// wait only: an operation already queued still runs. Do not use an Executor from inside a completion
// delivered by a SerialDispatcher; the wait would block the goroutine that has to deliver it.
type Executor struct {
	session *Session
}

// NewExecutor creates a new Executor for the given session.
func NewExecutor(session *Session) *Executor {
	return &Executor{session: session}
}

// Session returns the wrapped session.
func (e *Executor) Session() *Session {
	return e.session
}

// Connect dials and handshakes.
func (e *Executor) Connect(ctx context.Context) error {
	return awaitErr(ctx, func(done func(error)) { e.session.Connect(done) })
}

// Authenticate authenticates with challenge.
func (e *Executor) Authenticate(ctx context.Context, challenge Challenge) error {
	return awaitErr(ctx, func(done func(error)) { e.session.Authenticate(challenge, done) })
}

// Disconnect tears the session down.
func (e *Executor) Disconnect(ctx context.Context) error {
	return awaitErr(ctx, func(done func(error)) { e.session.Disconnect(done) })
}

// Fingerprint returns the host key fingerprint.
func (e *Executor) Fingerprint(ctx context.Context, hash FingerprintHash) (string, error) {
	return await(ctx, func(done func(string, error)) { e.session.Fingerprint(hash, done) })
}

// Run executes a command line, respecting context cancellation and configured retry policies.
// Only non-zero exits are retried: any other failure short-circuits the session, so another attempt
// could not reach the engine.
func (e *Executor) Run(ctx context.Context, command string, opts ...ExecOption) (*CommandResult, error) {
	cfg := ExecConfig{RetryAttempts: 1}

	for _, o := range opts {
		o(&cfg)
	}

	if cfg.SudoConfig != nil {
		command = applySudo(command, cfg.SudoConfig)
	}

	var (
		lastRes  *CommandResult
		lastErr  error
		attempts int
	)

	for i := range cfg.RetryAttempts {
		if i > 0 {
			if err := e.wait(ctx, cfg.RetryDelay); err != nil {
				return nil, err
			}
		}

		attempts++

		lastRes, lastErr = await(ctx, func(done func(*CommandResult, error)) {
			e.session.Command().Execute(command, cfg.Env, done)
		})

		var exitErr *ExitError
		if lastErr == nil || !errors.As(lastErr, &exitErr) {
			break
		}
	}

	if lastErr != nil && attempts > 1 {
		return lastRes, fmt.Errorf("command failed after %d attempts: %w", attempts, lastErr)
	}

	return lastRes, lastErr
}

// RunBuilder executes the command line and environment assembled by b.
func (e *Executor) RunBuilder(ctx context.Context, b *Builder, opts ...ExecOption) (*CommandResult, error) {
	return e.Run(ctx, b.String(), append([]ExecOption{WithEnv(b.Environment()...)}, opts...)...)
}

// RunLines executes a command and hands each stdout line to onLine once it has finished.
func (e *Executor) RunLines(ctx context.Context, command string, onLine func(string), opts ...ExecOption) error {
	res, err := e.Run(ctx, command, opts...)
	if res != nil {
		scanner := bufio.NewScanner(bytes.NewReader(res.Stdout))
		for scanner.Scan() {
			onLine(scanner.Text())
		}

		if scanErr := scanner.Err(); scanErr != nil && err == nil {
			return fmt.Errorf("scan error: %w", scanErr)
		}
	}

	return err
}

// OpenSFTP opens a new SFTP channel. The caller closes it.
func (e *Executor) OpenSFTP(ctx context.Context) (*SFTP, error) {
	ch := e.session.SFTP()

	if err := awaitErr(ctx, func(done func(error)) { ch.Open(done) }); err != nil {
		return nil, err
	}

	return ch, nil
}

// Upload copies a local file to the remote destination over a short-lived SFTP channel.
func (e *Executor) Upload(ctx context.Context, localPath, remotePath string, opts ...FileOption) (int64, error) {
	cfg := DefaultFileConfig()
	for _, o := range opts {
		o(&cfg)
	}

	return withSFTPResult(ctx, e, func(ch *SFTP, done func(int64, error)) {
		ch.Upload(localPath, remotePath, uint32(cfg.Permissions.Perm()), cfg.Progress, done)
	})
}

// Download copies a remote file to the local destination over a short-lived SFTP channel.
func (e *Executor) Download(ctx context.Context, remotePath, localPath string, opts ...FileOption) (int64, error) {
	cfg := DefaultFileConfig()
	for _, o := range opts {
		o(&cfg)
	}

	return withSFTPResult(ctx, e, func(ch *SFTP, done func(int64, error)) {
		ch.Download(remotePath, localPath, cfg.Progress, done)
	})
}

// ListDirectory lists path over a short-lived SFTP channel.
func (e *Executor) ListDirectory(ctx context.Context, path string) ([]string, error) {
	return withSFTPResult(ctx, e, func(ch *SFTP, done func([]string, error)) {
		ch.ListDirectory(path, done)
	})
}

func withSFTPResult[T any](ctx context.Context, e *Executor, fn func(ch *SFTP, done func(T, error))) (T, error) {
	ch, err := e.OpenSFTP(ctx)
	if err != nil {
		var zero T

		return zero, err
	}

	res, err := await(ctx, func(done func(T, error)) { fn(ch, done) })

	closeErr := awaitErr(ctx, func(done func(error)) { ch.Close(done) })
	if err == nil {
		err = closeErr
	}

	return res, err
}

func applySudo(command string, cfg *SudoConfig) string {
	args := []string{"sudo", "-n"}

	if cfg.User != "" {
		args = append(args, "-u", Quote(cfg.User))
	}

	if cfg.PreserveEnv {
		args = append(args, "-E")
	}

	args = append(args, "--", "sh", "-c", Quote(command))

	return strings.Join(args, " ")
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// await submits an operation and blocks until its completion runs or ctx is done.
func await[T any](ctx context.Context, submit func(done func(T, error))) (T, error) {
	type outcome struct {
		val T
		err error
	}

	if err := ctx.Err(); err != nil {
		var zero T

		return zero, err
	}

	ch := make(chan outcome, 1)

	submit(func(val T, err error) { ch <- outcome{val: val, err: err} })

	select {
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	case o := <-ch:
		return o.val, o.err
	}
}

func awaitErr(ctx context.Context, submit func(done func(error))) error {
	_, err := await(ctx, func(done func(struct{}, error)) {
		submit(func(err error) { done(struct{}{}, err) })
	})

	return err
}
