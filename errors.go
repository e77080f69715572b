package sshkit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConnected indicates an operation that needs a connected session.
	ErrNotConnected = errors.New("session is not connected")

	// ErrAlreadyConnected indicates Connect on a session that is already connected.
	ErrAlreadyConnected = errors.New("session is already connected")

	// ErrAuthenticationRequired indicates an operation that needs an authenticated session.
	ErrAuthenticationRequired = errors.New("session is not authenticated")

	// ErrAuthenticationFailed indicates the server rejected the supplied credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrChannelAlreadyOpen indicates a second Open on a channel that is still open.
	ErrChannelAlreadyOpen = errors.New("channel is already open")

	// ErrChannelClosed indicates I/O on a channel that is not open.
	ErrChannelClosed = errors.New("channel is closed")

	// ErrFileClosed indicates I/O on a file handle that was closed.
	ErrFileClosed = errors.New("file is closed")

	// ErrSessionClosed indicates an operation submitted after Session.Close.
	ErrSessionClosed = errors.New("session is closed")

	// ErrTimeout indicates that a command produced no output within the session timeout.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidCommand indicates an empty or unparsable command string.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrNoExitStatus indicates the remote command has not reported an exit status yet.
	ErrNoExitStatus = errors.New("exit status not available")
)

// ContractError marks caller misuse detected by a precondition check (operate before connect,
// double open, closed channel access). It fails its own operation only and never poisons the queue.
type ContractError struct {
	Op  string
	Err error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

func misuse(op string, err error) error {
	return &ContractError{Op: op, Err: err}
}

// poisons reports whether err should short-circuit the queue. Misuse and non-zero exit statuses
// only fail their own operation.
func poisons(err error) bool {
	if err == nil || IsContractError(err) {
		return false
	}

	var exitErr *ExitError

	return !errors.As(err, &exitErr)
}

// IsContractError reports whether err is a caller misuse error.
func IsContractError(err error) bool {
	var ce *ContractError

	return errors.As(err, &ce)
}

// BackendError wraps a failure returned by the protocol engine.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error during %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func backend(op string, err error) error {
	if err == nil {
		return nil
	}

	return &BackendError{Op: op, Err: err}
}

// AuthMethodUnsupportedError indicates the server does not advertise the method a challenge needs.
type AuthMethodUnsupportedError struct {
	Method    AuthMethod
	Supported []AuthMethod
}

func (e *AuthMethodUnsupportedError) Error() string {
	names := make([]string, 0, len(e.Supported))
	for _, m := range e.Supported {
		names = append(names, string(m))
	}

	return fmt.Sprintf("authentication method %q not supported by server (offered: %s)", e.Method, strings.Join(names, ", "))
}

// ExitError represents a command that ran but exited with a non-zero status.
type ExitError struct {
	Command    string
	ExitStatus int
	Stderr     []byte
}

func (e *ExitError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("command exited with status %d", e.ExitStatus)
	}

	return fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitStatus)
}
