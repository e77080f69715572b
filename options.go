package sshkit

import (
	"context"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is applied when no WithTimeout option is given.
const DefaultTimeout = 10 * time.Second

// Dialer opens the transport socket for a session. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SessionConfig holds configuration derived from options.
type SessionConfig struct {
	Timeout    time.Duration
	Banner     string
	Logger     *zap.Logger
	Dispatcher Dispatcher
	Dialer     Dialer
}

// Option defines a functional option for NewSession.
type Option func(*SessionConfig)

// WithTimeout sets the per-session timeout used for dialing and handed to the engine.
func WithTimeout(d time.Duration) Option {
	return func(c *SessionConfig) {
		c.Timeout = d
	}
}

// WithBanner sets the local identification banner sent during the handshake.
func WithBanner(banner string) Option {
	return func(c *SessionConfig) {
		c.Banner = banner
	}
}

// WithLogger sets the logger. The session logs under the "sshkit.session" name.
func WithLogger(log *zap.Logger) Option {
	return func(c *SessionConfig) {
		c.Logger = log
	}
}

// WithDispatcher delivers completions through d instead of a private SerialDispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(c *SessionConfig) {
		c.Dispatcher = d
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(c *SessionConfig) {
		c.Dialer = d
	}
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}

	return c
}

// ExecConfig holds configuration for Executor.Run derived from options.
type ExecConfig struct {
	Env           []EnvVar
	SudoConfig    *SudoConfig
	RetryAttempts int
	RetryDelay    time.Duration
}

// SudoConfig defines privilege escalation options.
type SudoConfig struct {
	User        string // Target user (-u)
	PreserveEnv bool   // Preserve environment (-E)
}

// ExecOption defines a functional option for execution.
type ExecOption func(*ExecConfig)

// SudoOption defines a functional option for sudo configuration.
type SudoOption func(*SudoConfig)

// WithEnv sends env to the channel before the command starts.
func WithEnv(env ...EnvVar) ExecOption {
	return func(c *ExecConfig) {
		c.Env = append(c.Env, env...)
	}
}

// WithSudo wraps the command in non-interactive sudo.
func WithSudo(opts ...SudoOption) ExecOption {
	return func(c *ExecConfig) {
		if c.SudoConfig == nil {
			c.SudoConfig = &SudoConfig{}
		}

		for _, o := range opts {
			o(c.SudoConfig)
		}
	}
}

// WithSudoUser sets the target user.
func WithSudoUser(user string) SudoOption {
	return func(s *SudoConfig) {
		s.User = user
	}
}

// WithSudoPreserveEnv preserves the environment.
func WithSudoPreserveEnv() SudoOption {
	return func(s *SudoConfig) {
		s.PreserveEnv = true
	}
}

// WithRetry re-runs a command that exited non-zero.
// attempts: Total number of attempts (including the initial one). Must be >= 1.
// delay: Duration to wait between attempts.
func WithRetry(attempts int, delay time.Duration) ExecOption {
	return func(c *ExecConfig) {
		if attempts < 1 {
			attempts = 1
		}

		c.RetryAttempts = attempts
		c.RetryDelay = delay
	}
}

// FileConfig holds configuration for Executor transfers.
type FileConfig struct {
	Permissions os.FileMode // Mode for created remote files and directories
	Progress    ProgressFunc
}

// DefaultFileConfig returns defaults.
func DefaultFileConfig() FileConfig {
	return FileConfig{Permissions: 0o644}
}

// FileOption defines a functional option for file transfers.
type FileOption func(*FileConfig)

// WithPermissions sets the mode of created remote files.
func WithPermissions(mode os.FileMode) FileOption {
	return func(c *FileConfig) {
		c.Permissions = mode
	}
}

// WithProgress calls fn with progress updates.
func WithProgress(fn ProgressFunc) FileOption {
	return func(c *FileConfig) {
		c.Progress = fn
	}
}
