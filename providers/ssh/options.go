package ssh

import (
	"time"

	"golang.org/x/crypto/ssh"
)

// Option defines a functional option for the SSH provider.
type Option func(*Config)

// WithConfig returns an Option that sets multiple fields from a Config struct.
// Useful for bulk configuration, e.g. from NewFromSSHConfig.
func WithConfig(c Config) Option {
	return func(cfg *Config) {
		*cfg = c
	}
}

// WithHost sets the host name used for known_hosts lookups.
func WithHost(host string, port int) Option {
	return func(c *Config) {
		c.Host = host
		c.Port = port
	}
}

// WithTimeout sets the default handshake and authentication timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithHostKeyCallback sets the host key verification callback.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(c *Config) {
		c.HostKeyCheck = cb
	}
}

// WithInsecureSkipVerify enables/disables strict host key checking.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Config) {
		c.InsecureSkipVerify = skip
	}
}

// WithAuthMethods sets the methods reported by AuthenticationList.
func WithAuthMethods(methods ...string) Option {
	return func(c *Config) {
		c.AuthMethods = methods
	}
}

// WithKnownHosts verifies host keys against ~/.ssh/known_hosts.
// The file is loaded when New applies the option; a load failure leaves the check unset so New fails.
func WithKnownHosts() Option {
	return func(c *Config) {
		if cb, err := DefaultKnownHosts(); err == nil {
			c.HostKeyCheck = cb
		}
	}
}
