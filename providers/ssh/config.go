package ssh

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/ruffel/sshkit"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultAuthMethods is reported by AuthenticationList when Config.AuthMethods is empty.
var DefaultAuthMethods = []string{"publickey", "password", "keyboard-interactive"}

// Config holds all parameters required to establish an SSH connection.
type Config struct {
	// Connection details
	Host string // Hostname or IP address, used for known_hosts lookups
	Port int    // Port number (default 22)
	User string // Username to authenticate as

	// Credentials, used by Challenge (first match wins)
	PrivateKey     string // PEM encoded private key content (string)
	PrivateKeyPath string // Path to private key file (e.g. "~/.ssh/id_rsa")
	Passphrase     string // Passphrase for an encrypted private key
	Password       string // Password for authentication (use sparingly)
	UseAgent       bool   // If true, authenticate through SSH_AUTH_SOCK

	// Connection settings
	Timeout            time.Duration       // Connection timeout (default 10s)
	HostKeyCheck       ssh.HostKeyCallback // Callback to verify host key. You normally generate this from known_hosts.
	InsecureSkipVerify bool                // If true, disables strict host key checking. Use ONLY for testing.
	AuthMethods        []string            // Methods reported as advertised by the server (default DefaultAuthMethods)
}

// NewConfig creates a Config with safe defaults.
// Note: It does NOT set a default HostKeyCheck. You must provide one or set InsecureSkipVerify=true.
func NewConfig(host, username string) Config {
	return Config{
		Host:    host,
		User:    username,
		Port:    22,
		Timeout: sshkit.DefaultTimeout,
	}
}

// NewFromSSHConfig loads configuration from an SSH config file (e.g. ~/.ssh/config).
// An empty path reads ~/.ssh/config.
func NewFromSSHConfig(alias, path string) (Config, error) {
	if path == "" {
		path = filepath.Join(homeDir(), ".ssh", "config")
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open ssh config: %w", err)
	}

	defer func() { _ = f.Close() }()

	return NewFromSSHConfigReader(alias, f)
}

// NewFromSSHConfigReader parses configuration config data.
// It resolves the alias to the actual HostName, User, Port, IdentityFile and PreferredAuthentications.
func NewFromSSHConfigReader(alias string, r io.Reader) (Config, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse ssh config: %w", err)
	}

	hostName, err := cfg.Get(alias, "HostName")
	if err != nil || hostName == "" {
		hostName = alias // Fallback if no HostName defined
	}

	username, _ := cfg.Get(alias, "User")
	if username == "" {
		// Use current system user if not specified in config
		u, _ := user.Current()
		if u != nil {
			username = u.Username
		}
	}

	portStr, _ := cfg.Get(alias, "Port")

	port := 22
	if portStr != "" {
		_, _ = fmt.Sscanf(portStr, "%d", &port)
	}

	c := NewConfig(hostName, username)
	c.Port = port
	c.PrivateKeyPath = expandHome(mustGet(cfg, alias, "IdentityFile"))

	if prefs := mustGet(cfg, alias, "PreferredAuthentications"); prefs != "" {
		for _, m := range strings.Split(prefs, ",") {
			c.AuthMethods = append(c.AuthMethods, strings.TrimSpace(m))
		}
	}

	if timeout := mustGet(cfg, alias, "ConnectTimeout"); timeout != "" {
		var secs int
		if _, err := fmt.Sscanf(timeout, "%d", &secs); err == nil && secs > 0 {
			c.Timeout = time.Duration(secs) * time.Second
		}
	}

	// Map StrictHostKeyChecking
	if strict := mustGet(cfg, alias, "StrictHostKeyChecking"); strict == "no" {
		c.InsecureSkipVerify = true
	}

	return c, nil
}

func mustGet(cfg *ssh_config.Config, alias, key string) string {
	v, _ := cfg.Get(alias, key)

	return v
}

// WithDefaults sets default values for zero-valued fields.
func (c Config) WithDefaults() Config {
	if c.Host != "" && c.User != "" && c.Port == 0 {
		c.Port = 22
	}

	if c.Timeout == 0 {
		c.Timeout = sshkit.DefaultTimeout
	}

	// If insecure is requested and no callback provided, use insecure ignore.
	if c.InsecureSkipVerify && c.HostKeyCheck == nil {
		c.HostKeyCheck = ssh.InsecureIgnoreHostKey() //nolint:gosec // Explicitly requested
	}

	if len(c.AuthMethods) == 0 {
		c.AuthMethods = DefaultAuthMethods
	}

	return c
}

// Validate ensures all required fields are present.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("configuration error: host address cannot be empty")
	}

	if c.User == "" {
		return errors.New("configuration error: user cannot be empty")
	}

	if c.HostKeyCheck == nil {
		return errors.New("configuration error: HostKeyCheck is missing; you must provide a callback (e.g. valid 'known_hosts') or set InsecureSkipVerify=true (testing only)")
	}

	return nil
}

// Challenge picks the credentials to authenticate with: an in-memory key, then a key file, then
// the agent, then the password.
func (c Config) Challenge() (sshkit.Challenge, error) {
	switch {
	case c.PrivateKey != "":
		return sshkit.PublicKeyMemory{User: c.User, Passphrase: c.Passphrase, PrivateKey: []byte(c.PrivateKey)}, nil
	case c.PrivateKeyPath != "":
		return sshkit.PublicKeyFile{User: c.User, Passphrase: c.Passphrase, PrivateKeyPath: c.PrivateKeyPath}, nil
	case c.UseAgent:
		return sshkit.Agent{User: c.User}, nil
	case c.Password != "":
		return sshkit.Password{User: c.User, Password: c.Password}, nil
	default:
		return nil, errors.New("configuration error: no credentials (key, agent or password) configured")
	}
}

// DefaultKnownHosts returns a HostKeyCallback that verifies the host key against
// strict entries in the user's ~/.ssh/known_hosts file.
func DefaultKnownHosts() (ssh.HostKeyCallback, error) {
	path := filepath.Join(homeDir(), ".ssh", "known_hosts")

	return knownhosts.New(path)
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}

	return os.Getenv("HOME")
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}

	return path
}
