package ssh

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ruffel/sshkit"
)

const cryptoModule = "golang.org/x/crypto"

// Library is an sshkit.Library backed by golang.org/x/crypto/ssh.
type Library struct {
	config Config
}

var _ sshkit.Library = (*Library)(nil)

// New creates a Library from the given options.
// A host key check is mandatory: pass WithHostKeyCallback, WithKnownHosts or WithInsecureSkipVerify.
func New(opts ...Option) (*Library, error) {
	var c Config
	for _, o := range opts {
		o(&c)
	}

	c = c.WithDefaults()

	if c.HostKeyCheck == nil {
		return nil, fmt.Errorf("ssh library: %w", errMissingHostKeyCheck)
	}

	return &Library{config: c}, nil
}

// Config returns the effective configuration.
func (l *Library) Config() Config {
	return l.config
}

func (l *Library) Name() string { return "x/crypto" }

// Version returns the golang.org/x/crypto module version linked into the binary.
func (l *Library) Version() string {
	return cryptoVersion()
}

// MakeSession creates an unconnected engine session.
func (l *Library) MakeSession() (sshkit.LibrarySession, error) {
	return newSession(l.config), nil
}

var cryptoVersion = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	for _, dep := range info.Deps {
		if dep.Path == cryptoModule {
			if dep.Replace != nil {
				return dep.Replace.Version
			}

			return dep.Version
		}
	}

	return "unknown"
})
