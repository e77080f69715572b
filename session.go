package sshkit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// resource is a sub-resource (channel, SFTP channel) released when its session disconnects.
// release is only called on the worker.
type resource interface {
	release() error
}

// Session is one logical connection to a remote host. All methods are safe for concurrent use and
// never block on the network: work is queued and reported through completions.
type Session struct {
	lib    Library
	host   string
	port   int
	config SessionConfig
	log    *zap.Logger
	queue  *Queue

	// Owned by the worker goroutine.
	backend   LibrarySession
	conn      net.Conn
	resources map[resource]struct{}

	ownedDispatcher *SerialDispatcher

	mu           sync.RWMutex
	state        State
	remoteBanner string
	closed       bool
}

// NewSession creates an idle session for host:port backed by lib. Nothing is dialed until Connect.
func NewSession(lib Library, host string, port int, opts ...Option) *Session {
	var cfg SessionConfig
	for _, o := range opts {
		o(&cfg)
	}

	cfg = cfg.withDefaults()

	s := &Session{
		lib:       lib,
		host:      host,
		port:      port,
		config:    cfg,
		log:       cfg.Logger.Named("sshkit.session").With(zap.String("host", host), zap.Int("port", port)),
		resources: make(map[resource]struct{}),
	}

	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		s.ownedDispatcher = NewSerialDispatcher()
		dispatcher = s.ownedDispatcher
	}

	s.queue = NewQueue(s.log, dispatcher)

	return s
}

// Host returns the remote host name.
func (s *Session) Host() string { return s.host }

// Port returns the remote port.
func (s *Session) Port() int { return s.port }

// Timeout returns the per-session timeout.
func (s *Session) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.config.Timeout
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Authenticated reports whether the session reached StateAuthenticated.
func (s *Session) Authenticated() bool {
	return s.State() == StateAuthenticated
}

// Banner returns the local identification string sent during the handshake, or "" for the engine
// default.
func (s *Session) Banner() string { return s.config.Banner }

// RemoteBanner returns the identification string sent by the server during the last handshake.
func (s *Session) RemoteBanner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.remoteBanner
}

// Err returns the error currently short-circuiting the session, if any.
func (s *Session) Err() error {
	return s.queue.Err()
}

// Wait blocks until every operation submitted so far has completed.
func (s *Session) Wait(ctx context.Context) error {
	return s.queue.Wait(ctx)
}

// Connect dials the host and performs the protocol handshake. It is a reset point: it runs even if
// an earlier operation failed and, once past its precondition, clears that failure.
func (s *Session) Connect(done func(error)) *Session {
	s.queue.enqueue(&operation{
		name:     "connect",
		run:      s.connect,
		complete: done,
		barrier:  true,
	})

	return s
}

// Authenticate checks that the server offers the challenge's method, then authenticates.
func (s *Session) Authenticate(challenge Challenge, done func(error)) *Session {
	s.queue.Enqueue("authenticate", func() error { return s.authenticate(challenge) }, done)

	return s
}

// Disconnect closes every open channel, disconnects the engine and closes the socket. It always runs
// and clears any recorded failure afterwards, so the session can be connected again.
func (s *Session) Disconnect(done func(error)) *Session {
	s.queue.enqueue(&operation{
		name:     "disconnect",
		run:      s.disconnect,
		complete: done,
		barrier:  true,
		reset:    resetAfter,
	})

	return s
}

// Fingerprint reports the host key fingerprint. It requires a connected session.
func (s *Session) Fingerprint(hash FingerprintHash, done func(string, error)) {
	run, complete := withResult(func() (string, error) {
		if !s.connected() {
			return "", misuse("fingerprint", ErrNotConnected)
		}

		return s.backend.Fingerprint(hash), nil
	}, done)

	s.queue.Enqueue("fingerprint", run, complete)
}

// SetTimeout changes the per-session timeout and forwards it to the engine.
func (s *Session) SetTimeout(timeout time.Duration, done func(error)) {
	s.queue.Enqueue("set timeout", func() error {
		s.mu.Lock()
		s.config.Timeout = timeout
		s.mu.Unlock()

		if s.backend != nil {
			s.backend.SetTimeout(timeout)
		}

		return nil
	}, done)
}

// Shell returns a new, unopened shell channel on this session.
func (s *Session) Shell() *Shell {
	return &Shell{channel: channel{session: s}}
}

// Command returns a new exec channel on this session.
func (s *Session) Command() *Command {
	return &Command{channel: channel{session: s}}
}

// SFTP returns a new, unopened SFTP channel on this session.
func (s *Session) SFTP() *SFTP {
	return &SFTP{session: s, files: make(map[*File]struct{})}
}

// Close disconnects (if needed), drains pending operations and stops the worker. Operations submitted
// afterwards complete with ErrSessionClosed. Close may be called from a completion.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	s.mu.Unlock()

	var disconnectErr error

	s.queue.enqueue(&operation{
		name: "close",
		run: func() error {
			disconnectErr = s.disconnect()

			return disconnectErr
		},
		barrier: true,
		reset:   resetAfter,
	})

	_ = s.queue.Close()

	if s.ownedDispatcher != nil {
		_ = s.ownedDispatcher.Close()
	}

	return disconnectErr
}

func (s *Session) connect() error {
	if s.connected() {
		return misuse("connect", ErrAlreadyConnected)
	}

	s.queue.clearErr()

	// A failed session may still hold the previous transport.
	if s.backend != nil || s.conn != nil {
		if err := s.disconnect(); err != nil {
			s.log.Debug("dropping previous transport failed", zap.Error(err))
		}
	}

	s.setState(StateConnecting)

	if err := s.handshake(); err != nil {
		s.dropTransport()
		s.setState(StateFailed)

		return err
	}

	s.setState(StateConnected)

	return nil
}

func (s *Session) handshake() error {
	timeout := s.Timeout()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	conn, err := s.config.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	s.conn = conn

	session, err := s.lib.MakeSession()
	if err != nil {
		return backend("make session", err)
	}

	s.backend = session
	session.SetTimeout(timeout)

	if s.config.Banner != "" {
		if err := session.SetBanner(s.config.Banner); err != nil {
			return backend("set banner", err)
		}
	}

	session.SetBlocking(true)
	defer session.SetBlocking(false)

	if err := session.Handshake(conn); err != nil {
		return backend("handshake", err)
	}

	s.mu.Lock()
	s.remoteBanner = session.Banner()
	s.mu.Unlock()

	s.log.Debug("handshake complete",
		zap.String("engine", s.lib.Name()),
		zap.String("remote_banner", session.Banner()),
		zap.String("fingerprint", session.Fingerprint(FingerprintSHA256)))

	return nil
}

func (s *Session) authenticate(challenge Challenge) error {
	if challenge == nil {
		return misuse("authenticate", errors.New("challenge cannot be nil"))
	}

	switch s.State() {
	case StateAuthenticated:
		return nil
	case StateConnected:
	default:
		return misuse("authenticate", ErrNotConnected)
	}

	s.setState(StateAuthenticating)

	if err := s.runChallenge(challenge); err != nil {
		s.setState(StateFailed)

		return err
	}

	s.setState(StateAuthenticated)

	return nil
}

func (s *Session) runChallenge(challenge Challenge) error {
	list, err := s.backend.AuthenticationList(challenge.Username())
	if err != nil {
		return backend("authentication list", err)
	}

	// Servers accepting "none" authenticate while listing.
	if s.backend.Authenticated() {
		return nil
	}

	offered := make([]AuthMethod, 0, len(list))
	for _, raw := range list {
		offered = append(offered, ParseAuthMethod(raw))
	}

	required := challenge.RequiredMethod()
	if !slices.Contains(offered, required) {
		return &AuthMethodUnsupportedError{Method: required, Supported: offered}
	}

	s.log.Debug("authenticating", zap.String("user", challenge.Username()), zap.String("method", string(required)))

	s.backend.SetBlocking(true)
	defer s.backend.SetBlocking(false)

	if err := challenge.authenticate(s.backend); err != nil {
		return backend("authenticate", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err))
	}

	if !s.backend.Authenticated() {
		return ErrAuthenticationFailed
	}

	return nil
}

func (s *Session) disconnect() error {
	pending := make([]resource, 0, len(s.resources))
	for r := range s.resources {
		pending = append(pending, r)
	}

	for _, r := range pending {
		if err := r.release(); err != nil {
			s.log.Debug("release during disconnect failed", zap.Error(err))
		}
	}

	clear(s.resources)

	if s.backend == nil && s.conn == nil {
		if s.State() != StateIdle {
			s.setState(StateDisconnected)
		}

		return nil
	}

	var err error
	if s.backend != nil {
		err = backend("disconnect", s.backend.Disconnect())
	}

	s.dropTransport()
	s.setState(StateDisconnected)

	return err
}

// dropTransport forgets the engine session and closes the socket. The close error is ignored: the
// engine usually closed it already.
func (s *Session) dropTransport() {
	if s.conn != nil {
		_ = s.conn.Close()
	}

	s.conn = nil
	s.backend = nil
}

func (s *Session) connected() bool {
	switch s.State() {
	case StateConnected, StateAuthenticating, StateAuthenticated:
		return true
	default:
		return false
	}
}

func (s *Session) requireAuthenticated(op string) error {
	if s.State() != StateAuthenticated || s.backend == nil {
		return misuse(op, ErrAuthenticationRequired)
	}

	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.log.Debug("state changed", zap.Stringer("from", prev), zap.Stringer("to", state))
	}
}

func (s *Session) track(r resource) {
	s.resources[r] = struct{}{}
}

func (s *Session) untrack(r resource) {
	delete(s.resources, r)
}

// reject reports a misuse detected before anything was queued.
func (s *Session) reject(op string, complete func(error), err error) {
	s.queue.deliver(&operation{name: op, complete: complete}, misuse(op, err))
}
