package sshkit_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/ruffel/sshkit"
	sshmock "github.com/ruffel/sshkit/providers/mock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// pipeDialer hands out one end of an in-memory pipe; the mocked engine never reads it.
type pipeDialer struct{}

func (pipeDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	_ = server.Close()

	return client, nil
}

type failingDialer struct{ err error }

func (d failingDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	return nil, d.err
}

var errBoom = errors.New("boom")

func newSession(t *testing.T, lib sshkit.Library, opts ...sshkit.Option) *sshkit.Session {
	t.Helper()

	base := []sshkit.Option{
		sshkit.WithDialer(pipeDialer{}),
		sshkit.WithLogger(zaptest.NewLogger(t)),
	}

	s := sshkit.NewSession(lib, "example.com", 22, append(base, opts...)...)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func newEngine() (*sshmock.Library, *sshmock.Session) {
	lib := sshmock.NewLibrary()
	engine := sshmock.NewSession()

	lib.On("Name").Return("mock").Maybe()
	lib.On("MakeSession").Return(engine, nil)
	engine.On("Handshake", mock.Anything).Return(nil)
	engine.On("Banner").Return("SSH-2.0-OpenSSH_9.6").Maybe()
	engine.On("Fingerprint", sshkit.FingerprintSHA256).Return("SHA256:abc").Maybe()
	engine.On("Disconnect").Return(nil).Maybe()

	return lib, engine
}

func connectedSession(t *testing.T, opts ...sshkit.Option) (*sshkit.Session, *sshmock.Session) {
	t.Helper()

	lib, engine := newEngine()
	s := newSession(t, lib, opts...)

	require.NoError(t, sshkit.NewExecutor(s).Connect(context.Background()))

	return s, engine
}

func authenticatedSession(t *testing.T, opts ...sshkit.Option) (*sshkit.Session, *sshmock.Session) {
	t.Helper()

	s, engine := connectedSession(t, opts...)

	engine.On("AuthenticationList", "alice").Return([]string{"publickey", "password"}, nil)
	engine.On("Authenticated").Return(false).Once()
	engine.On("AuthenticateByPassword", "alice", "secret").Return(nil)
	engine.On("Authenticated").Return(true)

	err := sshkit.NewExecutor(s).Authenticate(context.Background(), sshkit.Password{User: "alice", Password: "secret"})
	require.NoError(t, err)

	return s, engine
}

// openSFTP authenticates a session and opens an SFTP channel backed by backend.
func openSFTP(t *testing.T, backend sshkit.LibrarySFTPChannel) (*sshkit.SFTP, *sshmock.Session) {
	t.Helper()

	s, engine := authenticatedSession(t)
	engine.On("MakeSFTPChannel").Return(backend)

	ch := s.SFTP()
	require.NoError(t, await(func(done func(error)) { ch.Open(done) }))

	return ch, engine
}

func await(submit func(done func(error))) error {
	errc := make(chan error, 1)
	submit(func(err error) { errc <- err })

	return <-errc
}

func awaitValue[T any](submit func(done func(T, error))) (T, error) {
	type outcome struct {
		val T
		err error
	}

	ch := make(chan outcome, 1)
	submit(func(val T, err error) { ch <- outcome{val: val, err: err} })
	o := <-ch

	return o.val, o.err
}
