package sshkit_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ruffel/sshkit"
	sshmock "github.com/ruffel/sshkit/providers/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSession_ConnectAndAuthenticate(t *testing.T) {
	t.Parallel()

	s, engine := authenticatedSession(t, sshkit.WithTimeout(3*time.Second))

	assert.Equal(t, sshkit.StateAuthenticated, s.State())
	assert.True(t, s.Authenticated())
	assert.Equal(t, "SSH-2.0-OpenSSH_9.6", s.RemoteBanner())
	assert.Equal(t, 3*time.Second, engine.Timeout())
	assert.False(t, engine.Blocking(), "blocking mode must be restored after each call")
	assert.NoError(t, s.Err())
}

func TestSession_Banner(t *testing.T) {
	t.Parallel()

	lib, engine := newEngine()
	engine.On("SetBanner", "SSH-2.0-sshkit").Return(nil)

	s := newSession(t, lib, sshkit.WithBanner("SSH-2.0-sshkit"))
	require.NoError(t, await(func(done func(error)) { s.Connect(done) }))

	assert.Equal(t, "SSH-2.0-sshkit", s.Banner())
	engine.AssertCalled(t, "SetBanner", "SSH-2.0-sshkit")
}

func TestSession_ConnectTwice(t *testing.T) {
	t.Parallel()

	s, _ := connectedSession(t)

	err := await(func(done func(error)) { s.Connect(done) })
	require.ErrorIs(t, err, sshkit.ErrAlreadyConnected)
	assert.True(t, sshkit.IsContractError(err))
	assert.Equal(t, sshkit.StateConnected, s.State())
	assert.NoError(t, s.Err(), "misuse must not short-circuit the session")
}

func TestSession_ConnectWhilePoisoned(t *testing.T) {
	t.Parallel()

	fs := newMemSFTP()
	ch, _ := openSFTP(t, fs)
	s := ch.Session()

	err := await(func(done func(error)) { ch.RemoveDirectory("/does/not/exist", done) })
	require.Error(t, err)
	require.Error(t, s.Err())

	err = await(func(done func(error)) { s.Connect(done) })
	require.ErrorIs(t, err, sshkit.ErrAlreadyConnected)
	assert.Equal(t, sshkit.StateAuthenticated, s.State())
	require.ErrorIs(t, s.Err(), os.ErrNotExist, "a rejected connect keeps the recorded failure")

	calls := fs.calls.Load()

	err = await(func(done func(error)) { ch.MakeDirectory("/Dir", 0o755, done) })
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, calls, fs.calls.Load(), "the engine is not reached while short-circuited")
}

func TestSession_ConnectFailure(t *testing.T) {
	t.Parallel()

	lib := sshmock.NewLibrary()
	s := newSession(t, lib, sshkit.WithDialer(failingDialer{err: errBoom}))

	err := await(func(done func(error)) { s.Connect(done) })
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, sshkit.StateFailed, s.State())

	_, err = awaitValue(func(done func(string, error)) { s.Fingerprint(sshkit.FingerprintMD5, done) })
	require.ErrorIs(t, err, errBoom, "later operations complete with the recorded failure")

	lib.AssertNotCalled(t, "MakeSession")
}

func TestSession_Authenticate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		offered   []string
		authErr   error
		wantState sshkit.State
		check     func(t *testing.T, err error)
	}{
		{
			name:      "method not offered",
			offered:   []string{"publickey"},
			wantState: sshkit.StateFailed,
			check: func(t *testing.T, err error) {
				t.Helper()

				var unsupported *sshkit.AuthMethodUnsupportedError
				require.ErrorAs(t, err, &unsupported)
				assert.Equal(t, sshkit.AuthPassword, unsupported.Method)
				assert.Equal(t, []sshkit.AuthMethod{sshkit.AuthPublicKey}, unsupported.Supported)
			},
		},
		{
			name:      "method names are normalised",
			offered:   []string{" PASSWORD "},
			wantState: sshkit.StateAuthenticated,
			check: func(t *testing.T, err error) {
				t.Helper()
				require.NoError(t, err)
			},
		},
		{
			name:      "credentials rejected",
			offered:   []string{"password"},
			authErr:   errBoom,
			wantState: sshkit.StateFailed,
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, sshkit.ErrAuthenticationFailed)
				require.ErrorIs(t, err, errBoom)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, engine := connectedSession(t)

			engine.On("AuthenticationList", "alice").Return(tt.offered, nil)
			engine.On("Authenticated").Return(false).Once()
			engine.On("AuthenticateByPassword", "alice", "secret").Return(tt.authErr).Maybe()
			engine.On("Authenticated").Return(tt.authErr == nil)

			err := await(func(done func(error)) {
				s.Authenticate(sshkit.Password{User: "alice", Password: "secret"}, done)
			})

			tt.check(t, err)
			assert.Equal(t, tt.wantState, s.State())
			assert.Equal(t, tt.wantState == sshkit.StateAuthenticated, s.Authenticated())
		})
	}
}

func TestSession_AuthenticateBeforeConnect(t *testing.T) {
	t.Parallel()

	lib := sshmock.NewLibrary()
	s := newSession(t, lib)

	err := await(func(done func(error)) {
		s.Authenticate(sshkit.Password{User: "alice", Password: "secret"}, done)
	})

	require.ErrorIs(t, err, sshkit.ErrNotConnected)
	assert.Equal(t, sshkit.StateIdle, s.State())
}

func TestSession_KeyboardInteractive(t *testing.T) {
	t.Parallel()

	s, engine := connectedSession(t)

	responder := sshkit.PromptResponderFunc(func(string) string { return "secret" })

	engine.On("AuthenticationList", "alice").Return([]string{"keyboard-interactive"}, nil)
	engine.On("Authenticated").Return(false).Once()
	engine.On("AuthenticateByKeyboardInteractive", "alice", mock.Anything).Return(nil)
	engine.On("Authenticated").Return(true)

	err := await(func(done func(error)) {
		s.Authenticate(sshkit.KeyboardInteractive{User: "alice", Responder: responder}, done)
	})

	require.NoError(t, err)
	assert.True(t, s.Authenticated())
}

func TestSession_AgentChallenge(t *testing.T) {
	t.Parallel()

	s, engine := connectedSession(t)

	engine.On("AuthenticationList", "alice").Return([]string{"publickey"}, nil)
	engine.On("Authenticated").Return(false).Once()
	engine.On("AuthenticateByAgent", "alice", "/tmp/agent.sock").Return(nil)
	engine.On("Authenticated").Return(true)

	err := await(func(done func(error)) {
		s.Authenticate(sshkit.Agent{User: "alice", Socket: "/tmp/agent.sock"}, done)
	})

	require.NoError(t, err)
	engine.AssertExpectations(t)
}

func TestSession_RequiresAuthentication(t *testing.T) {
	t.Parallel()

	s, engine := connectedSession(t)

	shell := s.Shell()
	sftp := s.SFTP()

	errs := []error{
		await(func(done func(error)) { sftp.Open(done) }),
		await(func(done func(error)) { shell.Open(nil, nil, done) }),
		await(func(done func(error)) { sftp.MakeDirectory("/tmp/x", 0o755, done) }),
	}

	_, err := awaitValue(func(done func(*sshkit.CommandResult, error)) {
		s.Command().Execute("uptime", nil, done)
	})
	errs = append(errs, err)

	for i, err := range errs {
		require.ErrorIs(t, err, sshkit.ErrAuthenticationRequired, "operation %d", i)
		assert.True(t, sshkit.IsContractError(err))
	}

	engine.AssertNotCalled(t, "MakeChannel")
	engine.AssertNotCalled(t, "MakeSFTPChannel")
	assert.NoError(t, s.Err())
}

func TestSession_FIFOCompletionOrder(t *testing.T) {
	t.Parallel()

	ch, _ := openSFTP(t, newMemSFTP())

	const n = 100

	var (
		mu    sync.Mutex
		order []int
	)

	record := func(i int) func(error) {
		return func(error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}
	}

	for i := range n {
		switch i % 3 {
		case 0:
			ch.MakeDirectory(fmt.Sprintf("/d%d", i), 0o755, record(i))
		case 1:
			ch.ListDirectory("/", func([]string, error) { record(i)(nil) })
		default:
			ch.RemoveDirectory(fmt.Sprintf("/d%d", i-2), record(i))
		}
	}

	require.NoError(t, ch.Session().Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, order, n)

	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestSession_ShortCircuit(t *testing.T) {
	t.Parallel()

	backend := sshmock.NewSFTPChannel()
	backend.On("OpenChannel").Return(nil)
	backend.On("CloseChannel").Return(nil)
	backend.On("MakeDirectory", "/a", uint32(0o755)).Return(errBoom)

	ch, _ := openSFTP(t, backend)
	s := ch.Session()

	first := await(func(done func(error)) { ch.MakeDirectory("/a", 0o755, done) })
	second := await(func(done func(error)) { ch.RemoveDirectory("/b", done) })
	_, third := awaitValue(func(done func([]string, error)) { ch.ListDirectory("/c", done) })

	var be *sshkit.BackendError
	require.ErrorAs(t, first, &be)
	assert.Equal(t, "make directory", be.Op)

	require.ErrorIs(t, second, errBoom)
	require.ErrorIs(t, third, errBoom)
	require.ErrorIs(t, s.Err(), errBoom)

	backend.AssertNotCalled(t, "RemoveDirectory", "/b")
	backend.AssertNotCalled(t, "ListDirectory", "/c")

	// Disconnect always runs, releases the channel and clears the failure.
	require.NoError(t, await(func(done func(error)) { s.Disconnect(done) }))
	require.NoError(t, s.Err())
	assert.Equal(t, sshkit.StateDisconnected, s.State())
	assert.False(t, ch.Opened())
	backend.AssertCalled(t, "CloseChannel")
}

func TestSession_DisconnectReleasesResources(t *testing.T) {
	t.Parallel()

	fs := newMemSFTP()
	ch, engine := openSFTP(t, fs)
	s := ch.Session()

	f, err := awaitValue(func(done func(*sshkit.File, error)) {
		ch.OpenFile("/notes.txt", sshkit.FileWrite|sshkit.FileCreate, 0o644, done)
	})
	require.NoError(t, err)
	assert.True(t, f.Opened())

	require.NoError(t, await(func(done func(error)) { s.Disconnect(done) }))

	assert.False(t, f.Opened())
	assert.False(t, ch.Opened())
	assert.False(t, fs.Opened())
	engine.AssertCalled(t, "Disconnect")

	err = await(func(done func(error)) { ch.MakeDirectory("/x", 0o755, done) })
	require.ErrorIs(t, err, sshkit.ErrAuthenticationRequired)
}

func TestSession_CloseRejectsLaterOperations(t *testing.T) {
	t.Parallel()

	s, engine := connectedSession(t)

	require.NoError(t, s.Close())
	assert.Equal(t, sshkit.StateDisconnected, s.State())
	engine.AssertCalled(t, "Disconnect")

	_, err := awaitValue(func(done func(string, error)) { s.Fingerprint(sshkit.FingerprintSHA1, done) })
	require.ErrorIs(t, err, sshkit.ErrSessionClosed)

	require.NoError(t, s.Close(), "close is idempotent")
}

func TestSession_Fingerprint(t *testing.T) {
	t.Parallel()

	s, engine := connectedSession(t)
	engine.On("Fingerprint", sshkit.FingerprintMD5).Return("aa:bb")

	got, err := sshkit.NewExecutor(s).Fingerprint(context.Background(), sshkit.FingerprintMD5)
	require.NoError(t, err)
	assert.Equal(t, "aa:bb", got)
}

func TestSession_SetTimeout(t *testing.T) {
	t.Parallel()

	s, engine := connectedSession(t)

	require.NoError(t, await(func(done func(error)) { s.SetTimeout(time.Minute, done) }))
	assert.Equal(t, time.Minute, s.Timeout())
	assert.Equal(t, time.Minute, engine.Timeout())
}

func TestSession_ConcurrentProducersNeverOverlap(t *testing.T) {
	t.Parallel()

	fs := newMemSFTP()
	ch, _ := openSFTP(t, fs)

	const (
		producers = 8
		perWorker = 40
	)

	var g errgroup.Group

	for p := range producers {
		g.Go(func() error {
			for i := range perWorker {
				dir := fmt.Sprintf("/p%d-%d", p, i)

				if err := await(func(done func(error)) { ch.MakeDirectory(dir, 0o755, done) }); err != nil {
					return err
				}

				ch.ListDirectory("/", nil)
				ch.RemoveDirectory(dir, nil)
			}

			return nil
		})
	}

	require.NoError(t, g.Wait())
	require.NoError(t, ch.Session().Wait(context.Background()))

	assert.Equal(t, int32(1), fs.maxInFlight.Load(), "engine was entered concurrently")
	assert.GreaterOrEqual(t, fs.calls.Load(), int32(producers*perWorker*3))

	names, err := sshkit.NewExecutor(ch.Session()).ListDirectory(context.Background(), "/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSession_CustomDispatcher(t *testing.T) {
	t.Parallel()

	var dispatched int

	var mu sync.Mutex

	d := sshkit.DispatcherFunc(func(fn func()) {
		mu.Lock()
		dispatched++
		mu.Unlock()

		go fn()
	})

	s, _ := connectedSession(t, sshkit.WithDispatcher(d))

	_, err := awaitValue(func(done func(string, error)) { s.Fingerprint(sshkit.FingerprintSHA256, done) })
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.GreaterOrEqual(t, dispatched, 2)
}

func TestSession_ErrorsUnwrap(t *testing.T) {
	t.Parallel()

	var be *sshkit.BackendError

	err := fmt.Errorf("outer: %w", &sshkit.BackendError{Op: "read", Err: errBoom})
	require.ErrorAs(t, err, &be)
	assert.True(t, errors.Is(err, errBoom))
}
