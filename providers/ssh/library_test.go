package ssh

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ruffel/sshkit"
	"github.com/ruffel/sshkit/sshkittest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

func newTestLibrary(t *testing.T, server *testServer) *Library {
	t.Helper()

	lib, err := New(WithHostKeyCallback(ssh.FixedHostKey(server.hostKey.PublicKey())))
	require.NoError(t, err)

	return lib
}

// handshake returns an engine session that has exchanged identification lines with server.
func handshake(t *testing.T, lib *Library, server *testServer) *session {
	t.Helper()

	conn, err := net.Dial("tcp", server.addr)
	require.NoError(t, err)

	ls, err := lib.MakeSession()
	require.NoError(t, err)

	s := ls.(*session)
	t.Cleanup(func() { _ = s.Disconnect() })

	require.NoError(t, s.Handshake(conn))

	return s
}

func TestLibrary_Contracts(t *testing.T) {
	server := newTestServer(t)
	lib := newTestLibrary(t, server)
	log := zaptest.NewLogger(t)

	sshkittest.Verify(t, sshkittest.Target{
		Root: t.TempDir(),
		Session: func(st sshkittest.T) *sshkit.Session {
			s := sshkit.NewSession(lib, "127.0.0.1", server.port, sshkit.WithLogger(log))
			exec := sshkit.NewExecutor(s)

			require.NoError(st, exec.Connect(st.Context()))
			require.NoError(st, exec.Authenticate(st.Context(), sshkit.Password{User: testUser, Password: testPassword}))

			return s
		},
	})
}

func TestNew_RequiresHostKeyCheck(t *testing.T) {
	t.Parallel()

	_, err := New()
	require.ErrorIs(t, err, errMissingHostKeyCheck)

	lib, err := New(WithInsecureSkipVerify(true))
	require.NoError(t, err)
	assert.Equal(t, "x/crypto", lib.Name())
	assert.NotEmpty(t, lib.Version())
	assert.Equal(t, DefaultAuthMethods, lib.Config().AuthMethods)
}

func TestSession_Handshake(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	s := handshake(t, newTestLibrary(t, server), server)

	assert.True(t, strings.HasPrefix(s.Banner(), "SSH-2.0-"), s.Banner())
	assert.Empty(t, s.Fingerprint(sshkit.FingerprintSHA256), "no key exchange before authentication")
	assert.False(t, s.Authenticated())

	methods, err := s.AuthenticationList(testUser)
	require.NoError(t, err)
	assert.Equal(t, DefaultAuthMethods, methods)

	require.NoError(t, s.AuthenticateByPassword(testUser, testPassword))
	assert.True(t, s.Authenticated())

	hostKey := server.hostKey.PublicKey()
	assert.Equal(t, ssh.FingerprintSHA256(hostKey), s.Fingerprint(sshkit.FingerprintSHA256))
	assert.Equal(t, ssh.FingerprintLegacyMD5(hostKey), s.Fingerprint(sshkit.FingerprintMD5))
	assert.Len(t, s.Fingerprint(sshkit.FingerprintSHA1), 59)

	require.ErrorIs(t, s.AuthenticateByPassword(testUser, testPassword), errAlreadyAuth)
}

func TestSession_Authenticate(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	lib := newTestLibrary(t, server)

	plainPEM := server.privateKeyPEM(t, "")
	encryptedPEM := server.privateKeyPEM(t, "hunter2")
	pub := server.publicKey(t)

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_ed25519")
	pubPath := keyPath + ".pub"
	require.NoError(t, os.WriteFile(keyPath, plainPEM, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o600))

	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	otherSigner, err := ssh.NewSignerFromKey(otherPriv)
	require.NoError(t, err)

	otherPub := ssh.MarshalAuthorizedKey(otherSigner.PublicKey())

	tests := []struct {
		name    string
		auth    func(s *session) error
		wantErr error
		anyErr  bool
	}{
		{
			name: "password",
			auth: func(s *session) error { return s.AuthenticateByPassword(testUser, testPassword) },
		},
		{
			name:   "wrong password",
			auth:   func(s *session) error { return s.AuthenticateByPassword(testUser, "nope") },
			anyErr: true,
		},
		{
			name: "keyboard interactive",
			auth: func(s *session) error {
				return s.AuthenticateByKeyboardInteractive(testUser, sshkit.PromptResponderFunc(func(string) string { return testPassword }))
			},
		},
		{
			name: "key from memory",
			auth: func(s *session) error {
				return s.AuthenticateByPublicKeyFromMemory(testUser, "", pub, plainPEM)
			},
		},
		{
			name: "encrypted key from memory",
			auth: func(s *session) error {
				return s.AuthenticateByPublicKeyFromMemory(testUser, "hunter2", nil, encryptedPEM)
			},
		},
		{
			name: "key from file",
			auth: func(s *session) error { return s.AuthenticateByPublicKeyFromFile(testUser, "", pubPath, keyPath) },
		},
		{
			name: "mismatched public key",
			auth: func(s *session) error {
				return s.AuthenticateByPublicKeyFromMemory(testUser, "", otherPub, plainPEM)
			},
			wantErr: errKeyMismatch,
		},
		{
			name:   "missing key file",
			auth:   func(s *session) error { return s.AuthenticateByPublicKeyFromFile(testUser, "", "", filepath.Join(dir, "missing")) },
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := handshake(t, lib, server)
			err := tt.auth(s)

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, s.Authenticated())
			case tt.anyErr:
				require.Error(t, err)
				assert.False(t, s.Authenticated())
			default:
				require.NoError(t, err)
				assert.True(t, s.Authenticated())
			}
		})
	}
}

func TestSession_FailedAuthenticationSpendsTransport(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	s := handshake(t, newTestLibrary(t, server), server)

	require.Error(t, s.AuthenticateByPassword(testUser, "nope"))
	require.ErrorIs(t, s.AuthenticateByPassword(testUser, testPassword), errTransportSpent)
}

func TestSession_HostKeyMismatch(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)

	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	other, err := ssh.NewSignerFromKey(otherPriv)
	require.NoError(t, err)

	lib, err := New(WithHostKeyCallback(ssh.FixedHostKey(other.PublicKey())))
	require.NoError(t, err)

	s := handshake(t, lib, server)

	require.Error(t, s.AuthenticateByPassword(testUser, testPassword))
	assert.False(t, s.Authenticated())
	assert.NotEmpty(t, s.Fingerprint(sshkit.FingerprintSHA256), "the rejected key is still reported")
}

func TestSession_Agent(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)

	keyring := agent.NewKeyring()
	require.NoError(t, keyring.Add(agent.AddedKey{PrivateKey: server.userKey}))

	sockDir, err := os.MkdirTemp("", "sshkit-agent")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })

	socket := filepath.Join(sockDir, "agent.sock")

	var lc net.ListenConfig

	listener, err := lc.Listen(context.Background(), "unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func() {
				defer conn.Close()
				_ = agent.ServeAgent(keyring, conn)
			}()
		}
	}()

	s := handshake(t, newTestLibrary(t, server), server)

	require.NoError(t, s.AuthenticateByAgent(testUser, socket))
	assert.True(t, s.Authenticated())
}

func TestSession_SetBanner(t *testing.T) {
	t.Parallel()

	s := newSession(Config{})

	require.Error(t, s.SetBanner("OpenSSH_9.6"))
	require.NoError(t, s.SetBanner("SSH-2.0-sshkit_1.0"))
	assert.Equal(t, "SSH-2.0-sshkit_1.0", s.localBanner)
}

func TestSession_NotConnected(t *testing.T) {
	t.Parallel()

	s := newSession(Config{})

	_, err := s.AuthenticationList(testUser)
	require.ErrorIs(t, err, errNoTransport)
	require.ErrorIs(t, s.AuthenticateByPassword(testUser, testPassword), errNoTransport)
	require.ErrorIs(t, s.MakeChannel().OpenChannel(), errNoClient)
	require.ErrorIs(t, s.MakeSFTPChannel().OpenChannel(), errNoClient)
	require.NoError(t, s.Disconnect())
}

func TestPeekIdentification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "crlf", input: "SSH-2.0-OpenSSH_9.6\r\nrest", want: "SSH-2.0-OpenSSH_9.6"},
		{name: "lf only", input: "SSH-2.0-Go\n", want: "SSH-2.0-Go"},
		{name: "pre-banner lines", input: "Welcome\r\nauthorised use only\r\nSSH-2.0-dropbear\r\n", want: "SSH-2.0-dropbear"},
		{name: "eof", input: "SSH-2.0-trunc", wantErr: true},
		{name: "too long", input: strings.Repeat("x", 64) + "\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := bufio.NewReaderSize(strings.NewReader(tt.input), 64)

			got, err := peekIdentification(r)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// Nothing is consumed.
			all, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, tt.input, string(all))
		})
	}
}

func TestOpenFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		flags sshkit.FileOpenFlags
		want  int
	}{
		{name: "read", flags: sshkit.FileRead, want: os.O_RDONLY},
		{name: "write", flags: sshkit.FileWrite, want: os.O_WRONLY},
		{name: "read write", flags: sshkit.FileRead | sshkit.FileWrite, want: os.O_RDWR},
		{name: "append", flags: sshkit.FileAppend, want: os.O_WRONLY | os.O_APPEND},
		{name: "create truncate", flags: sshkit.FileWrite | sshkit.FileCreate | sshkit.FileTruncate, want: os.O_WRONLY | os.O_CREATE | os.O_TRUNC},
		{name: "exclusive", flags: sshkit.FileCreate | sshkit.FileExclude, want: os.O_WRONLY | os.O_CREATE | os.O_EXCL},
		{name: "read create", flags: sshkit.FileRead | sshkit.FileCreate, want: os.O_RDWR | os.O_CREATE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, openFlags(tt.flags))
		})
	}
}

func TestExitStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, exitStatus(nil))
	assert.Equal(t, -1, exitStatus(errors.New("connection lost")))
	assert.Equal(t, -1, exitStatus(&ssh.ExitMissingError{}))
}

func TestOutputBuffer(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	b := newOutputBuffer(r)

	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()

		return b.buf.Len() == 5
	}, time.Second, time.Millisecond)

	out, err := b.drain()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
	assert.False(t, b.finished())

	boom := errors.New("boom")
	require.NoError(t, w.CloseWithError(boom))

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()

		return b.done
	}, time.Second, time.Millisecond)

	out, err = b.drain()
	require.ErrorIs(t, err, boom)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	out, err = b.drain()
	require.NoError(t, err, "a stream error is reported once")
	assert.Empty(t, out)
	assert.True(t, b.finished())
}

func TestColonHex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "00:0f:ff", colonHex([]byte{0x00, 0x0f, 0xff}))
	assert.Empty(t, colonHex(nil))
}
