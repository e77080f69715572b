package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "alice"
	testPassword = "secret"
)

// testServer is an in-process SSH server. Exec and shell requests run through the local "sh";
// the sftp subsystem serves the real filesystem.
type testServer struct {
	addr    string
	port    int
	hostKey ssh.Signer
	userKey ed25519.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	_, userPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	userSigner, err := ssh.NewSignerFromKey(userPriv)
	require.NoError(t, err)

	authorized := userSigner.PublicKey().Marshal()

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return &ssh.Permissions{}, nil
			}

			return nil, errors.New("invalid credentials")
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(key.Marshal()) == string(authorized) {
				return &ssh.Permissions{}, nil
			}

			return nil, fmt.Errorf("unknown public key")
		},
		KeyboardInteractiveCallback: func(conn ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(conn.User(), "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}

			if len(answers) == 1 && answers[0] == testPassword {
				return &ssh.Permissions{}, nil
			}

			return nil, errors.New("invalid answer")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		conns   []net.Conn
		connsMu sync.Mutex
	)

	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}

			connsMu.Lock()
			conns = append(conns, netConn)
			connsMu.Unlock()

			go handleTestConn(netConn, config)
		}
	}()

	t.Cleanup(func() {
		_ = listener.Close()

		connsMu.Lock()
		for _, c := range conns {
			_ = c.Close()
		}
		connsMu.Unlock()

		<-done
	})

	return &testServer{
		addr:    listener.Addr().String(),
		port:    listener.Addr().(*net.TCPAddr).Port,
		hostKey: hostSigner,
		userKey: userPriv,
	}
}

// privateKeyPEM returns the user key in OpenSSH PEM form, encrypted when passphrase is set.
func (s *testServer) privateKeyPEM(t *testing.T, passphrase string) []byte {
	t.Helper()

	var (
		block *pem.Block
		err   error
	)

	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(s.userKey, "", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(s.userKey, "")
	}

	require.NoError(t, err)

	return pem.EncodeToMemory(block)
}

func (s *testServer) publicKey(t *testing.T) []byte {
	t.Helper()

	signer, err := ssh.NewSignerFromKey(s.userKey)
	require.NoError(t, err)

	return ssh.MarshalAuthorizedKey(signer.PublicKey())
}

func handleTestConn(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		_ = netConn.Close()

		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unknown channel type")

			continue
		}

		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}

		go handleTestSession(ch, requests)
	}
}

// handleTestSession accepts "env" only for LC_* names, like a default OpenSSH AcceptEnv.
func handleTestSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	var env []string

	for req := range requests {
		switch req.Type {
		case "env":
			var kv struct{ Name, Value string }
			ok := ssh.Unmarshal(req.Payload, &kv) == nil && strings.HasPrefix(kv.Name, "LC_")

			if ok {
				env = append(env, kv.Name+"="+kv.Value)
			}

			_ = req.Reply(ok, nil)
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)

				continue
			}

			_ = req.Reply(true, nil)

			go runTestCommand(ch, payload.Command, env)
		case "shell":
			_ = req.Reply(true, nil)

			go runTestCommand(ch, "", env)
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)

				continue
			}

			_ = req.Reply(true, nil)

			go serveTestSFTP(ch)
		default:
			// pty-req, window-change
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		}
	}
}

func runTestCommand(ch ssh.Channel, command string, env []string) {
	defer ch.Close()

	args := []string{"-c", command}
	if command == "" {
		args = []string{"-s"}
	}

	cmd := exec.Command("sh", args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return
	}

	go func() {
		_, _ = io.Copy(stdin, ch)
		_ = stdin.Close()
	}()

	status := 0

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return
		}

		status = exitErr.ExitCode()
	}

	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
}

func serveTestSFTP(ch ssh.Channel) {
	defer ch.Close()

	server, err := sftp.NewServer(ch)
	if err != nil {
		return
	}

	_ = server.Serve()
}
