package ssh

import (
	"bufio"
	"bytes"
	"crypto/sha1" //nolint:gosec // fingerprint format, not a security primitive
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ruffel/sshkit"
	"golang.org/x/crypto/ssh"
)

const identPrefix = "SSH-2.0-"

var (
	errMissingHostKeyCheck = errors.New("HostKeyCheck is missing; use WithKnownHosts, WithHostKeyCallback or WithInsecureSkipVerify")
	errNoTransport         = errors.New("handshake has not been performed")
	errTransportSpent      = errors.New("transport is unusable after a failed authentication; reconnect")
	errAlreadyAuth         = errors.New("already authenticated")
	errNoClient            = errors.New("not authenticated")
)

// session is one x/crypto connection.
//
// Handshake only reads the server identification line. Key exchange and user authentication
// both happen inside ssh.NewClientConn, which runs on the first Authenticate call.
type session struct {
	config Config

	mu       sync.Mutex
	conn     net.Conn
	buffered net.Conn
	client   *ssh.Client
	hostKey  ssh.PublicKey
	spent    bool

	remoteBanner string
	localBanner  string
	blocking     bool
	timeout      time.Duration
}

var (
	_ sshkit.LibrarySession      = (*session)(nil)
	_ sshkit.AgentAuthenticator = (*session)(nil)
)

func newSession(c Config) *session {
	return &session{config: c, timeout: c.Timeout}
}

func (s *session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.client != nil
}

// Blocking is recorded for callers; x/crypto calls always block.
func (s *session) Blocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.blocking
}

func (s *session) SetBlocking(blocking bool) {
	s.mu.Lock()
	s.blocking = blocking
	s.mu.Unlock()
}

func (s *session) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.remoteBanner
}

func (s *session) SetBanner(banner string) error {
	if !strings.HasPrefix(banner, identPrefix) {
		return fmt.Errorf("banner %q must start with %q", banner, identPrefix)
	}

	s.mu.Lock()
	s.localBanner = banner
	s.mu.Unlock()

	return nil
}

func (s *session) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.timeout
}

func (s *session) SetTimeout(timeout time.Duration) {
	s.mu.Lock()
	s.timeout = timeout
	s.mu.Unlock()
}

// Handshake reads the server identification line without consuming it, so ssh.NewClientConn still
// sees the full version exchange later.
func (s *session) Handshake(conn net.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return errors.New("handshake already performed")
	}

	s.setDeadline(conn)
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	r := bufio.NewReader(conn)

	ident, err := peekIdentification(r)
	if err != nil {
		return fmt.Errorf("failed to read server identification: %w", err)
	}

	s.conn = conn
	s.buffered = &bufferedConn{Conn: conn, r: r}
	s.remoteBanner = ident

	return nil
}

// peekIdentification returns the first line starting with "SSH-". Lines before it are ignored.
func peekIdentification(r *bufio.Reader) (string, error) {
	start := 0

	for n := 1; n <= r.Size(); n++ {
		buf, err := r.Peek(n)
		if err != nil {
			return "", err
		}

		if buf[n-1] != '\n' {
			continue
		}

		line := strings.TrimRight(string(buf[start:n]), "\r\n")
		if strings.HasPrefix(line, "SSH-") {
			return line, nil
		}

		start = n
	}

	return "", errors.New("identification line exceeds buffer")
}

// bufferedConn reads through the reader that peeked the identification line.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// Fingerprint returns "" until key exchange has run.
func (s *session) Fingerprint(hash sshkit.FingerprintHash) string {
	s.mu.Lock()
	key := s.hostKey
	s.mu.Unlock()

	if key == nil {
		return ""
	}

	return fingerprint(key, hash)
}

func fingerprint(key ssh.PublicKey, hash sshkit.FingerprintHash) string {
	switch hash {
	case sshkit.FingerprintMD5:
		return ssh.FingerprintLegacyMD5(key)
	case sshkit.FingerprintSHA1:
		sum := sha1.Sum(key.Marshal()) //nolint:gosec // fingerprint format

		return colonHex(sum[:])
	case sshkit.FingerprintSHA256:
		return ssh.FingerprintSHA256(key)
	default:
		return ""
	}
}

func colonHex(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}

	return strings.Join(parts, ":")
}

// AuthenticationList reports the configured methods. x/crypto does not expose the list the server
// advertises.
func (s *session) AuthenticationList(string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil, errNoTransport
	}

	if len(s.config.AuthMethods) == 0 {
		return DefaultAuthMethods, nil
	}

	return s.config.AuthMethods, nil
}

func (s *session) AuthenticateByPassword(username, password string) error {
	return s.authenticate(username, ssh.Password(password))
}

func (s *session) AuthenticateByKeyboardInteractive(username string, responder sshkit.PromptResponder) error {
	return s.authenticate(username, ssh.KeyboardInteractive(keyboardInteractive(responder)))
}

func (s *session) AuthenticateByPublicKeyFromFile(username, passphrase, publicKeyPath, privateKeyPath string) error {
	signer, err := loadSignerFromFile(passphrase, publicKeyPath, privateKeyPath)
	if err != nil {
		return err
	}

	return s.authenticate(username, ssh.PublicKeys(signer))
}

func (s *session) AuthenticateByPublicKeyFromMemory(username, passphrase string, publicKey, privateKey []byte) error {
	signer, err := loadSigner(passphrase, publicKey, privateKey)
	if err != nil {
		return err
	}

	return s.authenticate(username, ssh.PublicKeys(signer))
}

func (s *session) AuthenticateByAgent(username, socket string) error {
	signers, closeAgent, err := dialAgent(socket, s.Timeout())
	if err != nil {
		return err
	}

	defer func() { _ = closeAgent() }()

	return s.authenticate(username, ssh.PublicKeysCallback(signers))
}

// authenticate runs key exchange and a single authentication method.
func (s *session) authenticate(username string, method ssh.AuthMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.client != nil:
		return errAlreadyAuth
	case s.conn == nil:
		return errNoTransport
	case s.spent:
		return errTransportSpent
	}

	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{method},
		HostKeyCallback: s.checkHostKey,
		ClientVersion:   s.localBanner,
		Timeout:         s.timeout,
	}

	s.setDeadline(s.conn)
	defer func() { _ = s.conn.SetDeadline(time.Time{}) }()

	conn, chans, reqs, err := ssh.NewClientConn(s.buffered, s.address(), cfg)
	if err != nil {
		s.spent = true

		return err
	}

	s.client = ssh.NewClient(conn, chans, reqs)

	return nil
}

// checkHostKey runs while s.mu is held by authenticate.
func (s *session) checkHostKey(hostname string, remote net.Addr, key ssh.PublicKey) error {
	s.hostKey = key

	return s.config.HostKeyCheck(hostname, remote, key)
}

// address is the name host keys are checked against.
func (s *session) address() string {
	if s.config.Host != "" {
		port := s.config.Port
		if port == 0 {
			port = 22
		}

		return net.JoinHostPort(s.config.Host, strconv.Itoa(port))
	}

	return s.conn.RemoteAddr().String()
}

func (s *session) setDeadline(conn net.Conn) {
	if s.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}
}

func (s *session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error

	switch {
	case s.client != nil:
		err = s.client.Close()
	case s.conn != nil:
		err = s.conn.Close()
	}

	s.client = nil
	s.conn = nil
	s.buffered = nil

	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

func (s *session) sshClient() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, errNoClient
	}

	return s.client, nil
}

func (s *session) MakeChannel() sshkit.LibraryChannel {
	return &channel{owner: s}
}

func (s *session) MakeSFTPChannel() sshkit.LibrarySFTPChannel {
	return &sftpChannel{owner: s}
}

// keysEqual reports whether two public keys have the same wire encoding.
func keysEqual(a, b ssh.PublicKey) bool {
	return bytes.Equal(a.Marshal(), b.Marshal())
}
