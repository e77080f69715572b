package mock

import (
	"net"
	"time"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/mock"
)

// Library implements a mock sshkit.Library using testify/mock.
type Library struct {
	mock.Mock
}

var _ sshkit.Library = (*Library)(nil)

// NewLibrary creates a new mock library.
func NewLibrary() *Library {
	return &Library{}
}

// Name mocks returning the engine name.
func (m *Library) Name() string {
	return m.Called().String(0)
}

// Version mocks returning the engine version.
func (m *Library) Version() string {
	return m.Called().String(0)
}

// MakeSession mocks creating an engine session.
func (m *Library) MakeSession() (sshkit.LibrarySession, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(sshkit.LibrarySession), args.Error(1)
}

// Session implements a mock sshkit.LibrarySession.
//
// Blocking and Timeout are plain fields rather than expectations: the controller toggles them
// around nearly every call and tests rarely care.
type Session struct {
	mock.Mock

	blocking bool
	timeout  time.Duration
}

var (
	_ sshkit.LibrarySession     = (*Session)(nil)
	_ sshkit.AgentAuthenticator = (*Session)(nil)
)

// NewSession creates a new mock engine session.
func NewSession() *Session {
	return &Session{}
}

// Authenticated mocks reporting the authentication state.
func (m *Session) Authenticated() bool {
	return m.Called().Bool(0)
}

// Blocking returns the last value passed to SetBlocking.
func (m *Session) Blocking() bool { return m.blocking }

// SetBlocking records the blocking mode.
func (m *Session) SetBlocking(blocking bool) { m.blocking = blocking }

// Timeout returns the last value passed to SetTimeout.
func (m *Session) Timeout() time.Duration { return m.timeout }

// SetTimeout records the timeout.
func (m *Session) SetTimeout(timeout time.Duration) { m.timeout = timeout }

// Banner mocks returning the remote banner.
func (m *Session) Banner() string {
	return m.Called().String(0)
}

// SetBanner mocks setting the local banner.
func (m *Session) SetBanner(banner string) error {
	return m.Called(banner).Error(0)
}

// Handshake mocks the protocol handshake.
func (m *Session) Handshake(conn net.Conn) error {
	return m.Called(conn).Error(0)
}

// Fingerprint mocks returning the host key fingerprint.
func (m *Session) Fingerprint(hash sshkit.FingerprintHash) string {
	return m.Called(hash).String(0)
}

// AuthenticationList mocks listing the advertised methods.
func (m *Session) AuthenticationList(username string) ([]string, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

// AuthenticateByPassword mocks password authentication.
func (m *Session) AuthenticateByPassword(username, password string) error {
	return m.Called(username, password).Error(0)
}

// AuthenticateByKeyboardInteractive mocks keyboard-interactive authentication.
func (m *Session) AuthenticateByKeyboardInteractive(username string, responder sshkit.PromptResponder) error {
	return m.Called(username, responder).Error(0)
}

// AuthenticateByPublicKeyFromFile mocks key file authentication.
func (m *Session) AuthenticateByPublicKeyFromFile(username, passphrase, publicKeyPath, privateKeyPath string) error {
	return m.Called(username, passphrase, publicKeyPath, privateKeyPath).Error(0)
}

// AuthenticateByPublicKeyFromMemory mocks in-memory key authentication.
func (m *Session) AuthenticateByPublicKeyFromMemory(username, passphrase string, publicKey, privateKey []byte) error {
	return m.Called(username, passphrase, publicKey, privateKey).Error(0)
}

// AuthenticateByAgent mocks ssh-agent authentication.
func (m *Session) AuthenticateByAgent(username, socket string) error {
	return m.Called(username, socket).Error(0)
}

// Disconnect mocks disconnecting.
func (m *Session) Disconnect() error {
	return m.Called().Error(0)
}

// MakeChannel mocks creating a channel.
func (m *Session) MakeChannel() sshkit.LibraryChannel {
	return m.Called().Get(0).(sshkit.LibraryChannel)
}

// MakeSFTPChannel mocks creating an SFTP channel.
func (m *Session) MakeSFTPChannel() sshkit.LibrarySFTPChannel {
	return m.Called().Get(0).(sshkit.LibrarySFTPChannel)
}

// Channel implements a mock sshkit.LibraryChannel.
type Channel struct {
	mock.Mock
}

var _ sshkit.LibraryChannel = (*Channel)(nil)

// NewChannel creates a new mock channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Opened mocks reporting whether the channel is open.
func (m *Channel) Opened() bool { return m.Called().Bool(0) }

// ReceivedEOF mocks reporting remote EOF.
func (m *Channel) ReceivedEOF() bool { return m.Called().Bool(0) }

// OpenChannel mocks opening the channel.
func (m *Channel) OpenChannel() error { return m.Called().Error(0) }

// CloseChannel mocks closing the channel.
func (m *Channel) CloseChannel() error { return m.Called().Error(0) }

// SetEnvironment mocks sending an environment variable.
func (m *Channel) SetEnvironment(env sshkit.EnvVar) error { return m.Called(env).Error(0) }

// RequestPseudoTerminal mocks a pty request.
func (m *Channel) RequestPseudoTerminal(terminal sshkit.Terminal) error {
	return m.Called(terminal).Error(0)
}

// SetPseudoTerminalSize mocks a window change.
func (m *Channel) SetPseudoTerminalSize(terminal sshkit.Terminal) error {
	return m.Called(terminal).Error(0)
}

// Exec mocks starting a command.
func (m *Channel) Exec(command string) error { return m.Called(command).Error(0) }

// Shell mocks starting a shell.
func (m *Channel) Shell() error { return m.Called().Error(0) }

// Read mocks reading stdout.
func (m *Channel) Read() ([]byte, error) { return bytesResult(m.Called()) }

// ReadError mocks reading stderr.
func (m *Channel) ReadError() ([]byte, error) { return bytesResult(m.Called()) }

// Write mocks writing to stdin.
func (m *Channel) Write(data []byte) (int, error) {
	args := m.Called(data)

	return args.Int(0), args.Error(1)
}

// ExitStatus mocks returning the exit status.
func (m *Channel) ExitStatus() (int, bool) {
	args := m.Called()

	return args.Int(0), args.Bool(1)
}

// SendEOF mocks closing stdin.
func (m *Channel) SendEOF() error { return m.Called().Error(0) }

// SFTPChannel implements a mock sshkit.LibrarySFTPChannel.
type SFTPChannel struct {
	mock.Mock
}

var _ sshkit.LibrarySFTPChannel = (*SFTPChannel)(nil)

// NewSFTPChannel creates a new mock SFTP channel.
func NewSFTPChannel() *SFTPChannel {
	return &SFTPChannel{}
}

// Opened mocks reporting whether the channel is open.
func (m *SFTPChannel) Opened() bool { return m.Called().Bool(0) }

// OpenChannel mocks starting the subsystem.
func (m *SFTPChannel) OpenChannel() error { return m.Called().Error(0) }

// CloseChannel mocks closing the subsystem.
func (m *SFTPChannel) CloseChannel() error { return m.Called().Error(0) }

// OpenFile mocks opening a remote file.
func (m *SFTPChannel) OpenFile(path string, flags sshkit.FileOpenFlags, mode uint32) (sshkit.LibrarySFTPFile, error) {
	args := m.Called(path, flags, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(sshkit.LibrarySFTPFile), args.Error(1)
}

// RemoveFile mocks deleting a file.
func (m *SFTPChannel) RemoveFile(path string) error { return m.Called(path).Error(0) }

// Rename mocks renaming a path.
func (m *SFTPChannel) Rename(source, destination string, flags sshkit.RenameFlags) error {
	return m.Called(source, destination, flags).Error(0)
}

// MakeDirectory mocks creating a directory.
func (m *SFTPChannel) MakeDirectory(path string, mode uint32) error {
	return m.Called(path, mode).Error(0)
}

// RemoveDirectory mocks removing a directory.
func (m *SFTPChannel) RemoveDirectory(path string) error { return m.Called(path).Error(0) }

// ListDirectory mocks listing a directory.
func (m *SFTPChannel) ListDirectory(path string) ([]string, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

// File implements a mock sshkit.LibrarySFTPFile.
type File struct {
	mock.Mock
}

var _ sshkit.LibrarySFTPFile = (*File)(nil)

// NewFile creates a new mock file.
func NewFile() *File {
	return &File{}
}

// Position mocks returning the file offset.
func (m *File) Position() (uint64, error) {
	args := m.Called()

	return args.Get(0).(uint64), args.Error(1)
}

// Seek mocks moving the file offset.
func (m *File) Seek(offset uint64) error { return m.Called(offset).Error(0) }

// Read mocks reading a chunk.
func (m *File) Read() ([]byte, error) { return bytesResult(m.Called()) }

// Write mocks writing data.
func (m *File) Write(data []byte) (int, error) {
	args := m.Called(data)

	return args.Int(0), args.Error(1)
}

// Close mocks closing the file.
func (m *File) Close() error { return m.Called().Error(0) }

func bytesResult(args mock.Arguments) ([]byte, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}
