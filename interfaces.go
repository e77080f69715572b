// Package sshkit provides an asynchronous SSH/SFTP client layer on top of a blocking protocol engine.
//
// # Core Interfaces
//
// - Library: A pluggable protocol engine (see providers/ssh for the x/crypto backend).
// - LibrarySession, LibraryChannel, LibrarySFTPChannel, LibrarySFTPFile: The blocking capabilities
// the engine exposes. Nothing in this package reaches past them.
//
// # Ordering
//
// Every Session owns a Queue. All calls into the engine for that session (including its channels and
// files) run one at a time, in submission order, on the queue's worker goroutine. Completions are
// delivered on a separate Dispatcher, so callers never run on the worker.
//
// # Short-circuit
//
// The first engine failure poisons the session: later operations skip the engine and complete with
// the same error until Disconnect or Connect resets the queue.
package sshkit

import (
	"net"
	"time"
)

// Library is a protocol engine able to create sessions.
type Library interface {
	// Name returns the engine name (e.g. "x/crypto").
	Name() string

	// Version returns the engine version.
	Version() string

	// MakeSession creates a new, unconnected engine session.
	MakeSession() (LibrarySession, error)
}

// LibrarySession is one engine-level connection. All methods may block.
type LibrarySession interface {
	Authenticated() bool
	Blocking() bool
	SetBlocking(blocking bool)

	// Banner returns the identification string sent by the server, if known.
	Banner() string

	// SetBanner sets the local identification string sent to the server.
	SetBanner(banner string) error

	Timeout() time.Duration
	SetTimeout(timeout time.Duration)

	// Handshake starts the protocol over an already connected socket.
	Handshake(conn net.Conn) error

	// Fingerprint returns the host key fingerprint, or "" when it is not known yet.
	Fingerprint(hash FingerprintHash) string

	// AuthenticationList returns the authentication methods advertised for username.
	AuthenticationList(username string) ([]string, error)

	AuthenticateByPassword(username, password string) error
	AuthenticateByKeyboardInteractive(username string, responder PromptResponder) error
	AuthenticateByPublicKeyFromFile(username, passphrase, publicKeyPath, privateKeyPath string) error
	AuthenticateByPublicKeyFromMemory(username, passphrase string, publicKey, privateKey []byte) error

	Disconnect() error

	MakeChannel() LibraryChannel
	MakeSFTPChannel() LibrarySFTPChannel
}

// AgentAuthenticator is implemented by engines that can authenticate through a running ssh-agent.
type AgentAuthenticator interface {
	AuthenticateByAgent(username, socket string) error
}

// LibraryChannel is a shell or exec channel.
type LibraryChannel interface {
	Opened() bool
	ReceivedEOF() bool

	OpenChannel() error
	CloseChannel() error

	SetEnvironment(env EnvVar) error
	RequestPseudoTerminal(terminal Terminal) error
	SetPseudoTerminalSize(terminal Terminal) error

	Exec(command string) error
	Shell() error

	// Read returns the stdout bytes currently available. It returns an empty slice when nothing is
	// buffered.
	Read() ([]byte, error)

	// ReadError returns the stderr bytes currently available.
	ReadError() ([]byte, error)

	// Write sends data and reports how many bytes were accepted. A short count is not an error.
	Write(data []byte) (int, error)

	// ExitStatus returns the remote exit status once the command has finished.
	ExitStatus() (int, bool)

	SendEOF() error
}

// LibrarySFTPChannel is an SFTP subsystem channel.
type LibrarySFTPChannel interface {
	Opened() bool

	OpenChannel() error
	CloseChannel() error

	OpenFile(path string, flags FileOpenFlags, mode uint32) (LibrarySFTPFile, error)
	RemoveFile(path string) error
	Rename(source, destination string, flags RenameFlags) error

	MakeDirectory(path string, mode uint32) error
	RemoveDirectory(path string) error

	// ListDirectory returns entry names in backend order, without "." and "..".
	ListDirectory(path string) ([]string, error)
}

// LibrarySFTPFile is a remote file opened through an SFTP channel.
type LibrarySFTPFile interface {
	Position() (uint64, error)
	Seek(offset uint64) error

	// Read returns the next chunk of data. It returns an empty slice at end of file.
	Read() ([]byte, error)

	// Write reports how many bytes were written. A short count is not an error.
	Write(data []byte) (int, error)

	Close() error
}
