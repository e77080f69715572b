package sshkit

import (
	"fmt"
	"strings"
)

// FileOpenFlags selects how a remote file is opened. Values combine with bitwise OR.
type FileOpenFlags uint

const (
	// FileRead opens the file for reading.
	FileRead FileOpenFlags = 1 << iota
	// FileWrite opens the file for writing.
	FileWrite
	// FileAppend forces writes to the end of the file.
	FileAppend
	// FileCreate creates the file if it does not exist.
	FileCreate
	// FileTruncate truncates an existing file to zero length.
	FileTruncate
	// FileExclude fails if FileCreate is set and the file already exists.
	FileExclude
)

// Has reports whether every flag in other is set.
func (f FileOpenFlags) Has(other FileOpenFlags) bool {
	return f&other == other
}

func (f FileOpenFlags) String() string {
	return flagString(uint(f), []string{"read", "write", "append", "create", "truncate", "exclude"})
}

// RenameFlags selects rename semantics. Values combine with bitwise OR.
type RenameFlags uint

const (
	// RenameOverwrite replaces an existing destination.
	RenameOverwrite RenameFlags = 1 << iota
	// RenameAtomic requires the rename to be atomic.
	RenameAtomic
	// RenameNative lets the server apply its native rename semantics.
	RenameNative
)

// Has reports whether every flag in other is set.
func (f RenameFlags) Has(other RenameFlags) bool {
	return f&other == other
}

func (f RenameFlags) String() string {
	return flagString(uint(f), []string{"overwrite", "atomic", "native"})
}

func flagString(v uint, names []string) string {
	if v == 0 {
		return "none"
	}

	var parts []string

	for i, name := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}

	if rest := v &^ (1<<len(names) - 1); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", rest))
	}

	return strings.Join(parts, "|")
}

// FingerprintHash selects the digest used for host key fingerprints.
type FingerprintHash int

const (
	// FingerprintMD5 is the legacy colon separated MD5 digest.
	FingerprintMD5 FingerprintHash = iota
	// FingerprintSHA1 is the colon separated SHA1 digest.
	FingerprintSHA1
	// FingerprintSHA256 is the OpenSSH "SHA256:" base64 digest.
	FingerprintSHA256
)

func (h FingerprintHash) String() string {
	switch h {
	case FingerprintMD5:
		return "MD5"
	case FingerprintSHA1:
		return "SHA1"
	case FingerprintSHA256:
		return "SHA256"
	default:
		return "unknown"
	}
}

// AuthMethod is an SSH authentication method name.
type AuthMethod string

const (
	AuthPassword            AuthMethod = "password"
	AuthKeyboardInteractive AuthMethod = "keyboard-interactive"
	AuthPublicKey           AuthMethod = "publickey"
)

// ParseAuthMethod normalises a method name as advertised by a server.
// Unknown names are returned trimmed but otherwise untouched.
func ParseAuthMethod(raw string) AuthMethod {
	trimmed := strings.TrimSpace(raw)

	switch m := AuthMethod(strings.ToLower(trimmed)); m {
	case AuthPassword, AuthKeyboardInteractive, AuthPublicKey:
		return m
	default:
		return AuthMethod(trimmed)
	}
}

// Known reports whether m is one of the methods sshkit can drive.
func (m AuthMethod) Known() bool {
	switch m {
	case AuthPassword, AuthKeyboardInteractive, AuthPublicKey:
		return true
	default:
		return false
	}
}

// Description returns a human readable label.
func (m AuthMethod) Description() string {
	switch m {
	case AuthPassword:
		return "Password"
	case AuthKeyboardInteractive:
		return "Keyboard Interactive"
	case AuthPublicKey:
		return "Public Key"
	default:
		return string(m)
	}
}

// EnvVar is an environment variable sent to a channel before exec/shell.
type EnvVar struct {
	Name  string
	Value string
}

// Terminal describes a pseudo terminal request.
type Terminal struct {
	Name   string
	Width  uint
	Height uint
}

// NewTerminal returns a terminal with the default 80x24 size.
func NewTerminal(name string) Terminal {
	return Terminal{Name: name, Width: 80, Height: 24}
}

func (t Terminal) String() string {
	return fmt.Sprintf("%s [%dx%d]", t.Name, t.Width, t.Height)
}

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CommandResult is the collected output of Command.Execute.
type CommandResult struct {
	Command    string
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
}

// Success returns true if the command exited with status 0.
func (r *CommandResult) Success() bool {
	return r.ExitStatus == 0
}

// ProgressFunc is a callback for tracking file transfer progress.
type ProgressFunc func(current, total int64)
