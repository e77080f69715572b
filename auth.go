package sshkit

import (
	"errors"
	"fmt"
)

// PromptResponder answers keyboard-interactive prompts.
type PromptResponder interface {
	Respond(prompt string) string
}

// PromptResponderFunc adapts a function to PromptResponder.
type PromptResponderFunc func(prompt string) string

// Respond calls f(prompt).
func (f PromptResponderFunc) Respond(prompt string) string {
	return f(prompt)
}

// Challenge is the credential set used by Session.Authenticate. It is one of Password,
// KeyboardInteractive, PublicKeyFile, PublicKeyMemory or Agent.
type Challenge interface {
	// Username returns the remote user name.
	Username() string

	// RequiredMethod returns the method the server must advertise for this challenge.
	RequiredMethod() AuthMethod

	authenticate(s LibrarySession) error
}

// Password authenticates with a plain password.
type Password struct {
	User     string
	Password string
}

func (c Password) Username() string           { return c.User }
func (c Password) RequiredMethod() AuthMethod { return AuthPassword }

func (c Password) authenticate(s LibrarySession) error {
	return s.AuthenticateByPassword(c.User, c.Password)
}

// KeyboardInteractive authenticates by answering server prompts.
type KeyboardInteractive struct {
	User      string
	Responder PromptResponder
}

func (c KeyboardInteractive) Username() string           { return c.User }
func (c KeyboardInteractive) RequiredMethod() AuthMethod { return AuthKeyboardInteractive }

func (c KeyboardInteractive) authenticate(s LibrarySession) error {
	if c.Responder == nil {
		return fmt.Errorf("keyboard-interactive challenge for %q has no responder", c.User)
	}

	return s.AuthenticateByKeyboardInteractive(c.User, c.Responder)
}

// PublicKeyFile authenticates with a key pair read from disk.
// PublicKeyPath may be empty; the public key is then derived from the private key.
type PublicKeyFile struct {
	User           string
	Passphrase     string
	PublicKeyPath  string
	PrivateKeyPath string
}

func (c PublicKeyFile) Username() string           { return c.User }
func (c PublicKeyFile) RequiredMethod() AuthMethod { return AuthPublicKey }

func (c PublicKeyFile) authenticate(s LibrarySession) error {
	return s.AuthenticateByPublicKeyFromFile(c.User, c.Passphrase, c.PublicKeyPath, c.PrivateKeyPath)
}

// PublicKeyMemory authenticates with a PEM encoded key pair held in memory.
type PublicKeyMemory struct {
	User       string
	Passphrase string
	PublicKey  []byte
	PrivateKey []byte
}

func (c PublicKeyMemory) Username() string           { return c.User }
func (c PublicKeyMemory) RequiredMethod() AuthMethod { return AuthPublicKey }

func (c PublicKeyMemory) authenticate(s LibrarySession) error {
	return s.AuthenticateByPublicKeyFromMemory(c.User, c.Passphrase, c.PublicKey, c.PrivateKey)
}

// Agent authenticates with the keys held by a running ssh-agent.
// An empty Socket means $SSH_AUTH_SOCK. The engine must implement AgentAuthenticator.
type Agent struct {
	User   string
	Socket string
}

func (c Agent) Username() string           { return c.User }
func (c Agent) RequiredMethod() AuthMethod { return AuthPublicKey }

func (c Agent) authenticate(s LibrarySession) error {
	a, ok := s.(AgentAuthenticator)
	if !ok {
		return fmt.Errorf("agent authentication: %w", errAgentUnsupported)
	}

	return a.AuthenticateByAgent(c.User, c.Socket)
}

var errAgentUnsupported = errors.New("engine does not support ssh-agent")
