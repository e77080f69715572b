package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ruffel/sshkit"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const defaultAgentTimeout = 500 * time.Millisecond

var errKeyMismatch = errors.New("public key does not match private key")

// keyboardInteractive answers each prompt through responder.
func keyboardInteractive(responder sshkit.PromptResponder) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i, q := range questions {
			answers[i] = responder.Respond(q)
		}

		return answers, nil
	}
}

func loadSignerFromFile(passphrase, publicKeyPath, privateKeyPath string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(expandHome(privateKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	var pubBytes []byte

	if publicKeyPath != "" {
		pubBytes, err = os.ReadFile(expandHome(publicKeyPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read public key file: %w", err)
		}
	}

	return loadSigner(passphrase, pubBytes, keyBytes)
}

// loadSigner parses a PEM private key. When publicKey is given (authorized_keys format) it must
// belong to the private key.
func loadSigner(passphrase string, publicKey, privateKey []byte) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)

	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKey, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(privateKey)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	if len(publicKey) == 0 {
		return signer, nil
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	if !keysEqual(pub, signer.PublicKey()) {
		return nil, errKeyMismatch
	}

	return signer, nil
}

// dialAgent connects to the agent at socket ($SSH_AUTH_SOCK when empty). The returned close func
// must be called once authentication has finished.
func dialAgent(socket string, timeout time.Duration) (func() ([]ssh.Signer, error), func() error, error) {
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}

	if socket == "" {
		return nil, nil, errors.New("ssh-agent: SSH_AUTH_SOCK is not set")
	}

	if timeout <= 0 || timeout > defaultAgentTimeout {
		timeout = defaultAgentTimeout
	}

	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(context.Background(), "unix", socket)
	if err != nil {
		return nil, nil, fmt.Errorf("ssh-agent: %w", err)
	}

	return agent.NewClient(conn).Signers, conn.Close, nil
}
