package ssh

import (
	"fmt"
	"strings"

	"github.com/ruffel/sshkit"
	"golang.org/x/crypto/ssh"
)

// buildEnvPrefix constructs the environment variable prefix for an exec command.
// OpenSSH defaults PermitUserEnvironment=no and AcceptEnv to a short list, so Setenv is
// often refused. Refused variables are prepended as "export VAR='val';" instead.
func buildEnvPrefix(env []sshkit.EnvVar) string {
	var prefix strings.Builder

	for _, e := range env {
		if !validEnvName(e.Name) {
			continue
		}

		// Escape single quotes in value:  ' -> '\''
		escaped := strings.ReplaceAll(e.Value, "'", "'\\''")
		fmt.Fprintf(&prefix, "export %s='%s'; ", e.Name, escaped)
	}

	return prefix.String()
}

// validEnvName reports whether name is a POSIX shell identifier.
func validEnvName(name string) bool {
	if name == "" {
		return false
	}

	for i, r := range name {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return true
}

// buildTerminalModes returns the default terminal modes for a PTY.
func buildTerminalModes() ssh.TerminalModes {
	return ssh.TerminalModes{
		ssh.ECHO:          1,     // enable echoing
		ssh.TTY_OP_ISPEED: 14400, // input speed = 14.4kbaud
		ssh.TTY_OP_OSPEED: 14400, // output speed = 14.4kbaud
	}
}
