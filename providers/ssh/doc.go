// Package ssh provides an sshkit.Library backed by "golang.org/x/crypto/ssh"
// and "github.com/pkg/sftp".
//
// It supports:
//   - Password, keyboard-interactive, public key (file or memory) and ssh-agent authentication
//   - Exec and shell channels with PTY allocation
//   - SFTP file and directory operations
//   - MD5, SHA1 and SHA256 host key fingerprints
//
// x/crypto runs key exchange and authentication as a single step, so Handshake only
// exchanges identification lines; the key exchange happens on the first Authenticate
// call and the host key fingerprint is available from then on. The server's advertised
// method list is not exposed either; AuthenticationList reports Config.AuthMethods.
//
// Usage:
//
//	lib, err := ssh.New(ssh.WithKnownHosts())
//	s := sshkit.NewSession(lib, "example.com", 22)
//	s.Connect(nil).Authenticate(sshkit.Password{User: "user", Password: "secret"}, done)
package ssh
