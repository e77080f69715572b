package ssh

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/pkg/sftp"
	"github.com/ruffel/sshkit"
)

var errSFTPNotOpen = errors.New("sftp channel is not open")

// sftpChannel wraps a github.com/pkg/sftp client.
type sftpChannel struct {
	owner *session

	mu     sync.Mutex
	client *sftp.Client
}

func (c *sftpChannel) Opened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.client != nil
}

func (c *sftpChannel) OpenChannel() error {
	conn, err := c.owner.sshClient()
	if err != nil {
		return err
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	return nil
}

func (c *sftpChannel) CloseChannel() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}

	return client.Close()
}

// OpenFile opens path. When FileCreate makes a new file, mode is applied with an explicit chmod
// since the server's umask applies to the open request.
func (c *sftpChannel) OpenFile(path string, flags sshkit.FileOpenFlags, mode uint32) (sshkit.LibrarySFTPFile, error) {
	client, err := c.sftp()
	if err != nil {
		return nil, err
	}

	created := false

	if flags.Has(sshkit.FileCreate) {
		if _, err := client.Stat(path); errors.Is(err, fs.ErrNotExist) {
			created = true
		}
	}

	f, err := client.OpenFile(path, openFlags(flags))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if created {
		if err := client.Chmod(path, os.FileMode(mode).Perm()); err != nil {
			_ = f.Close()

			return nil, fmt.Errorf("chmod %s: %w", path, err)
		}
	}

	return &file{f: f}, nil
}

// openFlags maps sshkit flags to os.OpenFile flags, which pkg/sftp translates to SSH_FXF_*.
func openFlags(flags sshkit.FileOpenFlags) int {
	writes := flags.Has(sshkit.FileWrite) || flags.Has(sshkit.FileAppend) || flags.Has(sshkit.FileCreate)

	var f int

	switch {
	case flags.Has(sshkit.FileRead) && writes:
		f = os.O_RDWR
	case writes:
		f = os.O_WRONLY
	default:
		f = os.O_RDONLY
	}

	if flags.Has(sshkit.FileAppend) {
		f |= os.O_APPEND
	}

	if flags.Has(sshkit.FileCreate) {
		f |= os.O_CREATE
	}

	if flags.Has(sshkit.FileTruncate) {
		f |= os.O_TRUNC
	}

	if flags.Has(sshkit.FileExclude) {
		f |= os.O_EXCL
	}

	return f
}

func (c *sftpChannel) RemoveFile(path string) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}

	return client.Remove(path)
}

// Rename uses the posix-rename extension when the destination may be replaced. Plain SFTP rename
// fails if the destination exists.
func (c *sftpChannel) Rename(source, destination string, flags sshkit.RenameFlags) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}

	if flags.Has(sshkit.RenameOverwrite) || flags.Has(sshkit.RenameAtomic) {
		return client.PosixRename(source, destination)
	}

	return client.Rename(source, destination)
}

func (c *sftpChannel) MakeDirectory(path string, mode uint32) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}

	if err := client.Mkdir(path); err != nil {
		return err
	}

	return client.Chmod(path, os.FileMode(mode).Perm())
}

func (c *sftpChannel) RemoveDirectory(path string) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}

	return client.RemoveDirectory(path)
}

func (c *sftpChannel) ListDirectory(path string) ([]string, error) {
	client, err := c.sftp()
	if err != nil {
		return nil, err
	}

	entries, err := client.ReadDir(path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if name := e.Name(); name != "." && name != ".." {
			names = append(names, name)
		}
	}

	return names, nil
}

func (c *sftpChannel) sftp() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, errSFTPNotOpen
	}

	return c.client, nil
}
