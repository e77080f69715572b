package sshkit

import (
	"sync"

	"go.uber.org/zap"
)

// SFTP is an SFTP subsystem channel on a session. Every call is queued on the session's worker.
type SFTP struct {
	session *Session

	// Owned by the worker goroutine.
	backend LibrarySFTPChannel
	files   map[*File]struct{}

	mu   sync.RWMutex
	open bool
}

// Opened reports whether the SFTP channel is open.
func (c *SFTP) Opened() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.open
}

// Session returns the session the channel belongs to.
func (c *SFTP) Session() *Session {
	return c.session
}

// Open starts the SFTP subsystem. It requires an authenticated session and fails with
// ErrChannelAlreadyOpen if the channel is open.
func (c *SFTP) Open(done func(error)) *SFTP {
	c.session.queue.Enqueue("open sftp", func() error {
		if err := c.session.requireAuthenticated("open sftp"); err != nil {
			return err
		}

		if c.backend != nil {
			return misuse("open sftp", ErrChannelAlreadyOpen)
		}

		engine := c.session.backend
		engine.SetBlocking(true)
		defer engine.SetBlocking(false)

		ch := engine.MakeSFTPChannel()
		if err := ch.OpenChannel(); err != nil {
			return backend("open sftp", err)
		}

		c.backend = ch
		c.setOpen(true)
		c.session.track(c)

		return nil
	}, done)

	return c
}

// Close closes every file opened through the channel and then the channel itself. It is a no-op when
// the channel is not open.
func (c *SFTP) Close(done func(error)) {
	c.session.queue.enqueue(&operation{
		name: "close sftp",
		run: func() error {
			return backend("close sftp", c.release())
		},
		complete: done,
		barrier:  true,
	})
}

// OpenFile opens path with flags. mode is applied when the file is created. Whether a flag
// combination makes sense for the path (e.g. FileWrite without FileCreate on a missing file) is
// decided by the server.
func (c *SFTP) OpenFile(path string, flags FileOpenFlags, mode uint32, done func(*File, error)) {
	run, complete := withResult(func() (*File, error) {
		if err := c.requireOpen("open file"); err != nil {
			return nil, err
		}

		f, err := c.backend.OpenFile(path, flags, mode)
		if err != nil {
			return nil, backend("open file "+path, err)
		}

		file := &File{sftp: c, path: path, flags: flags, backend: f, open: true}
		c.files[file] = struct{}{}

		return file, nil
	}, done)

	c.session.queue.Enqueue("open file", run, complete)
}

// RemoveFile deletes a remote file.
func (c *SFTP) RemoveFile(path string, done func(error)) {
	c.simple("remove file", done, func(ch LibrarySFTPChannel) error {
		return ch.RemoveFile(path)
	})
}

// Rename moves source to destination.
func (c *SFTP) Rename(source, destination string, flags RenameFlags, done func(error)) {
	c.simple("rename", done, func(ch LibrarySFTPChannel) error {
		return ch.Rename(source, destination, flags)
	})
}

// MakeDirectory creates a remote directory with mode.
func (c *SFTP) MakeDirectory(path string, mode uint32, done func(error)) {
	c.simple("make directory", done, func(ch LibrarySFTPChannel) error {
		return ch.MakeDirectory(path, mode)
	})
}

// RemoveDirectory deletes an empty remote directory.
func (c *SFTP) RemoveDirectory(path string, done func(error)) {
	c.simple("remove directory", done, func(ch LibrarySFTPChannel) error {
		return ch.RemoveDirectory(path)
	})
}

// ListDirectory returns the entry names of path in server order. An empty directory yields an
// empty, non-nil slice.
func (c *SFTP) ListDirectory(path string, done func([]string, error)) {
	run, complete := withResult(func() ([]string, error) {
		if err := c.requireOpen("list directory"); err != nil {
			return []string{}, err
		}

		names, err := c.backend.ListDirectory(path)
		if err != nil {
			return []string{}, backend("list directory "+path, err)
		}

		if names == nil {
			names = []string{}
		}

		return names, nil
	}, done)

	c.session.queue.Enqueue("list directory", run, complete)
}

func (c *SFTP) simple(op string, done func(error), fn func(LibrarySFTPChannel) error) {
	c.session.queue.Enqueue(op, func() error {
		if err := c.requireOpen(op); err != nil {
			return err
		}

		return backend(op, fn(c.backend))
	}, done)
}

func (c *SFTP) requireOpen(op string) error {
	if err := c.session.requireAuthenticated(op); err != nil {
		return err
	}

	if c.backend == nil {
		return misuse(op, ErrChannelClosed)
	}

	return nil
}

func (c *SFTP) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *SFTP) release() error {
	for f := range c.files {
		if err := f.release(); err != nil {
			c.session.log.Debug("closing file with its channel failed", zap.String("path", f.path), zap.Error(err))
		}
	}

	if c.backend == nil {
		return nil
	}

	ch := c.backend
	c.backend = nil
	c.setOpen(false)
	c.session.untrack(c)

	return ch.CloseChannel()
}
