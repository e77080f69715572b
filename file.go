package sshkit

import (
	"sync"

	"go.uber.org/zap"
)

// File is a remote file opened through an SFTP channel. Its operations run on the session worker in
// submission order, interleaved with everything else on the session.
type File struct {
	sftp  *SFTP
	path  string
	flags FileOpenFlags

	// Owned by the worker goroutine.
	backend LibrarySFTPFile

	mu   sync.RWMutex
	open bool
}

// Path returns the remote path the file was opened with.
func (f *File) Path() string { return f.path }

// Flags returns the flags the file was opened with.
func (f *File) Flags() FileOpenFlags { return f.flags }

// Opened reports whether the file is still open.
func (f *File) Opened() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.open
}

// Seek moves the file position to offset. On failure the file is closed, also when the seek is
// skipped because of an earlier failure on the session.
func (f *File) Seek(offset uint64, done func(error)) {
	f.sftp.session.queue.enqueue(&operation{
		name: "seek",
		run: func() error {
			if err := f.requireUsable("seek"); err != nil {
				return err
			}

			if err := f.backend.Seek(offset); err != nil {
				f.abandon()

				return backend("seek "+f.path, err)
			}

			return nil
		},
		complete: done,
		skipped:  f.abandon,
	})
}

// Position reports the current file position.
func (f *File) Position(done func(uint64, error)) {
	run, complete := withResult(func() (uint64, error) {
		if err := f.requireUsable("position"); err != nil {
			return 0, err
		}

		pos, err := f.backend.Position()

		return pos, backend("position "+f.path, err)
	}, done)

	f.sftp.session.queue.Enqueue("position", run, complete)
}

// Read returns the next chunk from the current position. An empty chunk means end of file. On
// failure the file is closed, as with Seek.
func (f *File) Read(done func([]byte, error)) {
	run, complete := withResult(func() ([]byte, error) {
		if err := f.requireUsable("read"); err != nil {
			return nil, err
		}

		data, err := f.backend.Read()
		if err != nil {
			f.abandon()

			return nil, backend("read "+f.path, err)
		}

		return data, nil
	}, done)

	f.sftp.session.queue.enqueue(&operation{name: "read file", run: run, complete: complete, skipped: f.abandon})
}

// Write writes data at the current position. done receives the number of bytes accepted, which may
// be less than len(data).
func (f *File) Write(data []byte, done func(int, error)) {
	run, complete := withResult(func() (int, error) {
		if err := f.requireUsable("write"); err != nil {
			return 0, err
		}

		n, err := f.backend.Write(data)

		return n, backend("write "+f.path, err)
	}, done)

	f.sftp.session.queue.Enqueue("write file", run, complete)
}

// Close closes the file. Closing a closed file is a no-op.
func (f *File) Close(done func(error)) {
	f.sftp.session.queue.enqueue(&operation{
		name: "close file",
		run: func() error {
			return backend("close "+f.path, f.release())
		},
		complete: done,
		barrier:  true,
	})
}

func (f *File) requireUsable(op string) error {
	if err := f.sftp.session.requireAuthenticated(op); err != nil {
		return err
	}

	if f.sftp.backend == nil {
		return misuse(op, ErrChannelClosed)
	}

	if f.backend == nil {
		return misuse(op, ErrFileClosed)
	}

	return nil
}

func (f *File) release() error {
	if f.backend == nil {
		return nil
	}

	b := f.backend
	f.backend = nil
	delete(f.sftp.files, f)

	f.mu.Lock()
	f.open = false
	f.mu.Unlock()

	return b.Close()
}

func (f *File) abandon() {
	if err := f.release(); err != nil {
		f.sftp.session.log.Debug("implicit file close failed", zap.String("path", f.path), zap.Error(err))
	}
}
