package sshkit_test

import (
	"fmt"
	"os"
	"path"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ruffel/sshkit"
)

// memSFTP is an in-memory SFTP engine. It counts how many calls are in flight at once so tests can
// check that the worker never enters the engine concurrently.
type memSFTP struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	open  bool

	chunk int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

var _ sshkit.LibrarySFTPChannel = (*memSFTP)(nil)

func newMemSFTP() *memSFTP {
	return &memSFTP{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
		chunk: 4,
	}
}

func (m *memSFTP) enter() func() {
	n := m.inFlight.Add(1)
	m.calls.Add(1)

	for {
		peak := m.maxInFlight.Load()
		if n <= peak || m.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	// Widen the window in which an overlapping call would be observed.
	time.Sleep(20 * time.Microsecond)

	return func() { m.inFlight.Add(-1) }
}

func (m *memSFTP) Opened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.open
}

func (m *memSFTP) OpenChannel() error {
	defer m.enter()()

	m.mu.Lock()
	m.open = true
	m.mu.Unlock()

	return nil
}

func (m *memSFTP) CloseChannel() error {
	defer m.enter()()

	m.mu.Lock()
	m.open = false
	m.mu.Unlock()

	return nil
}

func (m *memSFTP) OpenFile(p string, flags sshkit.FileOpenFlags, _ uint32) (sshkit.LibrarySFTPFile, error) {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.files[p]

	switch {
	case exists && flags.Has(sshkit.FileCreate|sshkit.FileExclude):
		return nil, fmt.Errorf("open %s: %w", p, os.ErrExist)
	case !exists && !flags.Has(sshkit.FileCreate):
		return nil, fmt.Errorf("open %s: %w", p, os.ErrNotExist)
	case !m.dirs[path.Dir(p)]:
		return nil, fmt.Errorf("open %s: %w", p, os.ErrNotExist)
	}

	if !exists || flags.Has(sshkit.FileTruncate) {
		m.files[p] = nil
	}

	return &memFile{fs: m, path: p, append: flags.Has(sshkit.FileAppend)}, nil
}

func (m *memSFTP) RemoveFile(p string) error {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[p]; !ok {
		return fmt.Errorf("remove %s: %w", p, os.ErrNotExist)
	}

	delete(m.files, p)

	return nil
}

func (m *memSFTP) Rename(source, destination string, flags sshkit.RenameFlags) error {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[source]
	if !ok {
		return fmt.Errorf("rename %s: %w", source, os.ErrNotExist)
	}

	if _, taken := m.files[destination]; taken && !flags.Has(sshkit.RenameOverwrite) {
		return fmt.Errorf("rename %s: %w", destination, os.ErrExist)
	}

	delete(m.files, source)
	m.files[destination] = data

	return nil
}

func (m *memSFTP) MakeDirectory(p string, _ uint32) error {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dirs[p] {
		return fmt.Errorf("mkdir %s: %w", p, os.ErrExist)
	}

	m.dirs[p] = true

	return nil
}

func (m *memSFTP) RemoveDirectory(p string) error {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dirs[p] {
		return fmt.Errorf("rmdir %s: %w", p, os.ErrNotExist)
	}

	if len(m.children(p)) > 0 {
		return fmt.Errorf("rmdir %s: directory not empty", p)
	}

	delete(m.dirs, p)

	return nil
}

func (m *memSFTP) ListDirectory(p string) ([]string, error) {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dirs[p] {
		return nil, fmt.Errorf("list %s: %w", p, os.ErrNotExist)
	}

	return m.children(p), nil
}

func (m *memSFTP) children(dir string) []string {
	var names []string

	for f := range m.files {
		if path.Dir(f) == dir {
			names = append(names, path.Base(f))
		}
	}

	for d := range m.dirs {
		if d != dir && path.Dir(d) == dir {
			names = append(names, path.Base(d))
		}
	}

	slices.Sort(names)

	return names
}

type memFile struct {
	fs     *memSFTP
	path   string
	pos    int
	append bool
}

func (f *memFile) Position() (uint64, error) {
	defer f.fs.enter()()

	return uint64(f.pos), nil
}

func (f *memFile) Seek(offset uint64) error {
	defer f.fs.enter()()

	f.pos = int(offset)

	return nil
}

func (f *memFile) Read() ([]byte, error) {
	defer f.fs.enter()()

	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	data := f.fs.files[f.path]
	if f.pos >= len(data) {
		return []byte{}, nil
	}

	end := min(f.pos+f.fs.chunk, len(data))
	out := slices.Clone(data[f.pos:end])
	f.pos = end

	return out, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	defer f.fs.enter()()

	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	data := f.fs.files[f.path]
	if f.append {
		f.pos = len(data)
	}

	// Accept at most one chunk per call to exercise partial writes.
	n := min(len(p), f.fs.chunk)

	if grow := f.pos + n - len(data); grow > 0 {
		data = append(data, make([]byte, grow)...)
	}

	copy(data[f.pos:], p[:n])
	f.fs.files[f.path] = data
	f.pos += n

	return n, nil
}

func (f *memFile) Close() error {
	defer f.fs.enter()()

	return nil
}
