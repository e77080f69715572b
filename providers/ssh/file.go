package ssh

import (
	"errors"
	"io"

	"github.com/pkg/sftp"
)

// file is a remote file handle. Calls are serialized by the owning session's queue.
type file struct {
	f *sftp.File
}

func (f *file) Position() (uint64, error) {
	pos, err := f.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	return uint64(pos), nil
}

func (f *file) Seek(offset uint64) error {
	_, err := f.f.Seek(int64(offset), io.SeekStart)

	return err
}

func (f *file) Read() ([]byte, error) {
	buf := make([]byte, readChunk)

	n, err := f.f.Read(buf)
	if errors.Is(err, io.EOF) {
		err = nil
	}

	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}

func (f *file) Write(data []byte) (int, error) {
	return f.f.Write(data)
}

func (f *file) Close() error {
	return f.f.Close()
}
