package sshkit

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ruffel/sshkit/fileutil"
	"go.uber.org/zap"
)

// Upload copies the local file at localPath to remotePath, creating or truncating it with mode.
// progress (optional) is called on the worker after every chunk. done receives the number of bytes
// written.
func (c *SFTP) Upload(localPath, remotePath string, mode uint32, progress ProgressFunc, done func(int64, error)) {
	run, complete := withResult(func() (int64, error) {
		if err := c.requireOpen("upload"); err != nil {
			return 0, err
		}

		src, err := os.Open(localPath)
		if err != nil {
			return 0, fmt.Errorf("failed to open local file: %w", err)
		}
		defer src.Close()

		var total int64
		if info, err := src.Stat(); err == nil {
			total = info.Size()
		}

		return c.upload(src, total, remotePath, mode, progress)
	}, done)

	c.session.queue.Enqueue("upload", run, complete)
}

func (c *SFTP) upload(src io.Reader, total int64, remotePath string, mode uint32, progress ProgressFunc) (int64, error) {
	dst, err := c.backend.OpenFile(remotePath, FileWrite|FileCreate|FileTruncate, mode)
	if err != nil {
		return 0, backend("open file "+remotePath, err)
	}

	pr := &fileutil.ProgressReader{Reader: src, Total: total, Fn: progress}
	buf := make([]byte, fileutil.ChunkSize)

	var written int64

	for {
		n, readErr := pr.Read(buf)
		if n > 0 {
			w, err := fileutil.WriteFull(dst.Write, buf[:n])
			written += int64(w)

			if err != nil {
				c.closeQuietly(dst, remotePath)

				return written, backend("write "+remotePath, err)
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			c.closeQuietly(dst, remotePath)

			return written, fmt.Errorf("failed to read local file: %w", readErr)
		}
	}

	return written, backend("close "+remotePath, dst.Close())
}

// Download copies remotePath into a local file at localPath, created or truncated with 0644.
// progress (optional) is called on the worker after every chunk with a total of 0. done receives the
// number of bytes read.
func (c *SFTP) Download(remotePath, localPath string, progress ProgressFunc, done func(int64, error)) {
	run, complete := withResult(func() (int64, error) {
		return c.download(remotePath, localPath, progress)
	}, done)

	c.session.queue.Enqueue("download", run, complete)
}

func (c *SFTP) download(remotePath, localPath string, progress ProgressFunc) (int64, error) {
	if err := c.requireOpen("download"); err != nil {
		return 0, err
	}

	src, err := c.backend.OpenFile(remotePath, FileRead, 0)
	if err != nil {
		return 0, backend("open file "+remotePath, err)
	}

	defer c.closeQuietly(src, remotePath)

	dst, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file: %w", err)
	}

	pr := &fileutil.ProgressReader{Fn: progress}

	for {
		chunk, err := src.Read()
		if err != nil {
			_ = dst.Close()

			return pr.Current, backend("read "+remotePath, err)
		}

		if len(chunk) == 0 {
			break
		}

		if _, err := dst.Write(chunk); err != nil {
			_ = dst.Close()

			return pr.Current, fmt.Errorf("failed to write local file: %w", err)
		}

		pr.Advance(len(chunk))
	}

	if err := dst.Close(); err != nil {
		return pr.Current, fmt.Errorf("failed to close local file: %w", err)
	}

	return pr.Current, nil
}

func (c *SFTP) closeQuietly(f LibrarySFTPFile, path string) {
	if err := f.Close(); err != nil {
		c.session.log.Debug("closing transfer file failed", zap.String("path", path), zap.Error(err))
	}
}
