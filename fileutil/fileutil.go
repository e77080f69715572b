// Package fileutil provides the small I/O helpers sshkit transfers are built from.
//
// Engine files report short writes instead of retrying them, and transfers want progress
// callbacks; both concerns live here so the queue code stays about ordering.
package fileutil

import (
	"io"
)

// ChunkSize is the buffer size used by transfer loops.
const ChunkSize = 32 * 1024

// ProgressReader wraps an io.Reader to report progress after each read.
// Total should be set to the known total size, or 0 if unknown.
type ProgressReader struct {
	io.Reader

	Total   int64
	Current int64
	Fn      func(current, total int64)
}

// Read reads from the underlying reader and reports progress.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.Advance(n)
	}

	return n, err
}

// Advance records n transferred bytes and reports progress. Use it when data does not flow
// through Read (e.g. chunks pulled from an engine file).
func (pr *ProgressReader) Advance(n int) {
	pr.Current += int64(n)
	if pr.Fn != nil {
		pr.Fn(pr.Current, pr.Total)
	}
}

// WriteFunc writes a prefix of p and reports how much was accepted.
type WriteFunc func(p []byte) (int, error)

// WriteFull calls write until all of p has been accepted. A write that makes no progress without
// an error yields io.ErrShortWrite rather than spinning.
func WriteFull(write WriteFunc, p []byte) (int, error) {
	var total int

	for total < len(p) {
		n, err := write(p[total:])
		total += n

		if err != nil {
			return total, err
		}

		if n == 0 {
			return total, io.ErrShortWrite
		}
	}

	return total, nil
}
