package sshkittest

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fileContent = "Some file content..."

func openSFTP(t T, exec *sshkit.Executor) *sshkit.SFTP {
	ch, err := exec.OpenSFTP(t.Context())
	require.NoError(t, err)

	return ch
}

func writeFile(t T, ch *sshkit.SFTP, p string, data []byte) {
	f, err := Call(t, func(done func(*sshkit.File, error)) {
		ch.OpenFile(p, sshkit.FileWrite|sshkit.FileCreate|sshkit.FileTruncate, 0o644, done)
	})
	require.NoError(t, err)

	for len(data) > 0 {
		n, err := Call(t, func(done func(int, error)) { f.Write(data, done) })
		require.NoError(t, err)

		data = data[n:]
	}

	require.NoError(t, CallErr(t, f.Close))
}

func readFile(t T, ch *sshkit.SFTP, p string) string {
	f, err := Call(t, func(done func(*sshkit.File, error)) { ch.OpenFile(p, sshkit.FileRead, 0, done) })
	require.NoError(t, err)

	var sb strings.Builder

	for {
		chunk, err := Call(t, f.Read)
		require.NoError(t, err)

		if len(chunk) == 0 {
			break
		}

		sb.Write(chunk)
	}

	require.NoError(t, CallErr(t, f.Close))

	return sb.String()
}

func list(t T, ch *sshkit.SFTP, p string) []string {
	names, err := Call(t, func(done func([]string, error)) { ch.ListDirectory(p, done) })
	require.NoError(t, err)

	return names
}

//nolint:funlen // Contract registration function; complexity comes from many test cases.
func fileContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryFilesystem,
			Name:        "write-read-roundtrip",
			Description: "Content written through a file handle reads back unchanged",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)
				dir := workDir(t, exec, target)
				ch := openSFTP(t, exec)

				p := path.Join(dir, "AFile")
				writeFile(t, ch, p, []byte(fileContent))
				assert.Equal(t, fileContent, readFile(t, ch, p))

				res, err := exec.RunBuilder(t.Context(), sshkit.Cmd("cat").Arg(p))
				require.NoError(t, err)
				assert.Equal(t, fileContent, string(res.Stdout))
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "seek-and-position",
			Description: "Seek moves the read offset and Position reports it",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)
				dir := workDir(t, exec, target)
				ch := openSFTP(t, exec)

				p := path.Join(dir, "AFile")
				writeFile(t, ch, p, []byte(fileContent))

				f, err := Call(t, func(done func(*sshkit.File, error)) { ch.OpenFile(p, sshkit.FileRead, 0, done) })
				require.NoError(t, err)

				require.NoError(t, CallErr(t, func(done func(error)) { f.Seek(5, done) }))

				pos, err := Call(t, f.Position)
				require.NoError(t, err)
				assert.Equal(t, uint64(5), pos)

				chunk, err := Call(t, f.Read)
				require.NoError(t, err)
				assert.Equal(t, fileContent[5:], string(chunk))
				require.NoError(t, CallErr(t, f.Close))
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "mkdir-list-rmdir",
			Description: "A created directory is listed and can be removed again",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)
				dir := workDir(t, exec, target)
				ch := openSFTP(t, exec)

				sub := path.Join(dir, "Dir")
				require.NoError(t, CallErr(t, func(done func(error)) { ch.MakeDirectory(sub, 0o755, done) }))
				assert.Equal(t, []string{"Dir"}, list(t, ch, dir))

				require.NoError(t, CallErr(t, func(done func(error)) { ch.RemoveDirectory(sub, done) }))
				assert.Empty(t, list(t, ch, dir))
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "empty-dir-list",
			Description: "Listing an empty directory returns an empty, non-nil slice",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)
				dir := workDir(t, exec, target)

				names, err := exec.ListDirectory(t.Context(), dir)
				require.NoError(t, err)
				assert.NotNil(t, names)
				assert.Empty(t, names)
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "rename-and-remove",
			Description: "Rename moves a file and RemoveFile deletes it",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)
				dir := workDir(t, exec, target)
				ch := openSFTP(t, exec)

				a, b := path.Join(dir, "AFile"), path.Join(dir, "BFile")
				writeFile(t, ch, a, []byte(fileContent))

				require.NoError(t, CallErr(t, func(done func(error)) { ch.Rename(a, b, 0, done) }))
				assert.Equal(t, []string{"BFile"}, list(t, ch, dir))

				require.NoError(t, CallErr(t, func(done func(error)) { ch.RemoveFile(b, done) }))
				assert.Empty(t, list(t, ch, dir))
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "rename-overwrite",
			Description: "RenameOverwrite replaces an existing destination",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)
				dir := workDir(t, exec, target)
				ch := openSFTP(t, exec)

				a, b := path.Join(dir, "AFile"), path.Join(dir, "BFile")
				writeFile(t, ch, a, []byte("new"))
				writeFile(t, ch, b, []byte("old"))

				require.NoError(t, CallErr(t, func(done func(error)) { ch.Rename(a, b, sshkit.RenameOverwrite, done) }))
				assert.Equal(t, "new", readFile(t, ch, b))
				assert.Equal(t, []string{"BFile"}, list(t, ch, dir))
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "upload-download",
			Description: "A file uploaded from disk downloads back with identical content",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)
				dir := workDir(t, exec, target)

				content := strings.Repeat("sshkit upload contract\n", 4096)
				src := filepath.Join(t.TempDir(), "src.txt")
				require.NoError(t, os.WriteFile(src, []byte(content), 0o644))

				var calls int

				remote := path.Join(dir, "upload.txt")
				n, err := exec.Upload(t.Context(), src, remote, sshkit.WithProgress(func(_, _ int64) { calls++ }))
				require.NoError(t, err)
				assert.Equal(t, int64(len(content)), n)
				assert.Positive(t, calls)

				dst := filepath.Join(t.TempDir(), "dst.txt")
				n, err = exec.Download(t.Context(), remote, dst)
				require.NoError(t, err)
				assert.Equal(t, int64(len(content)), n)

				got, err := os.ReadFile(dst)
				require.NoError(t, err)
				assert.Equal(t, content, string(got))
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "upload-failure-source-missing",
			Description: "Error returned when we try to upload a non-existent local file",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)
				src := filepath.Join(t.TempDir(), "this-file-really-does-not-exist-12345")

				_, err := exec.Upload(t.Context(), src, path.Join(target.Root, "should-not-exist-12345"))
				require.ErrorIs(t, err, os.ErrNotExist)
			},
		},
	}
}
