package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ruffel/sshkit"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// withSession runs fn against a fresh authenticated session.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, exec *sshkit.Executor) error) error {
	ctx := cmd.Context()

	exec, closeSession, err := a.connect(ctx)
	if err != nil {
		return err
	}

	defer closeSession()

	return fn(ctx, exec)
}

// remoteCommand joins args into a command line. A single argument is passed through untouched so
// shell syntax keeps working; several are quoted one by one.
func remoteCommand(args []string) string {
	if len(args) == 1 {
		return args[0]
	}

	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = sshkit.Quote(arg)
	}

	return strings.Join(quoted, " ")
}

func (a *app) execCmd() *cobra.Command {
	var (
		sudo    bool
		sudoAs  string
		env     []string
		retries int
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- COMMAND [ARGS...]",
		Short: "Run a command and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []sshkit.ExecOption{sshkit.WithRetry(retries, 0)}

			for _, kv := range env {
				name, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --env %q, want NAME=VALUE", kv)
				}

				opts = append(opts, sshkit.WithEnv(sshkit.EnvVar{Name: name, Value: value}))
			}

			if sudo || sudoAs != "" {
				opts = append(opts, sshkit.WithSudo(sshkit.WithSudoUser(sudoAs)))
			}

			return a.withSession(cmd, func(ctx context.Context, exec *sshkit.Executor) error {
				res, err := exec.Run(ctx, remoteCommand(args), opts...)
				if res != nil {
					_, _ = cmd.OutOrStdout().Write(res.Stdout)
					_, _ = cmd.ErrOrStderr().Write(res.Stderr)
				}

				return err
			})
		},
	}

	cmd.Flags().BoolVar(&sudo, "sudo", false, "Run through sudo -n")
	cmd.Flags().StringVar(&sudoAs, "sudo-user", "", "Run through sudo as this user")
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "Environment variable NAME=VALUE (repeatable)")
	cmd.Flags().IntVar(&retries, "attempts", 1, "Attempts for commands exiting non-zero")

	return cmd
}

func (a *app) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls PATH",
		Short: "List a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, exec *sshkit.Executor) error {
				names, err := exec.ListDirectory(ctx, args[0])
				if err != nil {
					return err
				}

				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}

				return nil
			})
		},
	}
}

// sftpCmd builds a command whose work is one SFTP operation.
func (a *app) sftpCmd(use, short string, nargs int, op func(ch *sshkit.SFTP, args []string, done func(error))) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, exec *sshkit.Executor) error {
				ch, err := exec.OpenSFTP(ctx)
				if err != nil {
					return err
				}

				errCh := make(chan error, 1)
				op(ch, args, func(err error) { errCh <- err })
				ch.Close(nil)

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		},
	}
}

func (a *app) mkdirCmd() *cobra.Command {
	var mode uint32

	cmd := a.sftpCmd("mkdir PATH", "Create a remote directory", 1, func(ch *sshkit.SFTP, args []string, done func(error)) {
		ch.MakeDirectory(args[0], mode, done)
	})
	cmd.Flags().Uint32Var(&mode, "mode", 0o755, "Directory permissions")

	return cmd
}

func (a *app) rmdirCmd() *cobra.Command {
	return a.sftpCmd("rmdir PATH", "Remove an empty remote directory", 1, func(ch *sshkit.SFTP, args []string, done func(error)) {
		ch.RemoveDirectory(args[0], done)
	})
}

func (a *app) rmCmd() *cobra.Command {
	return a.sftpCmd("rm PATH", "Remove a remote file", 1, func(ch *sshkit.SFTP, args []string, done func(error)) {
		ch.RemoveFile(args[0], done)
	})
}

func (a *app) mvCmd() *cobra.Command {
	var overwrite bool

	cmd := a.sftpCmd("mv SOURCE DESTINATION", "Rename a remote file", 2, func(ch *sshkit.SFTP, args []string, done func(error)) {
		var flags sshkit.RenameFlags
		if overwrite {
			flags = sshkit.RenameOverwrite
		}

		ch.Rename(args[0], args[1], flags, done)
	})
	cmd.Flags().BoolVarP(&overwrite, "force", "f", false, "Replace an existing destination")

	return cmd
}

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat PATH",
		Short: "Print a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, exec *sshkit.Executor) error {
				ch, err := exec.OpenSFTP(ctx)
				if err != nil {
					return err
				}

				defer ch.Close(nil)

				return copyRemote(ctx, ch, args[0], cmd.OutOrStdout())
			})
		},
	}
}

// copyRemote streams a remote file to w chunk by chunk.
func copyRemote(ctx context.Context, ch *sshkit.SFTP, remotePath string, w io.Writer) error {
	type chunk struct {
		data []byte
		err  error
	}

	opened := make(chan *sshkit.File, 1)
	openErr := make(chan error, 1)

	ch.OpenFile(remotePath, sshkit.FileRead, 0, func(f *sshkit.File, err error) {
		if err != nil {
			openErr <- err

			return
		}

		opened <- f
	})

	var f *sshkit.File

	select {
	case err := <-openErr:
		return err
	case f = <-opened:
	case <-ctx.Done():
		return ctx.Err()
	}

	defer f.Close(nil)

	next := make(chan chunk, 1)

	for {
		f.Read(func(data []byte, err error) { next <- chunk{data: data, err: err} })

		var c chunk

		select {
		case c = <-next:
		case <-ctx.Done():
			return ctx.Err()
		}

		if c.err != nil {
			return c.err
		}

		if len(c.data) == 0 {
			return nil
		}

		if _, err := w.Write(c.data); err != nil {
			return err
		}
	}
}

func (a *app) putCmd() *cobra.Command {
	var (
		mode  uint32
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "put LOCAL REMOTE",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, exec *sshkit.Executor) error {
				opts := []sshkit.FileOption{sshkit.WithPermissions(os.FileMode(mode))}
				if !quiet {
					opts = append(opts, sshkit.WithProgress(progressPrinter(cmd.ErrOrStderr(), args[1])))
				}

				n, err := exec.Upload(ctx, args[0], args[1], opts...)
				if err != nil {
					return err
				}

				a.log.Info("uploaded", zap.String("remote", args[1]), zap.Int64("bytes", n))

				return nil
			})
		},
	}

	cmd.Flags().Uint32Var(&mode, "mode", 0o644, "Permissions for a newly created file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not report progress")

	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "get REMOTE... LOCAL_DIR",
		Short: "Download one or more files into a local directory",
		Long:  "Download files into LOCAL_DIR. With --parallel above 1 each worker uses its own session.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remotes, dir := args[:len(args)-1], args[len(args)-1]

			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(parallel, 1))

			for _, remote := range remotes {
				g.Go(func() error {
					exec, closeSession, err := a.connect(ctx)
					if err != nil {
						return err
					}

					defer closeSession()

					local := filepath.Join(dir, path.Base(remote))

					n, err := exec.Download(ctx, remote, local)
					if err != nil {
						return fmt.Errorf("get %s: %w", remote, err)
					}

					a.log.Info("downloaded", zap.String("remote", remote), zap.String("local", local), zap.Int64("bytes", n))

					return nil
				})
			}

			return g.Wait()
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "P", 4, "Concurrent downloads")

	return cmd
}

func (a *app) fingerprintCmd() *cobra.Command {
	var hash string

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the host key fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := parseHash(hash)
			if err != nil {
				return err
			}

			return a.withSession(cmd, func(ctx context.Context, exec *sshkit.Executor) error {
				fp, err := exec.Fingerprint(ctx, h)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), fp)

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&hash, "hash", "sha256", "Digest: md5, sha1 or sha256")

	return cmd
}

func parseHash(name string) (sshkit.FingerprintHash, error) {
	switch strings.ToLower(name) {
	case "md5":
		return sshkit.FingerprintMD5, nil
	case "sha1":
		return sshkit.FingerprintSHA1, nil
	case "sha256":
		return sshkit.FingerprintSHA256, nil
	default:
		return 0, errors.New("unknown hash " + name + " (want md5, sha1 or sha256)")
	}
}

func progressPrinter(w io.Writer, name string) sshkit.ProgressFunc {
	return func(current, total int64) {
		if total <= 0 {
			return
		}

		fmt.Fprintf(w, "\r%s %3d%%", name, current*100/total)

		if current >= total {
			fmt.Fprintln(w)
		}
	}
}
