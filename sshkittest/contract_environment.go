package sshkittest

import (
	"path"
	"strings"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func environmentContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryEnvironment,
			Name:        "env-visible-to-command",
			Description: "Variables sent before exec are visible to the command, whether or not the server accepts env requests",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)

				res, err := exec.Run(t.Context(), `printf '%s|%s' "$LC_SSHKIT" "$SSHKIT_CONTRACT"`,
					sshkit.WithEnv(
						sshkit.EnvVar{Name: "LC_SSHKIT", Value: "accepted"},
						sshkit.EnvVar{Name: "SSHKIT_CONTRACT", Value: "it's set"},
					),
				)
				require.NoError(t, err)
				assert.Equal(t, "accepted|it's set", string(res.Stdout))
			},
		},
		{
			Category:    CategoryEnvironment,
			Name:        "builder-dir",
			Description: "Builder.Dir changes the working directory of the command",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)
				dir := workDir(t, exec, target)

				res, err := exec.RunBuilder(t.Context(), sshkit.Cmd("pwd").Dir(dir))
				require.NoError(t, err)
				assert.Equal(t, path.Base(dir), path.Base(strings.TrimSpace(string(res.Stdout))))
			},
		},
		{
			Category:    CategoryEnvironment,
			Name:        "close-idempotent",
			Description: "Closing a session multiple times is deterministic and non-fatal",
			Run: func(t T, target Target) {
				s := target.Session(t)

				require.NoError(t, s.Close())
				require.NoError(t, s.Close())
				assert.Equal(t, sshkit.StateDisconnected, s.State())
			},
		},
		{
			Category:    CategoryEnvironment,
			Name:        "close-post-run-fails",
			Description: "Operations fail deterministically after session close",
			Run: func(t T, target Target) {
				s := target.Session(t)
				require.NoError(t, s.Close())

				_, err := sshkit.NewExecutor(s).Run(t.Context(), "echo sshkit-contract")
				require.ErrorIs(t, err, sshkit.ErrSessionClosed)

				_, err = sshkit.NewExecutor(s).ListDirectory(t.Context(), target.Root)
				require.ErrorIs(t, err, sshkit.ErrSessionClosed)
			},
		},
		{
			Category:    CategoryEnvironment,
			Name:        "disconnect-drops-authentication",
			Description: "Disconnect returns the session to the disconnected state and later work requires a new login",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)

				require.NoError(t, exec.Disconnect(t.Context()))
				assert.Equal(t, sshkit.StateDisconnected, exec.Session().State())

				_, err := exec.Run(t.Context(), "true")
				require.ErrorIs(t, err, sshkit.ErrAuthenticationRequired)
			},
		},
	}
}
