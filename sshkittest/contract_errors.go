package sshkittest

import (
	"path"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runExitErrorCode = 13

func errorContracts() []TestCase {
	return []TestCase{
		runNonZeroReturnsExitErrorContract(),
		exitStatusDoesNotPoisonContract(),
		engineFailureShortCircuitsContract(),
		invalidCommandContract(),
	}
}

func runNonZeroReturnsExitErrorContract() TestCase {
	return TestCase{
		Category:    CategoryErrors,
		Name:        "run-nonzero-returns-exiterror",
		Description: "Non-zero exits must return *sshkit.ExitError carrying the status and stderr",
		Run: func(t T, target Target) {
			exec := newExecutor(t, target)

			res, err := exec.Run(t.Context(), "echo failing >&2; exit 13")
			require.Error(t, err)

			var exitErr *sshkit.ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, runExitErrorCode, exitErr.ExitStatus)
			assert.Equal(t, "failing\n", string(exitErr.Stderr))
			assert.Equal(t, runExitErrorCode, res.ExitStatus)
		},
	}
}

func exitStatusDoesNotPoisonContract() TestCase {
	return TestCase{
		Category:    CategoryErrors,
		Name:        "exit-status-does-not-poison",
		Description: "A failing command leaves the session usable",
		Run: func(t T, target Target) {
			exec := newExecutor(t, target)

			_, err := exec.Run(t.Context(), "false")
			require.Error(t, err)
			require.NoError(t, exec.Session().Err())

			_, err = exec.Run(t.Context(), "true")
			require.NoError(t, err)
		},
	}
}

func engineFailureShortCircuitsContract() TestCase {
	return TestCase{
		Category:    CategoryErrors,
		Name:        "engine-failure-short-circuits",
		Description: "An engine failure is reported to every later operation until Disconnect",
		Run: func(t T, target Target) {
			exec := newExecutor(t, target)
			ch := openSFTP(t, exec)

			missing := path.Join(target.Root, "sshkit-missing", "nope")

			_, err := Call(t, func(done func(*sshkit.File, error)) { ch.OpenFile(missing, sshkit.FileRead, 0, done) })

			var backendErr *sshkit.BackendError
			require.ErrorAs(t, err, &backendErr)

			_, err2 := Call(t, func(done func([]string, error)) { ch.ListDirectory(target.Root, done) })
			require.ErrorIs(t, err2, backendErr)
			require.ErrorIs(t, exec.Session().Err(), backendErr)

			require.NoError(t, exec.Disconnect(t.Context()))
			require.NoError(t, exec.Session().Err())
		},
	}
}

func invalidCommandContract() TestCase {
	return TestCase{
		Category:    CategoryErrors,
		Name:        "invalid-command",
		Description: "Malformed command lines are rejected before a channel is opened",
		Run: func(t T, target Target) {
			exec := newExecutor(t, target)

			_, err := exec.Run(t.Context(), `echo "unterminated`)
			require.ErrorIs(t, err, sshkit.ErrInvalidCommand)
			assert.True(t, sshkit.IsContractError(err))
			require.NoError(t, exec.Session().Err())
		},
	}
}
