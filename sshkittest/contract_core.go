package sshkittest

import (
	"strings"
	"time"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shellExitCode = 3

func coreContracts() []TestCase {
	return []TestCase{
		{
			Category: CategoryCore,
			Name:     "simple-echo",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)

				result, err := exec.RunBuilder(t.Context(), sshkit.Cmd("echo").Arg("hello"))
				require.NoError(t, err)
				require.NotNil(t, result)

				assert.Equal(t, "hello", strings.TrimSpace(string(result.Stdout)))
				assert.Equal(t, 0, result.ExitStatus)
			},
		},
		{
			Category:    CategoryCore,
			Name:        "stderr-separated",
			Description: "Stdout and stderr are collected separately",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)

				result, err := exec.Run(t.Context(), "echo out; echo err >&2")
				require.NoError(t, err)

				assert.Equal(t, "out", strings.TrimSpace(string(result.Stdout)))
				assert.Equal(t, "err", strings.TrimSpace(string(result.Stderr)))
			},
		},
		{
			Category:    CategoryCore,
			Name:        "commands-run-in-order",
			Description: "Commands submitted back to back complete in submission order",
			Run: func(t T, target Target) {
				s := newExecutor(t, target).Session()

				const n = 5

				order := make(chan int, n)

				for i := range n {
					s.Command().Execute("true", nil, func(_ *sshkit.CommandResult, err error) {
						assert.NoError(t, err)
						order <- i
					})
				}

				for i := range n {
					assert.Equal(t, i, <-order)
				}
			},
		},
		{
			Category:    CategoryCore,
			Name:        "shell-roundtrip",
			Description: "A shell reads stdin until EOF and reports its exit status",
			Run: func(t T, target Target) {
				sh := newExecutor(t, target).Session().Shell()

				require.NoError(t, CallErr(t, func(done func(error)) { sh.Open(nil, nil, done) }))

				line := []byte("echo shell-ok; exit 3\n")
				for len(line) > 0 {
					n, err := Call(t, func(done func(int, error)) { sh.Write(line, done) })
					require.NoError(t, err)

					line = line[n:]
				}

				require.NoError(t, CallErr(t, sh.SendEOF))

				var out strings.Builder

				deadline := time.Now().Add(10 * time.Second)

				for {
					chunk, err := Call(t, sh.Read)
					require.NoError(t, err)
					out.Write(chunk)

					eof, err := Call(t, sh.ReceivedEOF)
					require.NoError(t, err)

					if eof {
						break
					}

					require.True(t, time.Now().Before(deadline), "shell did not finish")
					time.Sleep(20 * time.Millisecond)
				}

				status, err := Call(t, sh.ExitStatus)
				require.NoError(t, err)
				assert.Equal(t, shellExitCode, status)
				assert.Contains(t, out.String(), "shell-ok")
				require.NoError(t, CallErr(t, sh.Close))
			},
		},
	}
}
