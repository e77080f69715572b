package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ruffel/sshkit"
	"github.com/ruffel/sshkit/sshkittest"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func (a *app) checkCmd() *cobra.Command {
	var (
		root     string
		category string
	)

	cmd := &cobra.Command{
		Use:   "check [alias...]",
		Short: "Run the sshkit contract suite against one or more hosts",
		Long: `check runs every behavioural contract against each host and prints a matrix.

Without arguments the configured --host is checked. Contracts create their scratch
directories under --root, which must be writable on every host.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts := args
			if len(hosts) == 0 {
				hosts = []string{a.v.GetString(keyHost)}
			}

			contracts := selectContracts(category)
			if len(contracts) == 0 {
				return fmt.Errorf("no contracts in category %q", category)
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(w, titleStyle.Render("sshkit contract check"))
			_, _ = fmt.Fprintln(w, infoStyle.Render("hosts: "+strings.Join(hosts, ", ")))

			m := matrix{hosts: hosts, contracts: contracts, results: make(map[string]map[string]checkResult)}

			for _, host := range hosts {
				target := sshkittest.Target{Root: root, Session: a.targetSession(host)}

				for _, tc := range contracts {
					m.record(tc.ID(), host, runContract(cmd.Context(), tc, target))
				}
			}

			if failures := m.render(w); failures > 0 {
				return fmt.Errorf("%d contract(s) failed", failures)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "/tmp", "Writable remote directory for scratch files")
	cmd.Flags().StringVar(&category, "category", "", "Only run contracts in this category")

	return cmd
}

// targetSession connects a fresh session to host for each contract.
func (a *app) targetSession(host string) func(t sshkittest.T) *sshkit.Session {
	return func(t sshkittest.T) *sshkit.Session {
		exec, _, err := a.connectHost(t.Context(), host)
		require.NoError(t, err)

		return exec.Session()
	}
}

func selectContracts(category string) []sshkittest.TestCase {
	all := sshkittest.AllContracts()
	if category == "" {
		return all
	}

	var out []sshkittest.TestCase

	for _, tc := range all {
		if tc.Category == category {
			out = append(out, tc)
		}
	}

	return out
}

type checkResult struct {
	passed  bool
	skipped bool
	msg     string
}

// cliTester lets contracts run outside `go test`.
type cliTester struct {
	ctx      context.Context //nolint:containedctx
	name     string
	failed   bool
	skipped  bool
	msg      string
	cleanups []func()
}

type failNow struct{}

type skipNow struct{}

func (c *cliTester) Errorf(format string, args ...any) {
	c.failed = true

	if c.msg == "" {
		c.msg = strings.TrimSpace(fmt.Sprintf(format, args...))
	}
}

func (c *cliTester) FailNow() {
	c.failed = true

	panic(failNow{})
}

func (c *cliTester) Skipf(format string, args ...any) {
	c.skipped = true
	c.msg = fmt.Sprintf(format, args...)

	panic(skipNow{})
}

func (c *cliTester) Context() context.Context { return c.ctx }

func (c *cliTester) Name() string { return c.name }

func (c *cliTester) TempDir() string {
	dir, err := os.MkdirTemp("", "sshkit-check-*")
	if err != nil {
		c.Errorf("failed to create temp dir: %v", err)
		c.FailNow()
	}

	c.Cleanup(func() { _ = os.RemoveAll(dir) })

	return dir
}

func (c *cliTester) Cleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

func (c *cliTester) runCleanups() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func runContract(ctx context.Context, tc sshkittest.TestCase, target sshkittest.Target) checkResult {
	t := &cliTester{ctx: ctx, name: tc.ID()}
	defer t.runCleanups()

	func() {
		defer func() {
			if r := recover(); r != nil {
				switch r.(type) {
				case failNow, skipNow:
				default:
					panic(r)
				}
			}
		}()

		tc.Run(t, target)
	}()

	return checkResult{passed: !t.failed && !t.skipped, skipped: t.skipped, msg: t.msg}
}

type matrix struct {
	hosts     []string
	contracts []sshkittest.TestCase
	results   map[string]map[string]checkResult
}

func (m *matrix) record(id, host string, r checkResult) {
	row := m.results[id]
	if row == nil {
		row = make(map[string]checkResult)
		m.results[id] = row
	}

	row[host] = r
}

// render prints the matrix and returns the number of failed cells.
func (m *matrix) render(w io.Writer) int {
	const nameWidth = 40

	colWidth := len("SKIPPED")
	for _, h := range m.hosts {
		colWidth = max(colWidth, len(h))
	}

	var header strings.Builder

	header.WriteString(headerStyle.Render(fmt.Sprintf(" %-*s ", nameWidth, "CONTRACT")))

	for _, h := range m.hosts {
		header.WriteString(" ")
		header.WriteString(headerStyle.Render(fmt.Sprintf(" %-*s ", colWidth, h)))
	}

	_, _ = fmt.Fprintln(w, header.String())

	var (
		category string
		issues   []string
	)

	for _, tc := range m.contracts {
		if tc.Category != category {
			category = tc.Category
			_, _ = fmt.Fprintln(w, categoryStyle.Render(strings.ToUpper(category)))
		}

		var line strings.Builder

		line.WriteString(fmt.Sprintf(" %-*s ", nameWidth, fitColumn(tc.Name, nameWidth)))

		for _, h := range m.hosts {
			r := m.results[tc.ID()][h]

			status, style := "PASSED", passedStyle

			switch {
			case r.skipped:
				status, style = "SKIPPED", skippedStyle
			case !r.passed:
				status, style = "FAILED", failedStyle
				issues = append(issues, fmt.Sprintf("[%s] %s: %s", h, tc.ID(), r.msg))
			}

			line.WriteString(" ")
			line.WriteString(style.Render(fmt.Sprintf(" %-*s ", colWidth, status)))
		}

		_, _ = fmt.Fprintln(w, line.String())
	}

	_, _ = fmt.Fprintln(w)

	if len(issues) == 0 {
		_, _ = fmt.Fprintln(w, okStyle.Render("All contracts passed."))

		return 0
	}

	_, _ = fmt.Fprintln(w, errorStyle.Render("Failures:"))

	for _, issue := range issues {
		_, _ = fmt.Fprintf(w, "  - %s\n", issue)
	}

	return len(issues)
}

func fitColumn(value string, width int) string {
	if len(value) <= width {
		return value
	}

	return value[:width-1] + "…"
}
