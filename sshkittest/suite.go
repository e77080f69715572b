package sshkittest

import (
	"context"
	"fmt"
	"path"
	"strings"
	"testing"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/require"
)

// Standard categories for grouping tests.
const (
	CategoryCore        = "core"
	CategoryEnvironment = "environment"
	CategoryFilesystem  = "filesystem"
	CategorySystem      = "system"
	CategoryErrors      = "errors"
)

// T is the minimal interface required for testify/assert and require.
type T interface {
	Errorf(format string, args ...any)
	FailNow()
	Skipf(format string, args ...any)
	Context() context.Context
	TempDir() string
	Name() string
	Cleanup(fn func())
}

// Target describes the server a contract run talks to.
type Target struct {
	// Session returns a new session that is connected and authenticated.
	Session func(t T) *sshkit.Session

	// Root is a writable remote directory. Each contract works in its own child of Root.
	Root string
}

// TestCase defines a single behavioral contract requirement.
type TestCase struct {
	Category    string
	Name        string
	Description string
	Run         func(t T, target Target)
}

// ID returns the stable, globally unique contract identifier.
func (tc TestCase) ID() string {
	return fmt.Sprintf("%s/%s", tc.Category, tc.Name)
}

// Verify is the standard Go test entry point for engine authors.
func Verify(t *testing.T, target Target) {
	t.Helper()

	for _, tc := range AllContracts() {
		t.Run(tc.ID(), func(t *testing.T) {
			tc.Run(t, target)
		})
	}
}

// newExecutor opens a session for t and closes it on cleanup.
func newExecutor(t T, target Target) *sshkit.Executor {
	s := target.Session(t)
	t.Cleanup(func() { _ = s.Close() })

	return sshkit.NewExecutor(s)
}

// workDir creates a fresh directory under target.Root named after the running contract.
func workDir(t T, exec *sshkit.Executor, target Target) string {
	dir := path.Join(target.Root, "sshkit-test-"+strings.ReplaceAll(t.Name(), "/", "_"))

	ch, err := exec.OpenSFTP(t.Context())
	require.NoError(t, err)

	require.NoError(t, CallErr(t, func(done func(error)) { ch.MakeDirectory(dir, 0o755, done) }))
	require.NoError(t, CallErr(t, ch.Close))

	return dir
}

// Call submits an operation and waits for its completion.
func Call[V any](t T, submit func(done func(V, error))) (V, error) {
	type outcome struct {
		val V
		err error
	}

	ch := make(chan outcome, 1)

	submit(func(val V, err error) { ch <- outcome{val: val, err: err} })

	select {
	case o := <-ch:
		return o.val, o.err
	case <-t.Context().Done():
		var zero V

		return zero, t.Context().Err()
	}
}

// CallErr is Call for operations that only report an error.
func CallErr(t T, submit func(done func(error))) error {
	_, err := Call(t, func(done func(struct{}, error)) {
		submit(func(err error) { done(struct{}{}, err) })
	})

	return err
}
