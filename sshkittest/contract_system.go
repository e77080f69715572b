package sshkittest

import (
	"strings"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func systemContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategorySystem,
			Name:        "fingerprint",
			Description: "Host key fingerprints are available in every supported format after login",
			Run: func(t T, target Target) {
				exec := newExecutor(t, target)

				md5, err := exec.Fingerprint(t.Context(), sshkit.FingerprintMD5)
				require.NoError(t, err)
				assert.Len(t, md5, 47)
				assert.Equal(t, 15, strings.Count(md5, ":"))

				sha1, err := exec.Fingerprint(t.Context(), sshkit.FingerprintSHA1)
				require.NoError(t, err)
				assert.Len(t, sha1, 59)

				sha256, err := exec.Fingerprint(t.Context(), sshkit.FingerprintSHA256)
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(sha256, "SHA256:"), sha256)
			},
		},
		{
			Category:    CategorySystem,
			Name:        "remote-banner",
			Description: "The server identification line is recorded during connect",
			Run: func(t T, target Target) {
				s := newExecutor(t, target).Session()

				assert.True(t, strings.HasPrefix(s.RemoteBanner(), "SSH-2.0-"), s.RemoteBanner())
			},
		},
	}
}
