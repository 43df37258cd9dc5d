package glance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withConfig routes LoadOptions at the given literal config for the duration
// of the test.
func withConfig(t *testing.T, contents string) {
	prevReadConf := readConf
	t.Cleanup(func() { readConf = prevReadConf })
	readConf = func(path string) ([]byte, error) {
		return []byte(contents), nil
	}
}

func TestLoadOptionsTOML(t *testing.T) {
	withConfig(t, `
[glance]
api_servers = ["https://glance1:9292", "10.0.1.1:9292"]
api_version = 2
num_retries = 3
api_insecure = true
allowed_direct_url_schemes = ["file"]
verify_signatures = true
signature_certs_dir = "/etc/glance/certs"

[[glance.filesystem]]
id = "b9f1e4d2-53ab-4b5e-8f22-69d2a9533942"
mountpoint = "/mnt/images"

[[glance.filesystem]]
id = "f3d2a0f1-1f4e-4dd9-95b4-b0e17c0b3a22"
mountpoint = "/mnt/nfs"
`)
	opts, err := LoadOptions("/etc/glance/client.conf")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://glance1:9292", "10.0.1.1:9292"}, opts.APIServers)
	assert.Equal(t, 2, opts.APIVersion)
	assert.Equal(t, 3, opts.NumRetries)
	assert.True(t, opts.APIInsecure)
	assert.Equal(t, []string{"file"}, opts.AllowedDirectURLSchemes)
	assert.True(t, opts.VerifySignatures)
	assert.Equal(t, "/etc/glance/certs", opts.SignatureCertsDir)
	assert.Equal(t, []Filesystem{
		{ID: "b9f1e4d2-53ab-4b5e-8f22-69d2a9533942", Mountpoint: "/mnt/images"},
		{ID: "f3d2a0f1-1f4e-4dd9-95b4-b0e17c0b3a22", Mountpoint: "/mnt/nfs"},
	}, opts.Filesystems)
}

func TestLoadOptionsYAMLCompatibility(t *testing.T) {
	withConfig(t, `
glance:
  api_servers:
    - https://glance1:9292
  num_retries: 1
  filesystems:
    - id: b9f1e4d2-53ab-4b5e-8f22-69d2a9533942
      mountpoint: /mnt/images
`)
	opts, err := LoadOptions("/etc/glance/client.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://glance1:9292"}, opts.APIServers)
	assert.Equal(t, 1, opts.NumRetries)
	require.Len(t, opts.Filesystems, 1)
	assert.Equal(t, "/mnt/images", opts.Filesystems[0].Mountpoint)
}

func TestLoadOptionsDefaults(t *testing.T) {
	withConfig(t, `
[glance]
api_servers = ["http://localhost:9292"]
`)
	opts, err := LoadOptions("/etc/glance/client.conf")
	require.NoError(t, err)
	// Unset version means the current schema.
	assert.Equal(t, 2, opts.APIVersion)
	assert.Equal(t, 0, opts.NumRetries)
	assert.False(t, opts.VerifySignatures)
	assert.Empty(t, opts.AllowedDirectURLSchemes)
}

func TestLoadOptionsInvalid(t *testing.T) {
	for _, c := range []struct{ name, contents, errorSubstring string }{
		{
			"unsupported version",
			"[glance]\napi_version = 3\n",
			"unsupported image API version 3",
		},
		{
			"filesystem without mountpoint",
			"[glance]\n[[glance.filesystem]]\nid = \"abc\"\n",
			"filesystem entries need both an id and a mountpoint",
		},
		{
			"malformed toml",
			"[glance\n",
			"",
		},
	} {
		withConfig(t, c.contents)
		_, err := LoadOptions("/etc/glance/client.conf")
		assert.Error(t, err, c.name)
		if c.errorSubstring != "" {
			assert.Contains(t, err.Error(), c.errorSubstring, c.name)
		}
	}
}

func TestLoadOptionsMissingFile(t *testing.T) {
	prevReadConf := readConf
	t.Cleanup(func() { readConf = prevReadConf })
	readConf = func(path string) ([]byte, error) {
		return nil, errors.New("no such file or directory")
	}
	_, err := LoadOptions("/this/does/not/exist.conf")
	assert.Error(t, err)
}

// An empty server list is a valid config; it only fails when a rotating
// client is built from it.
func TestLoadOptionsEmptyServers(t *testing.T) {
	withConfig(t, "[glance]\nnum_retries = 2\n")
	opts, err := LoadOptions("/etc/glance/client.conf")
	require.NoError(t, err)
	assert.Empty(t, opts.APIServers)
}
