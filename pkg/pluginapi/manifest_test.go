package pluginapi

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest() Manifest {
	return Manifest{
		Name:     "counter",
		Version:  "1.0.0",
		WASMHash: "abc123",
		Handles:  []string{"IncrementCounter"},
		Priority: 100,
		Enabled:  true,
	}
}

func TestManifestValidate(t *testing.T) {
	t.Run("valid manifest passes", func(t *testing.T) {
		m := validManifest()
		assert.Empty(t, m.Validate())
	})

	t.Run("missing fields reported individually", func(t *testing.T) {
		m := Manifest{}
		errs := m.Validate()
		require.Len(t, errs, 4)

		fields := make([]string, 0, len(errs))
		for _, e := range errs {
			fields = append(fields, e.Field)
		}
		assert.ElementsMatch(t, []string{"name", "version", "wasm_hash", "handles"}, fields)
	})

	t.Run("semver validation", func(t *testing.T) {
		valid := []string{"1.0.0", "v2.1.3", "0.1.0-alpha", "1.0.0-rc.1+build.5"}
		for _, v := range valid {
			m := validManifest()
			m.Version = v
			assert.Empty(t, m.Validate(), "version %s should be valid", v)
		}

		invalid := []string{"1.0", "latest", "1", "one.two.three"}
		for _, v := range invalid {
			m := validManifest()
			m.Version = v
			require.Len(t, m.Validate(), 1, "version %s should be invalid", v)
			assert.Equal(t, "version", m.Validate()[0].Field)
		}
	})

	t.Run("memory limit over cap", func(t *testing.T) {
		m := validManifest()
		m.MemoryLimit = MaxMemoryLimit + 1
		errs := m.Validate()
		require.Len(t, errs, 1)
		assert.Equal(t, "memory_limit", errs[0].Field)
	})
}

func TestManifestEffectiveLimits(t *testing.T) {
	m := validManifest()

	assert.Equal(t, uint64(DefaultMemoryLimit), m.EffectiveMemoryLimit())
	assert.Equal(t, DefaultExecutionTimeoutSecs*time.Second, m.EffectiveExecutionTimeout())

	m.MemoryLimit = 32 << 20
	m.ExecutionTimeoutSecs = 60
	assert.Equal(t, uint64(32<<20), m.EffectiveMemoryLimit())
	assert.Equal(t, 60*time.Second, m.EffectiveExecutionTimeout())

	m.ExecutionTimeoutSecs = 10_000
	assert.Equal(t, MaxExecutionTimeoutSecs*time.Second, m.EffectiveExecutionTimeout())

	m.Priority = 5000
	assert.Equal(t, uint32(MaxPriority), m.ClampedPriority())
}

func TestManifestResolveKVPrefixes(t *testing.T) {
	m := validManifest()
	assert.Equal(t, []string{"__plugin:counter:"}, m.ResolveKVPrefixes())

	m.KVPrefixes = []string{"app:counter:", "shared:"}
	assert.Equal(t, []string{"app:counter:", "shared:"}, m.ResolveKVPrefixes())
}

func TestManifestSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	m := validManifest()
	require.NoError(t, m.Sign(priv))
	require.NotEmpty(t, m.Signature)
	assert.NoError(t, m.VerifySignature(pub))

	t.Run("tampered manifest fails", func(t *testing.T) {
		tampered := m
		tampered.Priority = 999
		assert.Error(t, tampered.VerifySignature(pub))
	})

	t.Run("unsigned manifest fails", func(t *testing.T) {
		unsigned := validManifest()
		assert.Error(t, unsigned.VerifySignature(pub))
	})

	t.Run("wrong key fails", func(t *testing.T) {
		otherPub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		assert.Error(t, m.VerifySignature(otherPub))
	})
}

func TestLoadManifestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.yaml")
	content := `name: counter
version: 1.2.0
wasm_file: counter.wasm
handles:
  - IncrementCounter
  - GetCounter
priority: 50
enabled: true
permissions:
  kv_read: true
  kv_write: true
kv_prefixes:
  - "app:counter:"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fm, err := LoadManifestFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "counter", fm.Name)
	assert.Equal(t, "1.2.0", fm.Version)
	assert.Equal(t, "counter.wasm", fm.WASMFile)
	assert.Equal(t, []string{"IncrementCounter", "GetCounter"}, fm.Handles)
	assert.True(t, fm.Permissions.KVRead)
	assert.True(t, fm.Permissions.KVWrite)
	assert.False(t, fm.Permissions.Signing)
	assert.Equal(t, []string{"app:counter:"}, fm.KVPrefixes)

	t.Run("missing wasm_file rejected", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("name: x\nversion: 1.0.0\n"), 0o644))
		_, err := LoadManifestFile(bad)
		assert.ErrorContains(t, err, "wasm_file")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadManifestFile(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}
