package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ede1998/nextcloud-tag-sync/internal/diff"
)

func TestDefaultsAppliedWhenUnset(t *testing.T) {
	cfg := &Config{}
	cfg.defaults()
	assert.Equal(t, 10, cfg.MaxConcurrentRequests)
	assert.Equal(t, "Both", cfg.KeepSideOnConflict)
	assert.NotEmpty(t, cfg.LocalTagPropertyName)
}

func TestConflictPolicyParsing(t *testing.T) {
	cases := map[string]diff.Policy{"Both": diff.Both, "left": diff.Left, "RIGHT": diff.Right}
	for raw, want := range cases {
		cfg := &Config{KeepSideOnConflict: raw}
		got, err := cfg.ConflictPolicy()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestConflictPolicyRejectsUnknownValue(t *testing.T) {
	cfg := &Config{KeepSideOnConflict: "Sideways"}
	_, err := cfg.ConflictPolicy()
	require.Error(t, err)
}

func TestValidateRequiresCoreFields(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg = &Config{
		NextcloudInstance: "https://cloud.example.com",
		User:              "alice",
		Prefixes:          []PrefixPair{{Local: "/a", Remote: "/remote.php/dav/files/alice/a"}},
	}
	require.NoError(t, cfg.Validate())
}

func TestLoadFindsConfigInCurrentDirectory(t *testing.T) {
	dir := t.TempDir()
	content := `
nextcloud_instance = "https://cloud.example.com"
user = "alice"
token = "secret"

[[prefixes]]
local = "/home/alice/Documents"
remote = "/remote.php/dav/files/alice/Documents"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))

	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(orig)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.User)
	assert.Len(t, cfg.Prefixes, 1)
	assert.Equal(t, 10, cfg.MaxConcurrentRequests)
}

func TestApplyEnvOverridesOverridesScalarFields(t *testing.T) {
	cfg := &Config{User: "alice", DryRun: false, MaxConcurrentRequests: 5}
	t.Setenv("NCTS_USER", "bob")
	t.Setenv("NCTS_DRY_RUN", "true")
	t.Setenv("NCTS_MAX_CONCURRENT_REQUESTS", "3")

	applyEnvOverrides(cfg)

	assert.Equal(t, "bob", cfg.User)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 3, cfg.MaxConcurrentRequests)
}
