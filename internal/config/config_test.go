package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	s := Default()

	assert.Equal(t, "lmout", s.AppName)
	assert.Equal(t, 5, s.NotifyLeadMinutes)
	assert.Equal(t, 480, s.MaxDurationMinutes)
	assert.NotEmpty(t, s.DataDir)
}

func TestNotificationTemplates(t *testing.T) {
	s := Default()
	s.NotifyLeadMinutes = 7

	assert.Equal(t, "Lockout in 7 minutes", s.StartSummary())
	assert.Equal(t, "A scheduled lockout will start at 8pm.", s.StartBody("8pm"))
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	s := Default()
	s.DataDir = tmpDir
	s.NotifyLeadMinutes = 10
	s.BlockedApps = []string{"steam", "discord"}
	require.NoError(t, Save(s))

	loader := NewLoader(tmpDir)
	got := loader.Load()

	assert.Equal(t, 10, got.NotifyLeadMinutes)
	assert.Equal(t, []string{"steam", "discord"}, got.BlockedApps)
	assert.Equal(t, tmpDir, got.DataDir)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	loader := NewLoader(t.TempDir())
	got := loader.Load()

	assert.Equal(t, Default().NotifyLeadMinutes, got.NotifyLeadMinutes)
}

func TestLoad_CorruptFileYieldsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, configFileName), []byte("{nope"), 0o600))

	loader := NewLoader(tmpDir)
	got := loader.Load()

	assert.Equal(t, Default().MaxDurationMinutes, got.MaxDurationMinutes)
}

// TestLoad_CachesUntilMtimeChanges verifies the snapshot is reused
// while the file is unchanged and refreshed after a rewrite.
func TestLoad_CachesUntilMtimeChanges(t *testing.T) {
	tmpDir := t.TempDir()

	s := Default()
	s.DataDir = tmpDir
	s.NotifyLeadMinutes = 3
	require.NoError(t, Save(s))

	loader := NewLoader(tmpDir)
	assert.Equal(t, 3, loader.Load().NotifyLeadMinutes)

	s.NotifyLeadMinutes = 9
	require.NoError(t, Save(s))
	// Force a visible mtime difference on coarse-grained filesystems.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(tmpDir, configFileName), future, future))

	assert.Equal(t, 9, loader.Load().NotifyLeadMinutes)
}

func TestEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("LMOUT_NOTIFY_LEAD_MINUTES", "2")
	t.Setenv("LMOUT_BLOCKED_APPS", "steam, dota2")

	loader := NewLoader(tmpDir)
	got := loader.Load()

	assert.Equal(t, 2, got.NotifyLeadMinutes)
	assert.Equal(t, []string{"steam", "dota2"}, got.BlockedApps)
}

func TestNewLoader_EmptyDirUsesDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("LMOUT_DATA_DIR", "")

	// 'lmout config' saves into the default data dir; a flagless
	// loader must read the same file back.
	saved := Default()
	saved.NotifyLeadMinutes = 42
	require.NoError(t, Save(saved))

	loaded := NewLoader("").Load()
	assert.Equal(t, 42, loaded.NotifyLeadMinutes)
	assert.Equal(t, saved.DataDir, loaded.DataDir)
}
