package infra

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemdUnitManager_InstallWritesUnit(t *testing.T) {
	m := NewSystemdUnitManagerWithDir(t.TempDir())
	assert.False(t, m.IsInstalled())

	require.NoError(t, m.Install("/usr/local/bin/lmout"))
	assert.True(t, m.IsInstalled())

	content, err := os.ReadFile(m.UnitPath())
	require.NoError(t, err)
	assert.Contains(t, string(content), "ExecStart=/usr/local/bin/lmout run")
	assert.Contains(t, string(content), "Restart=on-failure")
}

func TestSystemdUnitManager_Uninstall(t *testing.T) {
	m := NewSystemdUnitManagerWithDir(t.TempDir())
	require.NoError(t, m.Install("/usr/local/bin/lmout"))

	require.NoError(t, m.Uninstall())
	assert.False(t, m.IsInstalled())

	// Uninstalling again is a no-op.
	require.NoError(t, m.Uninstall())
}
