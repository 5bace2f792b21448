package infra

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"lmout/internal/domain"
)

const unitName = "lmout.service"

const unitTemplate = `[Unit]
Description=Lock Me Out scheduled lockout daemon
After=graphical-session.target

[Service]
ExecStart=%s run
Restart=on-failure
RestartSec=10

[Install]
WantedBy=default.target
`

// SystemdUnitManager implements domain.UnitManager for the systemd
// user instance.
type SystemdUnitManager struct {
	unitDir  string
	unitPath string
}

// NewSystemdUnitManager creates a manager rooted at the user's systemd
// unit directory.
func NewSystemdUnitManager() domain.UnitManager {
	home, _ := os.UserHomeDir()
	unitDir := filepath.Join(home, ".config", "systemd", "user")
	return &SystemdUnitManager{
		unitDir:  unitDir,
		unitPath: filepath.Join(unitDir, unitName),
	}
}

// NewSystemdUnitManagerWithDir creates a manager at a specific unit
// directory (for testing).
func NewSystemdUnitManagerWithDir(unitDir string) domain.UnitManager {
	return &SystemdUnitManager{
		unitDir:  unitDir,
		unitPath: filepath.Join(unitDir, unitName),
	}
}

// UnitPath returns the unit file path.
func (m *SystemdUnitManager) UnitPath() string {
	return m.unitPath
}

// IsInstalled checks whether the unit file exists.
func (m *SystemdUnitManager) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// Install writes the unit file and enables it for the user session.
// systemctl failures are non-fatal: a written unit still takes effect
// on next login.
func (m *SystemdUnitManager) Install(execPath string) error {
	if err := os.MkdirAll(m.unitDir, 0o755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}

	content := fmt.Sprintf(unitTemplate, execPath)
	if err := os.WriteFile(m.unitPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()
	_ = exec.Command("systemctl", "--user", "enable", "--now", unitName).Run()
	return nil
}

// Uninstall disables the unit and removes the file.
func (m *SystemdUnitManager) Uninstall() error {
	_ = exec.Command("systemctl", "--user", "disable", "--now", unitName).Run()

	if err := os.Remove(m.unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()
	return nil
}

var _ domain.UnitManager = (*SystemdUnitManager)(nil)
