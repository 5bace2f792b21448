package infra

import (
	"bufio"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lmout/internal/domain"
)

// lockProbe is one way of asking the desktop environment whether the
// screen is locked. ok reports the lock state; err means the probe is
// unusable on this system (missing binary, timeout).
type lockProbe struct {
	name  string
	check func() (ok bool, err error)
}

// lockCommand is one way of requesting a screen lock.
type lockCommand struct {
	name string
	argv []string
}

const probeTimeout = 2 * time.Second

var errProbeTimeout = errors.New("probe timed out")

// ScreenLockManager implements domain.ScreenLocker by trying a list of
// desktop-environment strategies in priority order and caching the one
// that works. The cache is invalidated when the cached strategy fails,
// falling back to re-probing the full list.
type ScreenLockManager struct {
	mu          sync.Mutex
	probes      []lockProbe
	probeCache  string
	commands    []lockCommand
	cmdCache    string
	logger      *zap.Logger
	runCommand  func(argv []string) error
	monitorArgv []string
}

// NewScreenLockManager creates a manager with the standard Linux
// strategies: xdg-screensaver, loginctl and the GNOME D-Bus interface.
func NewScreenLockManager(logger *zap.Logger) *ScreenLockManager {
	m := &ScreenLockManager{
		logger: logger,
		runCommand: func(argv []string) error {
			return exec.Command(argv[0], argv[1:]...).Run()
		},
		monitorArgv: []string{
			"dbus-monitor", "--session",
			"type='signal',interface='org.gnome.ScreenSaver',member='ActiveChanged'",
		},
	}
	m.probes = []lockProbe{
		{name: "xdg-screensaver", check: func() (bool, error) {
			out, err := outputWithTimeout("xdg-screensaver", "status")
			if err != nil {
				return false, err
			}
			return strings.Contains(out, "is locked"), nil
		}},
		{name: "loginctl", check: func() (bool, error) {
			out, err := outputWithTimeout("loginctl", "show-session", "self", "-p", "LockedHint", "--value")
			if err != nil {
				return false, err
			}
			return strings.TrimSpace(out) == "yes", nil
		}},
		{name: "gdbus-gnome", check: func() (bool, error) {
			out, err := outputWithTimeout("gdbus", "call", "--session",
				"--dest", "org.gnome.ScreenSaver",
				"--object-path", "/org/gnome/ScreenSaver",
				"--method", "org.gnome.ScreenSaver.GetActive")
			if err != nil {
				return false, err
			}
			return strings.Contains(out, "(true,)"), nil
		}},
	}
	m.commands = []lockCommand{
		{name: "loginctl", argv: []string{"loginctl", "lock-session"}},
		{name: "xdg-screensaver", argv: []string{"xdg-screensaver", "lock"}},
		{name: "gnome-screensaver", argv: []string{"gnome-screensaver-command", "-l"}},
	}
	return m
}

func outputWithTimeout(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	done := make(chan struct{})
	var out []byte
	var err error
	go func() {
		out, err = cmd.Output()
		close(done)
	}()
	select {
	case <-done:
		return string(out), err
	case <-time.After(probeTimeout):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
		return "", errProbeTimeout
	}
}

// IsLocked reports whether the screen is locked. The first probe that
// answers without error becomes the cached strategy for later calls.
func (m *ScreenLockManager) IsLocked() bool {
	m.mu.Lock()
	cached := m.probeCache
	m.mu.Unlock()

	if cached != "" {
		for _, p := range m.probes {
			if p.name != cached {
				continue
			}
			ok, err := p.check()
			if err == nil {
				return ok
			}
			m.logger.Debug("cached lock probe failed, re-probing",
				zap.String("probe", cached), zap.Error(err))
			m.mu.Lock()
			m.probeCache = ""
			m.mu.Unlock()
			break
		}
	}

	for _, p := range m.probes {
		ok, err := p.check()
		if err != nil {
			continue
		}
		m.mu.Lock()
		m.probeCache = p.name
		m.mu.Unlock()
		return ok
	}
	return false
}

// Lock requests a screen lock via the cached command, falling back to
// the priority list on failure.
func (m *ScreenLockManager) Lock() error {
	m.mu.Lock()
	cached := m.cmdCache
	m.mu.Unlock()

	if cached != "" {
		for _, c := range m.commands {
			if c.name != cached {
				continue
			}
			if err := m.runCommand(c.argv); err == nil {
				return nil
			}
			m.mu.Lock()
			m.cmdCache = ""
			m.mu.Unlock()
			break
		}
	}

	var lastErr error
	for _, c := range m.commands {
		if err := m.runCommand(c.argv); err != nil {
			lastErr = err
			continue
		}
		m.mu.Lock()
		m.cmdCache = c.name
		m.mu.Unlock()
		return nil
	}
	return lastErr
}

// WaitForUnlock blocks until a GNOME screensaver ActiveChanged(false)
// signal arrives, the timeout elapses, or stop is closed. When
// dbus-monitor is unavailable it degrades to interruptible sleeping;
// the caller re-checks IsLocked afterwards either way.
func (m *ScreenLockManager) WaitForUnlock(stop <-chan struct{}, timeout time.Duration) {
	cmd := exec.Command(m.monitorArgv[0], m.monitorArgv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		m.logger.Debug("dbus-monitor unavailable, falling back to sleep", zap.Error(err))
		m.sleepFallback(stop, timeout)
		return
	}

	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	unlocked := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			// GNOME emits ActiveChanged(false) on unlock.
			if strings.Contains(scanner.Text(), "boolean false") {
				close(unlocked)
				return
			}
		}
	}()

	select {
	case <-unlocked:
		m.logger.Debug("unlock signal observed")
	case <-stop:
	case <-time.After(timeout):
	}
}

func (m *ScreenLockManager) sleepFallback(stop <-chan struct{}, timeout time.Duration) {
	select {
	case <-stop:
	case <-time.After(timeout):
	}
}

var _ domain.ScreenLocker = (*ScreenLockManager)(nil)
