package infra

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestScreenLockManager_LockCachesWinningStrategy injects a fake
// command runner where only the second strategy works, and verifies
// later calls go straight to the cached winner.
func TestScreenLockManager_LockCachesWinningStrategy(t *testing.T) {
	m := NewScreenLockManager(zap.NewNop())

	var calls []string
	m.runCommand = func(argv []string) error {
		calls = append(calls, strings.Join(argv, " "))
		if argv[0] == "xdg-screensaver" {
			return nil
		}
		return errors.New("not found")
	}

	require.NoError(t, m.Lock())
	assert.Equal(t, []string{
		"loginctl lock-session",
		"xdg-screensaver lock",
	}, calls)

	calls = nil
	require.NoError(t, m.Lock())
	assert.Equal(t, []string{"xdg-screensaver lock"}, calls, "second call must use the cached strategy")
}

func TestScreenLockManager_LockCacheInvalidatedOnFailure(t *testing.T) {
	m := NewScreenLockManager(zap.NewNop())

	healthy := "xdg-screensaver"
	m.runCommand = func(argv []string) error {
		if argv[0] == healthy {
			return nil
		}
		return errors.New("not found")
	}
	require.NoError(t, m.Lock())

	// The cached backend disappears; the next Lock re-probes and lands
	// on the new working one.
	healthy = "loginctl"
	require.NoError(t, m.Lock())
	assert.Equal(t, "loginctl", m.cmdCache)
}

func TestScreenLockManager_LockAllStrategiesFail(t *testing.T) {
	m := NewScreenLockManager(zap.NewNop())
	m.runCommand = func(argv []string) error { return errors.New("not found") }

	assert.Error(t, m.Lock())
	assert.Empty(t, m.cmdCache)
}

// TestScreenLockManager_WaitForUnlockStopInterrupts uses the sleep
// fallback path (dbus-monitor is pointed at a nonexistent binary) and
// verifies a stop signal interrupts the wait promptly.
func TestScreenLockManager_WaitForUnlockStopInterrupts(t *testing.T) {
	m := NewScreenLockManager(zap.NewNop())
	m.monitorArgv = []string{"definitely-not-a-real-binary-xyz"}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.WaitForUnlock(stop, time.Minute)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForUnlock did not return after stop")
	}
}
