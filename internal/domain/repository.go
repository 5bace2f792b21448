package domain

import (
	"context"
	"time"
)

// Notifier delivers desktop notifications. Fire-and-forget: failures
// are logged by implementations, never propagated.
type Notifier interface {
	Send(summary, body string)
}

// ScreenLocker abstracts screen-lock detection and invocation across
// desktop environments. Implementations try multiple backends and
// cache the one that works.
type ScreenLocker interface {
	// IsLocked reports whether the screen is currently locked.
	IsLocked() bool

	// Lock requests a screen lock.
	Lock() error

	// WaitForUnlock blocks until an unlock event is observed, the
	// timeout elapses, or stop is closed. Best effort: implementations
	// may fall back to sleeping when no event source is available.
	WaitForUnlock(stop <-chan struct{}, timeout time.Duration)
}

// ProcessController handles OS process termination.
// Implementation: uses gopsutil for enumeration.
type ProcessController interface {
	// Terminate kills every process whose name matches one of names.
	// Returns the distinct names that were actually found and killed.
	Terminate(names []string) ([]string, error)
}

// ScheduleStore persists lockout schedule definitions.
type ScheduleStore interface {
	// Add validates the time strings, assigns a fresh id, appends and
	// persists. Returns the stored schedule.
	Add(s Schedule) (Schedule, error)

	// Remove deletes the schedule with the given id (string form).
	Remove(id string) error

	// Update replaces the schedule with a matching id in place.
	Update(s Schedule) error

	// SkipToday adds now's date to the schedule's skip set if absent.
	SkipToday(id string, now time.Time) error

	// Get returns the schedule with the given id, or nil.
	Get(id string) *Schedule

	// Reload re-reads the backing file if it changed on disk.
	Reload() error

	// ListDue returns enabled, non-skipped schedules with their
	// activation timing, sorted ascending by delay. Schedules whose
	// time strings fail to parse are silently excluded.
	ListDue(now time.Time) []Candidate
}

// CommandInbox is the external command channel. TryReceive returns at
// most one pending command per call and consumes it exactly once:
// the payload is removed from the channel before it is returned, even
// when parsing fails.
type CommandInbox interface {
	TryReceive() (*Command, error)
}

// StatePublisher serializes daemon status to a well-known location.
// Publish is idempotent: redundant writes are skipped.
type StatePublisher interface {
	Publish(state DaemonState) error

	// Clear removes the published state (daemon shutdown).
	Clear() error
}

// HistoryStore records completed lockout sessions.
type HistoryStore interface {
	Record(ctx context.Context, entry HistoryEntry) error
	List(ctx context.Context, limit int) ([]HistoryEntry, error)
	Close() error
}

// UnitManager handles the systemd user unit that keeps the daemon
// running across logins.
type UnitManager interface {
	Install(execPath string) error
	Uninstall() error
	IsInstalled() bool
	UnitPath() string
}
