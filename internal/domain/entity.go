// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle state of a lockout session.
// IDLE is both the initial and the terminal state.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseWaiting Phase = "WAITING"
	PhaseLocked  Phase = "LOCKED"
)

// Lockout source identifiers used in the published state.
const (
	SourceSchedule = "schedule"
	SourceInstant  = "instant"
)

// Schedule is a persisted lockout window definition.
// The JSON shape is the on-disk schedules.json record.
type Schedule struct {
	ID           uuid.UUID `json:"id"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
	Enabled      bool      `json:"enabled"`
	Description  string    `json:"description"`
	Persist      bool      `json:"persist"`
	BlockedApps  []string  `json:"blocked_apps"`
	BlockOnly    bool      `json:"block_only"`
	SkippedDates []string  `json:"skipped_dates"`
}

// SkippedToday reports whether the schedule is excepted for now's date.
func (s Schedule) SkippedToday(now time.Time) bool {
	today := now.Format(time.DateOnly)
	for _, d := range s.SkippedDates {
		if d == today {
			return true
		}
	}
	return false
}

// Candidate is a schedule paired with its activation timing, as
// returned by ScheduleStore.ListDue (soonest first).
type Candidate struct {
	Schedule  Schedule
	Delay     time.Duration
	Remaining time.Duration
	Total     time.Duration
}

// CommandKind discriminates command channel payloads.
type CommandKind string

const (
	CommandStartInstant CommandKind = "start_instant"
	CommandStopLockout  CommandKind = "stop_lockout"
)

// Command is a transient request submitted by the CLI and consumed
// exactly once by the daemon.
type Command struct {
	Kind CommandKind `json:"command"`

	// start_instant fields
	DelayMinutes    int      `json:"delay_minutes,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	BlockedApps     []string `json:"blocked_apps,omitempty"`
	BlockOnly       bool     `json:"block_only,omitempty"`

	// stop_lockout fields
	ScheduleID   string `json:"schedule_id,omitempty"`
	IsPersistent bool   `json:"is_persistent,omitempty"`
}

// ActiveLockout is the published snapshot of a running session.
type ActiveLockout struct {
	Source        string   `json:"source"`
	ScheduleID    string   `json:"schedule_id,omitempty"`
	CurrentPhase  Phase    `json:"current_phase"`
	RemainingSecs int      `json:"remaining_secs"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time,omitempty"`
	DurationMins  int      `json:"duration_mins"`
	BlockOnly     bool     `json:"block_only"`
	BlockedApps   []string `json:"blocked_apps"`
}

// DaemonState is written to state.json for external readers (the
// status command); the daemon never reads it back.
type DaemonState struct {
	PID           int            `json:"pid"`
	LastUpdate    string         `json:"last_update"`
	ActiveLockout *ActiveLockout `json:"active_lockout"`
}

// HistoryEntry records one finished (or stopped) lockout session.
type HistoryEntry struct {
	ID           uuid.UUID
	Source       string
	ScheduleID   string
	StartedAt    time.Time
	EndedAt      time.Time
	DurationSecs int
	BlockOnly    bool
	BlockedApps  []string
	Outcome      string // "completed" or "stopped"
}
