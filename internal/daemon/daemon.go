// Package daemon implements the lockout reconciliation loop: it owns
// at most one session, arbitrates schedules against external commands
// and publishes status for the CLI.
package daemon

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"lmout/internal/config"
	"lmout/internal/domain"
	"lmout/internal/usecase"
)

// SessionRunner is the slice of usecase.Session the loop drives.
type SessionRunner interface {
	Start(cfg usecase.SessionConfig)
	Stop()
	Status() usecase.SessionStatus
}

// Config holds daemon loop configuration.
type Config struct {
	TickInterval time.Duration // Reconciliation cadence
	StartBuffer  time.Duration // Slack added to the lead window for schedule starts
}

// DefaultConfig returns default daemon configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval: 5 * time.Second,
		StartBuffer:  30 * time.Second,
	}
}

// binding identifies what the current session was started for.
type binding struct {
	source      string
	scheduleID  string
	startedAt   time.Time
	duration    time.Duration
	blockOnly   bool
	blockedApps []string
	stopped     bool // set when a stop command ended the session
}

// Daemon is the long-running reconciliation loop. It is the sole owner
// of the session: nothing else starts or stops it.
type Daemon struct {
	cfg       Config
	settings  *config.Loader
	store     domain.ScheduleStore
	inbox     domain.CommandInbox
	publisher domain.StatePublisher
	history   domain.HistoryStore
	session   SessionRunner
	logger    *zap.Logger

	active *binding
	now    func() time.Time
}

// New creates a daemon loop.
func New(
	cfg Config,
	settings *config.Loader,
	store domain.ScheduleStore,
	inbox domain.CommandInbox,
	publisher domain.StatePublisher,
	history domain.HistoryStore,
	session SessionRunner,
	logger *zap.Logger,
) *Daemon {
	return &Daemon{
		cfg:       cfg,
		settings:  settings,
		store:     store,
		inbox:     inbox,
		publisher: publisher,
		history:   history,
		session:   session,
		logger:    logger,
		now:       time.Now,
	}
}

// Run drives the reconciliation loop until ctx is cancelled. On exit
// the session is stopped and the published state removed.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("daemon started",
		zap.Int("pid", os.Getpid()),
		zap.Duration("tick", d.cfg.TickInterval))

	d.publish()

	for {
		// A stop command short-circuits the tick and requests an
		// immediate re-tick so external readers see fresh state.
		if d.tick(d.now()) {
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping")
			d.shutdown()
			return ctx.Err()
		case <-time.After(d.cfg.TickInterval):
		}
	}
}

func (d *Daemon) shutdown() {
	d.session.Stop()
	if err := d.publisher.Clear(); err != nil {
		d.logger.Warn("failed to clear published state", zap.Error(err))
	}
}

// tick runs one reconciliation pass. Returns true when the next tick
// should run immediately.
func (d *Daemon) tick(now time.Time) (requeue bool) {
	settings := d.settings.Load()

	cmd := d.receiveCommand()
	if cmd != nil && cmd.Kind == domain.CommandStopLockout {
		d.handleStop(cmd, now)
		return true
	}

	d.reapFinishedSession(now)

	if d.session.Status().Phase == domain.PhaseIdle {
		if cmd != nil && cmd.Kind == domain.CommandStartInstant {
			d.startInstant(cmd, settings, now)
		} else {
			d.startDueSchedule(settings, now)
		}
	}

	d.publish()
	return false
}

// receiveCommand polls the inbox for at most one command. Malformed
// payloads have already been consumed by the inbox; they are logged
// and dropped here.
func (d *Daemon) receiveCommand() *domain.Command {
	cmd, err := d.inbox.TryReceive()
	if err != nil {
		d.logger.Warn("discarding unusable command", zap.Error(err))
		return nil
	}
	return cmd
}

// handleStop stops the active session. A persistent schedule is
// skipped for today so it does not immediately re-activate.
func (d *Daemon) handleStop(cmd *domain.Command, now time.Time) {
	d.logger.Info("stop command received",
		zap.String("schedule_id", cmd.ScheduleID),
		zap.Bool("is_persistent", cmd.IsPersistent))

	d.session.Stop()

	if cmd.ScheduleID != "" && cmd.IsPersistent {
		if err := d.store.SkipToday(cmd.ScheduleID, now); err != nil {
			d.logger.Warn("failed to skip schedule for today", zap.Error(err))
		}
	}

	if d.active != nil {
		d.active.stopped = true
	}
}

// reapFinishedSession clears the binding once the session has gone
// idle, removing one-shot schedules from the store.
func (d *Daemon) reapFinishedSession(now time.Time) {
	if d.active == nil || d.session.Status().Phase != domain.PhaseIdle {
		return
	}

	if d.active.scheduleID != "" {
		if sched := d.store.Get(d.active.scheduleID); sched != nil && !sched.Persist {
			d.logger.Info("removing finished one-time schedule",
				zap.String("schedule_id", d.active.scheduleID),
				zap.String("start_time", sched.StartTime))
			if err := d.store.Remove(d.active.scheduleID); err != nil {
				d.logger.Warn("failed to remove finished schedule", zap.Error(err))
			}
		}
	}

	outcome := "completed"
	if d.active.stopped {
		outcome = "stopped"
	}
	d.recordHistory(now, outcome)
}

// startInstant binds a session to an ad-hoc command.
func (d *Daemon) startInstant(cmd *domain.Command, settings config.Settings, now time.Time) {
	delay := time.Duration(cmd.DelayMinutes) * time.Minute
	duration := clampDuration(time.Duration(cmd.DurationMinutes)*time.Minute, settings)
	if duration < time.Minute {
		duration = time.Minute
	}

	apps := cmd.BlockedApps
	if len(apps) == 0 {
		apps = settings.BlockedApps
	}

	d.logger.Info("starting instant lockout",
		zap.Duration("delay", delay),
		zap.Duration("duration", duration))

	d.active = &binding{
		source:      domain.SourceInstant,
		startedAt:   now,
		duration:    duration,
		blockOnly:   cmd.BlockOnly,
		blockedApps: apps,
	}
	d.session.Start(usecase.SessionConfig{
		Delay:       delay,
		Duration:    duration,
		BlockedApps: apps,
		BlockOnly:   cmd.BlockOnly,
	})
}

// startDueSchedule reloads the store and binds a session to the
// nearest due schedule when it falls inside the lead window.
func (d *Daemon) startDueSchedule(settings config.Settings, now time.Time) {
	if err := d.store.Reload(); err != nil {
		d.logger.Warn("failed to reload schedules", zap.Error(err))
		return
	}

	candidates := d.store.ListDue(now)
	if len(candidates) == 0 {
		return
	}

	nearest := candidates[0]
	leadWindow := time.Duration(settings.NotifyLeadMinutes)*time.Minute + d.cfg.StartBuffer
	if nearest.Delay >= leadWindow {
		return
	}

	sched := nearest.Schedule
	duration := clampDuration(nearest.Remaining, settings)

	d.logger.Info("preparing scheduled lockout",
		zap.String("schedule_id", sched.ID.String()),
		zap.String("start_time", sched.StartTime),
		zap.String("end_time", sched.EndTime))

	apps := sched.BlockedApps
	if len(apps) == 0 {
		apps = settings.BlockedApps
	}

	d.active = &binding{
		source:      domain.SourceSchedule,
		scheduleID:  sched.ID.String(),
		startedAt:   now,
		duration:    duration,
		blockOnly:   sched.BlockOnly,
		blockedApps: apps,
	}
	d.session.Start(usecase.SessionConfig{
		Delay:       nearest.Delay,
		Duration:    duration,
		BlockedApps: apps,
		BlockOnly:   sched.BlockOnly,
		StartNotification: &usecase.Notification{
			Summary: settings.StartSummary(),
			Body:    settings.StartBody(sched.StartTime),
		},
	})
}

// publish hands the current snapshot to the state publisher. The
// snapshot always reflects the session as observed after this tick's
// command and schedule processing.
func (d *Daemon) publish() {
	state := domain.DaemonState{
		PID:        os.Getpid(),
		LastUpdate: d.now().Format("2006-01-02T15:04:05"),
	}

	status := d.session.Status()
	if d.active != nil && status.Phase != domain.PhaseIdle {
		active := &domain.ActiveLockout{
			Source:        d.active.source,
			ScheduleID:    d.active.scheduleID,
			CurrentPhase:  status.Phase,
			RemainingSecs: int(status.Remaining.Seconds()),
			StartTime:     d.active.startedAt.Format("03:04PM"),
			DurationMins:  int(d.active.duration.Minutes()),
			BlockOnly:     d.active.blockOnly,
			BlockedApps:   d.active.blockedApps,
		}
		if status.Phase == domain.PhaseLocked {
			active.EndTime = d.now().Add(status.Remaining).Format("03:04PM")
		}
		state.ActiveLockout = active
	}

	if err := d.publisher.Publish(state); err != nil {
		d.logger.Warn("failed to publish state", zap.Error(err))
	}
}

// recordHistory writes the active binding to the history store and
// clears it. No-op without a binding; history failures are non-fatal.
func (d *Daemon) recordHistory(now time.Time, outcome string) {
	if d.active == nil {
		return
	}
	entry := domain.HistoryEntry{
		Source:       d.active.source,
		ScheduleID:   d.active.scheduleID,
		StartedAt:    d.active.startedAt,
		EndedAt:      now,
		DurationSecs: int(d.active.duration.Seconds()),
		BlockOnly:    d.active.blockOnly,
		BlockedApps:  d.active.blockedApps,
		Outcome:      outcome,
	}
	d.active = nil

	if d.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.history.Record(ctx, entry); err != nil {
		d.logger.Warn("failed to record lockout history", zap.Error(err))
	}
}

// clampDuration bounds a lockout duration to the configured maximum.
// Instant commands additionally get a one minute floor at their call
// site; schedule windows run exactly as long as they remain.
func clampDuration(duration time.Duration, settings config.Settings) time.Duration {
	maxDuration := time.Duration(settings.MaxDurationMinutes) * time.Minute
	if maxDuration > 0 && duration > maxDuration {
		return maxDuration
	}
	return duration
}
