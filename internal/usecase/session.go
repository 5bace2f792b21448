// Package usecase contains application business logic.
package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"lmout/internal/domain"
)

// Notification is a (summary, body) pair delivered once on session start.
type Notification struct {
	Summary string
	Body    string
}

// SessionConfig fixes a session's parameters at start time.
type SessionConfig struct {
	Delay             time.Duration
	Duration          time.Duration
	BlockedApps       []string
	BlockOnly         bool
	StartNotification *Notification
}

// SessionStatus is a point-in-time view of a session.
type SessionStatus struct {
	Phase     domain.Phase
	Remaining time.Duration
}

// Session runs one lockout: it waits out the initial delay
// (WAITING), then enforces the lockout (LOCKED) by killing blocked
// apps and keeping the screen locked, and finally returns to IDLE.
//
// The enforcement routine runs on its own goroutine; Start, Stop and
// Status are safe to call from the daemon loop at any time. At most
// one routine runs per Session instance.
type Session struct {
	notifier domain.Notifier
	screen   domain.ScreenLocker
	procs    domain.ProcessController
	logger   *zap.Logger

	// Timing knobs, overridable in tests.
	waitPoll          time.Duration // WAITING re-check interval
	enforcePoll       time.Duration // LOCKED short sleep
	unlockWait        time.Duration // LOCKED long-poll bound
	joinTimeout       time.Duration // Stop join bound
	milestoneDeadline time.Duration // "1 minute remaining" boundary

	mu        sync.Mutex
	running   bool
	phase     domain.Phase
	targetEnd time.Time
	cfg       SessionConfig
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopped   bool
}

// NewSession creates an idle session.
func NewSession(
	notifier domain.Notifier,
	screen domain.ScreenLocker,
	procs domain.ProcessController,
	logger *zap.Logger,
) *Session {
	return &Session{
		notifier:          notifier,
		screen:            screen,
		procs:             procs,
		logger:            logger,
		waitPoll:          5 * time.Second,
		enforcePoll:       2 * time.Second,
		unlockWait:        10 * time.Second,
		joinTimeout:       2 * time.Second,
		milestoneDeadline: time.Minute,
		phase:             domain.PhaseIdle,
	}
}

// Start launches the enforcement routine. Calling Start on a running
// session is a safe no-op.
func (s *Session) Start(cfg SessionConfig) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("session already running, start ignored")
		return
	}

	s.cfg = cfg
	s.running = true
	s.stopped = false
	s.phase = domain.PhaseWaiting
	s.targetEnd = time.Now().Add(cfg.Delay)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	s.logger.Info("session starting",
		zap.Duration("delay", cfg.Delay),
		zap.Duration("duration", cfg.Duration),
		zap.Bool("block_only", cfg.BlockOnly),
		zap.Strings("blocked_apps", cfg.BlockedApps))

	go s.run(cfg, stopCh, doneCh)
}

// Stop signals cancellation and waits up to the join timeout for the
// routine to exit. The phase is reset to IDLE regardless of whether
// the routine acknowledged in time. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	doneCh := s.doneCh
	s.mu.Unlock()

	s.logger.Info("stopping session")
	select {
	case <-doneCh:
	case <-time.After(s.joinTimeout):
		s.logger.Warn("session did not stop within join timeout, forcing idle")
	}

	s.mu.Lock()
	s.running = false
	s.phase = domain.PhaseIdle
	s.mu.Unlock()
}

// Status returns the current phase and the time remaining in it.
// Remaining is zero when idle.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionStatus{Phase: s.phase}
	if s.phase != domain.PhaseIdle {
		if remaining := time.Until(s.targetEnd); remaining > 0 {
			st.Remaining = remaining
		}
	}
	return st
}

func (s *Session) run(cfg SessionConfig, stopCh, doneCh chan struct{}) {
	defer func() {
		// After a join timeout Stop gives up on this routine and a new
		// one may already own the session; only the current routine may
		// write session state.
		s.mu.Lock()
		if s.doneCh == doneCh {
			s.running = false
			s.phase = domain.PhaseIdle
		}
		s.mu.Unlock()
		close(doneCh)
	}()

	if !s.waitInitialDelay(cfg, stopCh, doneCh) {
		return
	}
	s.performLockout(cfg, stopCh, doneCh)
}

// waitInitialDelay runs the WAITING phase. Returns false on cancellation.
func (s *Session) waitInitialDelay(cfg SessionConfig, stopCh, doneCh chan struct{}) bool {
	s.mu.Lock()
	if s.doneCh != doneCh {
		s.mu.Unlock()
		return false
	}
	s.phase = domain.PhaseWaiting
	s.targetEnd = time.Now().Add(cfg.Delay)
	end := s.targetEnd
	s.mu.Unlock()

	if cfg.StartNotification != nil {
		s.notifier.Send(cfg.StartNotification.Summary, cfg.StartNotification.Body)
	}

	s.logger.Info("waiting for initial delay", zap.Duration("delay", cfg.Delay))

	notifiedMilestone := false
	lastRemaining := cfg.Delay

	for {
		remaining := time.Until(end)
		if remaining <= 0 {
			return true
		}

		if !notifiedMilestone &&
			lastRemaining > s.milestoneDeadline && remaining <= s.milestoneDeadline {
			s.notifier.Send("1 minute remaining before lockout.", "MAKE SURE TO REST!")
			notifiedMilestone = true
		}
		lastRemaining = remaining

		sleep := remaining
		if sleep > s.waitPoll {
			sleep = s.waitPoll
		}
		select {
		case <-stopCh:
			return false
		case <-time.After(sleep):
		}
	}
}

// performLockout runs the LOCKED phase until the duration elapses or
// the session is cancelled.
func (s *Session) performLockout(cfg SessionConfig, stopCh, doneCh chan struct{}) {
	s.logger.Info("initial delay complete, initiating lockout")

	s.mu.Lock()
	if s.doneCh != doneCh {
		s.mu.Unlock()
		return
	}
	s.phase = domain.PhaseLocked
	s.targetEnd = time.Now().Add(cfg.Duration)
	end := s.targetEnd
	s.mu.Unlock()

	for time.Now().Before(end) {
		select {
		case <-stopCh:
			return
		default:
		}

		if len(cfg.BlockedApps) > 0 {
			s.terminateBlockedApps(cfg.BlockedApps)
		}

		if !cfg.BlockOnly && !s.screen.IsLocked() {
			if err := s.screen.Lock(); err != nil {
				s.logger.Warn("failed to lock screen", zap.Error(err))
			}
		}

		// Adaptive wait: once the screen is confirmed locked there is
		// nothing to enforce until an unlock event, so long-poll the
		// unlock channel instead of spinning.
		if !cfg.BlockOnly && s.screen.IsLocked() {
			s.screen.WaitForUnlock(stopCh, s.unlockWait)
		} else {
			select {
			case <-stopCh:
				return
			case <-time.After(s.enforcePoll):
			}
		}
	}

	select {
	case <-stopCh:
	default:
		s.logger.Info("lockout duration finished")
		s.notifier.Send("Lockout Finished", "You can now resume your work.")
	}
}

// terminateBlockedApps kills blocked apps and notifies per app that
// was actually found and killed.
func (s *Session) terminateBlockedApps(apps []string) {
	killed, err := s.procs.Terminate(apps)
	if err != nil {
		s.logger.Warn("failed to terminate blocked apps", zap.Error(err))
		return
	}
	for _, name := range killed {
		s.notifier.Send("Blocked "+name, "App closed per schedule.")
	}
}
