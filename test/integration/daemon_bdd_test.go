//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"lmout/internal/config"
	"lmout/internal/daemon"
	"lmout/internal/domain"
	"lmout/internal/infra"
	"lmout/internal/usecase"
)

// scriptedSession stands in for the real session so the suite can
// move it through its phases without waiting out real lockouts.
type scriptedSession struct {
	mu         sync.Mutex
	phase      domain.Phase
	startCalls []usecase.SessionConfig
	stopCalls  int
}

func newScriptedSession() *scriptedSession {
	return &scriptedSession{phase: domain.PhaseIdle}
}

func (s *scriptedSession) Start(cfg usecase.SessionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls = append(s.startCalls, cfg)
	s.phase = domain.PhaseWaiting
}

func (s *scriptedSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	s.phase = domain.PhaseIdle
}

func (s *scriptedSession) Status() usecase.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return usecase.SessionStatus{Phase: s.phase}
}

func (s *scriptedSession) setPhase(p domain.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *scriptedSession) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.startCalls)
}

func (s *scriptedSession) lastStart() usecase.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls[len(s.startCalls)-1]
}

var _ = Describe("Daemon Loop", func() {
	var (
		tmpDir   string
		logger   *zap.Logger
		session  *scriptedSession
		store    *infra.FileScheduleStore
		inbox    *infra.FileInbox
		history  *infra.SQLiteHistory
		statePth string

		cancel context.CancelFunc
		done   chan struct{}
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "lmout-integration-*")
		Expect(err).NotTo(HaveOccurred())

		err = config.Save(config.Settings{
			AppName:            "lmout",
			DataDir:            tmpDir,
			NotifyLeadMinutes:  5,
			NotifySummary:      "Lockout in {minutes} minutes",
			NotifyBody:         "Starts at {start_time}.",
			BlockedApps:        []string{"steam"},
			MaxDurationMinutes: 480,
		})
		Expect(err).NotTo(HaveOccurred())

		logger = zap.NewNop()
		session = newScriptedSession()
		statePth = filepath.Join(tmpDir, "state.json")
		store = infra.NewFileScheduleStore(filepath.Join(tmpDir, "schedules.json"), logger)
		inbox = infra.NewFileInbox(filepath.Join(tmpDir, "command.json"), infra.DefaultCommandMaxAge, logger)

		history, err = infra.OpenHistory(filepath.Join(tmpDir, "history.db"))
		Expect(err).NotTo(HaveOccurred())

		d := daemon.New(
			daemon.Config{TickInterval: 20 * time.Millisecond, StartBuffer: 30 * time.Second},
			config.NewLoader(tmpDir),
			store,
			inbox,
			infra.NewStateWriter(statePth, logger),
			history,
			session,
			logger,
		)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = d.Run(ctx)
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(done, "2s").Should(BeClosed())
		history.Close()
		os.RemoveAll(tmpDir)
	})

	addSchedule := func(persist bool) domain.Schedule {
		now := time.Now()
		sched, err := store.Add(domain.Schedule{
			StartTime:   now.Format("15:04"),
			EndTime:     now.Add(30 * time.Minute).Format("15:04"),
			Enabled:     true,
			Persist:     persist,
			BlockedApps: []string{"dota2"},
		})
		Expect(err).NotTo(HaveOccurred())
		return sched
	}

	recordedOutcomes := func() []string {
		ctx, cancelList := context.WithTimeout(context.Background(), time.Second)
		defer cancelList()
		entries, err := history.List(ctx, 10)
		if err != nil {
			return nil
		}
		outcomes := make([]string, 0, len(entries))
		for _, e := range entries {
			outcomes = append(outcomes, e.Outcome)
		}
		return outcomes
	}

	Describe("liveness", func() {
		It("publishes its pid with no active lockout", func() {
			Eventually(func() (*domain.DaemonState, error) {
				return infra.ReadState(statePth)
			}, "2s").ShouldNot(BeNil())

			state, err := infra.ReadState(statePth)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.PID).To(Equal(os.Getpid()))
			Expect(state.ActiveLockout).To(BeNil())
		})
	})

	Describe("schedule activation", func() {
		Context("when a one-time schedule reaches its window", func() {
			It("starts a session and removes the schedule after completion", func() {
				sched := addSchedule(false)

				Eventually(session.startCount, "2s").Should(Equal(1))
				Expect(session.lastStart().BlockedApps).To(Equal([]string{"dota2"}))

				// The published state reflects the bound schedule.
				Eventually(func() string {
					state, err := infra.ReadState(statePth)
					if err != nil || state.ActiveLockout == nil {
						return ""
					}
					return state.ActiveLockout.ScheduleID
				}, "2s").Should(Equal(sched.ID.String()))

				session.setPhase(domain.PhaseIdle)

				Eventually(func() *domain.Schedule {
					fresh := infra.NewFileScheduleStore(filepath.Join(tmpDir, "schedules.json"), logger)
					_ = fresh.Reload()
					return fresh.Get(sched.ID.String())
				}, "2s").Should(BeNil())

				Eventually(recordedOutcomes, "2s").Should(ContainElement("completed"))
			})
		})
	})

	Describe("stop command", func() {
		Context("for a persistent schedule", func() {
			It("goes idle and skips the schedule for today", func() {
				sched := addSchedule(true)
				Eventually(session.startCount, "2s").Should(Equal(1))
				session.setPhase(domain.PhaseLocked)

				err := inbox.Submit(domain.Command{
					Kind:         domain.CommandStopLockout,
					ScheduleID:   sched.ID.String(),
					IsPersistent: true,
				})
				Expect(err).NotTo(HaveOccurred())

				Eventually(func() domain.Phase {
					return session.Status().Phase
				}, "2s").Should(Equal(domain.PhaseIdle))

				today := time.Now().Format(time.DateOnly)
				Eventually(func() []string {
					fresh := infra.NewFileScheduleStore(filepath.Join(tmpDir, "schedules.json"), logger)
					_ = fresh.Reload()
					stored := fresh.Get(sched.ID.String())
					if stored == nil {
						return nil
					}
					return stored.SkippedDates
				}, "2s").Should(ContainElement(today))

				Eventually(recordedOutcomes, "2s").Should(ContainElement("stopped"))

				// The skipped schedule must not be restarted.
				Consistently(session.startCount, "200ms").Should(Equal(1))
			})
		})
	})

	Describe("instant command", func() {
		It("starts a session with the requested shape", func() {
			err := inbox.Submit(domain.Command{
				Kind:            domain.CommandStartInstant,
				DurationMinutes: 600,
				BlockOnly:       true,
			})
			Expect(err).NotTo(HaveOccurred())

			Eventually(session.startCount, "2s").Should(Equal(1))
			cfg := session.lastStart()
			Expect(cfg.BlockOnly).To(BeTrue())
			Expect(cfg.Duration).To(Equal(480 * time.Minute))
			// No per-command apps, so the configured defaults apply.
			Expect(cfg.BlockedApps).To(Equal([]string{"steam"}))

			// The command file is consumed.
			_, err = os.Stat(filepath.Join(tmpDir, "command.json"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})
})
