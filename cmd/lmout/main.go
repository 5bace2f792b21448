// Package main is the CLI entry point for lmout.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lmout/internal/config"
	"lmout/internal/daemon"
	"lmout/internal/domain"
	"lmout/internal/infra"
	"lmout/internal/timeutil"
	"lmout/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	lockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lmout",
	Short: "Lock me out - schedules screen lockouts and blocks apps",
	Long: `lmout schedules time-boxed lockout sessions on your workstation.
When a session activates it kills the apps you told it to block and
keeps the screen locked until the window ends.

The daemon ('lmout run', usually under a systemd user unit) owns the
sessions; every other command just edits schedules or talks to it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a lockout schedule",
	Long: `Adds a schedule with a daily start and end time. Times accept
24-hour (20:00) and 12-hour (8pm, 8:30pm) forms. An end time at or
before the start time wraps past midnight.`,
	RunE: runAdd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE:  runList,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an instant lockout",
	Long: `Starts an ad-hoc lockout session. When the daemon is running the
request is handed to it; otherwise the session runs in the foreground
until it finishes or you press Ctrl-C.`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active lockout",
	Long: `Asks the daemon to stop the active session. A persistent schedule
is skipped for the rest of today so it does not re-activate.`,
	RunE: runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and session status",
	RunE:  runStatus,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
	Long: `Without flags, prints the effective settings. With flags, updates
config.json and prints the result.`,
	RunE: runConfig,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent lockout sessions",
	RunE:  runHistory,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Runs the reconciliation loop until interrupted. This is what the
systemd unit installed by 'lmout install' executes.`,
	RunE: runDaemon,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the systemd user unit",
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the systemd user unit",
	RunE:  runUninstall,
}

var (
	flagDataDir string
	flagVerbose bool

	addStart       string
	addEnd         string
	addDescription string
	addPersist     bool
	addDisabled    bool
	addApps        []string
	addBlockOnly   bool

	startDelayMins    int
	startDurationMins int
	startApps         []string
	startBlockOnly    bool

	cfgLeadMins     int
	cfgMaxMins      int
	cfgApps         []string
	cfgNotifySum    string
	cfgNotifyBody   string
	historyLimit    int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Override the data directory")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose (development) logging")

	addCmd.Flags().StringVar(&addStart, "start", "", "Start time, e.g. 20:00 or 8pm (required)")
	addCmd.Flags().StringVar(&addEnd, "end", "", "End time (required)")
	addCmd.Flags().StringVar(&addDescription, "description", "", "Free-form description")
	addCmd.Flags().BoolVar(&addPersist, "persist", false, "Repeat daily instead of running once")
	addCmd.Flags().BoolVar(&addDisabled, "disabled", false, "Create the schedule disabled")
	addCmd.Flags().StringSliceVar(&addApps, "apps", nil, "Process names to kill (default: configured blocked apps)")
	addCmd.Flags().BoolVar(&addBlockOnly, "block-only", false, "Kill apps without locking the screen")
	_ = addCmd.MarkFlagRequired("start")
	_ = addCmd.MarkFlagRequired("end")

	startCmd.Flags().IntVar(&startDelayMins, "delay", 0, "Minutes before the lockout begins")
	startCmd.Flags().IntVar(&startDurationMins, "duration", 25, "Lockout duration in minutes")
	startCmd.Flags().StringSliceVar(&startApps, "apps", nil, "Process names to kill (default: configured blocked apps)")
	startCmd.Flags().BoolVar(&startBlockOnly, "block-only", false, "Kill apps without locking the screen")

	configCmd.Flags().IntVar(&cfgLeadMins, "notify-lead-minutes", -1, "Minutes of warning before a scheduled lockout")
	configCmd.Flags().IntVar(&cfgMaxMins, "max-duration-minutes", -1, "Upper bound on any lockout duration")
	configCmd.Flags().StringSliceVar(&cfgApps, "blocked-apps", nil, "Default process names to kill")
	configCmd.Flags().StringVar(&cfgNotifySum, "notify-summary", "", "Lead notification summary template ({minutes})")
	configCmd.Flags().StringVar(&cfgNotifyBody, "notify-body", "", "Lead notification body template ({start_time})")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of rows")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}

// loadSettings resolves the effective settings, honoring --data-dir.
func loadSettings() config.Settings {
	if flagDataDir != "" {
		os.Setenv("LMOUT_DATA_DIR", flagDataDir)
	}
	return config.NewLoader(flagDataDir).Load()
}

func newLoader() *config.Loader {
	if flagDataDir != "" {
		os.Setenv("LMOUT_DATA_DIR", flagDataDir)
	}
	return config.NewLoader(flagDataDir)
}

// createLogger builds the daemon logger, writing to the log file under
// the data dir. Falls back to stderr if the file cannot be opened.
func createLogger(settings config.Settings) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if flagVerbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{settings.LogPath()}
	cfg.ErrorOutputPaths = []string{settings.LogPath()}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// cliLogger is for one-shot commands: quiet unless --verbose.
func cliLogger() *zap.Logger {
	if flagVerbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	return zap.NewNop()
}

// daemonPID returns the daemon's pid when it is alive, or 0.
func daemonPID(settings config.Settings) int {
	state, err := infra.ReadState(settings.StatePath())
	if err != nil || state == nil {
		return 0
	}
	if !infra.IsRunning(state.PID) {
		return 0
	}
	return state.PID
}

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == 0 {
				return headerStyle.Copy().Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	return t.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatMinutes(d time.Duration) string {
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func runAdd(cmd *cobra.Command, args []string) error {
	settings := loadSettings()
	store := infra.NewFileScheduleStore(settings.SchedulesPath(), cliLogger())

	sched, err := store.Add(domain.Schedule{
		StartTime:   addStart,
		EndTime:     addEnd,
		Enabled:     !addDisabled,
		Description: addDescription,
		Persist:     addPersist,
		BlockedApps: addApps,
		BlockOnly:   addBlockOnly,
	})
	if err != nil {
		return err
	}

	delay, _, total, err := timeutil.Range(sched.StartTime, sched.EndTime, time.Now())
	if err == nil {
		fmt.Printf("Added schedule %s: next activation in %s, lasting %s.\n",
			shortID(sched.ID.String()), formatMinutes(delay), formatMinutes(total))
	} else {
		fmt.Printf("Added schedule %s.\n", shortID(sched.ID.String()))
	}
	if !sched.Persist {
		fmt.Println(dimStyle.Render("One-time schedule: it is removed after it completes."))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	settings := loadSettings()
	store := infra.NewFileScheduleStore(settings.SchedulesPath(), cliLogger())
	if err := store.Reload(); err != nil {
		return err
	}

	schedules := store.All()
	if len(schedules) == 0 {
		fmt.Println("No schedules. Add one with 'lmout add --start 20:00 --end 21:00'.")
		return nil
	}

	now := time.Now()
	var rows [][]string
	for _, s := range schedules {
		next := "-"
		if delay, _, _, err := timeutil.Range(s.StartTime, s.EndTime, now); err == nil {
			next = formatMinutes(delay)
		}
		switch {
		case !s.Enabled:
			next = "disabled"
		case s.SkippedToday(now):
			next = "skipped today"
		}

		apps := strings.Join(s.BlockedApps, ", ")
		if apps == "" {
			apps = dimStyle.Render("(defaults)")
		}

		mode := "lock"
		if s.BlockOnly {
			mode = "block only"
		}

		repeat := "once"
		if s.Persist {
			repeat = "daily"
		}

		rows = append(rows, []string{
			shortID(s.ID.String()), s.StartTime, s.EndTime,
			next, repeat, mode, apps, s.Description,
		})
	}

	fmt.Println(renderTable(
		[]string{"ID", "START", "END", "NEXT", "REPEAT", "MODE", "APPS", "DESCRIPTION"},
		rows,
	))
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	settings := loadSettings()
	store := infra.NewFileScheduleStore(settings.SchedulesPath(), cliLogger())
	if err := store.Reload(); err != nil {
		return err
	}

	id := resolveScheduleID(store, args[0])
	if id == "" {
		return fmt.Errorf("no schedule matches %q", args[0])
	}
	if err := store.Remove(id); err != nil {
		return err
	}
	fmt.Printf("Removed schedule %s.\n", shortID(id))
	return nil
}

// resolveScheduleID accepts a full id or an unambiguous prefix.
func resolveScheduleID(store *infra.FileScheduleStore, arg string) string {
	var match string
	for _, s := range store.All() {
		id := s.ID.String()
		if id == arg {
			return id
		}
		if strings.HasPrefix(id, arg) {
			if match != "" {
				return "" // ambiguous
			}
			match = id
		}
	}
	return match
}

func runStart(cmd *cobra.Command, args []string) error {
	settings := loadSettings()

	command := domain.Command{
		Kind:            domain.CommandStartInstant,
		DelayMinutes:    startDelayMins,
		DurationMinutes: startDurationMins,
		BlockedApps:     startApps,
		BlockOnly:       startBlockOnly,
	}

	if pid := daemonPID(settings); pid != 0 {
		inbox := infra.NewFileInbox(settings.CommandPath(), infra.DefaultCommandMaxAge, cliLogger())
		if err := inbox.Submit(command); err != nil {
			return fmt.Errorf("submit command: %w", err)
		}
		fmt.Printf("Lockout request sent to the daemon (pid %d). It starts within a few seconds.\n", pid)
		return nil
	}

	fmt.Println("Daemon not running, starting the lockout in the foreground. Ctrl-C cancels.")
	return runForegroundSession(settings, command)
}

// runForegroundSession drives a single session in-process, for use
// when no daemon is available.
func runForegroundSession(settings config.Settings, command domain.Command) error {
	logger := cliLogger()

	apps := command.BlockedApps
	if len(apps) == 0 {
		apps = settings.BlockedApps
	}

	sess := usecase.NewSession(
		infra.NewDesktopNotifier(settings.AppName, logger),
		infra.NewScreenLockManager(logger),
		infra.NewProcessController(),
		logger,
	)
	sess.Start(usecase.SessionConfig{
		Delay:       time.Duration(command.DelayMinutes) * time.Minute,
		Duration:    time.Duration(command.DurationMinutes) * time.Minute,
		BlockedApps: apps,
		BlockOnly:   command.BlockOnly,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nCancelling lockout.")
			sess.Stop()
			return nil
		case <-ticker.C:
			if sess.Status().Phase == domain.PhaseIdle {
				fmt.Println("Lockout finished.")
				return nil
			}
		}
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	settings := loadSettings()

	pid := daemonPID(settings)
	if pid == 0 {
		fmt.Println("Daemon is not running; nothing to stop.")
		return nil
	}

	command := domain.Command{Kind: domain.CommandStopLockout}

	// Attach the schedule context so the daemon can skip a persistent
	// schedule for today instead of restarting it next tick.
	state, err := infra.ReadState(settings.StatePath())
	if err == nil && state != nil && state.ActiveLockout != nil && state.ActiveLockout.ScheduleID != "" {
		command.ScheduleID = state.ActiveLockout.ScheduleID

		store := infra.NewFileScheduleStore(settings.SchedulesPath(), cliLogger())
		if reloadErr := store.Reload(); reloadErr == nil {
			if sched := store.Get(command.ScheduleID); sched != nil {
				command.IsPersistent = sched.Persist
			}
		}
	}

	inbox := infra.NewFileInbox(settings.CommandPath(), infra.DefaultCommandMaxAge, cliLogger())
	if err := inbox.Submit(command); err != nil {
		return fmt.Errorf("submit command: %w", err)
	}

	if command.IsPersistent {
		fmt.Println("Stop request sent. The schedule is skipped for the rest of today.")
	} else {
		fmt.Println("Stop request sent.")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	settings := loadSettings()

	state, err := infra.ReadState(settings.StatePath())
	if err != nil || state == nil || !infra.IsRunning(state.PID) {
		fmt.Println(headerStyle.Render("lmout:"), "not running")
		fmt.Println("Start it with 'lmout run' or install the unit with 'lmout install'.")
		return nil
	}

	fmt.Println(headerStyle.Render("lmout:"), okStyle.Render("running"),
		dimStyle.Render(fmt.Sprintf("(pid %d, updated %s)", state.PID, state.LastUpdate)))

	active := state.ActiveLockout
	if active == nil {
		fmt.Println("No active lockout.")
		return nil
	}

	phase := string(active.CurrentPhase)
	if active.CurrentPhase == domain.PhaseLocked {
		phase = lockedStyle.Render(phase)
	}

	remaining := formatMinutes(time.Duration(active.RemainingSecs) * time.Second)

	rows := [][]string{
		{"Phase", phase},
		{"Source", active.Source},
		{"Remaining", remaining},
		{"Started", active.StartTime},
		{"Duration", fmt.Sprintf("%d min", active.DurationMins)},
		{"Apps", strings.Join(active.BlockedApps, ", ")},
	}
	if active.ScheduleID != "" {
		rows = append(rows, []string{"Schedule", shortID(active.ScheduleID)})
	}
	if active.EndTime != "" {
		rows = append(rows, []string{"Ends", active.EndTime})
	}
	if active.BlockOnly {
		rows = append(rows, []string{"Mode", "block only"})
	}

	fmt.Println(renderTable([]string{"", ""}, rows))
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	settings := loadSettings()

	changed := false
	if cfgLeadMins >= 0 {
		settings.NotifyLeadMinutes = cfgLeadMins
		changed = true
	}
	if cfgMaxMins > 0 {
		settings.MaxDurationMinutes = cfgMaxMins
		changed = true
	}
	if cmd.Flags().Changed("blocked-apps") {
		settings.BlockedApps = cfgApps
		changed = true
	}
	if cfgNotifySum != "" {
		settings.NotifySummary = cfgNotifySum
		changed = true
	}
	if cfgNotifyBody != "" {
		settings.NotifyBody = cfgNotifyBody
		changed = true
	}

	if changed {
		if err := config.Save(settings); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("Settings saved.")
	}

	rows := [][]string{
		{"data_dir", settings.DataDir},
		{"notify_lead_minutes", strconv.Itoa(settings.NotifyLeadMinutes)},
		{"max_duration_minutes", strconv.Itoa(settings.MaxDurationMinutes)},
		{"blocked_apps", strings.Join(settings.BlockedApps, ", ")},
		{"notify_summary", settings.NotifySummary},
		{"notify_body", settings.NotifyBody},
	}
	fmt.Println(renderTable([]string{"SETTING", "VALUE"}, rows))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	settings := loadSettings()

	history, err := infra.OpenHistory(settings.HistoryPath())
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer history.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := history.List(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No lockout sessions recorded yet.")
		return nil
	}

	var rows [][]string
	for _, e := range entries {
		outcome := e.Outcome
		if outcome == "completed" {
			outcome = okStyle.Render(outcome)
		}
		rows = append(rows, []string{
			e.EndedAt.Local().Format("2006-01-02 15:04"),
			e.Source,
			formatMinutes(time.Duration(e.DurationSecs) * time.Second),
			outcome,
			strings.Join(e.BlockedApps, ", "),
		})
	}

	fmt.Println(renderTable([]string{"ENDED", "SOURCE", "DURATION", "OUTCOME", "APPS"}, rows))
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	loader := newLoader()
	settings := loader.Load()

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logger := createLogger(settings)
	defer func() { _ = logger.Sync() }()

	if pid := daemonPID(settings); pid != 0 && pid != os.Getpid() {
		return fmt.Errorf("daemon already running with pid %d", pid)
	}

	session := usecase.NewSession(
		infra.NewDesktopNotifier(settings.AppName, logger),
		infra.NewScreenLockManager(logger),
		infra.NewProcessController(),
		logger,
	)
	store := infra.NewFileScheduleStore(settings.SchedulesPath(), logger)
	inbox := infra.NewFileInbox(settings.CommandPath(), infra.DefaultCommandMaxAge, logger)
	publisher := infra.NewStateWriter(settings.StatePath(), logger)

	var history domain.HistoryStore
	if h, err := infra.OpenHistory(settings.HistoryPath()); err != nil {
		logger.Warn("history store unavailable, sessions will not be recorded", zap.Error(err))
	} else {
		history = h
		defer h.Close()
	}

	d := daemon.New(
		daemon.DefaultConfig(),
		loader,
		store,
		inbox,
		publisher,
		history,
		session,
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("Daemon running (pid %d). Logs: %s\n", os.Getpid(), settings.LogPath())
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	units := infra.NewSystemdUnitManager()
	if units.IsInstalled() {
		fmt.Println("Unit already installed at", units.UnitPath())
		return nil
	}
	if err := units.Install(execPath); err != nil {
		return fmt.Errorf("install unit: %w", err)
	}

	fmt.Println("Installed", units.UnitPath())
	fmt.Println("The daemon starts now and on every login.")
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	units := infra.NewSystemdUnitManager()
	if !units.IsInstalled() {
		fmt.Println("Unit is not installed.")
		return nil
	}
	if err := units.Uninstall(); err != nil {
		return fmt.Errorf("uninstall unit: %w", err)
	}
	fmt.Println("Removed", units.UnitPath())
	return nil
}
