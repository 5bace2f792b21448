// Package config loads and persists daemon settings. The Loader hands
// out immutable snapshots and only re-reads config.json when its
// modification time changes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const configFileName = "config.json"

// Settings is an immutable configuration snapshot.
type Settings struct {
	AppName            string   `json:"app_name"`
	DataDir            string   `json:"data_dir"`
	NotifyLeadMinutes  int      `json:"notify_lead_minutes"`
	NotifySummary      string   `json:"notify_summary"`
	NotifyBody         string   `json:"notify_body"`
	BlockedApps        []string `json:"blocked_apps"`
	MaxDurationMinutes int      `json:"max_duration_minutes"`
}

// Default returns the built-in settings with the data dir resolved
// under the user config directory.
func Default() Settings {
	dataDir := "."
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "lmout")
	}
	return Settings{
		AppName:            "lmout",
		DataDir:            dataDir,
		NotifyLeadMinutes:  5,
		NotifySummary:      "Lockout in {minutes} minutes",
		NotifyBody:         "A scheduled lockout will start at {start_time}.",
		BlockedApps:        []string{},
		MaxDurationMinutes: 480,
	}
}

// StartSummary renders the lead notification summary template.
func (s Settings) StartSummary() string {
	return strings.ReplaceAll(s.NotifySummary, "{minutes}", strconv.Itoa(s.NotifyLeadMinutes))
}

// StartBody renders the lead notification body template for a start time.
func (s Settings) StartBody(startTime string) string {
	return strings.ReplaceAll(s.NotifyBody, "{start_time}", startTime)
}

// SchedulesPath is the schedule store file under the data dir.
func (s Settings) SchedulesPath() string { return filepath.Join(s.DataDir, "schedules.json") }

// StatePath is the published daemon status file.
func (s Settings) StatePath() string { return filepath.Join(s.DataDir, "state.json") }

// CommandPath is the command channel file.
func (s Settings) CommandPath() string { return filepath.Join(s.DataDir, "command.json") }

// HistoryPath is the sqlite history database.
func (s Settings) HistoryPath() string { return filepath.Join(s.DataDir, "history.db") }

// LogPath is the daemon log file.
func (s Settings) LogPath() string { return filepath.Join(s.DataDir, "lmout.log") }

// Loader reads settings from config.json in the data dir, applying
// environment overrides. Load is cheap to call every tick: the parsed
// snapshot is cached until the file's mtime changes.
type Loader struct {
	path   string
	cached Settings
	loaded bool
	mtime  time.Time
}

// NewLoader creates a loader rooted at dataDir. An empty dataDir means
// the default data dir, so the loader and Save always agree on where
// config.json lives. A .env file in the working directory is merged
// into the environment once, if present.
func NewLoader(dataDir string) *Loader {
	_ = godotenv.Load()
	if env := os.Getenv("LMOUT_DATA_DIR"); env != "" {
		dataDir = env
	}
	if dataDir == "" {
		dataDir = Default().DataDir
	}
	return &Loader{path: filepath.Join(dataDir, configFileName)}
}

// Load returns the current settings snapshot, re-reading config.json
// only when it changed on disk. A missing or corrupt file yields the
// defaults.
func (l *Loader) Load() Settings {
	info, err := os.Stat(l.path)
	if err != nil {
		l.cached = l.applyEnv(Default())
		l.loaded = true
		l.mtime = time.Time{}
		return l.cached
	}

	if l.loaded && info.ModTime().Equal(l.mtime) {
		return l.cached
	}

	settings := Default()
	data, err := os.ReadFile(l.path)
	if err == nil {
		// Corrupt config is not fatal: fall back to defaults.
		_ = json.Unmarshal(data, &settings)
	}

	l.cached = l.applyEnv(settings)
	l.loaded = true
	l.mtime = info.ModTime()
	return l.cached
}

// applyEnv layers LMOUT_* environment variables over s.
func (l *Loader) applyEnv(s Settings) Settings {
	if v := os.Getenv("LMOUT_DATA_DIR"); v != "" {
		s.DataDir = v
	}
	if v := os.Getenv("LMOUT_NOTIFY_LEAD_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.NotifyLeadMinutes = n
		}
	}
	if v := os.Getenv("LMOUT_MAX_DURATION_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxDurationMinutes = n
		}
	}
	if v := os.Getenv("LMOUT_BLOCKED_APPS"); v != "" {
		var apps []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				apps = append(apps, a)
			}
		}
		s.BlockedApps = apps
	}
	return s
}

// Save persists s to config.json in its data dir using a temp file and
// atomic rename.
func Save(s Settings) error {
	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return err
	}

	path := filepath.Join(s.DataDir, configFileName)
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
