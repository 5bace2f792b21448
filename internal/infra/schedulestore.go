package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lmout/internal/domain"
	"lmout/internal/timeutil"
)

// FileScheduleStore implements domain.ScheduleStore on a JSON array
// file. Every mutation rewrites the whole file atomically (temp file +
// rename); loads are skipped while the file's mtime is unchanged.
type FileScheduleStore struct {
	mu        sync.Mutex
	path      string
	schedules []domain.Schedule
	lastMtime time.Time
	haveMtime bool
	logger    *zap.Logger
}

// NewFileScheduleStore creates a store backed by path and performs an
// initial load. A corrupt or missing file is not an error: the store
// starts empty.
func NewFileScheduleStore(path string, logger *zap.Logger) *FileScheduleStore {
	s := &FileScheduleStore{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		logger.Error("failed to load schedules", zap.Error(err))
	}
	return s
}

// Reload re-reads the backing file if it changed on disk. Corrupt
// content is discarded in favor of an empty list.
func (s *FileScheduleStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

func (s *FileScheduleStore) reloadLocked() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.schedules = nil
			s.haveMtime = false
			return nil
		}
		return err
	}

	if s.haveMtime && info.ModTime().Equal(s.lastMtime) {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var schedules []domain.Schedule
	if err := json.Unmarshal(data, &schedules); err != nil {
		s.logger.Error("schedules file is corrupt, starting empty", zap.Error(err))
		s.schedules = nil
		s.lastMtime = info.ModTime()
		s.haveMtime = true
		return nil
	}

	s.schedules = schedules
	s.lastMtime = info.ModTime()
	s.haveMtime = true
	return nil
}

// Add validates the time strings, assigns a fresh id and persists.
func (s *FileScheduleStore) Add(def domain.Schedule) (domain.Schedule, error) {
	if _, _, _, err := timeutil.Range(def.StartTime, def.EndTime, time.Now()); err != nil {
		return domain.Schedule{}, fmt.Errorf("invalid schedule times: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	def.ID = uuid.New()
	if def.BlockedApps == nil {
		def.BlockedApps = []string{}
	}
	if def.SkippedDates == nil {
		def.SkippedDates = []string{}
	}
	s.schedules = append(s.schedules, def)

	if err := s.saveLocked(); err != nil {
		return domain.Schedule{}, err
	}
	return def, nil
}

// Remove deletes the schedule whose id matches in string form.
func (s *FileScheduleStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.schedules[:0]
	for _, sched := range s.schedules {
		if sched.ID.String() != id {
			kept = append(kept, sched)
		}
	}
	s.schedules = kept
	return s.saveLocked()
}

// Update replaces the schedule with a matching id in place.
func (s *FileScheduleStore) Update(def domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sched := range s.schedules {
		if sched.ID == def.ID {
			s.schedules[i] = def
			break
		}
	}
	return s.saveLocked()
}

// SkipToday adds now's date to the schedule's skip set if absent.
func (s *FileScheduleStore) SkipToday(id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := now.Format(time.DateOnly)
	for i, sched := range s.schedules {
		if sched.ID.String() != id {
			continue
		}
		if sched.SkippedToday(now) {
			return nil
		}
		s.schedules[i].SkippedDates = append(sched.SkippedDates, today)
		s.logger.Info("schedule skipped for today", zap.String("schedule_id", id))
		return s.saveLocked()
	}
	return nil
}

// Get returns a copy of the schedule with the given id, or nil.
func (s *FileScheduleStore) Get(id string) *domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sched := range s.schedules {
		if sched.ID.String() == id {
			found := sched
			return &found
		}
	}
	return nil
}

// All returns a copy of every stored schedule, in file order.
func (s *FileScheduleStore) All() []domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Schedule(nil), s.schedules...)
}

// ListDue returns enabled, non-skipped schedules paired with their
// activation timing, sorted ascending by delay. Schedules whose time
// strings fail to parse are excluded silently.
func (s *FileScheduleStore) ListDue(now time.Time) []domain.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []domain.Candidate
	for _, sched := range s.schedules {
		if !sched.Enabled || sched.SkippedToday(now) {
			continue
		}
		delay, remaining, total, err := timeutil.Range(sched.StartTime, sched.EndTime, now)
		if err != nil {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Schedule:  sched,
			Delay:     delay,
			Remaining: remaining,
			Total:     total,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Delay < candidates[j].Delay
	})
	return candidates
}

// saveLocked rewrites the whole file atomically. Past skip dates are
// pruned on the way out; they are never consulted once stale.
func (s *FileScheduleStore) saveLocked() error {
	today := time.Now().Format(time.DateOnly)
	for i := range s.schedules {
		s.schedules[i].SkippedDates = pruneOldDates(s.schedules[i].SkippedDates, today)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	out := s.schedules
	if out == nil {
		out = []domain.Schedule{}
	}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if info, err := os.Stat(s.path); err == nil {
		s.lastMtime = info.ModTime()
		s.haveMtime = true
	}
	return nil
}

// pruneOldDates keeps today and any future entries (ISO dates sort
// lexicographically).
func pruneOldDates(dates []string, today string) []string {
	kept := dates[:0]
	for _, d := range dates {
		if d >= today {
			kept = append(kept, d)
		}
	}
	return kept
}

var _ domain.ScheduleStore = (*FileScheduleStore)(nil)
