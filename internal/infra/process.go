// Package infra implements infrastructure concerns (process control,
// notifications, screen locking, file stores).
package infra

import (
	"sort"

	"github.com/shirou/gopsutil/v3/process"

	"lmout/internal/domain"
)

// ProcessControllerImpl implements domain.ProcessController using gopsutil.
type ProcessControllerImpl struct{}

// NewProcessController creates a new process controller.
func NewProcessController() domain.ProcessController {
	return &ProcessControllerImpl{}
}

// Terminate kills every running process whose name exactly matches one
// of names (SIGKILL). Best effort: processes that exit mid-scan or
// deny access are skipped. Returns the distinct names actually killed.
func (pc *ProcessControllerImpl) Terminate(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	killed := make(map[string]bool)
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if !wanted[name] {
			continue
		}
		if err := p.Kill(); err != nil {
			continue
		}
		killed[name] = true
	}

	result := make([]string, 0, len(killed))
	for name := range killed {
		result = append(result, name)
	}
	sort.Strings(result)
	return result, nil
}

// IsRunning checks if a PID exists and is running.
func IsRunning(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Ensure ProcessControllerImpl implements domain.ProcessController.
var _ domain.ProcessController = (*ProcessControllerImpl)(nil)
