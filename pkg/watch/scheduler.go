// Package watch runs the scanner as a long-lived process: periodic full
// scans, stuck-scan sweeps, and retention purges on independent cadences,
// with run state persisted across restarts.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/config"
	"image-audit/pkg/scan"
	"image-audit/pkg/utils"
)

// Task keys in the persisted watch state
const (
	taskFullScan = "full_scan"
	taskSweep    = "stuck_sweep"
	taskPurge    = "retention_purge"
)

// Scheduler drives the periodic audit tasks
type Scheduler struct {
	cfg          config.AppConfig
	orchestrator *scan.Orchestrator
	log          *logrus.Entry
	stateManager *StateManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new watch scheduler
func NewScheduler(cfg config.AppConfig, orchestrator *scan.Orchestrator, log *logrus.Entry) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		log:          log,
		stateManager: NewStateManager(cfg.StateDir),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Run starts the watch scheduler and blocks until stopped
func (s *Scheduler) Run() error {
	// Load existing state
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.WithFields(logrus.Fields{
		"scan_interval":  s.cfg.ScanInterval.String(),
		"sweep_interval": s.cfg.SweepInterval.String(),
		"purge_interval": s.cfg.PurgeInterval.String(),
	}).Info("Starting watch mode")
	s.logSchedule()

	// Run whatever is already due
	s.runDueTasks()

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.runDueTasks()
		}
	}
}

// Stop stops the watch scheduler
func (s *Scheduler) Stop() {
	s.log.Info("Stopping watch scheduler...")
	s.cancel()
}

// runDueTasks runs every task whose interval has elapsed. The sweep and purge
// are quick and run inline; the full scan runs in a goroutine so shutdown
// stays responsive.
func (s *Scheduler) runDueTasks() {
	if s.stateManager.ShouldRun(taskSweep, s.cfg.SweepInterval) {
		swept, err := s.orchestrator.SweepStuck(s.ctx)
		s.recordTask(taskSweep, swept, err)
	}

	if s.stateManager.ShouldRun(taskPurge, s.cfg.PurgeInterval) {
		err := s.orchestrator.PurgeRetention()
		s.recordTask(taskPurge, 0, err)
	}

	if s.stateManager.ShouldRun(taskFullScan, s.cfg.ScanInterval) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			result, err := s.orchestrator.ScanAll(s.ctx)
			if errors.Is(err, utils.ErrScanInProgress) {
				// Previous run still going; leave its schedule slot alone
				return
			}

			items := 0
			if result != nil {
				items = result.ItemsProcessed
			}
			s.recordTask(taskFullScan, items, err)
			s.logNextRun()
		}()
	}
}

func (s *Scheduler) recordTask(taskKey string, items int, err error) {
	errorMsg := ""
	if err != nil {
		errorMsg = err.Error()
		s.log.WithField("task", taskKey).Warnf("Watch task failed: %v", err)
	}
	s.stateManager.UpdateTaskState(taskKey, err == nil, items, errorMsg)

	if errSave := s.stateManager.Save(); errSave != nil {
		s.log.Errorf("Failed to save watch state: %v", errSave)
	}
}

// calculateTickInterval returns how often to check for due tasks
func (s *Scheduler) calculateTickInterval() time.Duration {
	// Check at least as often as the shortest interval, but no busier than
	// once a second, and at least once a minute regardless
	shortest := s.cfg.ScanInterval
	for _, interval := range []time.Duration{s.cfg.SweepInterval, s.cfg.PurgeInterval} {
		if interval > 0 && interval < shortest {
			shortest = interval
		}
	}
	tick := shortest / 10
	if tick < time.Second {
		tick = time.Second
	}
	if tick > time.Minute {
		tick = time.Minute
	}
	return tick
}

// logSchedule logs the current schedule
func (s *Scheduler) logSchedule() {
	status := s.GetStatus()

	s.log.Info("Watch schedule:")
	for _, key := range []string{taskFullScan, taskSweep, taskPurge} {
		task := status[key]
		if task.NeverRun {
			s.log.Infof("  %s: never run, will run immediately", key)
			continue
		}
		outcome := "success"
		if !task.LastRunSuccess {
			outcome = "failed"
		}
		s.log.Infof("  %s: last run %v (%s), next run %v",
			key,
			task.LastRunTime.Format(time.RFC3339),
			outcome,
			task.NextRunTime.Format(time.RFC3339))
	}
}

// logNextRun logs when the next full scan will occur
func (s *Scheduler) logNextRun() {
	nextRun := s.stateManager.GetNextRunTime(taskFullScan, s.cfg.ScanInterval)
	until := time.Until(nextRun)
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next full scan in %v (at %s)", until.Round(time.Second), nextRun.Format("15:04:05"))
}

// TaskStatus contains the status of one watched task
type TaskStatus struct {
	Task           string
	LastRunTime    time.Time
	LastRunSuccess bool
	ItemsProcessed int
	ErrorMessage   string
	NextRunTime    time.Time
	NeverRun       bool
}

// GetStatus returns the current status of all periodic tasks
func (s *Scheduler) GetStatus() map[string]TaskStatus {
	intervals := map[string]time.Duration{
		taskFullScan: s.cfg.ScanInterval,
		taskSweep:    s.cfg.SweepInterval,
		taskPurge:    s.cfg.PurgeInterval,
	}

	status := make(map[string]TaskStatus, len(intervals))
	for key, interval := range intervals {
		state, exists := s.stateManager.GetTaskState(key)
		status[key] = TaskStatus{
			Task:           key,
			LastRunTime:    state.LastRunTime,
			LastRunSuccess: state.LastRunSuccess,
			ItemsProcessed: state.ItemsProcessed,
			ErrorMessage:   state.ErrorMessage,
			NextRunTime:    s.stateManager.GetNextRunTime(key, interval),
			NeverRun:       !exists,
		}
	}
	return status
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days
func ParseInterval(s string) (time.Duration, error) {
	// Try standard parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	// Check for day suffix
	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
