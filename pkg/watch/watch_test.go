package watch

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/config"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1h", time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"2d6h", 54 * time.Hour, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseInterval(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseInterval(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{24 * time.Hour, "1d"},
		{36 * time.Hour, "1d12h"},
		{7 * 24 * time.Hour, "7d"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := FormatInterval(tt.input)
			if got != tt.expected {
				t.Errorf("FormatInterval(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStateManager(t *testing.T) {
	tmpDir := t.TempDir()

	sm := NewStateManager(tmpDir)

	if err := sm.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// A task that never ran is due immediately
	if !sm.ShouldRun(taskFullScan, time.Hour) {
		t.Error("ShouldRun() should return true for a task that never ran")
	}

	sm.UpdateTaskState(taskFullScan, true, 100, "")

	if sm.ShouldRun(taskFullScan, time.Hour) {
		t.Error("ShouldRun() should return false immediately after a run")
	}

	state, ok := sm.GetTaskState(taskFullScan)
	if !ok {
		t.Error("GetTaskState() should return true for a recorded task")
	}
	if !state.LastRunSuccess {
		t.Error("LastRunSuccess should be true")
	}
	if state.ItemsProcessed != 100 {
		t.Errorf("ItemsProcessed = %d, want 100", state.ItemsProcessed)
	}

	if err := sm.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	statePath := filepath.Join(tmpDir, stateFileName)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		t.Error("State file should exist after Save()")
	}

	// A fresh manager picks the saved state back up
	sm2 := NewStateManager(tmpDir)
	if err := sm2.Load(); err != nil {
		t.Fatalf("Load() from saved state failed: %v", err)
	}

	state2, ok := sm2.GetTaskState(taskFullScan)
	if !ok {
		t.Error("GetTaskState() should return true after Load()")
	}
	if state2.ItemsProcessed != 100 {
		t.Errorf("Loaded ItemsProcessed = %d, want 100", state2.ItemsProcessed)
	}
}

func TestStateManagerGetAllTaskStates(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStateManager(tmpDir)
	_ = sm.Load()

	sm.UpdateTaskState(taskFullScan, true, 50, "")
	sm.UpdateTaskState(taskSweep, false, 0, "some error")
	sm.UpdateTaskState(taskPurge, true, 0, "")

	states := sm.GetAllTaskStates()

	if len(states) != 3 {
		t.Errorf("GetAllTaskStates() returned %d states, want 3", len(states))
	}

	if states[taskFullScan].ItemsProcessed != 50 {
		t.Errorf("full scan ItemsProcessed = %d, want 50", states[taskFullScan].ItemsProcessed)
	}

	if states[taskSweep].LastRunSuccess {
		t.Error("sweep LastRunSuccess should be false")
	}

	if states[taskSweep].ErrorMessage != "some error" {
		t.Errorf("sweep ErrorMessage = %q, want 'some error'", states[taskSweep].ErrorMessage)
	}
}

func TestSchedulerGetStatus(t *testing.T) {
	cfg := config.AppConfig{
		StateDir:      t.TempDir(),
		ScanInterval:  time.Hour,
		SweepInterval: 10 * time.Minute,
		PurgeInterval: 24 * time.Hour,
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := NewScheduler(cfg, nil, logrus.NewEntry(logger))
	if err := s.stateManager.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	status := s.GetStatus()
	if len(status) != 3 {
		t.Fatalf("GetStatus() returned %d tasks, want 3", len(status))
	}
	for _, key := range []string{taskFullScan, taskSweep, taskPurge} {
		if !status[key].NeverRun {
			t.Errorf("%s should report NeverRun before any run", key)
		}
	}

	s.stateManager.UpdateTaskState(taskFullScan, false, 25, "budget hit")

	task := s.GetStatus()[taskFullScan]
	if task.NeverRun {
		t.Error("full scan should not report NeverRun after a run")
	}
	if task.LastRunSuccess {
		t.Error("LastRunSuccess should be false for a failed run")
	}
	if task.ItemsProcessed != 25 {
		t.Errorf("ItemsProcessed = %d, want 25", task.ItemsProcessed)
	}
	if task.ErrorMessage != "budget hit" {
		t.Errorf("ErrorMessage = %q, want 'budget hit'", task.ErrorMessage)
	}
	wantNext := task.LastRunTime.Add(cfg.ScanInterval)
	if task.NextRunTime.Sub(wantNext) > time.Millisecond {
		t.Errorf("NextRunTime = %v, want %v", task.NextRunTime, wantNext)
	}
}

func TestStateManagerGetNextRunTime(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStateManager(tmpDir)
	_ = sm.Load()

	interval := time.Hour

	// A never-run task is due now
	nextRun := sm.GetNextRunTime(taskFullScan, interval)
	if time.Since(nextRun) > time.Second {
		t.Error("GetNextRunTime() for a never-run task should be approximately now")
	}

	sm.UpdateTaskState(taskSweep, true, 100, "")
	state, _ := sm.GetTaskState(taskSweep)

	expectedNextRun := state.LastRunTime.Add(interval)
	actualNextRun := sm.GetNextRunTime(taskSweep, interval)

	if actualNextRun.Sub(expectedNextRun) > time.Millisecond {
		t.Errorf("GetNextRunTime() = %v, want %v", actualNextRun, expectedNextRun)
	}
}
