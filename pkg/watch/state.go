package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateFileName = "watch_state.json"

// TaskState contains the last run information for one periodic task
type TaskState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	ItemsProcessed int       `json:"items_processed"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// WatchState contains the persistent state for the watch scheduler
type WatchState struct {
	Tasks     map[string]TaskState `json:"tasks"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// StateManager handles persisting and loading watch state, so restarting the
// process does not immediately re-run every periodic task
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a new state manager
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state: WatchState{
			Tasks: make(map[string]TaskState),
		},
	}
}

// Load loads the state from disk
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No state file yet, start fresh
			m.state = WatchState{
				Tasks: make(map[string]TaskState),
			}
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	if m.state.Tasks == nil {
		m.state.Tasks = make(map[string]TaskState)
	}

	return nil
}

// Save saves the state to disk
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	// Ensure state directory exists
	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(m.statePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

// GetTaskState returns the state for a specific task
func (m *StateManager) GetTaskState(taskKey string) (TaskState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Tasks[taskKey]
	return state, ok
}

// UpdateTaskState updates the state for a specific task
func (m *StateManager) UpdateTaskState(taskKey string, success bool, itemsProcessed int, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Tasks[taskKey] = TaskState{
		LastRunTime:    time.Now(),
		LastRunSuccess: success,
		ItemsProcessed: itemsProcessed,
		ErrorMessage:   errorMsg,
	}
}

// ShouldRun checks if a task should run based on its interval
func (m *StateManager) ShouldRun(taskKey string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Tasks[taskKey]
	if !ok {
		// Never run before, should run now
		return true
	}

	// Check if enough time has passed since last run
	return time.Since(state.LastRunTime) >= interval
}

// GetNextRunTime returns when the task should next run
func (m *StateManager) GetNextRunTime(taskKey string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Tasks[taskKey]
	if !ok {
		return time.Now()
	}

	return state.LastRunTime.Add(interval)
}

// GetAllTaskStates returns all task states
func (m *StateManager) GetAllTaskStates() map[string]TaskState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy
	result := make(map[string]TaskState, len(m.state.Tasks))
	for k, v := range m.state.Tasks {
		result[k] = v
	}
	return result
}
