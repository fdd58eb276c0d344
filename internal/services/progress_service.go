// internal/services/progress_service.go
package services

import (
	"fmt"
	"sync"
	"time"
)

// Run states reported to progress subscribers.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ProgressUpdate is one progress notification.
type ProgressUpdate struct {
	Progress int    `json:"progress"` // 0-100
	Stage    string `json:"stage,omitempty"`
	Message  string `json:"message"`
	Status   string `json:"status"`
}

// ProgressTracker follows one long-running batch run.
type ProgressTracker struct {
	TaskID      string
	Progress    int
	Stage       string
	Message     string
	Status      string
	StartTime   time.Time
	UpdateTime  time.Time
	Subscribers map[chan ProgressUpdate]bool
	Done        chan struct{}
	mutex       sync.Mutex
}

// ProgressService owns every tracker.
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker registers a tracker for taskID, returning the existing one
// when the id is already known.
func (s *ProgressService) CreateTracker(taskID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	now := time.Now()
	tracker := &ProgressTracker{
		TaskID:      taskID,
		Message:     "queued",
		Status:      StatusRunning,
		StartTime:   now,
		UpdateTime:  now,
		Subscribers: make(map[chan ProgressUpdate]bool),
		Done:        make(chan struct{}),
	}

	s.trackers[taskID] = tracker
	return tracker
}

func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// snapshot must be called with t.mutex held.
func (t *ProgressTracker) snapshot() ProgressUpdate {
	return ProgressUpdate{
		Progress: t.Progress,
		Stage:    t.Stage,
		Message:  t.Message,
		Status:   t.Status,
	}
}

// broadcast must be called with t.mutex held. Slow subscribers miss updates
// rather than stall the run.
func (t *ProgressTracker) broadcast() {
	update := t.snapshot()
	for subscriber := range t.Subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
}

// Snapshot returns the current state.
func (t *ProgressTracker) Snapshot() ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.snapshot()
}

// UpdateProgress moves the tracker forward. Progress never goes back and
// updates after the run finished are ignored.
func (t *ProgressTracker) UpdateProgress(progress int, stage, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != StatusRunning {
		return
	}
	if progress > t.Progress {
		t.Progress = min(progress, 99)
	}
	if stage != "" {
		t.Stage = stage
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()
	t.broadcast()
}

func (t *ProgressTracker) finish(status string, progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != StatusRunning {
		return
	}
	t.Status = status
	t.Progress = progress
	t.Message = message
	t.UpdateTime = time.Now()
	t.broadcast()
	close(t.Done)
}

// Complete marks the run finished.
func (t *ProgressTracker) Complete(message string) {
	if message == "" {
		message = "run completed"
	}
	t.finish(StatusCompleted, 100, message)
}

// Fail marks the run failed.
func (t *ProgressTracker) Fail(errorMsg string) {
	t.finish(StatusFailed, t.currentProgress(), fmt.Sprintf("run failed: %s", errorMsg))
}

// Cancel marks the run cancelled.
func (t *ProgressTracker) Cancel(message string) {
	if message == "" {
		message = "run cancelled"
	}
	t.finish(StatusCancelled, t.currentProgress(), message)
}

func (t *ProgressTracker) currentProgress() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.Progress
}

// Subscribe returns a channel that first receives the current state, then
// every later update. Buffered so a slow reader only drops updates.
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan ProgressUpdate, 10)
	t.Subscribers[subscriber] = true
	subscriber <- t.snapshot()

	return subscriber
}

func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Subscribers[subscriber] {
		delete(t.Subscribers, subscriber)
		close(subscriber)
	}
}

// CleanupCompletedTasks drops finished trackers idle for longer than maxAge.
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		finished := tracker.Status != StatusRunning
		isOld := now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if finished && isOld {
			delete(s.trackers, id)
			removed++
		}
	}
	return removed
}
