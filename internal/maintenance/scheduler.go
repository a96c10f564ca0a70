package maintenance

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler manages and executes maintenance tasks on a schedule
type Scheduler struct {
	config  Config
	cron    *cron.Cron
	tasks   map[string]Task
	entries map[string]cron.EntryID
	status  map[string]TaskStatus
	mu      sync.RWMutex
	running bool
	logger  *log.Logger
}

// NewScheduler creates a new maintenance scheduler
func NewScheduler(config Config, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}

	return &Scheduler{
		config:  config,
		cron:    cron.New(),
		tasks:   make(map[string]Task),
		entries: make(map[string]cron.EntryID),
		status:  make(map[string]TaskStatus),
		logger:  logger,
	}
}

// RegisterTask registers a maintenance task with the scheduler
func (s *Scheduler) RegisterTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := task.Name()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("task %s already registered", name)
	}
	s.tasks[name] = task
	s.status[name] = TaskStatus{
		Name:        name,
		Description: task.Description(),
		Schedule:    s.config.Schedule,
	}

	s.logger.Printf("[Maintenance] Registered task: %s", name)
	return nil
}

// Start begins the maintenance scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if !s.config.Enabled {
		s.logger.Println("[Maintenance] Scheduler disabled in configuration")
		return nil
	}

	for name, task := range s.tasks {
		id, err := s.cron.AddFunc(s.config.Schedule, func() {
			s.executeTask(context.Background(), name, task)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", name, err)
		}
		s.entries[name] = id
		s.logger.Printf("[Maintenance] Scheduled task %s with schedule: %s", name, s.config.Schedule)
	}

	s.cron.Start()
	s.running = true

	for name, id := range s.entries {
		status := s.status[name]
		status.NextRun = s.cron.Entry(id).Next
		s.status[name] = status
	}

	s.logger.Printf("[Maintenance] Scheduler started with %d tasks", len(s.tasks))
	return nil
}

// Stop stops the maintenance scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	ctx := s.cron.Stop()
	s.running = false
	s.mu.Unlock()

	// Running tasks update status under the lock, so wait without it.
	select {
	case <-ctx.Done():
		s.logger.Println("[Maintenance] Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Println("[Maintenance] Scheduler stop timed out")
	}

	return nil
}

// RunNow executes all maintenance tasks immediately, in name order.
func (s *Scheduler) RunNow(ctx context.Context) map[string]TaskResult {
	s.mu.RLock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	s.logger.Printf("[Maintenance] Running %d tasks immediately", len(names))

	results := make(map[string]TaskResult, len(names))
	for _, name := range names {
		result, _ := s.RunTask(ctx, name)
		results[name] = result
	}
	return results
}

// RunTask executes a specific maintenance task by name
func (s *Scheduler) RunTask(ctx context.Context, taskName string) (TaskResult, error) {
	s.mu.RLock()
	task, exists := s.tasks[taskName]
	s.mu.RUnlock()

	if !exists {
		return TaskResult{}, fmt.Errorf("task %s not found", taskName)
	}

	return s.executeTask(ctx, taskName, task), nil
}

// GetStatus returns the current status of all maintenance tasks
func (s *Scheduler) GetStatus() map[string]TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := make(map[string]TaskStatus, len(s.status))
	for name, stat := range s.status {
		status[name] = stat
	}

	return status
}

// IsRunning returns true if the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// executeTask runs a single maintenance task and updates its status
func (s *Scheduler) executeTask(ctx context.Context, name string, task Task) TaskResult {
	s.logger.Printf("[Maintenance] Starting task: %s", name)

	start := time.Now()
	result := task.Execute(ctx)
	result.Duration = time.Since(start)

	s.mu.Lock()
	status := s.status[name]
	status.LastRun = start
	status.LastResult = result
	if id, ok := s.entries[name]; ok && s.running {
		status.NextRun = s.cron.Entry(id).Next
	}
	s.status[name] = status
	s.mu.Unlock()

	if result.Success {
		s.logger.Printf("[Maintenance] Task %s completed in %v: %s", name, result.Duration, result.Message)
		if result.SpaceReclaimed > 0 {
			s.logger.Printf("[Maintenance] Task %s reclaimed %d bytes", name, result.SpaceReclaimed)
		}
	} else {
		s.logger.Printf("[Maintenance] Task %s failed after %v: %s", name, result.Duration, result.Message)
		if result.Error != nil {
			s.logger.Printf("[Maintenance] Task %s error: %v", name, result.Error)
		}
	}
	return result
}
