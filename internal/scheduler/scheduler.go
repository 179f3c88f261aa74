// Package scheduler runs the storage engine's periodic maintenance tasks
// (search index rebuilds, registry verification) on cron schedules, with a
// persisted run history.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openpress/pubstore/internal/config"
)

// Scheduler manages scheduled maintenance execution.
type Scheduler struct {
	events         []config.MaintenanceEvent
	maxConcurrent  int
	tasks          map[string]TaskFunc
	cron           *cron.Cron
	history        map[string]*TaskHistory
	historyPath    string
	runningEvents  map[string]bool
	mu             sync.RWMutex
	concurrencySem chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewScheduler creates a maintenance scheduler. tasks maps the task names
// referenced from config to their implementations.
func NewScheduler(cfg config.EngineConfig, historyPath string, tasks map[string]TaskFunc) *Scheduler {
	maxConcurrent := cfg.MaxConcurrentTasks
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}

	history, err := LoadHistory(historyPath)
	if err != nil {
		log.Printf("WARN: Failed to load maintenance history from %s: %v", historyPath, err)
		history = make(map[string]*TaskHistory)
	}

	return &Scheduler{
		events:         cfg.Maintenance,
		maxConcurrent:  maxConcurrent,
		tasks:          tasks,
		history:        history,
		historyPath:    historyPath,
		runningEvents:  make(map[string]bool),
		concurrencySem: make(chan struct{}, maxConcurrent),
	}
}

// Start begins the scheduler and blocks until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	s.cron = cron.New(cron.WithSeconds())

	enabledCount := 0
	for _, event := range s.events {
		if !event.Enabled {
			continue
		}
		if _, ok := s.tasks[event.Task]; !ok {
			log.Printf("ERROR: Maintenance event '%s' (%s) references unknown task %q", event.ID, event.Name, event.Task)
			continue
		}
		if err := s.scheduleEvent(event); err != nil {
			log.Printf("ERROR: Failed to schedule maintenance event '%s' (%s): %v", event.ID, event.Name, err)
		} else {
			enabledCount++
			log.Printf("INFO: Maintenance event '%s' (%s) scheduled: %s", event.ID, event.Name, event.Schedule)
		}
	}

	if enabledCount == 0 {
		log.Printf("WARN: No enabled maintenance events to schedule")
		return
	}

	s.cron.Start()
	log.Printf("INFO: Maintenance scheduler running with %d enabled events (max concurrent: %d)",
		enabledCount, s.maxConcurrent)

	<-s.ctx.Done()

	log.Printf("INFO: Maintenance scheduler stopping...")
	s.Stop()
}

// Stop gracefully stops the scheduler and persists the run history.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		<-cronCtx.Done()
		log.Printf("INFO: All scheduled maintenance completed")
	}

	if err := SaveHistory(s.historyPath, s.GetHistory()); err != nil {
		log.Printf("ERROR: Failed to save maintenance history: %v", err)
	} else {
		log.Printf("INFO: Maintenance history saved to %s", s.historyPath)
	}
}

// scheduleEvent registers an event with the cron scheduler.
func (s *Scheduler) scheduleEvent(event config.MaintenanceEvent) error {
	_, err := s.cron.AddFunc(event.Schedule, func() {
		s.runEventWithConcurrency(event)
	})
	return err
}

// runEventWithConcurrency executes an event with concurrency control.
func (s *Scheduler) runEventWithConcurrency(event config.MaintenanceEvent) {
	s.mu.Lock()
	if s.runningEvents[event.ID] {
		s.mu.Unlock()
		log.Printf("WARN: Maintenance event '%s' (%s) skipped: already running", event.ID, event.Name)
		return
	}
	s.mu.Unlock()

	select {
	case s.concurrencySem <- struct{}{}:
		defer func() { <-s.concurrencySem }()
	default:
		log.Printf("WARN: Maintenance event '%s' (%s) skipped: max concurrent tasks reached (%d)",
			event.ID, event.Name, s.maxConcurrent)
		return
	}

	s.mu.Lock()
	s.runningEvents[event.ID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.runningEvents, event.ID)
		s.mu.Unlock()
	}()

	result := s.runEvent(s.ctx, event)
	s.updateHistory(event, result)
}

// runEvent runs one maintenance task and returns its result.
func (s *Scheduler) runEvent(ctx context.Context, event config.MaintenanceEvent) TaskResult {
	result := TaskResult{
		EventID:   event.ID,
		StartTime: time.Now(),
	}

	log.Printf("INFO: Maintenance event '%s' (%s) started", event.ID, event.Name)

	taskCtx := ctx
	var cancel context.CancelFunc
	if event.TimeoutSeconds > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, time.Duration(event.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	task := s.tasks[event.Task]
	err := task(taskCtx)
	result.EndTime = time.Now()
	result.Success = err == nil
	result.Error = err

	if err != nil {
		log.Printf("ERROR: Maintenance event '%s' (%s) failed after %s: %v",
			event.ID, event.Name, result.EndTime.Sub(result.StartTime), err)
	} else {
		log.Printf("INFO: Maintenance event '%s' (%s) completed in %s",
			event.ID, event.Name, result.EndTime.Sub(result.StartTime))
	}
	return result
}

// RunNow executes a single named task immediately, outside any schedule.
func (s *Scheduler) RunNow(ctx context.Context, taskName string) error {
	task, ok := s.tasks[taskName]
	if !ok {
		return fmt.Errorf("unknown maintenance task %q", taskName)
	}
	return task(ctx)
}

// updateHistory folds a result into the persisted run history.
func (s *Scheduler) updateHistory(event config.MaintenanceEvent, result TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.history[event.ID]
	if !ok {
		h = &TaskHistory{EventID: event.ID}
		s.history[event.ID] = h
	}
	h.LastRun = result.StartTime
	h.LastDuration = result.EndTime.Sub(result.StartTime).Milliseconds()
	h.RunCount++
	if result.Success {
		h.LastStatus = "success"
		h.SuccessCount++
	} else {
		h.LastStatus = "failure"
		if errors.Is(result.Error, context.DeadlineExceeded) {
			h.LastStatus = "timeout"
		}
		h.FailureCount++
	}
}

// GetHistory returns a copy of the current run history.
func (s *Scheduler) GetHistory() map[string]*TaskHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	historyCopy := make(map[string]*TaskHistory)
	for k, v := range s.history {
		hCopy := *v
		historyCopy[k] = &hCopy
	}
	return historyCopy
}
