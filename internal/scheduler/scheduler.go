// Package scheduler runs periodic ticks one at a time per instance key.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrDuplicateKey = errors.New("instance key already registered")
	ErrUnknownKey   = errors.New("instance key not registered")
	ErrStopped      = errors.New("scheduler stopped")
)

// Task is one tick of a strategy instance.
type Task func(ctx context.Context) error

// job owns the single worker goroutine of one instance key.
type job struct {
	key      string
	task     Task
	entryID  cron.EntryID
	trigger  chan struct{} // capacity 1: at most one queued tick
	stopChan chan struct{}
	done     chan struct{}
}

// Scheduler triggers registered tasks on an interval. The cron trigger
// only enqueues; each key's worker drains its queue serially, so ticks of
// one key never overlap.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*job
	ctx     context.Context
	logger  *zap.Logger
	started bool
	stopped bool
}

// New creates a Scheduler. Ticks receive ctx.
func New(ctx context.Context, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		logger: logger,
	}
}

// Register adds a task for key that runs every interval. The first tick
// is queued immediately.
func (s *Scheduler) Register(key string, interval time.Duration, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.jobs[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	j := &job{
		key:      key,
		task:     task,
		trigger:  make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	j.entryID = s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() { s.enqueue(j) }))
	s.jobs[key] = j

	go s.workerLoop(j)
	s.enqueue(j)

	s.logger.Sugar().Infof("Scheduled instance %s every %s.", key, interval)
	return nil
}

// Start begins firing interval triggers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Sugar().Info("Scheduler started.")
}

// Trigger queues a tick for key outside the interval. It reports false
// when a tick is already queued.
func (s *Scheduler) Trigger(key string) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[key]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return s.enqueue(j), nil
}

// Unregister stops the triggers of key and waits for its in-flight tick.
func (s *Scheduler) Unregister(key string) error {
	s.mu.Lock()
	j, ok := s.jobs[key]
	if ok {
		delete(s.jobs, key)
		s.cron.Remove(j.entryID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	close(j.stopChan)
	<-j.done
	return nil
}

// Stop halts all triggers and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	<-s.cron.Stop().Done()
	jobs := make([]*job, 0, len(s.jobs))
	for key, j := range s.jobs {
		jobs = append(jobs, j)
		delete(s.jobs, key)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		close(j.stopChan)
	}
	for _, j := range jobs {
		<-j.done
	}
	s.logger.Sugar().Info("Scheduler stopped.")
}

// enqueue never blocks; a tick already waiting absorbs the new trigger.
func (s *Scheduler) enqueue(j *job) bool {
	select {
	case j.trigger <- struct{}{}:
		return true
	default:
		s.logger.Sugar().Debugf("Tick for %s already queued, skipping trigger.", j.key)
		return false
	}
}

// workerLoop is the only goroutine that runs ticks for its key.
func (s *Scheduler) workerLoop(j *job) {
	defer close(j.done)
	for {
		select {
		case <-j.stopChan:
			return
		default:
		}
		select {
		case <-j.trigger:
			s.runTick(j)
		case <-j.stopChan:
			return
		}
	}
}

func (s *Scheduler) runTick(j *job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Sugar().Errorf("Tick for %s panicked: %v", j.key, r)
		}
	}()
	if err := j.task(s.ctx); err != nil {
		s.logger.Sugar().Errorf("Tick for %s failed after %s: %v", j.key, time.Since(start), err)
		return
	}
	s.logger.Sugar().Debugf("Tick for %s finished in %s.", j.key, time.Since(start))
}
