package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sellerpulse/backend/internal/logger"
)

// ScheduleTime is a time of day, in UTC, at which the scheduler fires.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}
	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}
	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// Config configures a Scheduler.
type Config struct {
	ScheduleTimes []string
	WorkerCount   int
	QueueSize     int
	JobTimeout    time.Duration
	RunOnStartup  bool
	JobProvider   func(context.Context) ([]Job, error)
	Now           func() time.Time
}

// Scheduler submits the provider's jobs to a worker pool at fixed times of
// day.
type Scheduler struct {
	workerPool    *WorkerPool
	scheduleTimes []ScheduleTime
	runOnStartup  bool
	jobProvider   func(context.Context) ([]Job, error)
	now           func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun string
	mu      sync.Mutex
}

// NewScheduler validates the schedule and builds the pool.
func NewScheduler(cfg Config) (*Scheduler, error) {
	times := make([]ScheduleTime, 0, len(cfg.ScheduleTimes))
	for _, s := range cfg.ScheduleTimes {
		st, err := ParseScheduleTime(s)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", s, err)
		}
		times = append(times, st)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("at least one schedule time is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		workerPool:    NewWorkerPool(context.Background(), cfg.WorkerCount, cfg.JobTimeout, cfg.QueueSize),
		scheduleTimes: times,
		runOnStartup:  cfg.RunOnStartup,
		jobProvider:   cfg.JobProvider,
		now:           cfg.Now,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the pool and the schedule loop.
func (s *Scheduler) Start() {
	s.workerPool.Start()

	if s.runOnStartup {
		logger.Info("🕑 Scheduler: running initial batch on startup")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJobs()
		}()
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	logger.Info("🕑 Scheduler started, runs at %v UTC (next %s)", s.scheduleTimes, s.NextRun().Format(time.RFC3339))
}

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if now := s.now(); s.shouldRun(now) {
				logger.Info("🕑 Scheduler: triggered at %s UTC", now.UTC().Format("15:04"))
				s.runJobs()
			}
		}
	}
}

// shouldRun reports whether now matches a schedule time that has not
// already fired this minute.
func (s *Scheduler) shouldRun(now time.Time) bool {
	now = now.UTC()
	key := now.Format("2006-01-02-15:04")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRun == key {
		return false
	}
	for _, st := range s.scheduleTimes {
		if now.Hour() == st.Hour && now.Minute() == st.Minute {
			s.lastRun = key
			return true
		}
	}
	return false
}

func (s *Scheduler) runJobs() {
	if s.jobProvider == nil {
		logger.Warn("Scheduler: no job provider configured")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		logger.Error("Scheduler: failed to fetch jobs: %v", err)
		return
	}
	if len(jobs) == 0 {
		logger.Info("Scheduler: no jobs to process")
		return
	}
	s.workerPool.SubmitBatch(jobs)
}

// TriggerNow runs the provider immediately.
func (s *Scheduler) TriggerNow() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJobs()
	}()
}

// NextRun returns the next scheduled fire time after now.
func (s *Scheduler) NextRun() time.Time {
	now := s.now().UTC()
	var next time.Time
	for _, st := range s.scheduleTimes {
		t := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, time.UTC)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// Shutdown stops the loop, then drains the pool within timeout.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	logger.Info("Scheduler: shutting down...")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("Scheduler: timeout waiting for schedule loop to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)
	logger.Info("Scheduler: shutdown complete")
}
