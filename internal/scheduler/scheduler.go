// Package scheduler runs periodic jobs aligned to interval boundaries in a
// fixed time zone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Job is a periodic unit of work. Run receives the tick time in the
// scheduler's location.
type Job struct {
	ID       string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

// JobInfo is a read-only snapshot of a registered job.
type JobInfo struct {
	ID       string
	Interval time.Duration
	LastRun  time.Time
	NextRun  time.Time
	Running  bool
	Skipped  int
}

type Config struct {
	Location   *time.Location
	Resolution time.Duration // tick granularity, default 1s
	Logger     *slog.Logger
}

type Scheduler struct {
	jobs       map[string]*entry
	inflight   map[string]bool // job ID -> a run is executing, survives replacement
	loc        *time.Location
	resolution time.Duration
	logger     *slog.Logger
	mu         sync.Mutex
	wg         sync.WaitGroup
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type entry struct {
	job     Job
	lastRun time.Time
	nextRun time.Time
	skipped int
}

func New(cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		jobs:       make(map[string]*entry),
		inflight:   make(map[string]bool),
		loc:        cfg.Location,
		resolution: cfg.Resolution,
		logger:     cfg.Logger,
		stopCh:     make(chan struct{}),
	}
}

// Location returns the zone every run is computed in.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Register adds job, replacing any job already registered under the same ID.
// An in-flight run of the replaced job is left to finish and the replacement
// does not start until it has.
func (s *Scheduler) Register(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("register job: empty id")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("register job %s: interval must be positive", job.ID)
	}
	if job.Run == nil {
		return fmt.Errorf("register job %s: nil run func", job.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, replaced := s.jobs[job.ID]
	s.jobs[job.ID] = &entry{
		job:     job,
		nextRun: nextBoundary(time.Now().In(s.loc), job.Interval),
	}
	s.logger.Info("job registered", "id", job.ID, "interval", job.Interval, "replaced", replaced)
	return nil
}

func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		delete(s.jobs, id)
		s.logger.Info("job removed", "id", id)
	}
}

// Jobs lists registered jobs sorted by ID.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, JobInfo{
			ID:       e.job.ID,
			Interval: e.job.Interval,
			LastRun:  e.lastRun,
			NextRun:  e.nextRun,
			Running:  s.inflight[e.job.ID],
			Skipped:  e.skipped,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start blocks until ctx is cancelled or Stop is called, then waits for
// in-flight runs to return.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	s.logger.Info("scheduler started", "location", s.loc.String(), "resolution", s.resolution)
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-s.stopCh:
			s.logger.Info("scheduler stopped")
			return
		case now := <-ticker.C:
			s.checkAndRun(runCtx, now.In(s.loc))
		}
	}
}

// Stop halts the scheduler. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Scheduler) checkAndRun(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.jobs {
		if now.Before(e.nextRun) {
			continue
		}
		e.nextRun = nextBoundary(now, e.job.Interval)
		if s.inflight[e.job.ID] {
			e.skipped++
			s.logger.Warn("previous run still in flight, skipping", "id", e.job.ID, "next", e.nextRun)
			continue
		}
		s.inflight[e.job.ID] = true
		e.lastRun = now
		s.wg.Add(1)
		go s.run(ctx, e.job, now)
	}
}

func (s *Scheduler) run(ctx context.Context, job Job, now time.Time) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panic", "id", job.ID, "panic", r)
		}
		s.mu.Lock()
		delete(s.inflight, job.ID)
		s.mu.Unlock()
	}()

	start := time.Now()
	s.logger.Debug("running job", "id", job.ID, "tick", now)
	if err := job.Run(ctx, now); err != nil {
		s.logger.Error("job failed", "id", job.ID, "err", err)
		return
	}
	s.logger.Debug("job finished", "id", job.ID, "duration", time.Since(start))
}

// nextBoundary returns the first instant strictly after now that is a whole
// multiple of interval past local midnight.
func nextBoundary(now time.Time, interval time.Duration) time.Time {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	elapsed := now.Sub(midnight)
	return midnight.Add((elapsed/interval + 1) * interval)
}
