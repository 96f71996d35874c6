// Package scheduler runs registered jobs on cron schedules and on demand,
// keeping a bounded history of results.
//
// A scheduler is constructed explicitly and owned by its host; there is no
// process-wide instance. Each job has a run lock: a manual trigger waits for
// an in-progress run of the same job, a scheduled firing that finds the job
// busy is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/jobs"
	"github.com/GGPrompts/vibe4vets-sub003/idgen"
)

var (
	// ErrInvalidSchedule is returned for a cron expression that is not
	// exactly five fields or does not parse.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrJobNotFound is returned for an unregistered job name.
	ErrJobNotFound = errors.New("job not found")

	// ErrStopped is returned by RunJob once Stop has been called.
	ErrStopped = errors.New("scheduler stopped")
)

// Config configures the scheduler.
type Config struct {
	// CheckInterval is how often schedules are evaluated. Default: 1 second.
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
	// HistorySize is the number of results kept, oldest evicted first. Default: 100.
	HistorySize int `json:"history_size" yaml:"history_size"`

	Now func() time.Time `json:"-" yaml:"-"`
	// NewID generates run IDs. Default: "run_" + UUIDv7.
	NewID idgen.Generator `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// ParseSchedule validates a standard five-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(expr string) (cron.Schedule, error) {
	if n := len(strings.Fields(expr)); n != 5 {
		return nil, fmt.Errorf("%w: %q has %d fields, want 5", ErrInvalidSchedule, expr, n)
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

type schedule struct {
	expr string
	cron cron.Schedule
	next time.Time
}

type entry struct {
	job       jobs.Job
	run       sync.Mutex
	running   bool // guarded by Scheduler.mu; set while run is held
	schedules []*schedule
}

// ScheduledJob describes one registered job for the admin surfaces.
type ScheduledJob struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedules   []string   `json:"schedules"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	Running     bool       `json:"running"`
}

// Scheduler owns the job registry, the schedules and the history.
type Scheduler struct {
	cfg    Config
	runner jobs.Runner
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	history []*jobs.Result // oldest first
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool // set by Stop; no run starts afterwards

	runs sync.WaitGroup // Add only under mu while !stopped
}

// New creates a Scheduler. Nothing fires until Start.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  jobs.Runner{Now: cfg.Now, NewID: cfg.NewID, Logger: logger},
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Register adds a job under its name.
func (s *Scheduler) Register(j jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := j.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	s.entries[name] = &entry{job: j}
	s.order = append(s.order, name)
	return nil
}

// AddSchedule attaches a cron schedule to a registered job. A job may have
// several schedules.
func (s *Scheduler) AddSchedule(name, expr string) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	e.schedules = append(e.schedules, &schedule{
		expr: strings.Join(strings.Fields(expr), " "),
		cron: sched,
		next: sched.Next(s.cfg.Now()),
	})
	s.logger.Info("scheduler: schedule added", "job", name, "cron", expr)
	return nil
}

// Start begins evaluating schedules every CheckInterval until Stop or ctx
// cancellation. Starting twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.stopped {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("scheduler: started", "jobs", len(s.order), "interval", s.cfg.CheckInterval)
}

// Stop halts schedule evaluation, refuses new runs and waits for in-flight
// runs to finish. A stopped scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.stopped = true
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.runs.Wait()
	if cancel != nil {
		s.logger.Info("scheduler: stopped")
	}
}

// IsRunning reports whether schedules are being evaluated.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.cfg.Now())
		}
	}
}

// tick fires every schedule due at now and advances it.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*entry
	for _, name := range s.order {
		e := s.entries[name]
		fire := false
		for _, sc := range e.schedules {
			if !sc.next.After(now) {
				fire = true
				sc.next = sc.cron.Next(now)
			}
		}
		if fire {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if !e.run.TryLock() {
			s.logger.Warn("scheduler: skipped, previous run still in progress", "job", e.job.Name())
			continue
		}
		if !s.track(e) {
			e.run.Unlock()
			return
		}
		go func() {
			defer s.runs.Done()
			s.execute(context.WithoutCancel(ctx), e, jobs.TriggerScheduled, nil)
		}()
	}
}

// track marks e running and counts the run, unless the scheduler has
// stopped.
func (s *Scheduler) track(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	e.running = true
	s.runs.Add(1)
	return true
}

// RunJob triggers a job now, off the caller's goroutine. The returned
// channel receives the result once the run completes. A run already in
// progress for the same job finishes first.
func (s *Scheduler) RunJob(ctx context.Context, name string, params jobs.Params) (<-chan *jobs.Result, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok && !s.stopped {
		s.runs.Add(1)
	}
	stopped := s.stopped
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if stopped {
		return nil, fmt.Errorf("%w: %s not started", ErrStopped, name)
	}

	out := make(chan *jobs.Result, 1)
	go func() {
		defer s.runs.Done()
		e.run.Lock()
		s.mu.Lock()
		e.running = true
		s.mu.Unlock()
		res := s.execute(context.WithoutCancel(ctx), e, jobs.TriggerManual, params)
		s.reschedule(e)
		out <- res
	}()
	return out, nil
}

// execute runs a job whose run lock is held and releases it.
func (s *Scheduler) execute(ctx context.Context, e *entry, trigger jobs.Trigger, params jobs.Params) *jobs.Result {
	res := s.runner.Run(ctx, e.job, trigger, params)
	s.mu.Lock()
	e.running = false
	s.record(res)
	s.mu.Unlock()
	e.run.Unlock()
	return res
}

// reschedule restarts a job's firings from now after a manual run.
func (s *Scheduler) reschedule(e *entry) {
	now := s.cfg.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range e.schedules {
		sc.next = sc.cron.Next(now)
	}
}

// record appends to the history, evicting the oldest past capacity.
// Caller holds s.mu.
func (s *Scheduler) record(res *jobs.Result) {
	s.history = append(s.history, res)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// GetHistory returns up to limit results, newest first. A limit of zero or
// less returns everything kept.
func (s *Scheduler) GetHistory(limit int) []*jobs.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*jobs.Result, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// GetScheduledJobs lists registered jobs in registration order with their
// schedules and next firing.
func (s *Scheduler) GetScheduledJobs() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledJob, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		sj := ScheduledJob{
			Name:        name,
			Description: e.job.Description(),
			Schedules:   []string{},
			Running:     e.running,
		}
		for _, sc := range e.schedules {
			sj.Schedules = append(sj.Schedules, sc.expr)
			if sj.NextRun == nil || sc.next.Before(*sj.NextRun) {
				next := sc.next
				sj.NextRun = &next
			}
		}
		out = append(out, sj)
	}
	return out
}

// Has reports whether a job is registered under name.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}
