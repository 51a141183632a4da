// Package cron runs named in-process maintenance jobs on cron schedules.
package cron

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"dmsrelay/pkg/logger"
)

// JobFunc is the body of a job. The context is cancelled when the job's
// timeout elapses.
type JobFunc func(ctx context.Context) error

// Job is a named, scheduled function.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      JobFunc
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
	Runs     int       `json:"runs"`
	Failures int       `json:"failures"`
}

// DefaultJobTimeout bounds one job run.
const DefaultJobTimeout = time.Minute

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a 5 or 6 field expression or a descriptor such as
// "@every 30s".
func ValidateSchedule(schedule string) error {
	if _, err := parser.Parse(normalizeSchedule(schedule)); err != nil {
		return &ScheduleError{Schedule: schedule, Err: err}
	}
	return nil
}

// normalizeSchedule adds a seconds field to standard 5-field expressions.
func normalizeSchedule(schedule string) string {
	schedule = strings.TrimSpace(schedule)
	if !strings.HasPrefix(schedule, "@") && len(strings.Fields(schedule)) == 5 {
		return "0 " + schedule
	}
	return schedule
}

type entry struct {
	job      Job
	id       cron.EntryID
	runs     int
	failures int
}

// Scheduler manages job execution with robfig/cron.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]*entry
	log     zerolog.Logger
	mu      sync.RWMutex
	running bool

	// executing prevents overlapping runs of the same job
	executing sync.Map
	wg        sync.WaitGroup
}

// SchedulerConfig configures the scheduler.
type SchedulerConfig struct {
	Location *time.Location
}

// NewScheduler creates a scheduler.
func NewScheduler(config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = &SchedulerConfig{}
	}
	if config.Location == nil {
		config.Location = time.Local
	}

	log := logger.Component("cron")
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(config.Location),
		cron.WithLogger(cronLogger{log: log}),
	)

	return &Scheduler{
		cron:    c,
		entries: make(map[string]*entry),
		log:     log,
	}
}

// AddJob registers a job. Jobs can be added before or after Start.
func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("cron: job needs a name and a func")
	}
	if err := ValidateSchedule(job.Schedule); err != nil {
		return err
	}
	if job.Timeout <= 0 {
		job.Timeout = DefaultJobTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}

	e := &entry{job: job}
	id, err := s.cron.AddFunc(normalizeSchedule(job.Schedule), func() { s.execute(e) })
	if err != nil {
		return &ScheduleError{Schedule: job.Schedule, Err: err}
	}
	e.id = id
	s.entries[job.Name] = e

	s.log.Info().Str("job_name", job.Name).Str("schedule", job.Schedule).Msg("job added")
	return nil
}

// RemoveJob unregisters a job.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)

	s.log.Info().Str("job_name", name).Msg("job removed")
	return nil
}

// Start begins scheduling.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}
	s.cron.Start()
	s.running = true
	s.log.Info().Int("registered_jobs", len(s.entries)).Msg("scheduler started")
	return nil
}

// Stop stops scheduling and waits up to the context deadline for running
// jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopped := s.cron.Stop()
	s.running = false
	s.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info().Msg("scheduler stopped")
	return nil
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(e)
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		ce := s.cron.Entry(e.id)
		out = append(out, JobInfo{
			Name:     e.job.Name,
			Schedule: e.job.Schedule,
			Next:     ce.Next,
			Prev:     ce.Prev,
			Runs:     e.runs,
			Failures: e.failures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Scheduler) execute(e *entry) {
	_ = s.run(e)
}

// run executes one job, skipping if the previous run is still active.
func (s *Scheduler) run(e *entry) error {
	name := e.job.Name
	start := time.Now()
	if prev, loaded := s.executing.LoadOrStore(name, start); loaded {
		s.log.Warn().
			Str("job_name", name).
			Time("previous_start", prev.(time.Time)).
			Msg("skipping overlapping execution, previous run still active")
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	defer s.executing.Delete(name)

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.job.Timeout)
	defer cancel()

	err := e.job.Run(ctx)

	s.mu.Lock()
	e.runs++
	if err != nil {
		e.failures++
	}
	s.mu.Unlock()

	ev := s.log.Debug()
	if err != nil {
		ev = s.log.Error().Err(err)
	}
	ev.Str("job_name", name).Dur("duration", time.Since(start)).Msg("job finished")
	if err != nil {
		return &JobError{Job: name, Err: err}
	}
	return nil
}

// cronLogger routes robfig/cron's internal logging into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
