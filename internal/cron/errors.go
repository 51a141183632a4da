package cron

import (
	"errors"
	"fmt"
)

var (
	ErrJobExists        = errors.New("cron: job already exists")
	ErrJobNotFound      = errors.New("cron: job not found")
	ErrJobRunning       = errors.New("cron: job still running")
	ErrSchedulerRunning = errors.New("cron: scheduler already running")

	// ErrInvalidSchedule matches every ScheduleError.
	ErrInvalidSchedule = errors.New("cron: invalid schedule")
)

// ScheduleError reports an expression the parser rejected.
type ScheduleError struct {
	Schedule string
	Err      error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("cron: invalid schedule %q: %v", e.Schedule, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

func (e *ScheduleError) Is(target error) bool { return target == ErrInvalidSchedule }

// JobError wraps the error returned by a job's func.
type JobError struct {
	Job string
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("cron: job %s: %v", e.Job, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }
