package server

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/axialfit/internal/config"
	"github.com/cwbudde/axialfit/internal/experiment"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	// ErrorKindExperiment means the experiment could not be prepared.
	ErrorKindExperiment ErrorKind = "experiment"

	// ErrorKindDiagnostics means the search finished but its diagnostic output
	// could not be turned into a cost history.
	ErrorKindDiagnostics ErrorKind = "diagnostics"

	// ErrorKindSearch means the objective or the solver failed.
	ErrorKindSearch ErrorKind = "search"
)

// Terminal reports whether no further updates will happen.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job represents a fit running in the background
type Job struct {
	ID           string            `json:"id"`
	State        JobState          `json:"state"`
	Mode         experiment.Mode   `json:"mode"`
	Experiment   config.Experiment `json:"experiment"`
	Run          int               `json:"run"`        // start currently searched
	Iterations   int               `json:"iterations"` // accepted iterations over all starts
	LastParams   []float64         `json:"lastParams,omitempty"`
	CostFinal    *float64          `json:"costFinal,omitempty"`
	RRMSWFEFinal *float64          `json:"rrmswfeFinal,omitempty"`
	StartTime    time.Time         `json:"startTime"`
	EndTime      *time.Time        `json:"endTime,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorKind    ErrorKind         `json:"errorKind,omitempty"`

	result *experiment.Result
	cancel context.CancelFunc
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job for the experiment
func (jm *JobManager) CreateJob(e config.Experiment, mode experiment.Mode) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:         uuid.New().String(),
		State:      StatePending,
		Mode:       mode,
		Experiment: e,
		StartTime:  time.Now(),
	}

	jm.jobs[job.ID] = job
	return job.snapshot()
}

// snapshot copies the job so callers never share state with the worker.
func (j *Job) snapshot() *Job {
	c := *j
	c.LastParams = slices.Clone(j.LastParams)
	c.cancel = nil
	return &c
}

// GetJob retrieves a copy of the job with the given ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns copies of all jobs, oldest first
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].StartTime.Before(jobs[k].StartTime) })
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.snapshot())
		}
	}
	return runningJobs
}

// Cancel stops a pending or running job. It reports false when the job
// does not exist or has already finished.
func (jm *JobManager) Cancel(id string) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists || job.State.Terminal() || job.cancel == nil {
		return false
	}
	job.cancel()
	return true
}

// CancelAll stops every unfinished job.
func (jm *JobManager) CancelAll() {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	for _, job := range jm.jobs {
		if !job.State.Terminal() && job.cancel != nil {
			job.cancel()
		}
	}
}

// Result returns the finished experiment of a completed job.
func (jm *JobManager) Result(id string) (*experiment.Result, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists || job.result == nil {
		return nil, false
	}
	return job.result, true
}
