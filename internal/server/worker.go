package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cwbudde/axialfit/internal/experiment"
	"github.com/cwbudde/axialfit/internal/fit"
	"github.com/cwbudde/axialfit/internal/metrics"
	"github.com/cwbudde/axialfit/internal/store"
)

// runJob executes a fit in the background. When docStore is not nil the
// finished document and its trace are saved under the job ID.
func runJob(ctx context.Context, jm *JobManager, docStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.cancel = cancel
	})
	if err != nil {
		return err
	}
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateRunning, Timestamp: time.Now()})

	slog.Info("Starting job", "job_id", jobID, "mode", job.Mode, "terms", len(job.Experiment.Codex))

	plan, err := job.Experiment.Prepare()
	if err != nil {
		markJobFailed(jm, jobID, ErrorKindExperiment, fmt.Errorf("failed to prepare experiment: %w", err))
		return err
	}

	// Check for cancellation before starting expensive operation
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	start := time.Now()
	onIter := func(run, iter int, x []float64) {
		params := slices.Clone(x)
		jm.UpdateJob(jobID, func(j *Job) {
			j.Run = run
			j.Iterations++
			j.LastParams = params
		})
		jm.broadcaster.Broadcast(ProgressEvent{
			JobID:     jobID,
			State:     StateRunning,
			Run:       run,
			Iteration: iter,
			Params:    params,
			Timestamp: time.Now(),
		})
	}

	res, err := experiment.Run(ctx, plan, job.Mode, onIter)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			markJobCancelled(jm, jobID)
		} else {
			markJobFailed(jm, jobID, classifyRunError(err), err)
		}
		return err
	}
	elapsed := time.Since(start)

	if docStore != nil {
		if err := saveResult(docStore, jobID, res); err != nil {
			// the document is still served from memory
			slog.Error("Failed to save document", "job_id", jobID, "error", err)
		}
	}

	endTime := time.Now()
	cost := res.CostFinal()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.result = res
		j.CostFinal = &cost
		j.RRMSWFEFinal = res.RRMSWFEFinal()
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}
	metrics.Jobs.WithLabelValues(string(StateCompleted)).Inc()

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"starts", len(res.Outcomes),
		"cost_final", cost,
	)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateCompleted,
		CostFinal: &cost,
		Timestamp: time.Now(),
	})
	jm.broadcaster.CleanupJob(jobID)
	return nil
}

// saveResult writes the document and its per-iteration trace.
func saveResult(docStore store.Store, jobID string, res *experiment.Result) error {
	rec := &store.Record{ID: jobID, Single: res.Single, Global: res.Global}
	if err := docStore.SaveDocument(jobID, rec); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	if err := docStore.SaveTrace(jobID, res.Traces); err != nil {
		return fmt.Errorf("failed to save trace: %w", err)
	}
	slog.Info("Document saved", "job_id", jobID, "kind", rec.Kind())
	return nil
}

// classifyRunError maps an error returned by experiment.Run to its kind.
func classifyRunError(err error) ErrorKind {
	switch {
	case fit.IsDiagnosticError(err):
		return ErrorKindDiagnostics
	case errors.Is(err, fit.ErrInvalidConfig):
		return ErrorKindExperiment
	default:
		return ErrorKindSearch
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, kind ErrorKind, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.ErrorKind = kind
		j.EndTime = &endTime
	})
	metrics.Jobs.WithLabelValues(string(StateFailed)).Inc()
	metrics.JobFailures.WithLabelValues(string(kind)).Inc()
	slog.Error("Job failed", "job_id", jobID, "kind", kind, "error", err)

	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateFailed, Error: err.Error(), Timestamp: endTime})
	jm.broadcaster.CleanupJob(jobID)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	metrics.Jobs.WithLabelValues(string(StateCancelled)).Inc()
	slog.Info("Job cancelled", "job_id", jobID)

	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateCancelled, Timestamp: endTime})
	jm.broadcaster.CleanupJob(jobID)
}
