package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/backoff"
	"github.com/kaneko-ai/conductor/id"
	"github.com/kaneko-ai/conductor/job"
)

// Start launches the background worker goroutine. Jobs left Running by
// a previous process are reset to Queued first, preserving the
// at-most-one-Running invariant across restarts. Start is idempotent.
func (q *Queue) Start(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.running {
		return nil
	}

	if err := q.recoverInterrupted(ctx); err != nil {
		return err
	}

	q.running = true
	q.stopCh = make(chan struct{})
	q.wg.Add(1)
	go q.workerLoop()

	q.logger.Info("worker started", slog.Duration("poll_interval", q.pollInterval))
	return nil
}

// Stop signals the worker to exit and waits for the in-flight task, if
// any, to finish. Stop is idempotent.
func (q *Queue) Stop(_ context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if !q.running {
		return nil
	}
	q.running = false
	close(q.stopCh)
	q.wg.Wait()

	q.logger.Info("worker stopped")
	return nil
}

// recoverInterrupted resets jobs a crashed process left Running back to
// Queued so they are re-executed rather than stuck.
func (q *Queue) recoverInterrupted(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		return err
	}
	recovered := 0
	for i := range jobs {
		if jobs[i].Status == job.StatusRunning {
			jobs[i].Status = job.StatusQueued
			jobs[i].Touch()
			recovered++
		}
	}
	if recovered == 0 {
		return nil
	}
	if err := q.store.SaveJobs(ctx, jobs); err != nil {
		return err
	}
	q.logger.Info("interrupted jobs re-queued", slog.Int("count", recovered))
	return nil
}

// workerLoop polls for the earliest queued job and executes it. The
// loop is intentionally single-concurrency: the synchronous Execute
// call enforces at-most-one-concurrent-execution without extra
// coordination.
func (q *Queue) workerLoop() {
	defer q.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		ran, err := q.runOnce(ctx)
		if err != nil {
			q.logger.Error("worker pass failed", slog.String("error", err.Error()))
		}
		if ran {
			continue
		}

		select {
		case <-q.stopCh:
			return
		case <-time.After(q.pollInterval):
		}
	}
}

// runOnce claims and executes at most one job. Returns whether a job
// was executed.
func (q *Queue) runOnce(ctx context.Context) (bool, error) {
	claimed, ok, err := q.claim(ctx)
	if err != nil || !ok {
		return false, err
	}

	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	outcome, execErr := q.runner.Execute(ctx, claimed)
	if execErr != nil {
		outcome = job.Outcome{
			OK:      false,
			Status:  job.OutcomeError,
			Message: execErr.Error(),
		}
	}

	q.applyOutcome(ctx, claimed.ID, outcome)
	return true, nil
}

// claim picks the earliest-created Queued job and transitions it to
// Running, incrementing its attempt counter. Returns ok=false when no
// job is eligible or another job is already Running.
func (q *Queue) claim(ctx context.Context) (job.Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		return job.Job{}, false, err
	}

	var pick *job.Job
	for i := range jobs {
		j := &jobs[i]
		if j.Status == job.StatusRunning {
			return job.Job{}, false, nil
		}
		if j.Status != job.StatusQueued {
			continue
		}
		if pick == nil ||
			j.CreatedAt.Before(pick.CreatedAt) ||
			(j.CreatedAt.Equal(pick.CreatedAt) && j.ID.String() < pick.ID.String()) {
			pick = j
		}
	}
	if pick == nil {
		return job.Job{}, false, nil
	}

	pick.Status = job.StatusRunning
	pick.Attempt++
	pick.Touch()
	if err := q.store.SaveJobs(ctx, jobs); err != nil {
		return job.Job{}, false, err
	}

	q.logger.Info("job started",
		slog.String("job_id", pick.ID.String()),
		slog.String("template_id", pick.TemplateID),
		slog.Int("attempt", pick.Attempt),
	)
	return *pick, true, nil
}

// applyOutcome classifies the adapter's outcome into a final status and
// persists it. A recorded cancellation intent wins; structured retry
// signals choose NeedsRetry over a bare failure; otherwise the OK flag
// decides. On a transition into NeedsRetry the retry window is computed
// eagerly using the next auto-retry attempt index, so the persisted
// record is accurate before any scheduler tick.
func (q *Queue) applyOutcome(ctx context.Context, jobID id.JobID, outcome job.Outcome) {
	q.mu.Lock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		q.mu.Unlock()
		q.logger.Error("outcome apply failed", slog.String("error", err.Error()))
		return
	}
	j := findJob(jobs, jobID)
	if j == nil {
		delete(q.cancelRequested, jobID)
		q.mu.Unlock()
		return
	}

	canceled := q.cancelRequested[jobID] || j.Status == job.StatusCanceled
	delete(q.cancelRequested, jobID)

	switch {
	case canceled:
		j.Status = job.StatusCanceled
	case outcome.NeedsRetry():
		j.Status = job.StatusNeedsRetry
		j.RetryAfterSeconds = outcome.RetryAfterSeconds
		settings := q.loadSettings(ctx)
		retryAt := backoff.RetryAt(time.Now().UTC(), outcome.RetryAfterSeconds, j.AutoRetryAttemptCount+1, settings)
		j.RetryAt = &retryAt
	case outcome.OK:
		j.Status = job.StatusSucceeded
	default:
		j.Status = job.StatusFailed
	}

	j.RunID = outcome.RunID
	j.LastOutcome = string(outcome.Status)
	if outcome.OK {
		j.LastError = ""
	} else {
		j.LastError = outcome.Message
	}
	j.Touch()

	if err := q.store.SaveJobs(ctx, jobs); err != nil {
		q.mu.Unlock()
		q.logger.Error("outcome apply failed", slog.String("error", err.Error()))
		return
	}
	final := *j
	q.mu.Unlock()

	q.logger.Info("job finished",
		slog.String("job_id", jobID.String()),
		slog.String("status", string(final.Status)),
		slog.String("outcome", final.LastOutcome),
	)

	switch final.Status {
	case job.StatusSucceeded:
		q.emitter.JobSucceeded(ctx, &final)
	case job.StatusNeedsRetry:
		q.emitter.JobRetryPending(ctx, &final)
	default:
		q.emitter.JobFailed(ctx, &final)
	}
	if q.reconcile != nil {
		q.reconcile(ctx, jobID)
	}
}

// loadSettings fetches the persisted auto-retry policy, falling back to
// the defaults when the settings document cannot be read.
func (q *Queue) loadSettings(ctx context.Context) conductor.Settings {
	s, err := q.settings.LoadSettings(ctx)
	if err != nil {
		q.logger.Warn("settings load failed, using defaults", slog.String("error", err.Error()))
		return conductor.DefaultSettings()
	}
	return s
}
