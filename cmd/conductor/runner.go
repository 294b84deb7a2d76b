package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kaneko-ai/conductor/id"
	"github.com/kaneko-ai/conductor/job"
)

// retryAfterPattern matches adapter output like "retry-after: 30" or
// "Retry-After=12.5".
var retryAfterPattern = regexp.MustCompile(`(?i)retry[-_ ]after[:=]?\s*([0-9]+(?:\.[0-9]+)?)`)

// needsRetryMarkers are output fragments that signal a transient
// failure worth retrying.
var needsRetryMarkers = []string{
	"429",
	"too many requests",
	"rate limit",
	"temporarily unavailable",
	"timeout",
}

// ExecRunner launches one external process per task and classifies its
// raw output into a job.Outcome. All text-pattern heuristics live here,
// on the adapter side; the core only ever sees the normalized outcome.
type ExecRunner struct {
	// Command is the executable invoked per task. It receives the
	// template id, the business key, and the params document as
	// arguments: <command> <template_id> <business_key> <params-json>.
	Command string

	mu     sync.Mutex
	active map[id.JobID]*exec.Cmd
}

// NewExecRunner creates an ExecRunner for the given task command.
func NewExecRunner(command string) *ExecRunner {
	return &ExecRunner{
		Command: command,
		active:  make(map[id.JobID]*exec.Cmd),
	}
}

// Execute implements job.Runner. It blocks for the task's full duration.
func (r *ExecRunner) Execute(ctx context.Context, j job.Job) (job.Outcome, error) {
	runID := uuid.NewString()

	params, err := json.Marshal(j.Params)
	if err != nil {
		return job.Outcome{}, fmt.Errorf("encode params: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Command, j.TemplateID, j.BusinessKey, string(params))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return job.Outcome{
				Status:  job.OutcomeMissingDependency,
				Message: fmt.Sprintf("task command %q not found", r.Command),
				RunID:   runID,
			}, nil
		}
		return job.Outcome{}, fmt.Errorf("start task: %w", err)
	}

	r.mu.Lock()
	r.active[j.ID] = cmd
	r.mu.Unlock()

	waitErr := cmd.Wait()

	r.mu.Lock()
	delete(r.active, j.ID)
	r.mu.Unlock()

	return classify(waitErr, stdout.String(), stderr.String(), runID), nil
}

// Kill implements job.Runner: best-effort termination of the job's
// underlying process.
func (r *ExecRunner) Kill(jobID id.JobID) error {
	r.mu.Lock()
	cmd := r.active[jobID]
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// classify turns raw process results into a normalized outcome: exit
// zero is success; output carrying a structured retry signal (HTTP 429
// markers, a retry-after hint) is needs_retry; anything else is a
// permanent error with the first non-empty stderr line as message.
func classify(waitErr error, stdout, stderr, runID string) job.Outcome {
	if waitErr == nil {
		return job.Outcome{OK: true, Status: job.OutcomeOK, RunID: runID}
	}

	combined := stdout + "\n" + stderr
	hint := extractRetryAfterSeconds(combined)
	message := firstNonEmptyLine(stderr)
	if message == "" {
		message = firstNonEmptyLine(stdout)
	}
	if message == "" {
		message = waitErr.Error()
	}

	if hint != nil || hasNeedsRetryMarker(combined) {
		return job.Outcome{
			Status:            job.OutcomeNeedsRetry,
			Message:           message,
			RetryAfterSeconds: hint,
			RunID:             runID,
		}
	}
	return job.Outcome{Status: job.OutcomeError, Message: message, RunID: runID}
}

// extractRetryAfterSeconds pulls an explicit retry-after hint out of
// raw task output. Returns nil when no hint is present.
func extractRetryAfterSeconds(output string) *float64 {
	m := retryAfterPattern.FindStringSubmatch(output)
	if m == nil {
		return nil
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil || seconds < 0 {
		return nil
	}
	return &seconds
}

func hasNeedsRetryMarker(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range needsRetryMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
