package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaneko-ai/conductor/engine"
	"github.com/kaneko-ai/conductor/id"
	"github.com/kaneko-ai/conductor/job"
)

// parseParams parses repeated --param key=value flags into the raw
// params document. Values must be integers; template validation
// enforces bounds.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid --param %q: value must be an integer", pair)
		}
		params[key] = n
	}
	return params, nil
}

func newEnqueueCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "enqueue <template-id> <business-key>",
		Short: "Enqueue a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			raw, err := parseParams(params)
			if err != nil {
				return err
			}
			j, err := eng.Jobs().Enqueue(cmd.Context(), args[0], args[1], raw)
			if err != nil {
				return err
			}
			fmt.Println(j.ID)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "template parameter as key=value (repeatable)")
	return cmd
}

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List jobs, most recently updated first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := eng.Jobs().List(cmd.Context())
			if err != nil {
				return err
			}
			for _, j := range jobs {
				fmt.Printf("%s  %-12s %-10s att=%d auto=%d %s%s\n",
					j.ID, j.Status, j.TemplateID, j.Attempt, j.AutoRetryAttemptCount,
					j.BusinessKey, jobDetail(j))
			}
			return nil
		},
	}
}

func jobDetail(j job.Job) string {
	var b strings.Builder
	if j.RetryAt != nil {
		fmt.Fprintf(&b, " retry_at=%s", j.RetryAt.Format(time.RFC3339))
	}
	if j.LastError != "" {
		fmt.Fprintf(&b, " err=%q", j.LastError)
	}
	return b.String()
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job (best-effort kill when running)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			return eng.Jobs().Cancel(cmd.Context(), jobID)
		},
	}
}

// retryJob re-queues a job. Pipeline-bound jobs go through the
// pipeline's step retry so the halted pipeline resumes with the job; a
// plain queue retry would re-run the job with no pipeline effect, since
// reconciliation only advances Running pipelines.
func retryJob(ctx context.Context, eng *engine.Engine, jobID id.JobID, force bool) error {
	j, err := eng.Jobs().Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.PipelineID.IsNil() {
		p, err := eng.Pipelines().Get(ctx, j.PipelineID)
		if err == nil {
			for _, step := range p.Steps {
				if step.JobID == jobID {
					return eng.Pipelines().RetryStep(ctx, p.ID, step.ID, force)
				}
			}
		}
		// Binding discarded or pipeline removed; fall through to the
		// standalone path.
	}
	return eng.Jobs().Retry(ctx, jobID, force)
}

func newRetryCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-queue a failed or retry-pending job, resuming its pipeline when bound",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			return retryJob(cmd.Context(), eng, jobID, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "retry regardless of state and retry window")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove succeeded, failed, and canceled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			removed, err := eng.Jobs().ClearFinished(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d jobs\n", removed)
			return nil
		},
	}
}
