package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kaneko-ai/conductor/id"
	"github.com/kaneko-ai/conductor/pipeline"
)

func newPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage pipelines",
	}
	cmd.AddCommand(
		newPipelineCreateCmd(),
		newPipelineListCmd(),
		newPipelineGetCmd(),
		newPipelineStartCmd(),
		newPipelineCancelCmd(),
		newPipelineRetryStepCmd(),
	)
	return cmd
}

// parseStepSpec parses a --step flag of the form
// "template" or "template:key=value,key=value".
func parseStepSpec(raw string) (pipeline.StepSpec, error) {
	templateID, rest, _ := strings.Cut(raw, ":")
	if templateID == "" {
		return pipeline.StepSpec{}, fmt.Errorf("invalid --step %q", raw)
	}
	spec := pipeline.StepSpec{TemplateID: templateID}
	if rest == "" {
		return spec, nil
	}
	raw = strings.ReplaceAll(rest, ",", " ")
	params, err := parseParams(strings.Fields(raw))
	if err != nil {
		return pipeline.StepSpec{}, fmt.Errorf("--step %q: %w", templateID, err)
	}
	spec.Params = params
	return spec, nil
}

func newPipelineCreateCmd() *cobra.Command {
	var (
		name  string
		steps []string
		start bool
	)
	cmd := &cobra.Command{
		Use:   "create <business-key>",
		Short: "Create a pipeline from ordered steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			specs := make([]pipeline.StepSpec, 0, len(steps))
			for _, raw := range steps {
				spec, err := parseStepSpec(raw)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}

			p, err := eng.Pipelines().Create(cmd.Context(), name, args[0], specs)
			if err != nil {
				return err
			}
			if start {
				if err := eng.Pipelines().Start(cmd.Context(), p.ID); err != nil {
					return err
				}
			}
			fmt.Println(p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "pipeline display name")
	cmd.Flags().StringArrayVar(&steps, "step", nil, "step as template[:key=value,...] (repeatable, ordered)")
	cmd.Flags().BoolVar(&start, "start", true, "enqueue the first step immediately")
	return cmd
}

func newPipelineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines, most recently updated first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			pipelines, err := eng.Pipelines().List(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range pipelines {
				fmt.Printf("%s  %-12s step=%d/%d auto=%d %s\n",
					p.ID, p.Status, p.CurrentStepIndex, len(p.Steps),
					p.AutoRetryAttemptCount, p.BusinessKey)
			}
			return nil
		},
	}
}

func newPipelineGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <pipeline-id>",
		Short: "Show a pipeline and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			pipelineID, err := id.ParsePipelineID(args[0])
			if err != nil {
				return err
			}
			p, err := eng.Pipelines().Get(cmd.Context(), pipelineID)
			if err != nil {
				return err
			}

			fmt.Printf("%s  %s  %q  key=%s\n", p.ID, p.Status, p.Name, p.BusinessKey)
			for i, step := range p.Steps {
				marker := " "
				if i == p.CurrentStepIndex {
					marker = ">"
				}
				jobRef := "-"
				if !step.JobID.IsNil() {
					jobRef = step.JobID.String()
				}
				fmt.Printf("%s %d. %s  %-12s job=%s\n", marker, i, step.TemplateID, step.Status, jobRef)
			}
			return nil
		},
	}
}

func newPipelineStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <pipeline-id>",
		Short: "Start (or resume) a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			pipelineID, err := id.ParsePipelineID(args[0])
			if err != nil {
				return err
			}
			return eng.Pipelines().Start(cmd.Context(), pipelineID)
		},
	}
}

func newPipelineCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <pipeline-id>",
		Short: "Cancel a pipeline and its current step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			pipelineID, err := id.ParsePipelineID(args[0])
			if err != nil {
				return err
			}
			return eng.Pipelines().Cancel(cmd.Context(), pipelineID)
		},
	}
}

func newPipelineRetryStepCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "retry-step <pipeline-id> <step-id>",
		Short: "Replay a pipeline from the given step forward",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			pipelineID, err := id.ParsePipelineID(args[0])
			if err != nil {
				return err
			}
			stepID, err := id.ParseStepID(args[1])
			if err != nil {
				return err
			}
			return eng.Pipelines().RetryStep(cmd.Context(), pipelineID, stepID, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "retry regardless of state and retry window")
	return cmd
}
