package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kaneko-ai/conductor/store/file"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or change the auto-retry policy",
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective auto-retry policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := file.Open(flagDataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := st.LoadSettings(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("auto_retry_enabled            %v\n", s.AutoRetryEnabled)
			fmt.Printf("auto_retry_max_per_job        %d\n", s.AutoRetryMaxPerJob)
			fmt.Printf("auto_retry_max_per_pipeline   %d\n", s.AutoRetryMaxPerPipeline)
			fmt.Printf("auto_retry_base_delay_seconds %g\n", s.AutoRetryBaseDelaySeconds)
			fmt.Printf("auto_retry_max_delay_seconds  %g\n", s.AutoRetryMaxDelaySeconds)
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	var (
		enabled        bool
		maxPerJob      int
		maxPerPipeline int
		baseDelay      float64
		maxDelay       float64
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the auto-retry policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := file.Open(flagDataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := st.LoadSettings(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("enabled") {
				s.AutoRetryEnabled = enabled
			}
			if cmd.Flags().Changed("max-per-job") {
				s.AutoRetryMaxPerJob = maxPerJob
			}
			if cmd.Flags().Changed("max-per-pipeline") {
				s.AutoRetryMaxPerPipeline = maxPerPipeline
			}
			if cmd.Flags().Changed("base-delay") {
				s.AutoRetryBaseDelaySeconds = baseDelay
			}
			if cmd.Flags().Changed("max-delay") {
				s.AutoRetryMaxDelaySeconds = maxDelay
			}
			return st.SaveSettings(cmd.Context(), s)
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable the auto-retry scheduler")
	cmd.Flags().IntVar(&maxPerJob, "max-per-job", 0, "auto-retry budget per job")
	cmd.Flags().IntVar(&maxPerPipeline, "max-per-pipeline", 0, "auto-retry budget per pipeline")
	cmd.Flags().Float64Var(&baseDelay, "base-delay", 0, "backoff base delay in seconds")
	cmd.Flags().Float64Var(&maxDelay, "max-delay", 0, "backoff delay cap in seconds")
	return cmd
}
