package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentflow/workflow"
)

func workflowCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "List and run workflows",
	}
	cmd.AddCommand(workflowListCmd(flags))
	cmd.AddCommand(workflowRunCmd(flags))
	return cmd
}

func workflowListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the workflows of the definitions file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			names := make([]string, 0, len(a.defs.Workflows))
			for name := range a.defs.Workflows {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				wf := a.defs.Workflows[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%v\n", name, wf.Type, wf.Agents)
			}
			return nil
		},
	}
}

func workflowRunCmd(flags *globalFlags) *cobra.Command {
	var (
		input        string
		recovery     string
		maxRetries   int
		agentTimeout string
		jsonOut      bool
	)
	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a named workflow and print its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			wf, ok := a.defs.Workflows[args[0]]
			if !ok {
				return fmt.Errorf("workflow %q is not defined", args[0])
			}
			d, err := parseDuration(agentTimeout)
			if err != nil {
				return err
			}

			state, err := a.flow.RunWorkflow(cmd.Context(), wf, input, workflow.RunOptions{
				ErrorRecovery: workflow.ErrorRecovery(recovery),
				MaxRetries:    maxRetries,
				AgentTimeout:  d,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), state)
			}
			out := cmd.OutOrStdout()
			for i, res := range state.Results {
				if res.Failed() {
					fmt.Fprintf(out, "[%d] %s: %s (%s)\n", i+1, res.AgentID, res.FinishReason, res.Error)
					continue
				}
				fmt.Fprintf(out, "[%d] %s: %s\n", i+1, res.AgentID, res.Text())
			}
			fmt.Fprintf(out, "status: %s (%s)\n", state.Status, state.Duration().Round(time.Millisecond))
			if state.Status != workflow.StatusCompleted {
				return fmt.Errorf("workflow %s: %s", state.Status, state.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "user input")
	cmd.Flags().StringVar(&recovery, "recovery", string(workflow.RecoveryStop), "error recovery: stop, continue or retry")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retries per step under --recovery=retry")
	cmd.Flags().StringVar(&agentTimeout, "agent-timeout", "", "per-agent timeout, e.g. 30s")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the final state as JSON")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
