package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/loop"
)

func loopCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Run refinement loops",
	}
	cmd.AddCommand(loopRunCmd(flags))
	return cmd
}

func loopRunCmd(flags *globalFlags) *cobra.Command {
	var (
		input   string
		verbose bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "run <loop>",
		Short: "Run a named loop until one of its stop conditions fires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			def, ok := a.defs.Loops[args[0]]
			if !ok {
				return fmt.Errorf("loop %q is not defined", args[0])
			}

			out := cmd.OutOrStdout()
			cfg := def.LoopConfig()
			if verbose {
				cfg.OnIteration = func(i int, res core.AgentExecutionResult) {
					fmt.Fprintf(out, "[%d] %s\n", i, res.Text())
				}
			}

			state, err := a.flow.RunLoop(cmd.Context(), def.Agent, input, cfg)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(out, state)
			}
			if last, ok := state.LastResult(); ok && !last.Failed() {
				fmt.Fprintln(out, last.Text())
			}
			fmt.Fprintf(out, "iterations: %d, stop reason: %s (%s)\n", state.Iteration, state.StopReason, state.TotalTime.Round(time.Millisecond))
			if state.Error != "" && state.StopReason != loop.StopReasonStopped {
				return fmt.Errorf("loop %s: %s", state.StopReason, state.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "initial input")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every iteration")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the final state as JSON")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
