package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/executor"
)

func agentsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect and run agents",
	}
	cmd.AddCommand(agentsListCmd(flags))
	cmd.AddCommand(agentsRunCmd(flags))
	return cmd
}

// --- agents list ---

func agentsListCmd(flags *globalFlags) *cobra.Command {
	var (
		jsonOutput bool
		capability string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the agents of the definitions file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			agents := a.flow.Catalog().All()
			if capability != "" {
				agents = a.flow.Catalog().FindByCapability(capability)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), agents)
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No agents registered.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tMODEL\tCAPABILITIES")
			for _, def := range agents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.ID, def.Name, provider(def), modelName(def), strings.Join(def.Capabilities, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&capability, "capability", "", "only agents tagged with this capability")
	return cmd
}

func provider(def core.AgentDefinition) string {
	if def.Model == nil || def.Model.Provider == "" {
		return "-"
	}
	return string(def.Model.Provider)
}

func modelName(def core.AgentDefinition) string {
	if def.Model == nil || def.Model.Model == "" {
		return "-"
	}
	return def.Model.Model
}

// --- agents run ---

func agentsRunCmd(flags *globalFlags) *cobra.Command {
	var (
		input   string
		timeout string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "run <agent-id>",
		Short: "Execute a single agent once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := parseDuration(timeout)
			if err != nil {
				return err
			}

			res, err := a.flow.ExecuteAgent(cmd.Context(), args[0], input, executor.ExecuteOptions{Timeout: d})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			if res.Failed() {
				return res.Err()
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text())
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "user input")
	cmd.Flags().StringVar(&timeout, "timeout", "", "execution timeout, e.g. 30s")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full result as JSON")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
