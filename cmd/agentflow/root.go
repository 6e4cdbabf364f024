package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentflow"
	"github.com/hupe1980/agentflow/config"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/metrics"
	"github.com/hupe1980/agentflow/model"
)

type globalFlags struct {
	configPath      string
	definitionsPath string
	mock            bool
	metricsAddr     string
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "agentflow",
		Short:         "Run agent workflows and refinement loops",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVarP(&flags.definitionsPath, "definitions", "d", "agentflow.yaml", "agent, workflow and loop definitions")
	cmd.PersistentFlags().BoolVar(&flags.mock, "mock", false, "answer model calls with a mock instead of a provider")
	cmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")

	cmd.AddCommand(agentsCmd(&flags))
	cmd.AddCommand(workflowCmd(&flags))
	cmd.AddCommand(loopCmd(&flags))
	return cmd
}

// app is the runtime assembled for one command invocation.
type app struct {
	flow *agentflow.AgentFlow
	defs *config.Definitions
	stop func()
}

func (a *app) Close() {
	a.stop()
	_ = a.flow.Shutdown()
}

func loadApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	defs, err := config.LoadDefinitionsFile(flags.definitionsPath)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}

	reg := prometheus.NewRegistry()

	var flow *agentflow.AgentFlow
	if flags.mock {
		flow = agentflow.New(model.NewMockChatService(), func(o *agentflow.Options) {
			o.DefaultTimeout = cfg.Executor.DefaultTimeout
			o.DefaultMaxSteps = cfg.Executor.DefaultMaxSteps
			o.MaxConcurrentRuns = cfg.Workflow.MaxConcurrentRuns
			o.Registerer = reg
			o.Logger = logging.NewSlogLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, false)
		})
	} else {
		flow, err = agentflow.FromConfig(cfg, func(o *agentflow.Options) { o.Registerer = reg })
		if err != nil {
			return nil, err
		}
	}

	if err := flow.RegisterDefinitions(defs); err != nil {
		_ = flow.Shutdown()
		return nil, err
	}

	addr := cfg.Metrics.Addr
	if flags.metricsAddr != "" {
		addr = flags.metricsAddr
	}
	stop, err := serveMetrics(addr, reg)
	if err != nil {
		_ = flow.Shutdown()
		return nil, err
	}

	return &app{flow: flow, defs: defs, stop: stop}, nil
}

// serveMetrics exposes reg on addr until the returned stop function is
// called. An empty addr serves nothing.
func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("metrics server: %v\n", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
