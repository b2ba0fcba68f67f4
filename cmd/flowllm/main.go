// Command flowllm serves configured LLM flows over HTTP, MCP or a one-shot
// command run. Flows, models and ops come from a YAML config file; dotted
// key=value arguments override individual fields.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core/logger"
	"github.com/flowllm-ai/flowllm/flow"
	"github.com/flowllm-ai/flowllm/registry"
	"github.com/flowllm-ai/flowllm/schedule"
	"github.com/flowllm-ai/flowllm/service"

	// Backend and op registrations.
	_ "github.com/flowllm-ai/flowllm/embedding"
	_ "github.com/flowllm-ai/flowllm/gallery"
	_ "github.com/flowllm-ai/flowllm/llm"
	_ "github.com/flowllm-ai/flowllm/token"
	_ "github.com/flowllm-ai/flowllm/vectorstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "flowllm [key=value ...]",
		Short: "Serve LLM flows over HTTP, MCP or the command line",
		Long: `flowllm builds the flows declared in its config and serves them over the
configured backend. Positional key=value arguments override config fields,
e.g. "http.port=9000" or "flow.demo.stream=true".`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, configPath, logLevel, args)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML service config")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	return cmd
}

func run(cmd *cobra.Command, configPath, logLevel string, overrides []string) error {
	setupLogging(logLevel)

	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		return err
	}
	config.Set(cfg)
	schedule.Init(cfg.ThreadPoolMaxWorkers)

	flows, err := flow.FromConfig(cfg)
	if err != nil {
		return err
	}
	dispatcher := flow.NewDispatcher(flows, cfg)

	// All registrations happen in init functions; serving starts with a
	// read-only registry.
	registry.Global.Freeze()

	svc, err := service.New(cfg, dispatcher)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.NewContext(ctx, slog.Default())

	slog.Info("flowllm starting", "backend", cfg.Backend, "flows", len(flows))
	return svc.Run(ctx)
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(logger.NewLevelFilterHandler(l, handler)))
}
