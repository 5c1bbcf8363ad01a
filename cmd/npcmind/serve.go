package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcmind/internal/app"
	"github.com/MrWong99/npcmind/internal/config"
	"github.com/MrWong99/npcmind/internal/observe"
)

// shutdownTimeout bounds the final save and subsystem teardown.
const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	*rootOptions
	watch bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the NPC dialogue HTTP API",
		Long: `Loads the configuration, brain and reasoning files, restores the
persisted knowledge and serves the HTTP API until interrupted.

With --watch (the default) the config file is polled and NPC profiles,
dialogue tuning and the log level are reloaded without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "reload the config file when it changes")
	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Server.LogFormat, level))

	slog.Info("npcmind starting",
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "npcmind",
		ServiceVersion: version(),
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	printStartupSummary(cmd.OutOrStdout(), cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		return err
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	if opts.watch {
		w, err := config.NewWatcher(opts.configPath, func(_, next *config.Config) {
			application.Reload(next)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	} else {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	slog.Info("goodbye")
	return runErr
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         npcmind startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "LLM", providerLabel(cfg.Providers.LLM))
	printRow(w, "Fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks)))
	printRow(w, "Embeddings", providerLabel(cfg.Providers.Embeddings))
	brainFiles := "(default)"
	if n := len(cfg.Brain.Files); n > 0 {
		brainFiles = fmt.Sprintf("%d path(s)", n)
	}
	printRow(w, "Brain", brainFiles)
	printRow(w, "Store", string(cfg.Store.Backend))
	printRow(w, "Cache", string(cfg.Cache.Backend))
	printRow(w, "NPCs", fmt.Sprint(len(cfg.NPCs)))
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func printRow(w io.Writer, kind, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// version is the main module version when built with module info.
func version() string {
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return "dev"
}
