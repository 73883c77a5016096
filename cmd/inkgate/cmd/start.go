package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sentinel-Gate/inkgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/journal"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/llm"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/platform"
	"github.com/Sentinel-Gate/inkgate/internal/clock"
	"github.com/Sentinel-Gate/inkgate/internal/config"
	"github.com/Sentinel-Gate/inkgate/internal/service"
	"github.com/Sentinel-Gate/inkgate/internal/telemetry"
)

const (
	defaultPlatformTimeout = 30 * time.Second
	defaultLoopInterval    = 5 * time.Minute
	defaultLoopMaxInterval = time.Hour
	defaultMetricsInterval = time.Minute
	shutdownTimeout        = 10 * time.Second
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the decision loop and the status server",
	Long: `Start the inkgate agent.

Each cycle checks the policy source (at most once per UTC day), collects
candidate actions from the platform, routes them by category priority,
validates the pick against the current policy and dispatches it. Every cycle
is journaled to the configured audit output.

Unless server.http_addr is "off", a status server exposes /healthz,
/metrics and the read-only /api endpoints.

Examples:
  # Start with config file settings
  inkgate start

  # Start against a local platform with ./policies as the policy source
  inkgate start --dev

  # Start with a specific config file
  inkgate --config /path/to/inkgate.yaml start`,
	RunE: runStart,
}

var startDevMode bool

func init() {
	startCmd.Flags().BoolVar(&startDevMode, "dev", false, "Enable development mode (debug logging, local platform and policy defaults)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(startDevMode)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	providers, err := telemetry.Init(telemetry.Config{
		Tracing:         cfg.Telemetry.Tracing,
		Metrics:         cfg.Telemetry.Metrics,
		MetricsInterval: config.Duration(cfg.Telemetry.MetricsInterval, defaultMetricsInterval),
		ServiceVersion:  Version,
		Writer:          os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	client, err := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.APIKey, logger,
		platform.WithTimeout(config.Duration(cfg.Platform.Timeout, defaultPlatformTimeout)))
	if err != nil {
		return fmt.Errorf("platform client: %w", err)
	}
	agent := platform.NewAgent(client, logger,
		platform.WithProfiles(cfg.ScoreProfiles(platform.DefaultProfiles())),
		platform.WithLimits(cfg.Platform.MaxStories, cfg.Platform.MaxBranches),
	)

	jr, err := journal.Open(cfg.Audit.Output, journal.OpenOptions{
		BufferSize:    cfg.Audit.BufferSize,
		MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
		RetentionDays: cfg.Audit.RetentionDays,
	}, logger)
	if err != nil {
		return fmt.Errorf("audit journal: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := jr.Flush(flushCtx); err != nil {
			logger.Warn("journal flush failed", "error", err)
		}
		if err := jr.Close(); err != nil {
			logger.Warn("journal close failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := http.NewMetrics(registry, c.quotas)
	stats := service.NewStatsService()

	loopOpts := []service.DecisionLoopOption{
		service.WithJournal(jr),
		service.WithObserver(metrics),
		service.WithObserver(stats),
		service.WithStateSaver(c.runtime),
		service.WithInterval(
			config.Duration(cfg.Loop.Interval, defaultLoopInterval),
			config.Duration(cfg.Loop.MaxInterval, defaultLoopMaxInterval),
		),
	}
	if providers.Tracer != nil {
		loopOpts = append(loopOpts, service.WithTracer(providers.Tracer.Tracer("inkgate/loop")))
	}
	if providers.Meter != nil {
		meter, err := telemetry.NewCycleMeter(providers.Meter)
		if err != nil {
			return fmt.Errorf("cycle meter: %w", err)
		}
		loopOpts = append(loopOpts, service.WithObserver(meter))
	}
	if cfg.Drafter.Enabled {
		loopOpts = append(loopOpts, service.WithDrafter(llm.NewDrafter(llm.Config{
			BaseURL:     cfg.Drafter.BaseURL,
			APIKey:      cfg.Drafter.APIKey,
			Model:       cfg.Drafter.Model,
			Temperature: cfg.Drafter.Temperature,
			MaxTokens:   cfg.Drafter.MaxTokens,
		}, logger)))
	}

	loop := service.NewDecisionLoop(c.policies, agent, c.router, c.validator, c.quotas, logger, loopOpts...)
	status := c.status(service.WithJournalQuery(jr), service.WithLoop(loop))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })

	if cfg.ServerEnabled() {
		srv := http.NewServer(registry, metrics,
			http.WithAddr(cfg.Server.HTTPAddr),
			http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
			http.WithLogger(logger),
			http.WithHealthChecker(http.NewHealthChecker(c.policies, loop, c.quotas, Version, clock.Real{})),
			http.WithStatusAPI(http.NewStatusAPI(status, stats)),
		)
		g.Go(func() error { return srv.Start(gctx) })
	}

	printBanner(Version, cfg, len(c.policies.Snapshot().Documents()))

	err = g.Wait()

	// The loop saves after every cycle that changed state; this catches a
	// shutdown that interrupted the sleep after a policy check.
	if saveErr := c.runtime.SaveRuntimeState(); saveErr != nil {
		logger.Warn("failed to save runtime state", "error", saveErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("inkgate stopped")
	return nil
}

// printBanner prints the startup summary to stderr.
func printBanner(version string, cfg *config.Config, policyCount int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	statusURL := dim + "disabled" + reset
	if cfg.ServerEnabled() {
		addr := cfg.Server.HTTPAddr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		statusURL = fmt.Sprintf("http://%s/healthz", addr)
	}

	modeStr := green + "production" + reset
	if cfg.DevMode {
		modeStr = yellow + "development" + reset
	}

	policySource := cfg.Policy.SourceURL
	if policySource == "" {
		policySource = cfg.Policy.SourceDir
	}

	drafter := "off"
	if cfg.Drafter.Enabled {
		drafter = "on"
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s inkgate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Platform:", cfg.Platform.BaseURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s (%d/%d loaded)\n", "Policies:", policySource, policyCount, len(cfg.Policy.Documents))
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Status:", statusURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Journal:", cfg.Audit.Output)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Drafter:", drafter)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}
