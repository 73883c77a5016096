package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/filecache"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/policysource"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/inkgate/internal/clock"
	"github.com/Sentinel-Gate/inkgate/internal/config"
	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
	"github.com/Sentinel-Gate/inkgate/internal/domain/routing"
	"github.com/Sentinel-Gate/inkgate/internal/domain/validation"
	"github.com/Sentinel-Gate/inkgate/internal/service"
)

const defaultFetchTimeout = 10 * time.Second

// core is the policy and quota machinery every command shares: the decision
// loop, the status server, the MCP tools and the one-shot commands.
type core struct {
	cfg       *config.Config
	logger    *slog.Logger
	quotas    *memory.QuotaTracker
	policies  *service.PolicyService
	runtime   *service.RuntimeState
	router    *routing.Router
	validator *validation.ActionValidator
}

// loadConfig reads, completes and validates the configuration.
func loadConfig(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger writes text logs to stderr. Stdout is reserved for the stdout
// journal and the MCP stream.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a config log level to slog.Level. Unknown values
// map to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveStatePath returns the --state flag, else the configured path.
func resolveStatePath(cfg *config.Config) string {
	if stateFilePath != "" {
		return stateFilePath
	}
	return cfg.StatePath
}

// newPolicySource picks the remote or directory source. Validation
// guarantees exactly one is configured.
func newPolicySource(cfg *config.Config, logger *slog.Logger) (policy.Source, error) {
	files := cfg.DocumentFiles()
	if cfg.Policy.SourceURL != "" {
		src, err := policysource.NewHTTPSource(cfg.Policy.SourceURL, files, logger)
		if err != nil {
			return nil, fmt.Errorf("policy source: %w", err)
		}
		return src, nil
	}
	return policysource.NewDirSource(cfg.Policy.SourceDir, files), nil
}

// buildCore restores runtime state and loads the policy documents
// (memory, then cache, then source). Documents that cannot be loaded are
// logged; the loop retries them on the next update check.
func buildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core, error) {
	rules, err := cfg.QuotaRules()
	if err != nil {
		return nil, err
	}
	quotas := memory.NewQuotaTracker(clock.Real{}, rules, logger)

	source, err := newPolicySource(cfg, logger)
	if err != nil {
		return nil, err
	}
	policies := service.NewPolicyService(
		source,
		filecache.New(cfg.Policy.CacheDir),
		cfg.DocumentNames(),
		logger,
		service.WithFetchTimeout(config.Duration(cfg.Policy.FetchTimeout, defaultFetchTimeout)),
	)

	store := state.NewFileStateStore(resolveStatePath(cfg), logger)
	runtime := service.NewRuntimeState(store, policies, quotas, logger)
	if err := runtime.Restore(); err != nil {
		return nil, err
	}

	loaded, err := policies.LoadAll(ctx)
	if err != nil {
		logger.Warn("some policy documents failed to load", "error", err)
	}
	logger.Info("policy documents loaded", "loaded", loaded, "configured", len(cfg.Policy.Documents), "version", policies.Snapshot().Version())

	guards, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("guard evaluator: %w", err)
	}

	return &core{
		cfg:       cfg,
		logger:    logger,
		quotas:    quotas,
		policies:  policies,
		runtime:   runtime,
		router:    routing.NewRouter(guards, logger),
		validator: validation.NewActionValidator(quotas),
	}, nil
}

// status returns a StatusService over the core.
func (c *core) status(opts ...service.StatusOption) *service.StatusService {
	return service.NewStatusService(c.policies, c.quotas, c.router, c.validator, opts...)
}

// pidFilePath returns the standard location for the inkgate PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".inkgate", "inkgate.pid")
	}
	return filepath.Join(os.TempDir(), "inkgate.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readPIDFile reads a PID from path. Returns 0 if unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
