package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/subtrack/subtrack/internal/config"
	"github.com/subtrack/subtrack/internal/core/limiter"
	"github.com/subtrack/subtrack/internal/core/store"
	errwrap "github.com/subtrack/subtrack/internal/errors"
	"github.com/subtrack/subtrack/internal/metrics"
	"github.com/subtrack/subtrack/internal/observability"
	"github.com/subtrack/subtrack/internal/server"
	"github.com/subtrack/subtrack/internal/server/handlers"
	servermw "github.com/subtrack/subtrack/internal/server/middleware"
)

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil // Signal handlers are registered and ready
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

Every /api request is counted against the general policy; the auth,
subscription and user-management groups also count against their own policy.
Counters live in the configured store (libsql, redis, postgres or memory) and
the limiter fails open when the store is unreachable.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (logging level only; restart to apply policy changes)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := loadConfig(ctx, serveOverrides(cmd))
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "configuration invalid")
		}

		// Get app identity for telemetry namespace
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}
		if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}

		backend, err := store.OpenBackend(ctx, cfg.Store)
		if err != nil {
			logger.Error("Failed to open rate limit store",
				zap.String("driver", cfg.Store.Driver),
				zap.Error(err))
			return errwrap.WrapDatabaseError(ctx, err, "open rate limit store")
		}

		policyConfigs, err := limiter.ApplyOverrides(limiter.DefaultPolicyConfigs(), cfg.RateLimit.Policies)
		if err != nil {
			_ = backend.Close()
			return errwrap.WrapConfigInvalid(ctx, err, "invalid rate limit policies")
		}

		storeOpts := func(policy string) []limiter.StoreOption {
			return []limiter.StoreOption{
				limiter.WithTimeout(cfg.RateLimit.StoreTimeout),
				limiter.WithLogger(logger),
				limiter.WithFailureHook(func(op string, _ error) {
					metrics.RecordRateLimitStoreFailure(policy, op)
				}),
			}
		}

		trustedProxies, err := servermw.ParseTrustedProxies(cfg.Server.TrustedProxies)
		if err != nil {
			_ = backend.Close()
			return errwrap.WrapConfigInvalid(ctx, err, "invalid trusted proxies")
		}

		serverOpts := []server.Option{
			server.WithTimeouts(cfg.Server),
			server.WithTrustedProxies(trustedProxies),
			server.WithAdmin(cfg.Admin.Token, backend),
		}
		if cfg.RateLimit.Enabled {
			policies := make(map[string]*limiter.Policy, len(policyConfigs))
			for _, pc := range policyConfigs {
				policy, err := limiter.NewPolicy(backend, pc, storeOpts(pc.Name)...)
				if err != nil {
					_ = backend.Close()
					return errwrap.WrapConfigInvalid(ctx, err, "invalid rate limit policy")
				}
				policies[pc.Name] = policy
				logger.Info("Rate limit policy",
					zap.String("policy", pc.Name),
					zap.Int("max", pc.Max),
					zap.Duration("window", pc.Window),
					zap.Bool("skip_successful_requests", pc.SkipSuccessfulRequests))
			}
			serverOpts = append(serverOpts,
				server.WithPolicies(policies, servermw.WithRateLimitHeaders(cfg.RateLimit.Headers)))
		} else {
			logger.Warn("Rate limiting disabled by configuration")
		}

		// Expired records are swept on a timer unless the store expires them itself.
		stopSweep := func() {}
		if !store.NativeExpiry(cfg.Store.Driver) {
			sweeper := limiter.NewStore(backend, "", 0, storeOpts("cleanup")...)
			stopSweep = sweeper.StartCleanup(context.Background(), cfg.RateLimit.CleanupInterval, func(removed int64) {
				metrics.RecordRateLimitCleanup(removed)
				if removed > 0 {
					logger.Debug("Swept expired rate limit records", zap.Int64("removed", removed))
				}
			})
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.String("store_driver", cfg.Store.Driver))

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal_handlers", signalHealthChecker{})
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
		hm.RegisterChecker("rate_limit_store", handlers.StoreChecker{Store: backend})

		srv := server.New(cfg.Server.Host, cfg.Server.Port, serverOpts...)

		// Set app identity for handlers
		handlers.SetAppIdentity(identity)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		// Handler 2: Stop the sweeper and close the store
		signals.OnShutdown(func(ctx context.Context) error {
			stopSweep()
			if err := backend.Close(); err != nil {
				logger.Warn("Rate limit store close returned error", zap.Error(err))
			}
			return nil
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			reloaded, err := config.Load(ctx, serveOverrides(cmd))
			if err != nil {
				logger.Error("Failed to reload config", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			if reloaded.Logging.Level != cfg.Logging.Level {
				observability.InitServerLogger(identity.BinaryName, reloaded.Logging.Level, namespace)
				logger = observability.ServerLogger
			}
			logger.Info("Configuration reloaded successfully",
				zap.String("log_level", reloaded.Logging.Level))
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		metrics.SetServerStartTime(time.Now().Unix())

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

// serveOverrides turns explicitly set flags into config overrides.
func serveOverrides(cmd *cobra.Command) map[string]any {
	srv := map[string]any{}
	if cmd.Flags().Changed("host") {
		srv["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		srv["port"] = serverPort
	}
	if len(srv) == 0 {
		return nil
	}
	return map[string]any{"server": srv}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
}
