package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/subtrack/subtrack/internal/config"
	"github.com/subtrack/subtrack/internal/core/limiter"
	"github.com/subtrack/subtrack/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()

		observability.CLILogger.Info("=== Subtrack Environment Information ===")
		observability.CLILogger.Info("")

		// Application Info
		identity := GetAppIdentity()
		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       " + identity.BinaryName)
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		// SSOT Info
		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		// Runtime Info
		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		// Configuration
		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		observability.CLILogger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		observability.CLILogger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		observability.CLILogger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		observability.CLILogger.Info("  Store:          "+storeLabel(cfg.Store), zap.String("store_driver", cfg.Store.Driver))
		observability.CLILogger.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		observability.CLILogger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		observability.CLILogger.Info("")

		// Rate limiting
		observability.CLILogger.Info("Rate Limiting:")
		observability.CLILogger.Info(fmt.Sprintf("  Enabled:          %t", cfg.RateLimit.Enabled), zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled))
		observability.CLILogger.Info("  Store Timeout:    "+cfg.RateLimit.StoreTimeout.String(), zap.Duration("store_timeout", cfg.RateLimit.StoreTimeout))
		observability.CLILogger.Info("  Cleanup Interval: "+cfg.RateLimit.CleanupInterval.String(), zap.Duration("cleanup_interval", cfg.RateLimit.CleanupInterval))
		observability.CLILogger.Info(fmt.Sprintf("  Headers:          %t", cfg.RateLimit.Headers))
		policies, err := limiter.ApplyOverrides(limiter.DefaultPolicyConfigs(), cfg.RateLimit.Policies)
		if err != nil {
			observability.CLILogger.Warn("  Policies: invalid", zap.Error(err))
		} else {
			for _, p := range policies {
				observability.CLILogger.Info(fmt.Sprintf("  %-16s  %d per %s", p.Name+":", p.Max, limiter.FormatWindow(p.Window)),
					zap.String("policy", p.Name),
					zap.Int("max", p.Max),
					zap.Duration("window", p.Window))
			}
		}
		observability.CLILogger.Info(fmt.Sprintf("  Admin Endpoints:  %t", strings.TrimSpace(cfg.Admin.Token) != ""))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
