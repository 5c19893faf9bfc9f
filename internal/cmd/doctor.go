package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/subtrack/subtrack/internal/config"
	"github.com/subtrack/subtrack/internal/core/limiter"
	"github.com/subtrack/subtrack/internal/core/store"
	errwrap "github.com/subtrack/subtrack/internal/errors"
	"github.com/subtrack/subtrack/internal/observability"
	servermw "github.com/subtrack/subtrack/internal/server/middleware"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		identity := GetAppIdentity()
		bannerName := "doctor"
		if identity != nil && identity.BinaryName != "" {
			bannerName = identity.BinaryName + " doctor"
		}
		observability.CLILogger.Info("=== " + bannerName + " ===")
		observability.CLILogger.Info("")
		observability.CLILogger.Info("Running diagnostic checks...")
		observability.CLILogger.Info("")

		allChecks := true
		totalChecks := 7

		// Check 1: Go version
		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			observability.CLILogger.Info(fmt.Sprintf("[1/%d] Checking Go version... ✅ %s", totalChecks, goVersion), zap.String("go_version", goVersion))
		} else {
			observability.CLILogger.Warn(fmt.Sprintf("[1/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", totalChecks, goVersion), zap.String("go_version", goVersion))
			allChecks = false
		}

		// Check 2: Crucible access
		version := crucible.GetVersion()
		if version.Crucible != "" {
			observability.CLILogger.Info(fmt.Sprintf("[2/%d] Checking Crucible access... ✅ v%s", totalChecks, version.Crucible), zap.String("crucible_version", version.Crucible))
		} else {
			observability.CLILogger.Error(fmt.Sprintf("[2/%d] Checking Crucible access... ❌ Cannot access Crucible", totalChecks))
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible", errwrap.NewExternalServiceError("Crucible service unavailable"))
			allChecks = false
		}

		// Check 3: Gofulmen access
		if version.Gofulmen != "" {
			observability.CLILogger.Info(fmt.Sprintf("[3/%d] Checking Gofulmen access... ✅ v%s", totalChecks, version.Gofulmen), zap.String("gofulmen_version", version.Gofulmen))
		} else {
			observability.CLILogger.Error(fmt.Sprintf("[3/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", totalChecks))
			allChecks = false
		}

		// Check 4: Config directory
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			observability.CLILogger.Error(fmt.Sprintf("[4/%d] Checking config directory... ❌ Cannot resolve config directory", totalChecks))
			ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot resolve config directory", errwrap.NewInternalError("config directory not resolved"))
			allChecks = false
		} else {
			configDir := filepath.Dir(configPath)
			observability.CLILogger.Info(fmt.Sprintf("[4/%d] Checking config directory... ✅ %s", totalChecks, configDir), zap.String("config_dir", configDir))
		}

		// Check 5: Environment
		observability.CLILogger.Info(fmt.Sprintf("[5/%d] Checking environment... ✅ %s/%s", totalChecks, runtime.GOOS, runtime.GOARCH),
			zap.String("os", runtime.GOOS),
			zap.String("arch", runtime.GOARCH))

		cfg, cfgErr := config.Load(ctx)

		// Check 6: Rate limit store
		if cfgErr != nil {
			observability.CLILogger.Warn(fmt.Sprintf("[6/%d] Checking rate limit store... ⚠️  config not loaded", totalChecks), zap.Error(cfgErr))
			allChecks = false
		} else if err := pingStore(ctx, cfg.Store); err != nil {
			observability.CLILogger.Warn(fmt.Sprintf("[6/%d] Checking rate limit store... ⚠️  %s unreachable (requests will fail open)", totalChecks, storeLabel(cfg.Store)),
				zap.String("driver", cfg.Store.Driver),
				zap.Error(err))
			allChecks = false
		} else {
			observability.CLILogger.Info(fmt.Sprintf("[6/%d] Checking rate limit store... ✅ %s", totalChecks, storeLabel(cfg.Store)),
				zap.String("driver", cfg.Store.Driver))
		}

		// Check 7: Rate limit policies
		if cfgErr != nil {
			observability.CLILogger.Warn(fmt.Sprintf("[7/%d] Checking rate limit policies... ⚠️  skipped (config not loaded)", totalChecks))
		} else if policies, err := limiter.ApplyOverrides(limiter.DefaultPolicyConfigs(), cfg.RateLimit.Policies); err != nil {
			observability.CLILogger.Warn(fmt.Sprintf("[7/%d] Checking rate limit policies... ⚠️  %v", totalChecks, err))
			allChecks = false
		} else if err := validatePolicies(policies); err != nil {
			observability.CLILogger.Warn(fmt.Sprintf("[7/%d] Checking rate limit policies... ⚠️  %v", totalChecks, err))
			allChecks = false
		} else if !cfg.RateLimit.Enabled {
			observability.CLILogger.Warn(fmt.Sprintf("[7/%d] Checking rate limit policies... ⚠️  disabled (rate_limit.enabled=false)", totalChecks))
		} else {
			observability.CLILogger.Info(fmt.Sprintf("[7/%d] Checking rate limit policies... ✅ %d policies", totalChecks, len(policies)))
		}

		observability.CLILogger.Info("")
		if allChecks {
			appName := "subtrack"
			if identity != nil && identity.BinaryName != "" {
				appName = identity.BinaryName
			}
			observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", appName))
		} else {
			observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		observability.CLILogger.Info("")
		observability.CLILogger.Info("=== End Diagnostics ===")
	},
}

var (
	doctorInitForce      bool
	doctorInitAdminToken string
	doctorResetConfig    bool
	doctorResetData      bool
	doctorResetAll       bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		adminToken := strings.TrimSpace(doctorInitAdminToken)
		if strings.EqualFold(adminToken, "prompt") {
			token, err := promptForValue("Enter admin token (leave blank to disable admin endpoints): ")
			if err != nil {
				return err
			}
			adminToken = token
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		mode := os.FileMode(0644)
		if adminToken != "" {
			mode = 0600
		}

		if err := os.WriteFile(configPath, []byte(buildInitConfig(adminToken)), mode); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()

		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info(fmt.Sprintf("  Config file:   %s (%s)", configPath, existenceStatus(fileExists(configPath))))

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return nil
		}

		observability.CLILogger.Info(fmt.Sprintf("  Store:         %s", storeLabel(cfg.Store)))
		if isLocalLibsql(cfg.Store) {
			absPath, _ := filepath.Abs(cfg.Store.Path)
			if info, statErr := os.Stat(absPath); statErr == nil {
				observability.CLILogger.Info(fmt.Sprintf("  Database:      %s (%s)", absPath, formatFileSize(info.Size())))
			} else if os.IsNotExist(statErr) {
				observability.CLILogger.Info(fmt.Sprintf("  Database:      %s (not created yet)", absPath))
			} else {
				observability.CLILogger.Warn("Database status error", zap.String("db_path", absPath), zap.Error(statErr))
			}
		}

		observability.CLILogger.Info("")
		observability.CLILogger.Info("Environment:")
		for _, name := range []string{"SUBTRACK_ADMIN_TOKEN", "SUBTRACK_DB_AUTH_TOKEN", "SUBTRACK_REDIS_PASSWORD"} {
			observability.CLILogger.Info("  " + name + ": " + envStatus(name))
		}

		observability.CLILogger.Info("")
		observability.CLILogger.Info("Effective Settings:")
		observability.CLILogger.Info(fmt.Sprintf("  rate_limit.enabled: %t", cfg.RateLimit.Enabled))
		observability.CLILogger.Info(fmt.Sprintf("  rate_limit.store_timeout: %s", cfg.RateLimit.StoreTimeout))
		observability.CLILogger.Info(fmt.Sprintf("  rate_limit.cleanup_interval: %s", cfg.RateLimit.CleanupInterval))
		observability.CLILogger.Info(fmt.Sprintf("  admin endpoints: %t", strings.TrimSpace(cfg.Admin.Token) != ""))
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			configPath := config.DefaultConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := os.Remove(configPath); err == nil {
				observability.CLILogger.Info("Config removed", zap.String("path", configPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Config already removed", zap.String("path", configPath))
			} else {
				return fmt.Errorf("remove config file: %w", err)
			}
		}

		if doctorResetData {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !isLocalLibsql(cfg.Store) {
				return fmt.Errorf("%s store configured; use 'rate-limit reset --all' instead", storeLabel(cfg.Store))
			}

			absPath, _ := filepath.Abs(cfg.Store.Path)
			if err := os.Remove(absPath); err == nil {
				observability.CLILogger.Info("Database removed", zap.String("path", absPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Database already removed", zap.String("path", absPath))
			} else {
				return fmt.Errorf("remove database: %w", err)
			}
		}

		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		policies, err := limiter.ApplyOverrides(limiter.DefaultPolicyConfigs(), cfg.RateLimit.Policies)
		if err != nil {
			return err
		}
		if err := validatePolicies(policies); err != nil {
			return err
		}
		if _, err := servermw.ParseTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitAdminToken, "admin-token", "", "set admin token or use 'prompt' to enter")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

func pingStore(ctx context.Context, cfg config.StoreConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	backend, err := store.OpenBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close() //nolint:errcheck
	return backend.Ping(ctx)
}

func validatePolicies(policies []limiter.PolicyConfig) error {
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func isLocalLibsql(cfg config.StoreConfig) bool {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	return (driver == "" || driver == store.DriverLibsql) && strings.TrimSpace(cfg.URL) == "" && strings.TrimSpace(cfg.Path) != ""
}

// storeLabel describes the configured store without credentials.
func storeLabel(cfg config.StoreConfig) string {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case store.DriverRedis:
		addrs := cfg.Redis.Addrs
		if len(addrs) == 0 {
			addrs = []string{"localhost:6379"}
		}
		return fmt.Sprintf("redis (%s)", strings.Join(addrs, ","))
	case store.DriverPostgres, "postgresql":
		return "postgres"
	case store.DriverMemory:
		return "memory (single instance)"
	default:
		if strings.TrimSpace(cfg.URL) != "" {
			return "libsql (remote)"
		}
		return fmt.Sprintf("libsql (%s)", cfg.Path)
	}
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

func buildInitConfig(adminToken string) string {
	lines := []string{
		"# subtrack config - created by 'subtrack doctor init'",
		"server:",
		"  host: localhost",
		"  port: 8080",
		"store:",
		"  driver: libsql",
		"  # driver: redis",
		"  # redis:",
		"  #   addrs: [\"localhost:6379\"]",
		"rate_limit:",
		"  enabled: true",
		"  store_timeout: 2s",
		"  cleanup_interval: 5m",
		"  headers: true",
		"  # policies:",
		"  #   auth:",
		"  #     window: 15m",
		"  #     max: 5",
	}

	if strings.TrimSpace(adminToken) != "" {
		lines = append(lines, "admin:", fmt.Sprintf("  token: %q", adminToken))
	} else {
		lines = append(lines, "# admin:", "#   token: \"\"  # Set via SUBTRACK_ADMIN_TOKEN or uncomment")
	}

	return strings.Join(lines, "\n") + "\n"
}

func promptForValue(prompt string) (string, error) {
	if _, err := fmt.Fprint(os.Stdout, prompt); err != nil {
		return "", err
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
