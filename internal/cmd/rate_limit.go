package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/subtrack/subtrack/internal/core"
	"github.com/subtrack/subtrack/internal/core/limiter"
	"github.com/subtrack/subtrack/internal/output"
)

// nowFunc is the clock used for expiry decisions in CLI output.
var nowFunc = time.Now

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and manage stored rate limit counters",
	Long: `Inspect and manage the fixed-window counters held in the configured store.

Keys are stored as "<policy>:<client>", for example "auth:203.0.113.7".`,
}

var (
	rateLimitAll    bool
	rateLimitKey    string
	rateLimitPrefix string
	rateLimitYes    bool
	rateLimitDryRun bool
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate limit records",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := core.RateLimitQuery{
			All:    rateLimitAll,
			Key:    strings.TrimSpace(rateLimitKey),
			Prefix: strings.TrimSpace(rateLimitPrefix),
		}
		if query.Key == "" && query.Prefix == "" {
			query.All = true
		}

		backend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		records, err := backend.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeRendered(cmd, "list", func(f output.Formatter) (string, error) {
			return f.FormatRecords(records, nowFunc())
		})
	},
}

var rateLimitGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a single rate limit record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		record, err := lookupRecord(cmd.Context(), backend, args[0])
		if err != nil {
			return err
		}
		return writeRendered(cmd, "get."+sanitizeFilename(record.Key), func(f output.Formatter) (string, error) {
			if _, ok := f.(*output.TableFormatter); ok {
				return recordBox(record, nowFunc()), nil
			}
			return f.FormatRecords([]core.RateLimitRecord{record}, nowFunc())
		})
	},
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored rate limit records",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := core.RateLimitQuery{
			All:    rateLimitAll,
			Key:    strings.TrimSpace(rateLimitKey),
			Prefix: strings.TrimSpace(rateLimitPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !rateLimitYes && !rateLimitDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		backend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		summary, err := resetRecords(cmd.Context(), backend, query, rateLimitDryRun)
		if err != nil {
			return err
		}
		return writeRendered(cmd, "reset", func(f output.Formatter) (string, error) {
			return f.FormatReset(summary)
		})
	},
}

var rateLimitCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete rate limit records whose window has closed",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		summary, err := cleanupRecords(cmd.Context(), backend, nowFunc(), rateLimitDryRun)
		if err != nil {
			return err
		}
		return writeRendered(cmd, "cleanup", func(f output.Formatter) (string, error) {
			return f.FormatReset(summary)
		})
	},
}

func lookupRecord(ctx context.Context, backend limiter.Backend, key string) (core.RateLimitRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.RateLimitRecord{}, errors.New("key is required")
	}
	record, err := backend.GetRateLimit(ctx, key)
	if err != nil {
		return core.RateLimitRecord{}, err
	}
	if record == nil {
		return core.RateLimitRecord{}, fmt.Errorf("no rate limit record for %q", key)
	}
	return *record, nil
}

func resetRecords(ctx context.Context, backend limiter.Backend, query core.RateLimitQuery, dryRun bool) (output.ResetSummary, error) {
	summary := output.ResetSummary{Operation: "reset", DryRun: dryRun}

	matched, err := backend.CountRateLimits(ctx, query)
	if err != nil {
		return summary, err
	}
	summary.Matched = matched
	if dryRun {
		return summary, nil
	}

	deleted, err := backend.ResetRateLimits(ctx, query)
	if err != nil {
		return summary, err
	}
	summary.Deleted = deleted
	return summary, nil
}

func cleanupRecords(ctx context.Context, backend limiter.Backend, now time.Time, dryRun bool) (output.ResetSummary, error) {
	summary := output.ResetSummary{Operation: "cleanup", DryRun: dryRun}
	if dryRun {
		records, err := backend.ListRateLimits(ctx, core.RateLimitQuery{All: true})
		if err != nil {
			return summary, err
		}
		for _, r := range records {
			if r.Expired(now) {
				summary.Matched++
			}
		}
		return summary, nil
	}

	removed, err := backend.CleanupRateLimits(ctx, now)
	if err != nil {
		return summary, err
	}
	summary.Deleted = removed
	return summary, nil
}

func recordBox(record core.RateLimitRecord, now time.Time) string {
	state := "active"
	if record.Expired(now) {
		state = "expired"
	}
	lines := []string{
		"Rate Limit",
		"",
		fmt.Sprintf("Key:   %s", record.Key),
		fmt.Sprintf("Hits:  %d", record.TotalHits),
		fmt.Sprintf("Reset: %s", record.ResetTime.UTC().Format(time.RFC3339)),
		fmt.Sprintf("State: %s", state),
	}
	return ascii.DrawBox(strings.Join(lines, "\n"), 0)
}

// writeRendered resolves --output-format, --out and --out-dir and writes the
// rendered result to the chosen sink.
func writeRendered(cmd *cobra.Command, name string, render func(output.Formatter) (string, error)) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return err
	}
	if outDir != "" {
		dir, err := ensureOutDir(outDir)
		if err != nil {
			return err
		}
		outPath = filepath.Join(dir, fmt.Sprintf("rate-limit.%s.%s", name, format.Extension()))
	}

	rendered, err := render(output.NewFormatter(format))
	if err != nil {
		return err
	}

	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	_, err = fmt.Fprintln(sink.writer, strings.TrimRight(rendered, "\n"))
	return err
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|yaml|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory")
}

func init() {
	rateLimitListCmd.Flags().BoolVar(&rateLimitAll, "all", false, "List all records (default when no filter is given)")
	rateLimitListCmd.Flags().StringVar(&rateLimitKey, "key", "", "List a single key (exact match)")
	rateLimitListCmd.Flags().StringVar(&rateLimitPrefix, "prefix", "", "List keys with matching prefix")

	rateLimitResetCmd.Flags().BoolVar(&rateLimitAll, "all", false, "Reset all records")
	rateLimitResetCmd.Flags().StringVar(&rateLimitKey, "key", "", "Reset a single key (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitPrefix, "prefix", "", "Reset keys with matching prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitDryRun, "dry-run", false, "Show what would be deleted")

	rateLimitCleanupCmd.Flags().BoolVar(&rateLimitDryRun, "dry-run", false, "Count expired records without deleting")

	for _, c := range []*cobra.Command{rateLimitListCmd, rateLimitGetCmd, rateLimitResetCmd, rateLimitCleanupCmd} {
		addOutputFlags(c)
		rateLimitCmd.AddCommand(c)
	}
	rootCmd.AddCommand(rateLimitCmd)
}
