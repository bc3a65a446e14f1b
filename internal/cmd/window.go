package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/output"
)

var (
	windowListAll    bool
	windowListPrefix string

	windowResetAll    bool
	windowResetKey    string
	windowResetPrefix string
	windowResetYes    bool
	windowResetDryRun bool
)

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Manage stored sliding-window state",
	Long: `Inspect or clear sliding-window keys. Keys are prefixed by scope:
infra: (per client IP), wallet: (per address and network) and ip: (per IP quota).`,
}

var windowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored window keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := core.WindowQuery{
			All:    windowListAll,
			Prefix: strings.TrimSpace(windowListPrefix),
		}
		if !query.All && query.Prefix == "" {
			query.All = true
		}

		cfg := mustLoadConfig()
		backend, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		entries, err := backend.Admin.ListWindows(cmd.Context(), query)
		if err != nil {
			return err
		}

		return writeOutput(cmd, "window.list", func(f output.Formatter) (string, error) {
			return f.FormatWindows(entries)
		})
	},
}

var windowResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear stored window keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := core.WindowQuery{
			All:    windowResetAll,
			Key:    strings.TrimSpace(windowResetKey),
			Prefix: strings.TrimSpace(windowResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !windowResetYes && !windowResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		cfg := mustLoadConfig()
		backend, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		matched, err := backend.Admin.CountWindows(cmd.Context(), query)
		if err != nil {
			return err
		}

		result := output.ResetResult{Target: "window", Matched: int64(matched), DryRun: windowResetDryRun}
		if !windowResetDryRun {
			deleted, err := backend.Admin.ResetWindows(cmd.Context(), query)
			if err != nil {
				return err
			}
			result.Deleted = deleted
		}

		return writeOutput(cmd, "window.reset", func(f output.Formatter) (string, error) {
			return f.FormatReset(result)
		})
	},
}

func init() {
	windowListCmd.Flags().BoolVar(&windowListAll, "all", false, "List all keys")
	windowListCmd.Flags().StringVar(&windowListPrefix, "prefix", "", "List keys with matching prefix (e.g. wallet:)")
	addOutputFlags(windowListCmd)

	windowResetCmd.Flags().BoolVar(&windowResetAll, "all", false, "Reset all keys")
	windowResetCmd.Flags().StringVar(&windowResetKey, "key", "", "Reset a single key (exact match)")
	windowResetCmd.Flags().StringVar(&windowResetPrefix, "prefix", "", "Reset keys with matching prefix")
	windowResetCmd.Flags().BoolVar(&windowResetYes, "yes", false, "Confirm destructive reset")
	windowResetCmd.Flags().BoolVar(&windowResetDryRun, "dry-run", false, "Show what would be deleted")
	addOutputFlags(windowResetCmd)

	windowCmd.AddCommand(windowListCmd)
	windowCmd.AddCommand(windowResetCmd)
	rootCmd.AddCommand(windowCmd)
}
