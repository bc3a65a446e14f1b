package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dripgate/dripgate/internal/output"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show claim ledger statistics",
	Long: `Show the claim ledger: totals, success rate, per-credential usage and
top networks, read from the configured store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()

		backend, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		stats, err := ledgerFor(cfg, backend).Stats(cmd.Context())
		if err != nil {
			return err
		}

		return writeOutput(cmd, "stats", func(f output.Formatter) (string, error) {
			return f.FormatStats(stats)
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	addOutputFlags(statsCmd)
}
