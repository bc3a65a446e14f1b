package cmd

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/observability"
	"github.com/dripgate/dripgate/internal/output"
)

var (
	ledgerResetYes    bool
	ledgerResetDryRun bool

	ledgerAuditLimit int
	ledgerAuditEvent string
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and reset the claim ledger",
}

var ledgerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero the claim ledger and rewind credential rotation",
	Long: `Zero every ledger counter, start a new epoch and rewind the credential
cursor to the first key. This cannot be undone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ledgerResetYes && !ledgerResetDryRun {
			return errors.New("ledger reset requires --yes (or use --dry-run)")
		}

		cfg := mustLoadConfig()
		backend, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		ledger := ledgerFor(cfg, backend)

		var result output.ResetResult
		if ledgerResetDryRun {
			snap, err := ledger.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			result = output.ResetResult{Target: "ledger", Matched: snap.TotalClaims, DryRun: true}
		} else {
			requestID := "cli-" + uuid.NewString()
			previous, err := ledger.Reset(cmd.Context(), requestID)
			if err != nil {
				return err
			}
			observability.CLILogger.Info("Ledger reset",
				zap.String("request_id", requestID),
				zap.Int64("discarded_claims", previous.TotalClaims))
			result = output.ResetResult{Target: "ledger", Matched: previous.TotalClaims, Deleted: previous.TotalClaims}
		}

		return writeOutput(cmd, "ledger.reset", func(f output.Formatter) (string, error) {
			return f.FormatReset(result)
		})
	},
}

var ledgerAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ledgerAuditLimit < 0 {
			return errors.New("--limit must be >= 0")
		}

		cfg := mustLoadConfig()
		if !cfg.Audit.Store {
			observability.CLILogger.Warn("audit.store is disabled; the store may hold no events")
		}

		backend, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		events, err := backend.Tail.Tail(cmd.Context(), core.AuditQuery{
			Limit: ledgerAuditLimit,
			Event: strings.TrimSpace(ledgerAuditEvent),
		})
		if err != nil {
			return err
		}

		return writeOutput(cmd, "ledger.audit", func(f output.Formatter) (string, error) {
			return f.FormatAudit(events)
		})
	},
}

func init() {
	ledgerResetCmd.Flags().BoolVar(&ledgerResetYes, "yes", false, "Confirm destructive reset")
	ledgerResetCmd.Flags().BoolVar(&ledgerResetDryRun, "dry-run", false, "Show what would be discarded")
	addOutputFlags(ledgerResetCmd)

	ledgerAuditCmd.Flags().IntVar(&ledgerAuditLimit, "limit", 50, "Maximum events to show")
	ledgerAuditCmd.Flags().StringVar(&ledgerAuditEvent, "event", "", "Only show events with this name (e.g. claim_success)")
	addOutputFlags(ledgerAuditCmd)

	ledgerCmd.AddCommand(ledgerResetCmd)
	ledgerCmd.AddCommand(ledgerAuditCmd)
	rootCmd.AddCommand(ledgerCmd)
}
