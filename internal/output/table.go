package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dripgate/dripgate/internal/core"
)

// TableFormatter renders results as ASCII tables.
type TableFormatter struct{}

// FormatStats renders the ledger summary followed by credential usage and
// network breakdowns.
func (f *TableFormatter) FormatStats(stats core.Stats) (string, error) {
	summary := newTable()
	summary.AppendHeader(table.Row{"Metric", "Value"})
	summary.AppendRows([]table.Row{
		{"Total claims", stats.TotalClaims},
		{"Successful", stats.SuccessfulClaims},
		{"Failed", stats.FailedClaims},
		{"Success rate", stats.SuccessRate},
		{"Own-key claims", stats.ClaimsByMode[string(core.ModeOwnKey)]},
		{"Shared claims", stats.ClaimsByMode[string(core.ModeShared)]},
		{"Uptime", (time.Duration(stats.Uptime) * time.Second).String()},
		{"Last reset", formatTime(stats.EpochStart)},
		{"Available keys", stats.AvailableKeys},
		{"Current key", core.KeyLabel(stats.CurrentKeyIndex)},
		{"Balanced", yesNo(stats.IsBalanced)},
	})

	sections := []string{summary.Render()}

	if len(stats.KeyUsageArray) > 0 {
		usage := newTable()
		usage.AppendHeader(table.Row{"Key", "Claims"})
		for _, entry := range stats.KeyUsageArray {
			usage.AppendRow(table.Row{entry.Key, entry.Count})
		}
		sections = append(sections, usage.Render())
	}

	if len(stats.TopNetworks) > 0 {
		networks := newTable()
		networks.AppendHeader(table.Row{"Network", "Claims"})
		for _, entry := range stats.TopNetworks {
			networks.AppendRow(table.Row{entry.Network, entry.Count})
		}
		sections = append(sections, networks.Render())
	}

	return strings.Join(sections, "\n\n"), nil
}

// FormatWindows renders one row per stored window key.
func (f *TableFormatter) FormatWindows(entries []core.WindowEntry) (string, error) {
	if len(entries) == 0 {
		return "(no stored window state)", nil
	}

	sorted := append([]core.WindowEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	t := newTable()
	t.AppendHeader(table.Row{"Key", "Events", "Oldest", "Newest"})
	for _, entry := range sorted {
		t.AppendRow(table.Row{entry.Key, entry.Events, formatTime(entry.Oldest), formatTime(entry.Newest)})
	}
	t.AppendFooter(table.Row{"", len(sorted), "", ""})
	return t.Render(), nil
}

// FormatAudit renders audit events in the order given.
func (f *TableFormatter) FormatAudit(events []core.AuditEvent) (string, error) {
	if len(events) == 0 {
		return "(no audit events)", nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Time", "Event", "Mode", "Network", "Key", "Status", "Detail"})
	for _, event := range events {
		key := "-"
		if event.CredentialIndex != nil {
			key = core.KeyLabel(*event.CredentialIndex)
		}
		status := "-"
		if event.StatusCode != 0 {
			status = fmt.Sprintf("%d", event.StatusCode)
		}
		t.AppendRow(table.Row{
			formatTime(event.Timestamp),
			event.Event,
			dash(string(event.Mode)),
			dash(event.Network),
			key,
			status,
			dash(event.Detail),
		})
	}
	return t.Render(), nil
}

// FormatReset renders a one-line summary.
func (f *TableFormatter) FormatReset(result ResetResult) (string, error) {
	if result.DryRun {
		return fmt.Sprintf("Would reset %d %s entr(ies)", result.Matched, result.Target), nil
	}
	return fmt.Sprintf("Reset %d/%d %s entr(ies)", result.Deleted, result.Matched, result.Target), nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format(time.RFC3339)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
