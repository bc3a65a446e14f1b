package output

import (
	"encoding/json"

	"github.com/dripgate/dripgate/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatStats renders stats as JSON.
func (f *JSONFormatter) FormatStats(stats core.Stats) (string, error) {
	return f.marshal(stats)
}

// FormatWindows renders window entries as a JSON array, never null.
func (f *JSONFormatter) FormatWindows(entries []core.WindowEntry) (string, error) {
	if entries == nil {
		entries = []core.WindowEntry{}
	}
	return f.marshal(entries)
}

// FormatAudit renders audit events as a JSON array, never null.
func (f *JSONFormatter) FormatAudit(events []core.AuditEvent) (string, error) {
	if events == nil {
		events = []core.AuditEvent{}
	}
	return f.marshal(events)
}

// FormatReset renders a reset summary as JSON.
func (f *JSONFormatter) FormatReset(result ResetResult) (string, error) {
	return f.marshal(result)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
