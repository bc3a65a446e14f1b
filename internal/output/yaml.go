package output

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dripgate/dripgate/internal/core"
)

// YAMLFormatter renders results as YAML documents.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatStats(stats core.Stats) (string, error) {
	return marshalYAML(stats)
}

func (f *YAMLFormatter) FormatWindows(entries []core.WindowEntry) (string, error) {
	if entries == nil {
		entries = []core.WindowEntry{}
	}
	return marshalYAML(entries)
}

func (f *YAMLFormatter) FormatAudit(events []core.AuditEvent) (string, error) {
	if events == nil {
		events = []core.AuditEvent{}
	}
	return marshalYAML(events)
}

func (f *YAMLFormatter) FormatReset(result ResetResult) (string, error) {
	return marshalYAML(result)
}

func marshalYAML(value any) (string, error) {
	data, err := yaml.Marshal(value)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}
