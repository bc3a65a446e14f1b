package app

import (
	"context"

	apperrors "github.com/dripgate/dripgate/internal/errors"
	"github.com/dripgate/dripgate/internal/observability"
)

// telemetryReady fails until the telemetry system and its exporter exist.
func telemetryReady(context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return apperrors.NewInternalError("telemetry system not initialized")
	}
	return nil
}
