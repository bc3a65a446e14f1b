package app

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/metrics"
)

// StatsReader is the ledger view the reporter publishes.
type StatsReader interface {
	Stats(ctx context.Context) (core.Stats, error)
}

// Purger drops expired window state.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// Reporter periodically exports ledger gauges, warns on credential imbalance
// and purges idle window rows.
type Reporter struct {
	Stats    StatsReader
	Purger   Purger
	Interval time.Duration
	Logger   *logging.Logger
	Clock    func() time.Time

	wasBalanced *bool
}

const defaultReportInterval = 30 * time.Second

// Run reports immediately and then on every tick until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one report cycle. Failures are logged, never returned.
func (r *Reporter) Tick(ctx context.Context) {
	now := r.now()
	metrics.SetServerUptime(int64(time.Since(startedAt) / time.Second))

	if r.Stats != nil {
		stats, err := r.Stats.Stats(ctx)
		if err != nil {
			r.warn("Ledger report failed", zap.Error(err))
		} else {
			metrics.SetLedgerGauges(metrics.LedgerGauges{
				Total:           stats.TotalClaims,
				Successful:      stats.SuccessfulClaims,
				Failed:          stats.FailedClaims,
				CredentialUsage: stats.KeyUsage,
				Balanced:        stats.IsBalanced,
				PoolSize:        stats.AvailableKeys,
			})
			r.noteBalance(stats)
		}
	}

	if r.Purger != nil {
		purged, err := r.Purger.Purge(ctx, now)
		switch {
		case err != nil:
			r.warn("Window purge failed", zap.Error(err))
		case purged > 0 && r.Logger != nil:
			r.Logger.Debug("Purged expired window events", zap.Int64("rows", purged))
		}
	}
}

// noteBalance logs only transitions so a steady imbalance is not repeated
// every tick.
func (r *Reporter) noteBalance(stats core.Stats) {
	if r.wasBalanced != nil && *r.wasBalanced == stats.IsBalanced {
		return
	}
	balanced := stats.IsBalanced
	r.wasBalanced = &balanced
	if !balanced {
		r.warn("Credential usage is unbalanced",
			zap.Int("available_keys", stats.AvailableKeys),
			zap.Any("key_usage", stats.KeyUsage))
	}
}

func (r *Reporter) warn(msg string, fields ...zap.Field) {
	if r.Logger != nil {
		r.Logger.Warn(msg, fields...)
	}
}

func (r *Reporter) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}
