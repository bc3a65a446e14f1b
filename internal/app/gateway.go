package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/audit"
	"github.com/dripgate/dripgate/internal/config"
	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/core/engine"
	"github.com/dripgate/dripgate/internal/core/identity"
	"github.com/dripgate/dripgate/internal/server"
	"github.com/dripgate/dripgate/internal/server/handlers"
	"github.com/dripgate/dripgate/internal/upstream"
)

// Gateway is the fully wired claim pipeline over one backend.
type Gateway struct {
	Backend      *Backend
	Pool         *engine.CredentialPool
	Auditor      *engine.Auditor
	Ledger       *engine.Ledger
	Orchestrator *engine.ClaimOrchestrator
	Upstream     engine.Upstream

	cfg      *config.Config
	clock    func() time.Time
	disabled atomic.Bool
	closers  []func() error
}

// Option adjusts gateway assembly.
type Option func(*gatewayOptions)

type gatewayOptions struct {
	clock    func() time.Time
	upstream engine.Upstream
	sinks    []audit.NamedSink
}

// WithClock fixes the clock used by every component.
func WithClock(clock func() time.Time) Option {
	return func(o *gatewayOptions) { o.clock = clock }
}

// WithUpstream replaces the HTTP faucet client.
func WithUpstream(u engine.Upstream) Option {
	return func(o *gatewayOptions) { o.upstream = u }
}

// WithAuditSink adds a sink next to the configured ones.
func WithAuditSink(name string, sink audit.Sink) Option {
	return func(o *gatewayOptions) {
		o.sinks = append(o.sinks, audit.NamedSink{Name: name, Sink: sink})
	}
}

// NewGateway wires limiters, pool, dispatcher, ledger and audit sinks from cfg.
// The gateway does not own backend; Close releases only what NewGateway opened.
func NewGateway(cfg *config.Config, backend *Backend, logger *logging.Logger, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if backend == nil {
		return nil, errors.New("store backend is required")
	}

	o := gatewayOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gateway{Backend: backend, cfg: cfg, clock: o.clock}
	g.disabled.Store(cfg.Faucet.Disabled)

	sinks, err := g.auditSinks(cfg.Audit, backend, logger)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, o.sinks...)
	g.Auditor = &engine.Auditor{Sink: sinks, Logger: logger, Clock: o.clock}

	g.Upstream = o.upstream
	if g.Upstream == nil {
		up := cfg.Faucet.Upstream
		g.Upstream = upstream.NewClient(upstream.Options{
			BaseURL:           up.BaseURL,
			Timeout:           up.Timeout,
			QuotaStatuses:     up.QuotaStatuses,
			QuotaCodes:        up.QuotaCodes,
			RequestsPerSecond: up.RequestsPerSecond,
			Burst:             up.Burst,
		})
	}

	counter := &engine.WindowCounter{Store: backend.Windows, Clock: o.clock}
	limits := cfg.Faucet.Limits
	g.Pool = engine.NewCredentialPool(cfg.Faucet.Credentials, backend.Cursors)
	g.Ledger = &engine.Ledger{Store: backend.Ledger, Pool: g.Pool, Audit: g.Auditor, Clock: o.clock}

	g.Orchestrator = &engine.ClaimOrchestrator{
		Infra: &engine.InfraLimiter{
			Counter:  counter,
			Policy:   policy(limits.Infra),
			Disabled: !limits.Infra.Enabled,
		},
		Quota: &engine.QuotaLimiter{
			Counter:   counter,
			Wallet:    policy(limits.Wallet),
			IP:        policy(limits.IP),
			IPEnabled: limits.IP.Enabled,
		},
		Pool: g.Pool,
		Dispatcher: &engine.FailoverDispatcher{
			Pool:     g.Pool,
			Upstream: g.Upstream,
			Audit:    g.Auditor,
		},
		Upstream:     g.Upstream,
		Ledger:       g.Ledger,
		Audit:        g.Auditor,
		Logger:       logger,
		Networks:     core.NewNetworkSet(cfg.Faucet.Networks),
		PasswordHash: cfg.Faucet.PasswordHash,
		Revoked:      identity.NewDigestSet(cfg.Faucet.RevokedKeyHashes),
		Disabled:     g.Disabled,
		Clock:        o.clock,
	}

	if logger != nil {
		logger.Info("Gateway assembled",
			zap.String("store", backend.Driver),
			zap.Int("credentials", g.Pool.Size()),
			zap.Int("networks", len(cfg.Faucet.Networks)),
			zap.Bool("ip_quota", limits.IP.Enabled),
			zap.Bool("disabled", cfg.Faucet.Disabled),
			zap.Int("audit_sinks", len(sinks)))
		if g.Pool.Size() == 0 {
			logger.Warn("No upstream credentials configured; shared-mode claims will be refused")
		}
	}

	return g, nil
}

func (g *Gateway) auditSinks(cfg config.AuditConfig, backend *Backend, logger *logging.Logger) (audit.MultiSink, error) {
	var sinks audit.MultiSink
	if cfg.Log {
		sinks = append(sinks, audit.NamedSink{Name: "log", Sink: audit.LogSink{Logger: logger}})
	}
	if cfg.Store && backend.Audit != nil {
		sinks = append(sinks, audit.NamedSink{Name: "store", Sink: backend.Audit})
	}
	if cfg.Kafka.Enabled {
		kafka, err := audit.DialKafka(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("audit kafka sink: %w", err)
		}
		g.closers = append(g.closers, kafka.Close)
		sinks = append(sinks, audit.NamedSink{Name: "kafka", Sink: kafka})
	}
	return sinks, nil
}

func policy(limit config.LimitConfig) core.WindowPolicy {
	return core.WindowPolicy{Limit: limit.Limit, Window: limit.Window}
}

// Disabled reports the kill switch.
func (g *Gateway) Disabled() bool {
	return g.disabled.Load()
}

// SetDisabled flips the kill switch for subsequent claims.
func (g *Gateway) SetDisabled(disabled bool) {
	g.disabled.Store(disabled)
}

// Process runs one claim.
func (g *Gateway) Process(ctx context.Context, sub core.Submission) engine.ClaimResult {
	return g.Orchestrator.Process(ctx, sub)
}

// API builds the HTTP surface for the gateway.
func (g *Gateway) API() *server.API {
	stats := &handlers.StatsHandler{Source: g.Ledger, StorageType: g.Backend.Driver, Clock: g.clock}
	return &server.API{
		Claims:            &handlers.ClaimHandler{Processor: g, MaxBodyBytes: g.cfg.Server.MaxBodyBytes, Clock: g.clock},
		Stats:             stats,
		LiveStats:         &handlers.LiveStatsHandler{Stats: stats, Interval: g.cfg.Stats.LiveInterval},
		LedgerWipe:        &handlers.LedgerResetHandler{Ledger: g.Ledger},
		AdminToken:        g.cfg.Admin.Token,
		TrustProxyHeaders: g.cfg.Server.TrustProxyHeaders,
	}
}

// Close releases sinks opened by NewGateway.
func (g *Gateway) Close() error {
	var errs []error
	for _, closeFn := range g.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	g.closers = nil
	return errors.Join(errs...)
}
