package engine

import (
	"context"
	"time"

	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/core/identity"
)

// Default limiter policies.
var (
	DefaultInfraPolicy  = core.WindowPolicy{Limit: 100, Window: time.Hour}
	DefaultWalletPolicy = core.WindowPolicy{Limit: 1, Window: 24 * time.Hour}
	DefaultIPPolicy     = core.WindowPolicy{Limit: 3, Window: 24 * time.Hour}
)

// InfraLimiter caps raw request volume per client IP before any parsing.
type InfraLimiter struct {
	Counter *WindowCounter
	Policy  core.WindowPolicy
	// Disabled turns Admit into a no-op that always allows.
	Disabled bool
}

// Admit checks the client IP and records the request only when allowed. The
// check and the record are one store operation.
func (l *InfraLimiter) Admit(ctx context.Context, ip string) (core.WindowDecision, error) {
	if l == nil || l.Disabled {
		return core.WindowDecision{Allowed: true}, nil
	}
	decisions, _, err := l.Counter.Take(ctx, core.WindowSlot{
		Key:    identity.InfraKey(ip),
		Limit:  l.Policy.Limit,
		Window: l.Policy.Window,
	})
	if err != nil {
		return core.WindowDecision{}, err
	}
	return decisions[0], nil
}

// QuotaScope names which quota failed.
type QuotaScope string

const (
	QuotaScopeNone   QuotaScope = ""
	QuotaScopeWallet QuotaScope = "wallet"
	QuotaScopeIP     QuotaScope = "ip"
)

// QuotaDecision is the combined result of the shared-mode quota checks.
type QuotaDecision struct {
	core.WindowDecision
	Scope QuotaScope
}

// QuotaLimiter enforces per-wallet and optional per-IP quotas for claims
// paid from the shared credential pool.
type QuotaLimiter struct {
	Counter   *WindowCounter
	Wallet    core.WindowPolicy
	IP        core.WindowPolicy
	IPEnabled bool
}

// Check evaluates the wallet quota, then the IP quota when enabled. It
// returns the first failing decision. Nothing is recorded.
func (q *QuotaLimiter) Check(ctx context.Context, address, network, ip string) (QuotaDecision, error) {
	wallet, err := q.Counter.Check(ctx, identity.WalletKey(address, network), q.Wallet.Limit, q.Wallet.Window)
	if err != nil {
		return QuotaDecision{}, err
	}
	if !wallet.Allowed {
		return QuotaDecision{WindowDecision: wallet, Scope: QuotaScopeWallet}, nil
	}

	if !q.IPEnabled {
		return QuotaDecision{WindowDecision: wallet}, nil
	}

	byIP, err := q.Counter.Check(ctx, identity.IPKey(ip), q.IP.Limit, q.IP.Window)
	if err != nil {
		return QuotaDecision{}, err
	}
	if !byIP.Allowed {
		return QuotaDecision{WindowDecision: byIP, Scope: QuotaScopeIP}, nil
	}
	return QuotaDecision{WindowDecision: wallet}, nil
}

// Record counts one claim against every enabled quota. Callers invoke it only
// after Check allowed the claim.
func (q *QuotaLimiter) Record(ctx context.Context, address, network, ip string) error {
	if err := q.Counter.Record(ctx, identity.WalletKey(address, network), q.Wallet.Window); err != nil {
		return err
	}
	if q.IPEnabled {
		if err := q.Counter.Record(ctx, identity.IPKey(ip), q.IP.Window); err != nil {
			return err
		}
	}
	return nil
}

// Reserve is Check and Record as one atomic unit: the claim is counted
// against every enabled quota only when all of them allow it, and a claim
// refused by the IP quota leaves the wallet window untouched.
func (q *QuotaLimiter) Reserve(ctx context.Context, address, network, ip string) (QuotaDecision, error) {
	slots := []core.WindowSlot{{
		Key:    identity.WalletKey(address, network),
		Limit:  q.Wallet.Limit,
		Window: q.Wallet.Window,
	}}
	if q.IPEnabled {
		slots = append(slots, core.WindowSlot{
			Key:    identity.IPKey(ip),
			Limit:  q.IP.Limit,
			Window: q.IP.Window,
		})
	}

	decisions, blocked, err := q.Counter.Take(ctx, slots...)
	if err != nil {
		return QuotaDecision{}, err
	}
	switch blocked {
	case -1:
		return QuotaDecision{WindowDecision: decisions[0]}, nil
	case 0:
		return QuotaDecision{WindowDecision: decisions[0], Scope: QuotaScopeWallet}, nil
	default:
		return QuotaDecision{WindowDecision: decisions[blocked], Scope: QuotaScopeIP}, nil
	}
}
