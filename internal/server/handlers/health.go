package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/dripgate/dripgate/internal/errors"
)

// Check states reported per dependency.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is anything the gateway depends on: the window store, the
// telemetry exporter.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

type registeredCheck struct {
	name     string
	checker  HealthChecker
	critical bool
}

// HealthManager runs dependency checks for the health endpoints. A failing
// critical check makes the gateway unready; an optional one only degrades it.
type HealthManager struct {
	mu      sync.RWMutex
	checks  []registeredCheck
	version string
	started atomic.Bool
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{version: version}
}

// RegisterChecker adds a critical check. Claims cannot be served without it.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(name, checker, true)
}

// RegisterOptional adds a check whose failure reports degraded.
func (hm *HealthManager) RegisterOptional(name string, checker HealthChecker) {
	hm.register(name, checker, false)
}

func (hm *HealthManager) register(name string, checker HealthChecker, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	for i, c := range hm.checks {
		if c.name == name {
			hm.checks[i] = registeredCheck{name: name, checker: checker, critical: critical}
			return
		}
	}
	hm.checks = append(hm.checks, registeredCheck{name: name, checker: checker, critical: critical})
}

// MarkStarted flips the startup probe once the gateway is assembled.
func (hm *HealthManager) MarkStarted() {
	hm.started.Store(true)
}

// runChecks runs every check concurrently under ctx.
func (hm *HealthManager) runChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	checks := append([]registeredCheck(nil), hm.checks...)
	hm.mu.RUnlock()

	results := make(map[string]string, len(checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range checks {
		wg.Add(1)
		go func(c registeredCheck) {
			defer wg.Done()
			status := StatusHealthy
			if err := c.checker.CheckHealth(ctx); err != nil {
				switch {
				case ctx.Err() != nil:
					status = StatusTimeout
				case c.critical:
					status = StatusUnhealthy
				default:
					status = StatusDegraded
				}
			}
			mu.Lock()
			results[c.name] = status
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// overallStatus: any unhealthy or timed-out critical check is unhealthy.
func (hm *HealthManager) overallStatus(results map[string]string) string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	overall := StatusHealthy
	for _, c := range hm.checks {
		switch results[c.name] {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusTimeout:
			if c.critical {
				return StatusUnhealthy
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func (hm *HealthManager) evaluate(r *http.Request, timeout time.Duration) (string, map[string]string) {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	results := hm.runChecks(ctx)
	return hm.overallStatus(results), results
}

// HealthHandler reports every check with the build version.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, results := hm.evaluate(r, 5*time.Second)
	if status == StatusUnhealthy {
		respondProbeFailure(w, r, "aggregate", "aggregate health check failed", status, results)
		return
	}
	writeJSON(w, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	})
}

// LivenessHandler answers while the process serves HTTP. It deliberately
// skips dependency checks: a store outage must not restart the gateway.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ProbeResponse{Status: "alive", Timestamp: time.Now().UTC()})
}

// ReadinessHandler fails while a critical dependency is down, so load
// balancers stop routing claims here.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status, results := hm.evaluate(r, 3*time.Second)
	if status == StatusUnhealthy {
		respondProbeFailure(w, r, "ready", "readiness probe failed", status, results)
		return
	}
	writeJSON(w, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

// StartupHandler fails until MarkStarted.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	if !hm.started.Load() {
		respondProbeFailure(w, r, "startup", "gateway still starting", "starting", nil)
		return
	}
	writeJSON(w, ProbeResponse{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// respondProbeFailure writes a 503 naming the failing checks. Check errors
// themselves stay out of the body.
func respondProbeFailure(w http.ResponseWriter, r *http.Request, probe, message, status string, results map[string]string) {
	details := map[string]interface{}{"status": status, "probe": probe}
	if len(results) > 0 {
		details["checks"] = results
	}
	envelope := apperrors.NewServiceUnavailableError(message).WithDetails(details)

	var failing []string
	for name, result := range results {
		if result != StatusHealthy {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		if updated, err := envelope.WithContext(map[string]interface{}{"failing_checks": failing}); err == nil {
			envelope = updated
		}
	}
	envelope, _ = envelope.WithSeverity(gferrors.SeverityMedium)
	apperrors.RespondWithError(w, r, envelope)
}

var globalHealthManager *HealthManager

// InitHealthManager replaces the process-wide manager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobalManager(probe string, serve func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hm := globalHealthManager; hm != nil {
			serve(hm, w, r)
			return
		}
		respondProbeFailure(w, r, probe, "health manager not initialized", "unknown", nil)
	}
}

var (
	HealthHandler    = withGlobalManager("aggregate", (*HealthManager).HealthHandler)
	LivenessHandler  = withGlobalManager("live", (*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobalManager("ready", (*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobalManager("startup", (*HealthManager).StartupHandler)
)
