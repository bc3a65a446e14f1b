package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/core/identity"
	"github.com/dripgate/dripgate/internal/metrics"
)

// State is a step of the claim lifecycle.
type State string

const (
	StateReceived     State = "received"
	StateInfraChecked State = "infra_checked"
	StateValidated    State = "validated"
	StateModeResolved State = "mode_resolved"
	StateQuotaChecked State = "quota_checked"
	StateDispatched   State = "dispatched"
	StateRecorded     State = "recorded"
	StateResponded    State = "responded"
)

// ErrFaucetDisabled is reported while the kill switch is on.
var ErrFaucetDisabled = errors.New("faucet disabled")

const apiKeyPrefix = "TEST_API_KEY"

// ClaimError is a terminal claim failure.
type ClaimError struct {
	Kind    core.FailureKind
	Reason  string
	Message string
	Details map[string]any
	Err     error
}

func (e *ClaimError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClaimError) Unwrap() error { return e.Err }

// ClaimResult is everything the transport needs to answer a claim.
type ClaimResult struct {
	Outcome  *core.ClaimOutcome
	Trace    []State
	ResetAt  time.Time
	Err      *ClaimError
	Mode     core.Mode
	Network  string
	Upstream core.UpstreamResult
}

// Reached reports whether the claim passed through state.
func (r ClaimResult) Reached(state State) bool {
	for _, s := range r.Trace {
		if s == state {
			return true
		}
	}
	return false
}

func (r *ClaimResult) enter(state State) {
	r.Trace = append(r.Trace, state)
}

// ClaimOrchestrator drives one claim from receipt to response.
type ClaimOrchestrator struct {
	Infra      *InfraLimiter
	Quota      *QuotaLimiter
	Pool       *CredentialPool
	Dispatcher *FailoverDispatcher
	Upstream   Upstream
	Ledger     *Ledger
	Audit      *Auditor
	Logger     *logging.Logger

	Networks     core.NetworkSet
	PasswordHash string
	Revoked      identity.DigestSet
	// Disabled is consulted per claim so the kill switch can change at runtime.
	Disabled func() bool
	Clock    func() time.Time
}

// Process runs the claim state machine. It never returns a Go error; every
// failure is described by ClaimResult.Err.
func (o *ClaimOrchestrator) Process(ctx context.Context, sub core.Submission) ClaimResult {
	start := o.now()
	result := ClaimResult{}
	result.enter(StateReceived)

	template := core.AuditEvent{
		RequestID: sub.RequestID,
		IPHash:    identity.Short(sub.ClientIP),
	}

	infra, err := o.Infra.Admit(ctx, sub.ClientIP)
	if err != nil {
		return o.internal(ctx, result, template, err)
	}
	if !infra.Allowed {
		result.ResetAt = infra.ResetAt
		return o.reject(ctx, result, template, &ClaimError{
			Kind:    core.FailureQuotaExceeded,
			Reason:  core.AuditInfraLimitExceeded,
			Message: fmt.Sprintf("Infrastructure rate limit exceeded (%d req/%s). Please try again later.", o.Infra.Policy.Limit, formatWindow(o.Infra.Policy.Window)),
		}, true)
	}
	result.enter(StateInfraChecked)

	if o.Disabled != nil && o.Disabled() {
		return o.reject(ctx, result, template, &ClaimError{
			Kind:    core.FailureUnavailable,
			Reason:  core.AuditFaucetDisabled,
			Message: "The faucet is currently under maintenance. Please try again later.",
			Err:     ErrFaucetDisabled,
		}, false)
	}

	var req core.ClaimRequest
	if err := json.Unmarshal(sub.Body, &req); err != nil {
		return o.reject(ctx, result, template, &ClaimError{
			Kind:    core.FailureValidation,
			Reason:  "invalid_body",
			Message: "Request body must be a JSON object",
			Err:     err,
		}, false)
	}
	req.Address = strings.TrimSpace(req.Address)
	req.Network = strings.TrimSpace(req.Network)
	result.Mode = req.Mode
	result.Network = req.Network

	if cerr := o.validate(req); cerr != nil {
		return o.reject(ctx, result, template, cerr, false)
	}
	result.enter(StateValidated)

	tokens := req.TokenSelection
	template.Mode = req.Mode
	template.Network = req.Network
	template.Tokens = &tokens
	template.WalletHash = identity.Short(req.Address)
	template.APIKeyHash = identity.Short(req.APIKey)

	switch req.Mode {
	case core.ModeOwnKey:
		if cerr := o.resolveOwnKey(req); cerr != nil {
			return o.reject(ctx, result, template, cerr, cerr.Reason != "")
		}
	case core.ModeShared:
		if cerr := o.resolveShared(req); cerr != nil {
			return o.reject(ctx, result, template, cerr, cerr.Reason != "")
		}
	default:
		return o.reject(ctx, result, template, &ClaimError{
			Kind:    core.FailureValidation,
			Reason:  "invalid_mode",
			Message: "Please select a valid claim mode (own-key or default)",
		}, false)
	}
	result.enter(StateModeResolved)

	// From here the claim runs to a terminal state even if the caller goes
	// away: a quota slot once taken is always matched by a ledger entry and
	// an audit event. Upstream calls stay bounded by the client timeout.
	ctx = context.WithoutCancel(ctx)

	if req.Mode == core.ModeShared {
		quota, err := o.Quota.Reserve(ctx, req.Address, req.Network, sub.ClientIP)
		if err != nil {
			return o.internal(ctx, result, template, err)
		}
		if !quota.Allowed {
			result.ResetAt = quota.ResetAt
			return o.reject(ctx, result, template, quotaError(quota.Scope, o.Quota), true)
		}
		result.enter(StateQuotaChecked)
	}

	payload := core.DripPayload{
		Address:        req.Address,
		Blockchain:     req.Network,
		TokenSelection: req.TokenSelection,
	}

	outcome, cerr := o.dispatch(ctx, req, payload, template, &result)
	result.enter(StateDispatched)
	result.Outcome = outcome

	if outcome.Attempts == 0 && cerr != nil {
		// Nothing reached the upstream, so there is no outcome to count.
		return o.internal(ctx, result, template, cerr.Err)
	}

	if err := o.Ledger.Record(ctx, req.Mode, req.Network, outcome.Accepted, outcome.CredentialIndex); err != nil {
		// The upstream already acted on the claim; report its outcome anyway.
		o.logWarn("Failed to record claim outcome", zap.String("request_id", sub.RequestID), zap.Error(err))
		failed := template
		failed.Event = core.AuditInternalError
		failed.Detail = err.Error()
		o.Audit.Emit(ctx, failed)
	}
	result.enter(StateRecorded)

	event := template
	event.CredentialIndex = outcome.CredentialIndex
	event.StatusCode = outcome.UpstreamStatus
	event.DurationMS = int64(o.now().Sub(start) / time.Millisecond)
	if cerr == nil {
		event.Event = core.AuditClaimSuccess
		event.Success = true
		metrics.RecordClaim(string(req.Mode), req.Network, "success")
	} else {
		result.Err = cerr
		event.Detail = cerr.Message
		switch cerr.Kind {
		case core.FailureUpstream:
			event.Event = core.AuditUpstreamError
		case core.FailureTransport:
			event.Event = core.AuditTransportError
		case core.FailureInternal:
			event.Event = core.AuditInternalError
		}
		if event.Event != "" {
			o.Audit.Emit(ctx, event)
		}
		metrics.RecordClaim(string(req.Mode), req.Network, string(cerr.Kind))
		result.enter(StateResponded)
		return result
	}
	o.Audit.Emit(ctx, event)
	result.enter(StateResponded)
	return result
}

func (o *ClaimOrchestrator) validate(req core.ClaimRequest) *ClaimError {
	if req.Address == "" || req.Network == "" {
		return &ClaimError{
			Kind:    core.FailureValidation,
			Message: "Address and blockchain are required",
		}
	}
	if !o.Networks.Contains(req.Network) {
		return &ClaimError{
			Kind:    core.FailureValidation,
			Message: fmt.Sprintf("Blockchain %q is not supported", req.Network),
			Details: map[string]any{"supported": o.Networks.List()},
		}
	}
	if !req.Any() {
		return &ClaimError{
			Kind:    core.FailureValidation,
			Message: "Please select at least one token to claim",
		}
	}
	return nil
}

// resolveOwnKey returns an error with a non-empty Reason when the failure
// must be audited.
func (o *ClaimOrchestrator) resolveOwnKey(req core.ClaimRequest) *ClaimError {
	if req.APIKey == "" {
		return &ClaimError{Kind: core.FailureValidation, Message: "Please provide your API key"}
	}
	if !ValidAPIKey(req.APIKey) {
		return &ClaimError{
			Kind:    core.FailureValidation,
			Reason:  core.AuditInvalidAPIKeyFormat,
			Message: "API key format is invalid. Expected: TEST_API_KEY:xxx:xxx",
		}
	}
	if o.Revoked.ContainsPlain(req.APIKey) {
		return &ClaimError{
			Kind:    core.FailureForbidden,
			Reason:  core.AuditRevokedKeyAttempt,
			Message: "This API key has been revoked. Please contact support.",
		}
	}
	return nil
}

func (o *ClaimOrchestrator) resolveShared(req core.ClaimRequest) *ClaimError {
	if req.Password == "" {
		return &ClaimError{Kind: core.FailureValidation, Message: "Please provide the faucet password"}
	}
	if !identity.MatchDigest(req.Password, o.PasswordHash) {
		return &ClaimError{
			Kind:    core.FailureAuthentication,
			Reason:  core.AuditInvalidPassword,
			Message: "The password you entered is incorrect",
		}
	}
	if o.Pool.Size() == 0 {
		return &ClaimError{
			Kind:    core.FailureUnavailable,
			Reason:  core.AuditPoolUnavailable,
			Message: "Default faucet is not available. Please use your own API key.",
			Err:     ErrPoolEmpty,
		}
	}
	return nil
}

func (o *ClaimOrchestrator) dispatch(ctx context.Context, req core.ClaimRequest, payload core.DripPayload, template core.AuditEvent, result *ClaimResult) (*core.ClaimOutcome, *ClaimError) {
	if req.Mode == core.ModeOwnKey {
		upstream := o.Upstream.Drip(ctx, req.APIKey, payload)
		result.Upstream = upstream
		outcome := outcomeFrom(upstream, nil, 1)
		return outcome, upstreamError(upstream, outcome)
	}

	dispatched, err := o.Dispatcher.Dispatch(ctx, payload, template)
	result.Upstream = dispatched.Result
	switch {
	case errors.Is(err, ErrCredentialPoolExhausted):
		outcome := outcomeFrom(dispatched.Result, nil, dispatched.Attempts)
		outcome.FailureKind = core.FailureCredentialPoolExhausted
		return outcome, &ClaimError{
			Kind:    core.FailureCredentialPoolExhausted,
			Reason:  core.AuditCredentialPoolExhausted,
			Message: "All faucet credentials are temporarily exhausted. Please try again later.",
			Details: map[string]any{"lastStatus": dispatched.Result.StatusCode},
			Err:     err,
		}
	case err != nil:
		outcome := &core.ClaimOutcome{FailureKind: core.FailureInternal, Attempts: dispatched.Attempts}
		return outcome, &ClaimError{
			Kind:    core.FailureInternal,
			Reason:  core.AuditInternalError,
			Message: "An unexpected error occurred. Please try again.",
			Err:     err,
		}
	}

	outcome := outcomeFrom(dispatched.Result, dispatched.CredentialIndex, dispatched.Attempts)
	return outcome, upstreamError(dispatched.Result, outcome)
}

func outcomeFrom(upstream core.UpstreamResult, index *int, attempts int) *core.ClaimOutcome {
	outcome := &core.ClaimOutcome{
		Accepted:        upstream.Kind == core.UpstreamSuccess,
		UpstreamStatus:  upstream.StatusCode,
		UpstreamBody:    upstream.Body,
		CredentialIndex: index,
		Attempts:        attempts,
	}
	switch upstream.Kind {
	case core.UpstreamSuccess:
	case core.UpstreamTransport:
		outcome.FailureKind = core.FailureTransport
	default:
		outcome.FailureKind = core.FailureUpstream
	}
	return outcome
}

func upstreamError(upstream core.UpstreamResult, outcome *core.ClaimOutcome) *ClaimError {
	switch outcome.FailureKind {
	case core.FailureNone:
		return nil
	case core.FailureTransport:
		reason := "transport_error"
		message := "Failed to reach the faucet provider"
		if errors.Is(upstream.Err, core.ErrUpstreamTimeout) {
			reason = "timeout"
			message = "The faucet provider did not respond in time"
		}
		return &ClaimError{Kind: core.FailureTransport, Reason: reason, Message: message, Err: upstream.Err}
	default:
		message := upstream.Message()
		if message == "" {
			message = "Failed to claim tokens"
		}
		details := map[string]any{"upstream": upstream.Body}
		if code := upstream.Code(); code != "" {
			details["code"] = code
		}
		return &ClaimError{Kind: core.FailureUpstream, Message: message, Details: details}
	}
}

func quotaError(scope QuotaScope, limiter *QuotaLimiter) *ClaimError {
	if scope == QuotaScopeIP {
		return &ClaimError{
			Kind:    core.FailureQuotaExceeded,
			Reason:  core.AuditIPLimitExceeded,
			Message: fmt.Sprintf("This IP address reached its limit of %d claims per %s", limiter.IP.Limit, formatWindow(limiter.IP.Window)),
		}
	}
	return &ClaimError{
		Kind:    core.FailureQuotaExceeded,
		Reason:  core.AuditWalletLimitExceeded,
		Message: fmt.Sprintf("This wallet already claimed tokens on this network in the last %s", formatWindow(limiter.Wallet.Window)),
	}
}

// reject ends a claim before dispatch. Rejections are audited when audit is
// set and never touch the ledger.
func (o *ClaimOrchestrator) reject(ctx context.Context, result ClaimResult, template core.AuditEvent, cerr *ClaimError, audit bool) ClaimResult {
	result.Err = cerr
	reason := cerr.Reason
	if reason == "" {
		reason = string(cerr.Kind)
	}
	metrics.RecordRejection(reason)

	if audit {
		event := template
		event.Event = cerr.Reason
		o.Audit.Emit(ctx, event)
	} else {
		o.logInfo("Claim rejected",
			zap.String("request_id", template.RequestID),
			zap.String("kind", string(cerr.Kind)),
			zap.String("message", cerr.Message))
	}
	result.enter(StateResponded)
	return result
}

func (o *ClaimOrchestrator) internal(ctx context.Context, result ClaimResult, template core.AuditEvent, err error) ClaimResult {
	o.logError("Claim failed", zap.String("request_id", template.RequestID), zap.Error(err))
	event := template
	event.Event = core.AuditInternalError
	event.Detail = err.Error()
	o.Audit.Emit(ctx, event)
	metrics.RecordRejection(core.AuditInternalError)

	result.Err = &ClaimError{
		Kind:    core.FailureInternal,
		Reason:  core.AuditInternalError,
		Message: "An unexpected error occurred. Please try again.",
		Err:     err,
	}
	result.enter(StateResponded)
	return result
}

// ValidAPIKey reports whether key has the TEST_API_KEY:<a>:<b> shape.
func ValidAPIKey(key string) bool {
	parts := strings.Split(key, ":")
	return len(parts) == 3 && parts[0] == apiKeyPrefix && parts[1] != "" && parts[2] != ""
}

func formatWindow(window time.Duration) string {
	switch {
	case window%(24*time.Hour) == 0:
		if window == 24*time.Hour {
			return "24 hours"
		}
		return fmt.Sprintf("%d days", window/(24*time.Hour))
	case window%time.Hour == 0:
		if window == time.Hour {
			return "hour"
		}
		return fmt.Sprintf("%d hours", window/time.Hour)
	default:
		return window.String()
	}
}

func (o *ClaimOrchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

func (o *ClaimOrchestrator) logInfo(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Info(msg, fields...)
	}
}

func (o *ClaimOrchestrator) logWarn(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Warn(msg, fields...)
	}
}

func (o *ClaimOrchestrator) logError(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Error(msg, fields...)
	}
}
