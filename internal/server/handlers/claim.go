package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/core/engine"
	apperrors "github.com/dripgate/dripgate/internal/errors"
	"github.com/dripgate/dripgate/internal/server/middleware"
)

// DefaultMaxBodyBytes bounds claim bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 16 << 10

// ClaimProcessor runs one claim. *engine.ClaimOrchestrator satisfies it.
type ClaimProcessor interface {
	Process(ctx context.Context, sub core.Submission) engine.ClaimResult
}

// ClaimHandler serves POST /api/claim.
type ClaimHandler struct {
	Processor    ClaimProcessor
	MaxBodyBytes int64
	Clock        func() time.Time
}

// ClaimResponse is the success body.
type ClaimResponse struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	TransactionID string         `json:"transactionId,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

func (h *ClaimHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	// An unreadable or oversized body is handed on as empty so the
	// infrastructure limit is still consulted before it is rejected.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		body = nil
	}

	result := h.Processor.Process(r.Context(), core.Submission{
		RequestID: middleware.GetRequestID(r.Context()),
		ClientIP:  ClientIP(r),
		Body:      body,
	})

	if result.Err != nil {
		h.respondClaimError(w, r, result)
		return
	}

	response := ClaimResponse{
		Success:       true,
		Message:       "Tokens claimed successfully",
		TransactionID: result.Upstream.TransactionID(),
		Data:          result.Upstream.Body,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func (h *ClaimHandler) respondClaimError(w http.ResponseWriter, r *http.Request, result engine.ClaimResult) {
	cerr := result.Err
	var envelope *gferrors.ErrorEnvelope
	status := 0

	switch cerr.Kind {
	case core.FailureValidation:
		envelope = apperrors.NewValidationError(cerr.Message)
	case core.FailureAuthentication:
		envelope = apperrors.NewUnauthorizedError(cerr.Message)
	case core.FailureForbidden:
		envelope = apperrors.NewForbiddenError(cerr.Message)
	case core.FailureQuotaExceeded:
		envelope = apperrors.NewRateLimitedError(cerr.Message)
		if !result.ResetAt.IsZero() {
			details := map[string]interface{}{"resetTime": result.ResetAt.UTC().Format(time.RFC3339)}
			envelope = envelope.WithDetails(details)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(result.ResetAt, h.now())))
		}
	case core.FailureUnavailable, core.FailureCredentialPoolExhausted:
		envelope = apperrors.NewServiceUnavailableError(cerr.Message)
	case core.FailureUpstream:
		envelope = apperrors.NewUpstreamError(cerr.Message)
		status = result.Upstream.StatusCode
	case core.FailureTransport:
		if errors.Is(cerr.Err, core.ErrUpstreamTimeout) {
			envelope = apperrors.NewTimeoutError(cerr.Message)
		} else {
			envelope = apperrors.NewExternalServiceError(cerr.Message)
		}
	default:
		envelope = apperrors.WrapInternal(r.Context(), cerr, cerr.Message)
	}

	if len(cerr.Details) > 0 && cerr.Kind != core.FailureQuotaExceeded {
		envelope = envelope.WithDetails(cerr.Details)
	}
	apperrors.RespondWithStatus(w, r, envelope, status)
}

func (h *ClaimHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func retryAfterSeconds(resetAt, now time.Time) int {
	seconds := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// ClientIP returns the host part of the remote address. Proxy headers are
// honoured only when the RealIP middleware has already rewritten it.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
