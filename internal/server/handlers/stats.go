package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/core"
	apperrors "github.com/dripgate/dripgate/internal/errors"
	"github.com/dripgate/dripgate/internal/metrics"
	"github.com/dripgate/dripgate/internal/observability"
	"github.com/dripgate/dripgate/internal/server/middleware"
)

// StatsSource derives operator statistics. *engine.Ledger satisfies it.
type StatsSource interface {
	Stats(ctx context.Context) (core.Stats, error)
}

// LedgerResetter discards the ledger. *engine.Ledger satisfies it.
type LedgerResetter interface {
	Reset(ctx context.Context, requestID string) (core.LedgerSnapshot, error)
}

// StatsResponse is Stats stamped with read time and backend.
type StatsResponse struct {
	core.Stats
	Timestamp   string `json:"timestamp"`
	StorageType string `json:"storageType"`
}

// StatsHandler serves GET /api/stats.
type StatsHandler struct {
	Source      StatsSource
	StorageType string
	Clock       func() time.Time
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response, err := h.build(r.Context())
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Failed to load statistics"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func (h *StatsHandler) build(ctx context.Context) (StatsResponse, error) {
	stats, err := h.Source.Stats(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	now := time.Now()
	if h.Clock != nil {
		now = h.Clock()
	}
	return StatsResponse{
		Stats:       stats,
		Timestamp:   now.UTC().Format(time.RFC3339),
		StorageType: h.StorageType,
	}, nil
}

const (
	defaultLiveInterval = 5 * time.Second
	defaultPingPeriod   = 15 * time.Second
	writeWait           = 5 * time.Second
)

// LiveStatsHandler streams StatsResponse frames over a websocket.
type LiveStatsHandler struct {
	Stats      *StatsHandler
	Interval   time.Duration
	PingPeriod time.Duration
	Upgrader   websocket.Upgrader

	active atomic.Int64
}

func (h *LiveStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		return
	}
	defer conn.Close() // nolint:errcheck // best-effort cleanup

	metrics.SetActiveConnections(h.active.Add(1))
	defer func() { metrics.SetActiveConnections(h.active.Add(-1)) }()

	interval := h.Interval
	if interval <= 0 {
		interval = defaultLiveInterval
	}
	pingPeriod := h.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	pongWait := pingPeriod * 2

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Clients never send data; reading only drives control frames and
	// notices when the peer goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()

	if !h.send(r.Context(), conn) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-pinger.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ticker.C:
			if !h.send(r.Context(), conn) {
				return
			}
		}
	}
}

func (h *LiveStatsHandler) send(ctx context.Context, conn *websocket.Conn) bool {
	response, err := h.Stats.build(ctx)
	if err != nil {
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Live stats unavailable",
				zap.String("request_id", middleware.GetRequestID(ctx)),
				zap.Error(err))
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stats unavailable"),
			time.Now().Add(writeWait))
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(response) == nil
}

// Active reports the number of open live connections.
func (h *LiveStatsHandler) Active() int64 {
	return h.active.Load()
}

// LedgerResetHandler serves POST /admin/ledger/reset.
type LedgerResetHandler struct {
	Ledger LedgerResetter
	Token  string
}

// LedgerResetResponse reports what a reset discarded.
type LedgerResetResponse struct {
	Success  bool                `json:"success"`
	Message  string              `json:"message"`
	Previous core.LedgerSnapshot `json:"previous"`
}

func (h *LedgerResetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !BearerMatches(r, h.Token) {
		apperrors.RespondWithError(w, r, apperrors.NewUnauthorizedError("A valid admin token is required"))
		return
	}

	requestID := middleware.GetRequestID(r.Context())
	previous, err := h.Ledger.Reset(r.Context(), requestID)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Failed to reset ledger"))
		return
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Ledger reset",
			zap.String("request_id", requestID),
			zap.Int64("discarded_claims", previous.TotalClaims))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(LedgerResetResponse{
		Success:  true,
		Message:  "Ledger reset",
		Previous: previous,
	})
}

// BearerMatches compares the request's bearer token with expected in
// constant time. An empty expected token never matches.
func BearerMatches(r *http.Request, expected string) bool {
	if expected == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
