package core

import "time"

// Audit event names.
const (
	AuditInfraLimitExceeded       = "infra_limit_exceeded"
	AuditFaucetDisabled           = "faucet_disabled"
	AuditInvalidAPIKeyFormat      = "invalid_api_key_format"
	AuditRevokedKeyAttempt        = "revoked_key_attempt"
	AuditInvalidPassword          = "invalid_password"
	AuditWalletLimitExceeded      = "wallet_limit_exceeded"
	AuditIPLimitExceeded          = "ip_limit_exceeded"
	AuditPoolUnavailable          = "pool_unavailable"
	AuditCredentialQuotaExhausted = "credential_quota_exhausted"
	AuditTransportError           = "transport_error"
	AuditCredentialPoolExhausted  = "credential_pool_exhausted"
	AuditClaimSuccess             = "claim_success"
	AuditUpstreamError            = "upstream_error"
	AuditInternalError            = "internal_error"
	AuditLedgerReset              = "ledger_reset"
)

// AuditEvent is one entry of the append-only decision stream. Identifiers are
// short one-way digests; raw secrets never appear here.
type AuditEvent struct {
	ID              string          `json:"id" yaml:"id"`
	Event           string          `json:"event" yaml:"event"`
	Timestamp       time.Time       `json:"timestamp" yaml:"timestamp"`
	RequestID       string          `json:"requestId,omitempty" yaml:"request_id,omitempty"`
	Mode            Mode            `json:"mode,omitempty" yaml:"mode,omitempty"`
	Network         string          `json:"blockchain,omitempty" yaml:"blockchain,omitempty"`
	Tokens          *TokenSelection `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	WalletHash      string          `json:"walletHash,omitempty" yaml:"wallet_hash,omitempty"`
	IPHash          string          `json:"ipHash,omitempty" yaml:"ip_hash,omitempty"`
	APIKeyHash      string          `json:"apiKeyHash,omitempty" yaml:"api_key_hash,omitempty"`
	CredentialIndex *int            `json:"credentialIndex,omitempty" yaml:"credential_index,omitempty"`
	StatusCode      int             `json:"statusCode,omitempty" yaml:"status_code,omitempty"`
	DurationMS      int64           `json:"durationMs,omitempty" yaml:"duration_ms,omitempty"`
	Success         bool            `json:"success" yaml:"success"`
	Detail          string          `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// AuditQuery filters an audit tail. A zero Limit means 50.
type AuditQuery struct {
	Limit int
	Event string
}
