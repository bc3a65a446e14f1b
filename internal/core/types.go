package core

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Mode identifies who pays for a claim upstream.
type Mode string

const (
	// ModeOwnKey dispatches with a credential supplied by the caller.
	ModeOwnKey Mode = "own-key"
	// ModeShared dispatches through the server-owned credential pool.
	ModeShared Mode = "default"
)

// Valid reports whether the mode is one of the recognized values.
func (m Mode) Valid() bool {
	return m == ModeOwnKey || m == ModeShared
}

// DefaultNetworks lists the testnets the faucet accepts unless configured otherwise.
var DefaultNetworks = []string{
	"ARC-TESTNET",
	"ETH-SEPOLIA",
	"AVAX-FUJI",
	"MATIC-AMOY",
	"SOL-DEVNET",
	"ARB-SEPOLIA",
	"UNI-SEPOLIA",
	"BASE-SEPOLIA",
	"OP-SEPOLIA",
	"APTOS-TESTNET",
}

// NetworkSet is the set of supported network identifiers, kept in config order.
type NetworkSet struct {
	ordered []string
	members map[string]struct{}
}

// NewNetworkSet builds a set from identifiers, ignoring blanks and duplicates.
func NewNetworkSet(networks []string) NetworkSet {
	set := NetworkSet{members: make(map[string]struct{}, len(networks))}
	for _, network := range networks {
		network = strings.TrimSpace(network)
		if network == "" {
			continue
		}
		if _, ok := set.members[network]; ok {
			continue
		}
		set.members[network] = struct{}{}
		set.ordered = append(set.ordered, network)
	}
	return set
}

// Contains reports whether network is supported. Matching is exact.
func (s NetworkSet) Contains(network string) bool {
	_, ok := s.members[network]
	return ok
}

// List returns the supported networks in configured order.
func (s NetworkSet) List() []string {
	out := make([]string, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// TokenSelection captures which assets a claim asks for.
type TokenSelection struct {
	Native bool `json:"native,omitempty"`
	USDC   bool `json:"usdc,omitempty"`
	EURC   bool `json:"eurc,omitempty"`
}

// Any reports whether at least one token is selected.
func (t TokenSelection) Any() bool {
	return t.Native || t.USDC || t.EURC
}

// ClaimRequest is the inbound claim body.
type ClaimRequest struct {
	Address string `json:"address"`
	Network string `json:"blockchain"`
	TokenSelection
	APIKey   string `json:"apiKey,omitempty"`
	Password string `json:"password,omitempty"`
	Mode     Mode   `json:"mode"`
}

// Submission is a raw claim as received from the transport, before the body
// has been interpreted.
type Submission struct {
	RequestID string
	ClientIP  string
	Body      []byte
}

// DripPayload is the body forwarded to the upstream faucet.
type DripPayload struct {
	Address    string `json:"address"`
	Blockchain string `json:"blockchain"`
	TokenSelection
}

// ErrUpstreamTimeout marks an upstream call that exceeded its deadline.
var ErrUpstreamTimeout = errors.New("upstream request timed out")

// UpstreamKind classifies a single upstream attempt.
type UpstreamKind string

const (
	UpstreamSuccess        UpstreamKind = "success"
	UpstreamQuotaExhausted UpstreamKind = "quota_exhausted"
	UpstreamRejected       UpstreamKind = "rejected"
	UpstreamTransport      UpstreamKind = "transport"
)

// UpstreamResult is the typed result of one upstream call.
type UpstreamResult struct {
	Kind       UpstreamKind
	StatusCode int
	Body       map[string]any
	Err        error
	Duration   time.Duration
}

// TransactionID extracts the upstream transaction identifier, if any.
func (r UpstreamResult) TransactionID() string {
	for _, key := range []string{"transactionId", "id"} {
		if value, ok := r.Body[key].(string); ok && value != "" {
			return value
		}
	}
	if data, ok := r.Body["data"].(map[string]any); ok {
		for _, key := range []string{"transactionId", "id"} {
			if value, ok := data[key].(string); ok && value != "" {
				return value
			}
		}
	}
	return ""
}

// Message returns the upstream-provided message, if any.
func (r UpstreamResult) Message() string {
	if value, ok := r.Body["message"].(string); ok {
		return value
	}
	return ""
}

// Code returns the upstream-provided error code as a string, if any.
func (r UpstreamResult) Code() string {
	switch value := r.Body["code"].(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return ""
	}
}

// FailureKind is the error taxonomy for claims.
type FailureKind string

const (
	FailureNone                    FailureKind = ""
	FailureValidation              FailureKind = "validation"
	FailureAuthentication          FailureKind = "authentication"
	FailureForbidden               FailureKind = "forbidden"
	FailureUnavailable             FailureKind = "unavailable"
	FailureQuotaExceeded           FailureKind = "quota_exceeded"
	FailureCredentialPoolExhausted FailureKind = "credential_pool_exhausted"
	FailureUpstream                FailureKind = "upstream"
	FailureTransport               FailureKind = "transport"
	FailureInternal                FailureKind = "internal"
)

// ClaimOutcome is produced once per dispatched claim.
type ClaimOutcome struct {
	Accepted        bool           `json:"accepted"`
	UpstreamStatus  int            `json:"upstreamStatus,omitempty"`
	UpstreamBody    map[string]any `json:"upstreamBody,omitempty"`
	FailureKind     FailureKind    `json:"failureKind,omitempty"`
	CredentialIndex *int           `json:"usedCredentialIndex,omitempty"`
	Attempts        int            `json:"attempts,omitempty"`
}
