package core

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBalanceTolerance is the relative deviation from mean credential usage
// still considered balanced.
const DefaultBalanceTolerance = 0.2

// LedgerDelta is the single unit applied to the ledger per dispatched claim.
type LedgerDelta struct {
	Mode            Mode
	Network         string
	Success         bool
	CredentialIndex *int
}

// LedgerSnapshot is a point-in-time copy of the ledger counters.
type LedgerSnapshot struct {
	TotalClaims      int64            `json:"totalClaims" yaml:"total_claims"`
	SuccessfulClaims int64            `json:"successfulClaims" yaml:"successful_claims"`
	FailedClaims     int64            `json:"failedClaims" yaml:"failed_claims"`
	ClaimsByNetwork  map[string]int64 `json:"claimsByNetwork" yaml:"claims_by_network"`
	ClaimsByMode     map[string]int64 `json:"claimsByMode" yaml:"claims_by_mode"`
	CredentialUsage  map[int]int64    `json:"credentialUsage" yaml:"credential_usage"`
	EpochStart       time.Time        `json:"lastReset" yaml:"last_reset"`
}

// NewLedgerSnapshot returns a zeroed snapshot starting at epoch.
func NewLedgerSnapshot(epoch time.Time) LedgerSnapshot {
	return LedgerSnapshot{
		ClaimsByNetwork: map[string]int64{},
		ClaimsByMode: map[string]int64{
			string(ModeOwnKey): 0,
			string(ModeShared): 0,
		},
		CredentialUsage: map[int]int64{},
		EpochStart:      epoch.UTC(),
	}
}

// Apply adds delta to the snapshot in place.
func (s *LedgerSnapshot) Apply(delta LedgerDelta) {
	if s.ClaimsByNetwork == nil {
		s.ClaimsByNetwork = map[string]int64{}
	}
	if s.ClaimsByMode == nil {
		s.ClaimsByMode = map[string]int64{}
	}
	if s.CredentialUsage == nil {
		s.CredentialUsage = map[int]int64{}
	}

	s.TotalClaims++
	if delta.Success {
		s.SuccessfulClaims++
	} else {
		s.FailedClaims++
	}
	s.ClaimsByMode[string(delta.Mode)]++
	s.ClaimsByNetwork[delta.Network]++
	if delta.CredentialIndex != nil {
		s.CredentialUsage[*delta.CredentialIndex]++
	}
}

// Clone returns a deep copy.
func (s LedgerSnapshot) Clone() LedgerSnapshot {
	out := s
	out.ClaimsByNetwork = make(map[string]int64, len(s.ClaimsByNetwork))
	for k, v := range s.ClaimsByNetwork {
		out.ClaimsByNetwork[k] = v
	}
	out.ClaimsByMode = make(map[string]int64, len(s.ClaimsByMode))
	for k, v := range s.ClaimsByMode {
		out.ClaimsByMode[k] = v
	}
	out.CredentialUsage = make(map[int]int64, len(s.CredentialUsage))
	for k, v := range s.CredentialUsage {
		out.CredentialUsage[k] = v
	}
	return out
}

// NetworkCount pairs a network with its claim count.
type NetworkCount struct {
	Network string `json:"network" yaml:"network"`
	Count   int64  `json:"count" yaml:"count"`
}

// KeyUsage pairs a credential label with its usage count.
type KeyUsage struct {
	Key   string `json:"key" yaml:"key"`
	Count int64  `json:"count" yaml:"count"`
}

// Stats is a ledger snapshot with derived fields, as served to operators.
type Stats struct {
	LedgerSnapshot  `yaml:",inline"`
	Uptime          int64            `json:"uptime" yaml:"uptime"`
	SuccessRate     string           `json:"successRate" yaml:"success_rate"`
	KeyUsage        map[string]int64 `json:"keyUsage" yaml:"key_usage"`
	KeyUsageArray   []KeyUsage       `json:"keyUsageArray" yaml:"key_usage_array"`
	TopNetworks     []NetworkCount   `json:"topNetworks" yaml:"top_networks"`
	IsBalanced      bool             `json:"isBalanced" yaml:"is_balanced"`
	AvailableKeys   int              `json:"availableKeys" yaml:"available_keys"`
	CurrentKeyIndex int              `json:"currentKeyIndex" yaml:"current_key_index"`
}

// BuildStats derives operator statistics from a snapshot.
func BuildStats(snap LedgerSnapshot, now time.Time, poolSize int, cursor int) Stats {
	stats := Stats{
		LedgerSnapshot:  snap,
		SuccessRate:     SuccessRate(snap.SuccessfulClaims, snap.TotalClaims),
		KeyUsage:        make(map[string]int64, len(snap.CredentialUsage)),
		AvailableKeys:   poolSize,
		CurrentKeyIndex: cursor,
		IsBalanced:      IsBalanced(snap.CredentialUsage, poolSize, DefaultBalanceTolerance),
	}

	if !snap.EpochStart.IsZero() && now.After(snap.EpochStart) {
		stats.Uptime = int64(now.Sub(snap.EpochStart) / time.Second)
	}

	for idx, count := range snap.CredentialUsage {
		label := KeyLabel(idx)
		stats.KeyUsage[label] = count
		stats.KeyUsageArray = append(stats.KeyUsageArray, KeyUsage{Key: label, Count: count})
	}
	sort.Slice(stats.KeyUsageArray, func(i, j int) bool {
		if stats.KeyUsageArray[i].Count == stats.KeyUsageArray[j].Count {
			return stats.KeyUsageArray[i].Key < stats.KeyUsageArray[j].Key
		}
		return stats.KeyUsageArray[i].Count > stats.KeyUsageArray[j].Count
	})

	for network, count := range snap.ClaimsByNetwork {
		stats.TopNetworks = append(stats.TopNetworks, NetworkCount{Network: network, Count: count})
	}
	sort.Slice(stats.TopNetworks, func(i, j int) bool {
		if stats.TopNetworks[i].Count == stats.TopNetworks[j].Count {
			return stats.TopNetworks[i].Network < stats.TopNetworks[j].Network
		}
		return stats.TopNetworks[i].Count > stats.TopNetworks[j].Count
	})
	if len(stats.TopNetworks) > 5 {
		stats.TopNetworks = stats.TopNetworks[:5]
	}

	return stats
}

// KeyLabel is the operator-facing name of a credential index.
func KeyLabel(idx int) string {
	return fmt.Sprintf("key_%d", idx)
}

// SuccessRate formats successful/total as a percentage with two decimals.
// Zero claims yield "0%".
func SuccessRate(successful, total int64) string {
	if total <= 0 {
		return "0%"
	}
	rate := decimal.NewFromInt(successful).
		Div(decimal.NewFromInt(total)).
		Mul(decimal.NewFromInt(100))
	return rate.StringFixed(2) + "%"
}

// IsBalanced reports whether every credential's usage lies within
// tolerance*mean of the mean usage. Indices below poolSize that have no usage
// count as zero.
func IsBalanced(usage map[int]int64, poolSize int, tolerance float64) bool {
	values := make([]float64, 0, len(usage))
	for idx := 0; idx < poolSize; idx++ {
		values = append(values, float64(usage[idx]))
	}
	for idx, count := range usage {
		if idx < 0 || idx >= poolSize {
			values = append(values, float64(count))
		}
	}
	if len(values) == 0 {
		return true
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	threshold := mean * tolerance

	for _, v := range values {
		if math.Abs(v-mean) > threshold {
			return false
		}
	}
	return true
}
