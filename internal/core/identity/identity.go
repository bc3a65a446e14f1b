// Package identity derives the one-way keys used for rate-limit windows,
// revocation checks and audit fields. Raw addresses, IPs and secrets never
// leave this package in clear form.
package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const shortLen = 16

// Key prefixes for sliding-window scopes.
const (
	WalletPrefix = "wallet:"
	IPPrefix     = "ip:"
	InfraPrefix  = "infra:"
)

// Digest returns the full lowercase hex SHA-256 digest of value.
func Digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Short returns the truncated digest used in logs and audit events.
func Short(value string) string {
	if value == "" {
		return ""
	}
	return Digest(value)[:shortLen]
}

// WalletKey scopes the per-wallet quota to one network.
func WalletKey(address, network string) string {
	return WalletPrefix + Digest(address+network)
}

// IPKey scopes the optional per-IP quota.
func IPKey(ip string) string {
	return IPPrefix + Digest(ip)
}

// InfraKey scopes the infrastructure limiter.
func InfraKey(ip string) string {
	return InfraPrefix + Digest(ip)
}

// MatchDigest compares Digest(plain) with expectedHex in constant time.
// An empty expected digest never matches.
func MatchDigest(plain, expectedHex string) bool {
	expected := normalize(expectedHex)
	if expected == "" {
		return false
	}
	actual := Digest(plain)
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1
}

// DigestSet holds configured digests, such as a revocation list.
type DigestSet struct {
	digests [][]byte
}

// NewDigestSet builds a set from hex digests, ignoring blanks.
func NewDigestSet(digests []string) DigestSet {
	set := DigestSet{}
	for _, digest := range digests {
		digest = normalize(digest)
		if digest == "" {
			continue
		}
		set.digests = append(set.digests, []byte(digest))
	}
	return set
}

// Len returns the number of configured digests.
func (s DigestSet) Len() int {
	return len(s.digests)
}

// ContainsPlain reports whether Digest(plain) is a member. Every member is
// compared so the result does not leak the match position.
func (s DigestSet) ContainsPlain(plain string) bool {
	actual := []byte(Digest(plain))
	found := 0
	for _, digest := range s.digests {
		found |= subtle.ConstantTimeCompare(actual, digest)
	}
	return found == 1
}

func normalize(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}
