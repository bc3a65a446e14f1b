package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestKnownValue(t *testing.T) {
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", Digest("hello"))
	require.Equal(t, "2cf24dba5fb0a30e", Short("hello"))
	require.Equal(t, "", Short(""))
}

func TestScopedKeys(t *testing.T) {
	wallet := WalletKey("0xabc", "ETH-SEPOLIA")
	require.True(t, strings.HasPrefix(wallet, "wallet:"))
	require.Equal(t, "wallet:"+Digest("0xabcETH-SEPOLIA"), wallet)
	require.NotEqual(t, wallet, WalletKey("0xabc", "SOL-DEVNET"))

	require.Equal(t, "ip:"+Digest("10.0.0.1"), IPKey("10.0.0.1"))
	require.Equal(t, "infra:"+Digest("10.0.0.1"), InfraKey("10.0.0.1"))
	require.NotContains(t, IPKey("10.0.0.1"), "10.0.0.1")
}

func TestMatchDigest(t *testing.T) {
	expected := Digest("s3cret")

	assert.True(t, MatchDigest("s3cret", expected))
	assert.True(t, MatchDigest("s3cret", "  "+strings.ToUpper(expected)+"\n"))
	assert.False(t, MatchDigest("wrong", expected))
	assert.False(t, MatchDigest("", ""))
	assert.False(t, MatchDigest("s3cret", ""))
}

func TestDigestSet(t *testing.T) {
	set := NewDigestSet([]string{Digest("TEST_API_KEY:a:b"), "", "  ", Digest("TEST_API_KEY:c:d")})

	assert.Equal(t, 2, set.Len())
	assert.True(t, set.ContainsPlain("TEST_API_KEY:a:b"))
	assert.True(t, set.ContainsPlain("TEST_API_KEY:c:d"))
	assert.False(t, set.ContainsPlain("TEST_API_KEY:e:f"))
	assert.False(t, DigestSet{}.ContainsPlain("anything"))
}
