package serviceauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerify(t *testing.T) {
	m := NewMinter("shared-secret", "chatrelay", time.Minute)

	token, err := m.Mint()
	require.NoError(t, err)

	claims, err := Verify(token, []byte("shared-secret"))
	require.NoError(t, err)
	assert.Equal(t, "chatrelay", claims.Service)
	assert.Equal(t, "chatrelay", claims.Issuer)
}

func TestMint_ReusesCachedToken(t *testing.T) {
	m := NewMinter("shared-secret", "chatrelay", time.Minute)

	first, err := m.Mint()
	require.NoError(t, err)
	second, err := m.Mint()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMint_RefreshesNearExpiry(t *testing.T) {
	m := NewMinter("shared-secret", "chatrelay", time.Hour)

	_, err := m.Mint()
	require.NoError(t, err)

	// Push the cached token into its final quarter; the changed service name
	// proves the next call signs fresh claims instead of reusing the cache.
	m.mu.Lock()
	m.expires = time.Now().Add(10 * time.Minute)
	m.service = "chatrelay-refresh"
	m.mu.Unlock()

	second, err := m.Mint()
	require.NoError(t, err)

	claims, err := Verify(second, []byte("shared-secret"))
	require.NoError(t, err)
	assert.Equal(t, "chatrelay-refresh", claims.Service)
}

func TestVerify_WrongSecret(t *testing.T) {
	m := NewMinter("shared-secret", "chatrelay", time.Minute)

	token, err := m.Mint()
	require.NoError(t, err)

	_, err = Verify(token, []byte("other-secret"))
	assert.Error(t, err)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := Verify("not.a.token", []byte("s"))
	assert.Error(t, err)
}
