package sessions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenHashesRaw(t *testing.T) {
	raw, hash, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, raw, 64)
	assert.Equal(t, HashToken(raw), hash)
	assert.NotEqual(t, raw, hash)

	other, _, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

func TestUsable(t *testing.T) {
	now := time.Date(2025, 10, 6, 8, 0, 0, 0, time.UTC)
	tok := RefreshToken{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, tok.Usable(now))
	assert.False(t, tok.Usable(now.Add(time.Hour)))

	revoked := now.Add(-time.Minute)
	tok.RevokedAt = &revoked
	assert.False(t, tok.Usable(now))
}
