package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/pgsync/config"
)

func TestTokenRoundTrip(t *testing.T) {
	_ = config.LoadConfig("")

	token, err := GenerateToken(7, "alice", "admin")
	require.NoError(t, err)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "admin", claims.Role)
}

func TestParseToken_Invalid(t *testing.T) {
	_ = config.LoadConfig("")

	_, err := ParseToken("garbage.token.value")
	assert.Error(t, err)
}

// 冲突查看token和登录token不能混用
func TestConflictViewToken(t *testing.T) {
	_ = config.LoadConfig("")

	token, err := GenerateConflictViewToken(33, 7, "alice")
	require.NoError(t, err)

	conflictID, err := ParseConflictViewToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(33), conflictID)

	// 登录token没有conflict_view类型标记
	login, err := GenerateToken(7, "alice", "admin")
	require.NoError(t, err)
	_, err = ParseConflictViewToken(login)
	assert.Error(t, err)
}
