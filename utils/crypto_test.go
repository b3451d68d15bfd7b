package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef" // 32字节，AES-256

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := "host=10.0.0.5 port=5432 user=sync password=秘密 dbname=app"

	encrypted, err := EncryptString(plaintext, testKey)
	require.NoError(t, err)
	// 密文里不能出现明文片段
	assert.NotContains(t, encrypted, "password")
	assert.NotEqual(t, plaintext, encrypted)

	decrypted, err := DecryptString(encrypted, testKey)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

// 相同明文每次加密结果不同（随机nonce）
func TestEncryptString_NonceRandomized(t *testing.T) {
	first, err := EncryptString("same input", testKey)
	require.NoError(t, err)
	second, err := EncryptString("same input", testKey)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestDecryptString_WrongKey(t *testing.T) {
	encrypted, err := EncryptString("secret", testKey)
	require.NoError(t, err)

	_, err = DecryptString(encrypted, "ffffffffffffffffffffffffffffffff")
	assert.Error(t, err)
}

func TestDecryptString_Tampered(t *testing.T) {
	_, err := DecryptString("not-base64!!", testKey)
	assert.Error(t, err)

	// 长度不足的合法base64
	_, err = DecryptString("YWJj", testKey)
	assert.Error(t, err)
}

func TestEncryptString_InvalidKey(t *testing.T) {
	_, err := EncryptString("x", "short")
	assert.Error(t, err)
}
