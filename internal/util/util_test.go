package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

func TestLoadABI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "erc20.json")
	require.NoError(t, os.WriteFile(path, []byte(erc20ABI), 0o644))

	parsed, err := LoadABI(path)
	require.NoError(t, err)
	_, ok := parsed.Methods["balanceOf"]
	assert.True(t, ok)
}

func TestLoadABIFromHardhatArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ERC20.json")
	artifact := `{"contractName":"ERC20","abi":` + erc20ABI + `,"bytecode":"0x"}`
	require.NoError(t, os.WriteFile(path, []byte(artifact), 0o644))

	parsed, err := LoadABIFromHardhatArtifact(path)
	require.NoError(t, err)
	_, ok := parsed.Methods["balanceOf"]
	assert.True(t, ok)
}

func TestLoadABIFromHardhatArtifact_MissingABI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"contractName":"X"}`), 0o644))

	_, err := LoadABIFromHardhatArtifact(path)
	assert.Error(t, err)
}

func TestHex2Bytes(t *testing.T) {
	assert.Equal(t, []byte{0xde, 0xad}, Hex2Bytes("0xdead"))
	assert.Equal(t, []byte{0xde, 0xad}, Hex2Bytes("dead"))
	assert.Nil(t, Hex2Bytes("zz"))
}

func TestDecrypt_RoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")[:32]
	plaintext := "my-private-key-hex"

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	nonce := make([]byte, gcm.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	payload := hex.EncodeToString(sealed)

	decrypted, err := Decrypt(key, payload)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecrypt_BadPayload(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")[:32]
	_, err := Decrypt(key, "not-hex")
	assert.Error(t, err)
}

func TestMulFrac(t *testing.T) {
	v := bigFromString(t, "1000000000000000000")
	got := MulFrac(v, 3, 10)
	assert.Equal(t, "300000000000000000", got.String())
}

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := ParseWei(s)
	require.True(t, ok)
	return v
}
