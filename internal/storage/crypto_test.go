package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	plain := []byte("%PDF-1.7 merged")
	sealed, err := Seal(plain, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, magicGCM, string(sealed[:8]))
	assert.True(t, IsSealed(sealed))
	assert.Len(t, sealed, 8+16+12+len(plain)+16)

	got, err := Open(sealed, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	_, err = Open(sealed, "wrong")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestSeal_FreshSaltEachTime(t *testing.T) {
	a, err := Seal([]byte("x"), "p")
	require.NoError(t, err)
	b, err := Seal([]byte("x"), "p")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

// sealCBC writes the legacy layout the way older uploads were produced.
func sealCBC(t *testing.T, plain []byte, password string) []byte {
	t.Helper()
	salt := make([]byte, 16)
	iv := make([]byte, 16)
	for i := range salt {
		salt[i], iv[i] = byte(i), byte(255-i)
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), make([]byte, pad)...)
	for i := len(plain); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	block, err := aes.NewCipher(deriveKey(password, salt))
	require.NoError(t, err)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	body := append(append(append([]byte(nil), salt...), iv...), ct...)
	sum := sha256.Sum256(body)
	length := make([]byte, 8)
	binary.BigEndian.PutUint64(length, uint64(len(body)))
	out := append([]byte(magicCBC), sum[:]...)
	out = append(out, length...)
	return append(out, body...)
}

func TestOpen_LegacyCBC(t *testing.T) {
	sealed := sealCBC(t, []byte("legacy content"), "pw")
	got, err := Open(sealed, "pw")
	require.NoError(t, err)
	assert.Equal(t, []byte("legacy content"), got)

	sealed[len(sealed)-1] ^= 0xff
	_, err = Open(sealed, "pw")
	assert.ErrorIs(t, err, ErrDecrypt, "hash check catches tampering")
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open([]byte("%PDF-1.7 plain"), "pw")
	assert.ErrorIs(t, err, ErrDecrypt)
	_, err = Open([]byte("short"), "pw")
	assert.ErrorIs(t, err, ErrDecrypt)
	assert.False(t, IsSealed([]byte("%PDF-1.7")))
}
