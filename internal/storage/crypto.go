package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

const (
	magicGCM = "GCM3NCR0"
	magicCBC = "3NCR0PTD"

	saltLen   = 16
	nonceLen  = 12
	kdfRounds = 100000
)

var ErrDecrypt = errors.New("decryption failed")

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfRounds, 32, sha256.New)
}

// Seal encrypts data with AES-256-GCM.
// Layout: magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
func Seal(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(magicGCM)+saltLen+nonceLen+len(data)+gcm.Overhead())
	out = append(out, magicGCM...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Open decrypts the output of Seal. Objects written by the older CBC
// uploader (3NCR0PTD) are accepted too.
func Open(data []byte, password string) ([]byte, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrDecrypt, len(data))
	}
	switch string(data[:8]) {
	case magicGCM:
		return openGCM(data, password)
	case magicCBC:
		return openCBC(data, password)
	default:
		return nil, fmt.Errorf("%w: unknown format", ErrDecrypt)
	}
}

// IsSealed reports whether data starts with a known encryption header.
func IsSealed(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	m := string(data[:8])
	return m == magicGCM || m == magicCBC
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func openGCM(data []byte, password string) ([]byte, error) {
	if len(data) < 8+saltLen+nonceLen+16 {
		return nil, fmt.Errorf("%w: GCM data too short: %d bytes", ErrDecrypt, len(data))
	}
	salt := data[8 : 8+saltLen]
	nonce := data[8+saltLen : 8+saltLen+nonceLen]
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, data[8+saltLen+nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// openCBC reads magic(8) + sha256(32) + length(8) + salt(16) + iv(16) + ciphertext.
func openCBC(data []byte, password string) ([]byte, error) {
	if len(data) < 8+32+8+saltLen+aes.BlockSize {
		return nil, fmt.Errorf("%w: CBC data too short: %d bytes", ErrDecrypt, len(data))
	}
	stored := data[8:40]
	length := binary.BigEndian.Uint64(data[40:48])
	body := data[48:]
	if uint64(len(body)) != length {
		return nil, fmt.Errorf("%w: length mismatch: expected %d, got %d", ErrDecrypt, length, len(body))
	}
	sum := sha256.Sum256(body)
	if !bytes.Equal(stored, sum[:]) {
		return nil, fmt.Errorf("%w: hash verification failed", ErrDecrypt)
	}

	salt, iv, ct := body[:saltLen], body[saltLen:saltLen+aes.BlockSize], body[saltLen+aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a multiple of block size", ErrDecrypt)
	}
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	unpadded, err := unpad(plain)
	if err != nil {
		log.Warn().Err(err).Msg("PKCS7 unpadding failed, using raw data")
		return plain, nil
	}
	return unpadded, nil
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding length: %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
