package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// deriveKey returns the first 32 bytes of SHA-256(masterSecret), the AES-256
// key used to encrypt provider signing secrets at rest.
func deriveKey(masterSecret string) [32]byte {
	return sha256.Sum256([]byte(masterSecret))
}

// EncryptProviderSecret encrypts plaintext with AES-256-CBC under a key
// derived from masterSecret and a fresh random IV, returning
// "{iv_hex}:{ciphertext_hex}".
func EncryptProviderSecret(masterSecret, plaintext string) (string, error) {
	key := deriveKey(masterSecret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("auth: new cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("auth: read iv: %w", err)
	}

	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	return fmt.Sprintf("%s:%s", hex.EncodeToString(iv), hex.EncodeToString(ciphertext)), nil
}

// DecryptProviderSecret reverses EncryptProviderSecret. Returns an error if
// the stored value isn't in "{iv_hex}:{ct_hex}" form or padding is invalid
// -- the latter typically means masterSecret has rotated since the value
// was written.
func DecryptProviderSecret(masterSecret, stored string) (string, error) {
	ivHex, ctHex, ok := splitOnce(stored, ':')
	if !ok || ivHex == "" || ctHex == "" {
		return "", fmt.Errorf("auth: malformed encrypted secret")
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("auth: decode iv: %w", err)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("auth: decode ciphertext: %w", err)
	}
	if len(iv) != aes.BlockSize || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("auth: malformed encrypted secret")
	}

	key := deriveKey(masterSecret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("auth: new cipher: %w", err)
	}

	plainPadded := make([]byte, len(ct))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plainPadded, ct)

	plain, err := pkcs7Unpad(plainPadded)
	if err != nil {
		return "", fmt.Errorf("auth: unpad (likely wrong master secret): %w", err)
	}
	return string(plain), nil
}

func splitOnce(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}

// RandomKeyID returns 16 random bytes hex-encoded, used as the unique
// key_id embedded in each minted execution key.
func RandomKeyID() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
