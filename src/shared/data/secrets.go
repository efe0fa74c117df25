package data

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const keyIterations = 4096

// DeriveKey stretches the operator master key into the AES-256 key used for
// forwarding secrets at rest.
func DeriveKey(master string) []byte {
	return pbkdf2.Key([]byte(master), []byte("votegate.forwarding"), keyIterations, 32, sha256.New)
}

// EncryptSecret seals plaintext with AES-256-GCM and returns hex ciphertext
// plus the hex nonce stored in the iv column. A fresh nonce is drawn per call.
func EncryptSecret(key []byte, plaintext string) (cipherHex, ivHex string, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", fmt.Errorf("new gcm: %w", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), hex.EncodeToString(iv), nil
}

// DecryptSecret reverses EncryptSecret.
func DecryptSecret(key []byte, cipherHex, ivHex string) (string, error) {
	sealed, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plain), nil
}
