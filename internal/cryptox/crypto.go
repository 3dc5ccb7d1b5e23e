// Package cryptox seals the origin credential so it can sit in a config
// file without being readable. Sealing derives an AES-256 key from an
// operator passcode with argon2id and encrypts with AES-GCM; the salt and
// nonce travel with the ciphertext.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
)

func deriveKey(passcode, salt []byte) []byte {
	return argon2.IDKey(passcode, salt, 1, 64*1024, 4, keySize)
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// SealSecret encrypts secret under the passcode and returns a base64 blob
// laid out salt||nonce||ciphertext.
func SealSecret(secret, passcode []byte) (string, error) {
	salt, err := randBytes(saltSize)
	if err != nil {
		return "", err
	}
	nonce, err := randBytes(nonceSize)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(deriveKey(passcode, salt))
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	ciphertext := aesgcm.Seal(nil, nonce, secret, nil)

	blob := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// OpenSecret reverses SealSecret. A wrong passcode fails GCM authentication
// and returns an error, never garbage.
func OpenSecret(sealed string, passcode []byte) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("sealed secret is not base64: %w", err)
	}
	if len(blob) < saltSize+nonceSize+1 {
		return nil, fmt.Errorf("sealed secret too short")
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	block, err := aes.NewCipher(deriveKey(passcode, salt))
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	secret, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal failed: %w", err)
	}
	return secret, nil
}
