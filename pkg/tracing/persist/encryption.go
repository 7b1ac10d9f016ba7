// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persist

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

// KeyEnvVar holds the store encryption key: 32 base64-encoded bytes, or a
// passphrase from which a key is derived.
const KeyEnvVar = "TRACELIGHT_STORE_KEY"

const keySize = 32

// hkdfInfo binds derived keys to their use.
var hkdfInfo = []byte("tracelight store message encryption v1")

// EncryptionKey encrypts stored message payloads with AES-256-GCM.
type EncryptionKey struct {
	key []byte
}

// LoadEncryptionKey reads the key from KeyEnvVar. It returns nil, nil when
// the variable is unset.
func LoadEncryptionKey() (*EncryptionKey, error) {
	return ParseEncryptionKey(os.Getenv(KeyEnvVar))
}

// ParseEncryptionKey decodes a base64 key, or derives one from a passphrase.
func ParseEncryptionKey(s string) (*EncryptionKey, error) {
	if s == "" {
		return nil, nil
	}

	keyBytes, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(keyBytes) != keySize {
		keyBytes, err = deriveKey(s)
		if err != nil {
			return nil, err
		}
	}
	return &EncryptionKey{key: keyBytes}, nil
}

// GenerateEncryptionKey generates a new random key.
func GenerateEncryptionKey() (*EncryptionKey, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return &EncryptionKey{key: key}, nil
}

// String returns the base64-encoded key.
func (k *EncryptionKey) String() string {
	return base64.StdEncoding.EncodeToString(k.key)
}

// deriveKey stretches a passphrase into a 32-byte key with HKDF-SHA256.
func deriveKey(passphrase string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(passphrase), nil, hkdfInfo)
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

func (k *EncryptionKey) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (k *EncryptionKey) Encrypt(plaintext []byte) (string, error) {
	if k == nil {
		return "", fmt.Errorf("encryption key is nil")
	}
	gcm, err := k.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Decrypt reverses Encrypt.
func (k *EncryptionKey) Decrypt(encoded string) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("encryption key is nil")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	gcm, err := k.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
