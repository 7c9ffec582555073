// Package keystore persists the ledger signing key at rest, sealed with
// AES-256-GCM under a scrypt-derived key.
package keystore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/org/trustledger/internal/crypto"
)

const saltSize = 16

// Save seals the signing key under the passphrase and writes it to path.
// File layout: base64(salt || nonce || ciphertext).
func Save(path, passphrase, signingKey string) error {
	salt, err := crypto.RandomBytes(saltSize)
	if err != nil {
		return err
	}
	key, err := crypto.DeriveKey([]byte(passphrase), salt)
	if err != nil {
		return err
	}
	ciphertext, nonce, err := crypto.EncryptAESGCM([]byte(signingKey), key)
	if err != nil {
		return fmt.Errorf("sealing signing key: %w", err)
	}

	blob := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	encoded := base64.StdEncoding.EncodeToString(blob)
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing keystore file: %w", err)
	}
	return nil
}

// Load reads and unseals the signing key from path. A wrong passphrase
// surfaces as a decryption error.
func Load(path, passphrase string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading keystore file: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(stringTrim(data))
	if err != nil {
		return "", fmt.Errorf("decoding keystore file: %w", err)
	}
	// 12-byte GCM nonce follows the salt.
	if len(blob) < saltSize+12 {
		return "", errors.New("keystore file truncated")
	}
	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+12]
	ciphertext := blob[saltSize+12:]

	key, err := crypto.DeriveKey([]byte(passphrase), salt)
	if err != nil {
		return "", err
	}
	plaintext, err := crypto.DecryptAESGCM(ciphertext, nonce, key)
	if err != nil {
		return "", fmt.Errorf("unsealing signing key: %w", err)
	}
	return string(plaintext), nil
}

// LoadOrCreate loads the signing key, generating and saving a fresh
// random one if the keystore file does not exist yet.
func LoadOrCreate(path, passphrase string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path, passphrase)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking keystore file: %w", err)
	}

	signingKey, err := crypto.RandomToken()
	if err != nil {
		return "", err
	}
	if err := Save(path, passphrase, signingKey); err != nil {
		return "", err
	}
	return signingKey, nil
}

func stringTrim(data []byte) string {
	s := string(data)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
