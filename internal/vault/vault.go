// Package vault encrypts partner provider credentials at rest.
//
// Keys are derived from a passphrase with PBKDF2-HMAC-SHA256. Each ciphertext is
// base64(iv || AES-256-GCM(credentials JSON)) with a fresh 12-byte iv per call.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/blnkfinance/disburse/model"
	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultSalt       = "disburse-credential-vault-v1"
	DefaultIterations = 100000

	keyLength = 32
	ivLength  = 12
)

// DecryptionError is returned for tampered input, a wrong passphrase or malformed ciphertext.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential decryption failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("credential decryption failed: %s", e.Reason)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Vault holds a derived key so the KDF runs once per process rather than per call.
type Vault struct {
	key []byte
}

// New derives the vault key. Iterations below DefaultIterations are raised to it.
func New(passphrase, salt string, iterations int) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("vault passphrase is required")
	}
	if salt == "" {
		salt = DefaultSalt
	}
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}
	return &Vault{key: pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, keyLength, sha256.New)}, nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivLength)
}

// Encrypt seals the credential set.
func (v *Vault) Encrypt(creds model.PartnerCredentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}

	aead, err := v.gcm()
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	sealed := aead.Seal(iv, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. It never returns partial credentials.
func (v *Vault) Decrypt(ciphertext string) (*model.PartnerCredentials, error) {
	if ciphertext == "" {
		return nil, &DecryptionError{Reason: "empty ciphertext"}
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, &DecryptionError{Reason: "invalid encoding", Err: err}
	}

	aead, err := v.gcm()
	if err != nil {
		return nil, &DecryptionError{Reason: "cipher setup", Err: err}
	}

	if len(data) < ivLength+aead.Overhead() {
		return nil, &DecryptionError{Reason: "ciphertext too short"}
	}

	iv, sealed := data[:ivLength], data[ivLength:]
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, &DecryptionError{Reason: "authentication failed", Err: err}
	}

	var creds model.PartnerCredentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, &DecryptionError{Reason: "malformed credential payload", Err: err}
	}
	return &creds, nil
}

// Encrypt seals creds with a key derived from passphrase and the default salt.
func Encrypt(creds model.PartnerCredentials, passphrase string) (string, error) {
	v, err := New(passphrase, DefaultSalt, DefaultIterations)
	if err != nil {
		return "", err
	}
	return v.Encrypt(creds)
}

// Decrypt opens ciphertext with a key derived from passphrase and the default salt.
func Decrypt(ciphertext, passphrase string) (*model.PartnerCredentials, error) {
	v, err := New(passphrase, DefaultSalt, DefaultIterations)
	if err != nil {
		return nil, &DecryptionError{Reason: "key derivation", Err: err}
	}
	return v.Decrypt(ciphertext)
}
