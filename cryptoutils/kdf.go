package cryptoutils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters. Keys are never stored, only re-derived, so
// changing any of these makes every previously stored blob unreadable.
const (
	KDFIterations = 100000
	KeySize       = 32
)

// NormalizeOwner returns the canonical form of an owner identity: lowercase
// hex with no 0x prefix. The result is what DeriveKey uses as salt.
func NormalizeOwner(owner string) (string, error) {
	clean := strings.TrimSpace(owner)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		clean = clean[2:]
	}
	clean = strings.ToLower(clean)

	if clean == "" {
		return "", fmt.Errorf("%w: empty owner identity", ErrInvalidInput)
	}
	if _, err := hex.DecodeString(clean); err != nil {
		return "", fmt.Errorf("%w: owner identity is not hex: %v", ErrInvalidInput, err)
	}
	return clean, nil
}

// DeriveKey derives the 32-byte file key for an owner from a secret using
// PBKDF2-HMAC-SHA256. It is a pure function of its inputs.
//
// The salt is the ASCII text of the normalized owner identity, so "0xABCD"
// and "abcd" derive the same key.
func DeriveKey(owner string, secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidInput)
	}
	salt, err := NormalizeOwner(owner)
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key([]byte(secret), []byte(salt), KDFIterations, KeySize, sha256.New), nil
}
