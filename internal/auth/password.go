package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const (
	// MinSaltSize is the smallest salt the hasher will generate.
	MinSaltSize   = 16
	hashSeparator = ":"
)

// PasswordHasher hashes passwords as base64(salt):base64(sha256(salt||password))
// and still verifies legacy unsalted base64(sha256(password)) values.
type PasswordHasher struct {
	saltSize int
	random   io.Reader
}

// NewPasswordHasher builds a hasher; sizes below MinSaltSize are raised to it.
func NewPasswordHasher(saltSize int) *PasswordHasher {
	if saltSize < MinSaltSize {
		saltSize = MinSaltSize
	}
	return &PasswordHasher{saltSize: saltSize, random: rand.Reader}
}

// Hash returns the salted encoding of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltSize)
	if _, err := io.ReadFull(h.random, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := saltedDigest(salt, password)
	return base64.StdEncoding.EncodeToString(salt) + hashSeparator + base64.StdEncoding.EncodeToString(digest), nil
}

// Verify reports whether password matches encodedHash. A mismatch is
// (false, nil); only an undecodable encoding returns an error.
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	if !IsLegacyHash(encodedHash) {
		saltPart, digestPart, _ := strings.Cut(encodedHash, hashSeparator)
		salt, err := base64.StdEncoding.DecodeString(saltPart)
		if err != nil {
			return false, NewError(KindMalformedHash, "salt is not valid base64", err)
		}
		expected, err := base64.StdEncoding.DecodeString(digestPart)
		if err != nil {
			return false, NewError(KindMalformedHash, "digest is not valid base64", err)
		}
		return subtle.ConstantTimeCompare(saltedDigest(salt, password), expected) == 1, nil
	}

	expected, err := base64.StdEncoding.DecodeString(encodedHash)
	if err != nil {
		return false, NewError(KindMalformedHash, "legacy digest is not valid base64", err)
	}
	sum := sha256.Sum256([]byte(password))
	return subtle.ConstantTimeCompare(sum[:], expected) == 1, nil
}

// NeedsRehash reports whether a verified hash should be rewritten in the
// salted format.
func (h *PasswordHasher) NeedsRehash(encodedHash string) bool {
	return IsLegacyHash(encodedHash)
}

// IsLegacyHash reports whether encodedHash lacks a salt.
func IsLegacyHash(encodedHash string) bool {
	return !strings.Contains(encodedHash, hashSeparator)
}

func saltedDigest(salt []byte, password string) []byte {
	d := sha256.New()
	d.Write(salt)
	d.Write([]byte(password))
	return d.Sum(nil)
}
