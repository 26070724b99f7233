package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced before any password is hashed.
const MinPasswordLength = 8

// ErrPasswordTooShort is returned by ValidatePassword.
var ErrPasswordTooShort = errors.New("password too short")

// ValidatePassword checks the plaintext policy prior to hashing.
func ValidatePassword(plain string) error {
	if len(plain) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
