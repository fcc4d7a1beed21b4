package password

import (
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidPassword = errors.New("invalid password")

// Hash returns a base64 bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func Hash(pw string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("can't hash password: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(bytes), nil
}

type Checker struct {
	hash []byte
}

func NewChecker(encodedHash string) (*Checker, error) {
	if encodedHash == "" {
		return nil, errors.New("no password hash configured")
	}
	bytes, err := base64.RawStdEncoding.DecodeString(encodedHash)
	if err != nil {
		return nil, fmt.Errorf("can't decode hashed password: %w", err)
	}
	return &Checker{hash: bytes}, nil
}

func (ch *Checker) Validate(pw string) error {
	if err := bcrypt.CompareHashAndPassword(ch.hash, []byte(pw)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}
