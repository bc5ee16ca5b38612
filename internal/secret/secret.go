// Package secret mints the short-lived secrets bound to user records.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	// CodeLength is the number of digits in a verification code.
	CodeLength = 6
	// TokenBytes is the entropy of a reset token before hex encoding.
	TokenBytes = 32
)

var ten = big.NewInt(10)

// Generator produces verification codes and reset tokens from crypto/rand.
type Generator struct{}

func NewGenerator() Generator {
	return Generator{}
}

// VerificationCode returns a numeric code of CodeLength digits.
func (Generator) VerificationCode() (string, error) {
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// ResetToken returns TokenBytes random bytes rendered as lowercase hex.
func (Generator) ResetToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
