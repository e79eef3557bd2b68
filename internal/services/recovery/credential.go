// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	// OTPDigits is the length of a one-time code.
	OTPDigits = 6
	// TokenLength is the number of random bytes in a reset link token.
	TokenLength = 32
)

// GenerateOTP returns a uniformly random six-digit code as a string,
// leading zeros preserved.
func GenerateOTP() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < OTPDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", OTPDigits, n), nil
}

// GenerateToken returns a hex-encoded token with TokenLength bytes of
// entropy for the reset link variant.
func GenerateToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
