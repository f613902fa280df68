package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

const (
	// ResetCodeTTL is how long an issued reset code stays valid.
	ResetCodeTTL = 10 * time.Minute

	// MaxResetAttempts is how many codes may be tried against one issued
	// code. The code is destroyed on the last wrong guess.
	MaxResetAttempts = 5
)

var resetCodeSpace = big.NewInt(1_000_000)

// generateResetCode returns a uniformly random 6-digit code.
func generateResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, resetCodeSpace)
	if err != nil {
		return "", fmt.Errorf("generating reset code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// hashResetCode is the only form in which a reset code is stored.
func hashResetCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func resetCodeMatches(stored, candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}
