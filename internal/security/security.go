// Package security provides token minting and PII redaction helpers.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateSecureToken returns n cryptographically random bytes hex encoded.
// The result is 2n characters long.
func GenerateSecureToken(n int) (string, error) {
	if n <= 0 {
		n = 16
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// MaskPhoneNumber redacts a phone number for logging, keeping the country
// prefix and the last two digits. Short or empty values are fully masked.
func MaskPhoneNumber(number string) string {
	if number == "" {
		return "***"
	}
	digits := strings.TrimPrefix(number, "+")
	if len(digits) < 6 {
		return "***"
	}
	prefix := ""
	if strings.HasPrefix(number, "+") {
		prefix = "+"
	}
	return prefix + digits[:2] + strings.Repeat("*", len(digits)-4) + digits[len(digits)-2:]
}
