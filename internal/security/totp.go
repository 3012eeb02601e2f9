package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// GenerateTOTP generates the current 6-digit time-based one-time password
// from a Base32 shared secret, compatible with Google Authenticator. The
// code is computed fresh on every call and must never be cached or written
// to logs; callers that need diagnostics should log MaskSecret(secret)
// only.
func GenerateTOTP(secret string) (string, error) {
	clean := strings.ToUpper(strings.Join(strings.Fields(secret), ""))
	if clean == "" {
		return "", fmt.Errorf("TOTP secret cannot be empty")
	}

	code, err := totp.GenerateCode(clean, time.Now())
	if err != nil {
		return "", fmt.Errorf("generating TOTP for secret %s: %w", MaskSecret(secret), err)
	}
	return code, nil
}

// MaskSecret masks secret material for diagnostic output, keeping only the
// first and last two characters.
func MaskSecret(secret string) string {
	if len(secret) < 4 {
		return "****"
	}
	return secret[:2] + "****" + secret[len(secret)-2:]
}
