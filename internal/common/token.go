package common

import (
	"crypto/rand"
	"fmt"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const tokenLength = 128

// GenerateToken returns a fresh 128-character alphanumeric bearer token,
// backing the "new-token" CLI subcommand. Matches the reference
// implementation's Alphanumeric sampling (server/src/cli.rs), drawn from
// crypto/rand rather than a non-cryptographic generator, following the
// reference stack's own crypto/rand usage for secrets
// (internal/server/handlers_auth.go's nonce generation).
func GenerateToken() (string, error) {
	raw := make([]byte, tokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	out := make([]byte, tokenLength)
	for i, b := range raw {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}
