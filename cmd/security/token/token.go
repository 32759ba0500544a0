package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// fingerprintLen is the number of hex chars kept from the digest.
const fingerprintLen = 12

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the first 12 hex chars of SHA-256(tok), or "" for an empty token.
func Fingerprint(tok string) string {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return ""
	}
	return HashSHA256Hex(tok)[:fingerprintLen]
}

// Mask renders a token for human display: a short prefix and its length.
func Mask(tok string) string {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "<none>"
	}
	if len(tok) <= 8 {
		return "****(" + strconv.Itoa(len(tok)) + ")"
	}
	return tok[:4] + "****(" + strconv.Itoa(len(tok)) + ")"
}
