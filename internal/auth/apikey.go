package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

// Scopes a key can carry. A key without scopes may call every route.
const (
	ScopeScan     = "scan"
	ScopeLedger   = "ledger"
	ScopeOverride = "override"
)

// Scopes lists every scope in route order.
var Scopes = []string{ScopeScan, ScopeLedger, ScopeOverride}

// GenerateKey creates a new API key: sntl-{env}-{32 random alphanumeric chars}.
func GenerateKey(env string) (string, error) {
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("sntl-%s-%s", env, random), nil
}

// HashKey returns the SHA-256 hex digest of an API key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}

// KeyPrefix extracts a display-safe prefix: sntl-{env}-{first 8 chars}.
func KeyPrefix(key string) string {
	if len(key) < 16 {
		return key
	}
	dashes := 0
	for i, c := range key {
		if c == '-' {
			dashes++
			if dashes == 2 {
				end := min(i+9, len(key))
				return key[:end]
			}
		}
	}
	return key[:16]
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// KeyMetadata holds the cached metadata for an API key.
type KeyMetadata struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes"`
	RPMLimit  *int      `json:"rpm_limit,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Allows reports whether the key may use scope.
func (km *KeyMetadata) Allows(scope string) bool {
	return len(km.Scopes) == 0 || slices.Contains(km.Scopes, scope)
}

// ParseKey splits a key of the form sntl-{env}-{secret}. It reports false for
// tokens that were not issued by keygen.
func ParseKey(key string) (env, secret string, ok bool) {
	rest, found := strings.CutPrefix(key, "sntl-")
	if !found {
		return "", "", false
	}
	env, secret, found = strings.Cut(rest, "-")
	if !found || env == "" || secret == "" {
		return "", "", false
	}
	for _, c := range secret {
		if !strings.ContainsRune(alphanumeric, c) {
			return "", "", false
		}
	}
	return env, secret, true
}

// ParseScopes parses a comma-separated scope list. Duplicates are dropped and
// an empty list means every scope.
func ParseScopes(s string) ([]string, error) {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		scope := strings.TrimSpace(part)
		if scope == "" {
			continue
		}
		if !slices.Contains(Scopes, scope) {
			return nil, fmt.Errorf("unknown scope %q", scope)
		}
		if !slices.Contains(out, scope) {
			out = append(out, scope)
		}
	}
	return out, nil
}

// ParseDuration parses a duration string like "365d", "30d", "24h".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	last := s[len(s)-1]
	if last == 'd' {
		var days int
		_, err := fmt.Sscanf(s, "%dd", &days)
		if err != nil {
			return 0, fmt.Errorf("parse days: %w", err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
