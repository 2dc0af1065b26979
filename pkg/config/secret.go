package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// MinSecretKeyLength is the shortest SECRET_KEY accepted in strict mode
const MinSecretKeyLength = 32

// knownPlaceholders are values shipped in sample env files
var knownPlaceholders = map[string]bool{
	"secret":                 true,
	"changeme":               true,
	"change-me":              true,
	"your-secret-key":        true,
	"your-secret-key-here":   true,
	"dev-secret-key":         true,
	"placeholder":            true,
	"insecure-dev-secret":    true,
	"please-change-this-key": true,
}

var placeholderFragments = []string{"change", "placeholder", "your-secret-key"}

// SecretKeyProblem returns a human readable reason when key is unsafe, or "" when it is acceptable.
func SecretKeyProblem(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "SECRET_KEY is empty"
	}
	lower := strings.ToLower(trimmed)
	if knownPlaceholders[lower] {
		return "SECRET_KEY is a known placeholder"
	}
	for _, fragment := range placeholderFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Sprintf("SECRET_KEY contains %q", fragment)
		}
	}
	if len(trimmed) < MinSecretKeyLength {
		return fmt.Sprintf("SECRET_KEY is shorter than %d characters", MinSecretKeyLength)
	}
	return ""
}

// GenerateSecretKey returns a random 48-byte URL-safe key
func GenerateSecretKey() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// applySecretPolicy enforces the SECRET_KEY rules. Strict mode is on when
// authentication is enabled or strict enforcement is requested.
func applySecretPolicy(s *Settings, logger logrus.FieldLogger) error {
	problem := SecretKeyProblem(s.Auth.SecretKey)
	if problem == "" {
		return nil
	}

	strict := s.Auth.Enabled || s.Auth.SecretKeyStrict
	if strict {
		if !s.TestRun {
			return fmt.Errorf("configuration validation failed: %s; set a random value of at least %d characters", problem, MinSecretKeyLength)
		}
		key, err := GenerateSecretKey()
		if err != nil {
			return err
		}
		s.Auth.SecretKey = key
		s.Auth.SecretKeyGenerated = true
		logger.WithField("reason", problem).Warn("insecure SECRET_KEY replaced with a generated key for this CI/test run")
		return nil
	}

	entry := logger.WithField("reason", problem)
	if s.IsProduction() {
		entry.Error("CRITICAL: insecure SECRET_KEY in production; tokens can be forged")
	} else {
		entry.Warn("insecure SECRET_KEY accepted because authentication is disabled")
	}

	// Signing still needs a key when none was given
	if strings.TrimSpace(s.Auth.SecretKey) == "" {
		key, err := GenerateSecretKey()
		if err != nil {
			return err
		}
		s.Auth.SecretKey = key
		s.Auth.SecretKeyGenerated = true
	}
	return nil
}
