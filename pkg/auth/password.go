package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	passwordScheme = "pbkdf2-sha256"
	saltLength     = 16
	keyLength      = 32
)

// DefaultRounds is the PBKDF2 iteration count for new hashes
var DefaultRounds = 29000

// ab64 is standard base64 without padding and with "." in place of "+",
// the alphabet used by modular-crypt pbkdf2 hashes.
var ab64 = base64.RawStdEncoding

func ab64Encode(b []byte) string {
	return strings.ReplaceAll(ab64.EncodeToString(b), "+", ".")
}

func ab64Decode(s string) ([]byte, error) {
	return ab64.DecodeString(strings.ReplaceAll(s, ".", "+"))
}

// HashPassword hashes a password with a fresh random salt
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hashWithSalt(password, salt, DefaultRounds), nil
}

func hashWithSalt(password string, salt []byte, rounds int) string {
	key := pbkdf2.Key([]byte(password), salt, rounds, keyLength, sha256.New)
	return fmt.Sprintf("$%s$%d$%s$%s", passwordScheme, rounds, ab64Encode(salt), ab64Encode(key))
}

type parsedHash struct {
	rounds   int
	salt     []byte
	checksum []byte
}

func parseHash(hash string) (*parsedHash, bool) {
	parts := strings.Split(hash, "$")
	// "", scheme, rounds, salt, checksum
	if len(parts) != 5 || parts[0] != "" || parts[1] != passwordScheme {
		return nil, false
	}
	rounds, err := strconv.Atoi(parts[2])
	if err != nil || rounds < 1 {
		return nil, false
	}
	salt, err := ab64Decode(parts[3])
	if err != nil || len(salt) == 0 {
		return nil, false
	}
	checksum, err := ab64Decode(parts[4])
	if err != nil || len(checksum) == 0 {
		return nil, false
	}
	return &parsedHash{rounds: rounds, salt: salt, checksum: checksum}, true
}

// VerifyPassword reports whether password matches hash. Malformed hashes
// never match.
func VerifyPassword(password, hash string) bool {
	p, ok := parseHash(hash)
	if !ok {
		return false
	}
	key := pbkdf2.Key([]byte(password), p.salt, p.rounds, len(p.checksum), sha256.New)
	return subtle.ConstantTimeCompare(key, p.checksum) == 1
}

// NeedsRehash reports whether hash uses fewer rounds than DefaultRounds or
// cannot be parsed
func NeedsRehash(hash string) bool {
	p, ok := parseHash(hash)
	if !ok {
		return true
	}
	return p.rounds < DefaultRounds
}
