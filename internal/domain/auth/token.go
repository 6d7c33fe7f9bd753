package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidToken is returned when a bearer token fails verification.
var ErrInvalidToken = errors.New("invalid bearer token")

// ErrUnknownHashType is returned when a configured hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Authenticator verifies bearer tokens against the two configured token
// hashes. An empty admin hash means admin routes fall back to the primary
// token, matching spec.md §4.10.4.
type Authenticator struct {
	apiTokenHash   string
	adminTokenHash string
}

// NewAuthenticator builds an Authenticator from the configured token hashes.
// Either hash may be empty, in which case the corresponding scope accepts no
// token (Verify/VerifyAdmin always fail).
func NewAuthenticator(apiTokenHash, adminTokenHash string) *Authenticator {
	return &Authenticator{apiTokenHash: apiTokenHash, adminTokenHash: adminTokenHash}
}

// Verify checks rawToken against the primary API token hash.
func (a *Authenticator) Verify(rawToken string) error {
	return verifyAgainst(rawToken, a.apiTokenHash)
}

// VerifyAdmin checks rawToken against the admin token hash, falling back to
// the primary API token hash when no admin token is configured.
func (a *Authenticator) VerifyAdmin(rawToken string) error {
	hash := a.adminTokenHash
	if hash == "" {
		hash = a.apiTokenHash
	}
	return verifyAgainst(rawToken, hash)
}

func verifyAgainst(rawToken, hash string) error {
	if hash == "" || rawToken == "" {
		return ErrInvalidToken
	}
	match, err := VerifyKey(rawToken, hash)
	if err != nil || !match {
		return ErrInvalidToken
	}
	return nil
}

// HashKey returns the SHA-256 hex hash of the raw token.
// Deprecated: use HashKeyArgon2id for newly minted tokens. Kept for
// operators who seeded tokens before Argon2id hashing was added.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 46 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw token in PHC format.
// Format: $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
// Returns "argon2id" for PHC format, "sha256" for prefixed or bare hex,
// "unknown" for unrecognized formats.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey verifies a raw token against a stored hash. Supports Argon2id
// (PHC format), SHA-256 prefixed, and legacy bare SHA-256 hex.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(rawKey, storedHash)

	case "sha256":
		expectedHash := strings.TrimPrefix(storedHash, "sha256:")
		computedHash := HashKey(rawKey)
		return subtle.ConstantTimeCompare([]byte(computedHash), []byte(expectedHash)) == 1, nil

	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on malformed parameters (e.g.
// t=0 rounds), which this converts into an error so VerifyKey never panics.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
