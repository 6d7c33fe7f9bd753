package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	rawKey := "test-key"
	hash1 := HashKey(rawKey)
	hash2 := HashKey(rawKey)

	if hash1 != hash2 {
		t.Errorf("HashKey() not deterministic: %v != %v", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("HashKey() length = %d, want 64", len(hash1))
	}

	hash3 := HashKey("different-key")
	if hash1 == hash3 {
		t.Error("HashKey() produced same hash for different keys")
	}
}

func TestHashKeyArgon2id(t *testing.T) {
	rawKey := "test-token-secure-12345"

	hash, err := HashKeyArgon2id(rawKey)
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("HashKeyArgon2id() = %q, want prefix $argon2id$", hash)
	}

	hash2, err := HashKeyArgon2id(rawKey)
	if err != nil {
		t.Fatalf("HashKeyArgon2id() second call error = %v", err)
	}
	if hash == hash2 {
		t.Error("HashKeyArgon2id() produced identical hashes - should use random salt")
	}
}

func TestDetectHashType(t *testing.T) {
	tests := []struct {
		name     string
		hash     string
		wantType string
	}{
		{"argon2id PHC format", "$argon2id$v=19$m=47104,t=1,p=1$abc123$xyz789", "argon2id"},
		{"sha256 prefixed", "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", "sha256"},
		{"legacy bare SHA-256 hex", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", "sha256"},
		{"unknown format - too short", "abc123", "unknown"},
		{"unknown format - wrong prefix", "$bcrypt$abc123", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectHashType(tt.hash); got != tt.wantType {
				t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.wantType)
			}
		})
	}
}

func TestVerifyKey(t *testing.T) {
	rawKey := "test-token-verify-12345"

	argon2Hash, err := HashKeyArgon2id(rawKey)
	if err != nil {
		t.Fatalf("HashKeyArgon2id() setup error = %v", err)
	}
	sha256Hash := HashKey(rawKey)
	sha256Prefixed := "sha256:" + HashKey(rawKey)

	tests := []struct {
		name       string
		rawKey     string
		storedHash string
		wantMatch  bool
		wantErr    error
	}{
		{"argon2id - correct key", rawKey, argon2Hash, true, nil},
		{"argon2id - wrong key", "wrong-key", argon2Hash, false, nil},
		{"sha256 prefixed - correct key", rawKey, sha256Prefixed, true, nil},
		{"sha256 prefixed - wrong key", "wrong-key", sha256Prefixed, false, nil},
		{"legacy bare sha256 - correct key", rawKey, sha256Hash, true, nil},
		{"legacy bare sha256 - wrong key", "wrong-key", sha256Hash, false, nil},
		{"unknown hash type returns error", rawKey, "invalid-hash-format", false, ErrUnknownHashType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := VerifyKey(tt.rawKey, tt.storedHash)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("VerifyKey() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("VerifyKey() unexpected error = %v", err)
				return
			}
			if match != tt.wantMatch {
				t.Errorf("VerifyKey() = %v, want %v", match, tt.wantMatch)
			}
		})
	}
}

func TestAuthenticatorVerify(t *testing.T) {
	apiHash, _ := HashKeyArgon2id("api-secret")
	a := NewAuthenticator(apiHash, "")

	if err := a.Verify("api-secret"); err != nil {
		t.Errorf("Verify(correct) = %v, want nil", err)
	}
	if err := a.Verify("wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(wrong) = %v, want ErrInvalidToken", err)
	}
	if err := a.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(empty) = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticatorVerifyAdminFallsBackToAPIToken(t *testing.T) {
	apiHash, _ := HashKeyArgon2id("api-secret")
	a := NewAuthenticator(apiHash, "")

	if err := a.VerifyAdmin("api-secret"); err != nil {
		t.Errorf("VerifyAdmin() with no admin token configured = %v, want nil (fallback to API token)", err)
	}
}

func TestAuthenticatorVerifyAdminUsesDistinctToken(t *testing.T) {
	apiHash, _ := HashKeyArgon2id("api-secret")
	adminHash, _ := HashKeyArgon2id("admin-secret")
	a := NewAuthenticator(apiHash, adminHash)

	if err := a.VerifyAdmin("admin-secret"); err != nil {
		t.Errorf("VerifyAdmin(admin token) = %v, want nil", err)
	}
	if err := a.VerifyAdmin("api-secret"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyAdmin(api token) = %v, want ErrInvalidToken when admin token is configured separately", err)
	}
}
