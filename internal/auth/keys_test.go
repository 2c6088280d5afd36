package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey_PrefixAndUniqueness(t *testing.T) {
	key1, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	if !strings.HasPrefix(key1, KeyPrefix) {
		t.Errorf("expected prefix %q, got %q", KeyPrefix, key1)
	}

	key2, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	if key1 == key2 {
		t.Error("generated keys should be unique")
	}
}

func TestHashAndVerifyAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}

	hash, err := HashAPIKey(key)
	if err != nil {
		t.Fatalf("HashAPIKey failed: %v", err)
	}

	if !VerifyAPIKey(key, hash) {
		t.Error("expected key to verify against its own hash")
	}
	if VerifyAPIKey("wrong-key", hash) {
		t.Error("wrong key should not verify")
	}
}

func TestVerifyAPIKeyConstantTime(t *testing.T) {
	if !VerifyAPIKeyConstantTime("secret", "secret") {
		t.Error("matching keys should verify")
	}
	if VerifyAPIKeyConstantTime("secret", "other") {
		t.Error("mismatched keys should not verify")
	}
}

func TestExtractBearerToken(t *testing.T) {
	if got := ExtractBearerToken("Bearer abc123"); got != "abc123" {
		t.Errorf("expected 'abc123', got %q", got)
	}
	if got := ExtractBearerToken("bearer abc123"); got != "abc123" {
		t.Errorf("case-insensitive prefix: expected 'abc123', got %q", got)
	}
	if got := ExtractBearerToken("abc123"); got != "abc123" {
		t.Errorf("raw token should pass through, got %q", got)
	}
	if got := ExtractBearerToken("  Bearer   abc123  "); got != "abc123" {
		t.Errorf("whitespace should be trimmed, got %q", got)
	}
}
