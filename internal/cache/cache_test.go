package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPrefixConstants(t *testing.T) {
	prefixes := map[string]string{
		"session":   PrefixSession,
		"ratelimit": PrefixRateLimit,
		"cache":     PrefixCache,
		"dedupttl":  PrefixDedupTTL,
	}
	for name, prefix := range prefixes {
		if prefix == "" {
			t.Errorf("%s prefix is empty", name)
		}
		if prefix[len(prefix)-1] != ':' {
			t.Errorf("%s prefix %q does not end with ':'", name, prefix)
		}
	}
}

func TestSessionData_JSON(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	sd := SessionData{Username: "alice", ExpiresAt: now}

	data, err := json.Marshal(sd)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var decoded SessionData
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded.Username != sd.Username {
		t.Errorf("username = %q, want %q", decoded.Username, sd.Username)
	}
	if !decoded.ExpiresAt.Equal(sd.ExpiresAt) {
		t.Errorf("expires_at = %v, want %v", decoded.ExpiresAt, sd.ExpiresAt)
	}
}

func TestKeyGeneration(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"session", SessionKey("abc123"), "session:abc123"},
		{"cache", CacheKey("actor", "https://example.social/users/alice"), "cache:actor:https://example.social/users/alice"},
		{"ratelimit", RateLimitKey("inbox", "keyid#1"), "ratelimit:inbox:keyid#1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
