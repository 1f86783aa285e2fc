package security

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(key, APIKeyPrefix) {
		t.Fatalf("expected prefix %q, got %q", APIKeyPrefix, key)
	}
	if len(key) != len(APIKeyPrefix)+64 {
		t.Fatalf("unexpected key length %d", len(key))
	}
	if !SecretMatches(key, hash) {
		t.Fatal("key does not match its own hash")
	}
	if SecretMatches(key+"x", hash) {
		t.Fatal("tampered key matched")
	}

	other, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if other == key {
		t.Fatal("two generated keys are equal")
	}
}

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := GenerateToken()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(tok) != 43 {
			t.Fatalf("expected 43 chars for 32 bytes, got %d", len(tok))
		}
		if seen[tok] {
			t.Fatalf("duplicate token %s", tok)
		}
		seen[tok] = true
	}
}

func TestPasswordMatches(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !PasswordMatches(hash, "correct horse") {
		t.Fatal("expected match")
	}
	if PasswordMatches(hash, "wrong") {
		t.Fatal("expected mismatch")
	}
}

func TestValidCardNumber(t *testing.T) {
	cases := map[string]bool{
		"4111111111111111": true,
		"5555555555554444": true,
		"4111111111111112": false,
		"4111":             false,
		"41111111abc11111": false,
	}
	for number, want := range cases {
		if got := ValidCardNumber(number); got != want {
			t.Errorf("ValidCardNumber(%q) = %v, want %v", number, got, want)
		}
	}
}

func TestLuhnCheckDigit(t *testing.T) {
	for _, partial := range []string{"411111111111111", "555555555555444", "400000000000000"} {
		number := partial + string(LuhnCheckDigit(partial))
		if !ValidCardNumber(number) {
			t.Errorf("%s does not validate", number)
		}
	}
	if got := LuhnCheckDigit("411111111111111"); got != '1' {
		t.Errorf("expected check digit 1, got %c", got)
	}
}
