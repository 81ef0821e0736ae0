package authtoken

import (
	"testing"

	"github.com/gymsync/syncd/internal/frame"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	key, _, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	token, err := Issue(key, "sess-1", "participant-a", frame.ParticipantIndex(1))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Validate(&key.PublicKey, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.SessionID != "sess-1" || claims.ParticipantID != "participant-a" || claims.ParticipantIdx != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsWrongKey(t *testing.T) {
	key, _, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	other, _, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	token, err := Issue(key, "sess-1", "participant-a", frame.ParticipantIndex(0))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Validate(&other.PublicKey, token); err == nil {
		t.Fatal("expected validation to fail with wrong public key")
	}
}

func TestParseKeyFromEnvRejectsEmpty(t *testing.T) {
	if _, err := ParseKeyFromEnv(""); err == nil {
		t.Fatal("expected error for empty env value")
	}
}

func TestParseKeyFromEnvRoundTripsBase64DER(t *testing.T) {
	_, encoded, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := ParseKeyFromEnv(encoded); err != nil {
		t.Fatalf("ParseKeyFromEnv: %v", err)
	}
}
