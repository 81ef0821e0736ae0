// Package authtoken issues and verifies the short-lived JWT a session
// hands to a reconnecting engine: proof that it is the participant it
// claims to be, bound to a session and player index. Adapted from the
// teacher's internal/relay/jwt.go (ES256 key parsing, Issue/Validate
// pair) — generalized from wing/handoff claims to session-assignment
// claims.
package authtoken

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gymsync/syncd/internal/frame"
)

// AssignmentClaims bind a participant to a session and player index,
// carried in the player_assigned signaling message.
type AssignmentClaims struct {
	jwt.RegisteredClaims
	SessionID       string `json:"sid"`
	ParticipantID   string `json:"pid"`
	ParticipantIdx  int    `json:"idx"`
}

// GenerateKey creates a new P-256 signing key, for `syncd keygen`.
func GenerateKey() (*ecdsa.PrivateKey, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("authtoken: generate key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, "", fmt.Errorf("authtoken: marshal key: %w", err)
	}
	return key, base64.StdEncoding.EncodeToString(der), nil
}

// ParseKeyFromEnv parses a P-256 private key from PEM or base64 DER.
func ParseKeyFromEnv(envValue string) (*ecdsa.PrivateKey, error) {
	if envValue == "" {
		return nil, fmt.Errorf("authtoken: SYNCD_JWT_KEY is required — generate with: syncd keygen")
	}
	if block, _ := pem.Decode([]byte(envValue)); block != nil {
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("authtoken: parse pem key: %w", err)
		}
		return key, nil
	}
	der, err := base64.StdEncoding.DecodeString(envValue)
	if err != nil {
		return nil, fmt.Errorf("authtoken: decode base64 key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("authtoken: parse der key: %w", err)
	}
	return key, nil
}

// Issue signs a 1-hour assignment token for the given session/participant.
func Issue(key *ecdsa.PrivateKey, sessionID, participantID string, idx frame.ParticipantIndex) (string, error) {
	claims := AssignmentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		},
		SessionID:      sessionID,
		ParticipantID:  participantID,
		ParticipantIdx: int(idx),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("authtoken: sign: %w", err)
	}
	return signed, nil
}

// Validate verifies an assignment token and returns its claims.
func Validate(pub *ecdsa.PublicKey, tokenString string) (*AssignmentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AssignmentClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("authtoken: parse: %w", err)
	}
	claims, ok := token.Claims.(*AssignmentClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("authtoken: invalid claims")
	}
	return claims, nil
}
