package tenant

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Token type discriminator carried in the typ claim
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	// ErrTokenInvalid is returned for malformed or mis-signed tokens
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for well-formed tokens past their expiry
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the HS256 JWT payload issued at login
type Claims struct {
	Subject   string `json:"sub"`
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	TokenID   string `json:"jti"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// TokenSigner issues and verifies HS256 JWTs
type TokenSigner struct {
	secret    []byte
	clockSkew time.Duration
}

// NewTokenSigner creates a signer from the shared secret
func NewTokenSigner(secret string, clockSkew time.Duration) (*TokenSigner, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &TokenSigner{secret: []byte(secret), clockSkew: clockSkew}, nil
}

// Sign produces a compact serialized token for the claims
func (s *TokenSigner) Sign(claims Claims) (string, error) {
	headerJSON, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token claims: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(claimsJSON)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	return signingInput + "." + enc.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the signature and expiry and returns the claims
func (s *TokenSigner) Verify(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenInvalid
	}

	enc := base64.RawURLEncoding
	signingInput := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	expected := mac.Sum(nil)

	got, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if subtle.ConstantTimeCompare(expected, got) != 1 {
		return nil, ErrTokenInvalid
	}

	headerJSON, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, ErrTokenInvalid
	}
	var header tokenHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil || header.Alg != "HS256" {
		return nil, ErrTokenInvalid
	}

	claimsJSON, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, ErrTokenInvalid
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, ErrTokenInvalid
	}

	now := time.Now()
	if claims.ExpiresAt > 0 && now.Add(-s.clockSkew).Unix() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}
