// Package auth verifies the two credentials the RPC surface accepts: HS256
// bearer tokens shared with the gateway, and the preshared admin key for
// administrative calls. Identity is not resolved here; a valid signature and
// expiry is all the billing surface requires.
package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amerfu/bllm/internal/config"
	"github.com/amerfu/bllm/internal/errs"
)

// Claims carried by service bearer tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens and the admin key, and signs tokens for
// the CLI.
type Verifier struct {
	secret   []byte
	adminKey string
	tokenTTL time.Duration
}

func New(cfg config.AuthConfig) *Verifier {
	return &Verifier{
		secret:   []byte(cfg.JWTSecret),
		adminKey: cfg.AdminKey,
		tokenTTL: cfg.TokenDuration,
	}
}

// VerifyToken checks the signature and expiry of a bearer token. The
// "Bearer " scheme prefix is optional.
func (v *Verifier) VerifyToken(raw string) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, errs.Auth("missing bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errs.Auth("invalid or expired token")
	}
	return claims, nil
}

// VerifyAdminKey checks the preshared admin key.
func (v *Verifier) VerifyAdminKey(key string) error {
	if v.adminKey == "" {
		return errs.Auth("admin access not configured")
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(v.adminKey)) != 1 {
		return errs.Auth("invalid admin key")
	}
	return nil
}

// IssueToken signs a bearer token for subject using the configured token
// lifetime.
func (v *Verifier) IssueToken(subject string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", errs.External("failed to sign token", err)
	}
	return signed, nil
}
