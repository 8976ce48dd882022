// Package auth validates the optional JWT carried in a wire `connect`
// frame's `token` field. User identity is whatever the client asserts in
// `connect.user` — there is no persisted user table to resolve a subject
// against, only a signature to check. A missing token (or an unconfigured
// secret) is still admitted; a present token must carry a valid HMAC
// signature (HS256, HS384 or HS512; GenerateToken issues HS256).
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the shape a connect token is expected to carry, if present.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// GenerateToken issues a short-lived HS256 token for subject; the package's
// tests use it to mint valid and expired tokens.
func GenerateToken(secret, subject string, ttl time.Duration) (string, error) {
	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "whiteboard-hub",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateConnectToken checks token's signature against secret. An empty
// token or an empty secret (auth disabled) is not an error. A present token
// with a bad signature or wrong algorithm is.
func ValidateConnectToken(token, secret string) error {
	if token == "" || secret == "" {
		return nil
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	return nil
}
