package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	// Issuer is the registered issuer of access tokens.
	Issuer = "aria"
	// DefaultTokenDuration is the lifetime of issued access tokens.
	DefaultTokenDuration = 30 * 24 * time.Hour
)

// GenerateToken issues an HMAC-signed access token for the given user.
func GenerateToken(secret string, userID int32, duration time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret is empty")
	}
	if duration <= 0 {
		duration = DefaultTokenDuration
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   strconv.FormatInt(int64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
	})
	return token.SignedString([]byte(secret))
}

// Authenticate validates a bearer Authorization header and returns the user
// id carried by the token.
func Authenticate(secret, authorizationHeader string) (int32, error) {
	raw := strings.TrimPrefix(authorizationHeader, "Bearer ")
	if raw == "" || raw == authorizationHeader {
		return 0, errors.New("missing bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "invalid token")
	}
	if !token.Valid {
		return 0, errors.New("invalid token")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 32)
	if err != nil || userID <= 0 {
		return 0, errors.New("invalid token subject")
	}
	return int32(userID), nil
}
