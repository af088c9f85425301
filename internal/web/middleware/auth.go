package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const identityContextKey contextKey = "identity"

// ErrInvalidToken is returned for tokens that fail verification or carry no
// usable subject.
var ErrInvalidToken = errors.New("invalid token")

// SignToken issues an HS256 bearer token whose subject is the identity id.
func SignToken(secret string, identityID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(identityID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// ParseToken verifies an HMAC-signed token and returns the identity id in
// its subject.
func ParseToken(tokenStr, secret string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}
	return id, nil
}

// RequireIdentity rejects requests without a valid bearer token and puts the
// caller's identity id into the context.
func RequireIdentity(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing_token")
				return
			}
			id, err := ParseToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				unauthorized(w, "invalid_token")
				return
			}
			next.ServeHTTP(w, r.WithContext(SetIdentityInContext(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error": %q}`+"\n", code)
}

// IdentityFromContext returns the authenticated identity id.
func IdentityFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(identityContextKey).(int64)
	return id, ok
}

// SetIdentityInContext adds an identity id to the context.
// This is primarily for testing - use RequireIdentity middleware in production.
func SetIdentityInContext(ctx context.Context, identityID int64) context.Context {
	return context.WithValue(ctx, identityContextKey, identityID)
}
