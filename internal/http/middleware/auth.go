package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerEmailKey contextKey = "callerEmail"

// RequireAuth validates HMAC-signed bearer tokens and stashes the caller's
// email claim in the request context.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimSpace(parts[1])
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			email, err := extractEmail(claims)
			if err != nil {
				http.Error(w, "email claim not found", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerEmailKey, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractEmail(claims jwt.MapClaims) (string, error) {
	email, ok := claims["email"].(string)
	if !ok || strings.TrimSpace(email) == "" {
		return "", errors.New("email claim missing")
	}
	return email, nil
}

// CallerEmailFromContext retrieves the authenticated caller's email.
func CallerEmailFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(callerEmailKey)
	if val == nil {
		return "", false
	}
	email, ok := val.(string)
	return email, ok
}
