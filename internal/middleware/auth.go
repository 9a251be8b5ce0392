package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"example.com/communityfeed/internal/auth"
)

type contextKey string

const (
	UserCtxKey     = contextKey("user_id")
	UsernameCtxKey = contextKey("username")
)

// TokenParser is satisfied by *auth.Tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// JWTAuth rejects requests without a valid bearer token.
func JWTAuth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, "로그인이 필요합니다", http.StatusUnauthorized)
				return
			}

			claims, ok := parseBearer(tokens, authHeader)
			if !ok {
				writeError(w, "세션이 만료되었습니다. 다시 로그인해주세요", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// OptionalAuth attaches the user when a valid token is present and lets
// anonymous requests through unchanged.
func OptionalAuth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := parseBearer(tokens, r.Header.Get("Authorization")); ok {
				r = r.WithContext(withClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseBearer(tokens TokenParser, header string) (*auth.Claims, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return nil, false
	}
	claims, err := tokens.Parse(parts[1])
	if err != nil || claims.UserID == "" {
		return nil, false
	}
	return claims, true
}

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, UserCtxKey, claims.UserID)
	return context.WithValue(ctx, UsernameCtxKey, claims.Username)
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Extracting user_id in handler
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserCtxKey).(string)
	return id, ok
}

func UsernameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(UsernameCtxKey).(string)
	return name
}
