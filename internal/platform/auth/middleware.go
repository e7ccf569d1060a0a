package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
	ClaimsKey   contextKey = "claims"
)

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// Authenticate verifies a raw session token and checks it against the
// revoker. A nil revoker skips the revocation check.
func Authenticate(ctx context.Context, tokens *TokenIssuer, revoker Revoker, raw string) (*Claims, error) {
	claims, err := tokens.ParseSession(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	if revoker != nil {
		revoked, err := revoker.IsRevoked(ctx, claims)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "session store unavailable").SetInternal(err)
		}
		if revoked {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "token revoked")
		}
	}
	return claims, nil
}

// JWTMiddleware requires a valid, unrevoked session token and puts the
// bearer's identity on the request context.
func JWTMiddleware(tokens *TokenIssuer, revoker Revoker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			raw, ok := BearerToken(c.Request())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := Authenticate(c.Request().Context(), tokens, revoker, raw)
			if err != nil {
				return err
			}

			c.SetRequest(c.Request().WithContext(WithClaims(c.Request().Context(), claims)))
			c.Set("user_id", claims.Subject)
			return next(c)
		}
	}
}

// WithClaims stores verified claims on ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, UserRoleKey, claims.Role)
	return ctx
}

func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}

// IdentityFromContext returns the authenticated bearer, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return Identity{}, false
	}
	return claims.Identity(), true
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	uid, _ := ctx.Value(UserIDKey).(string)
	id, _ := uuid.Parse(uid)
	return id
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(UserRoleKey).(string)
	return role
}
