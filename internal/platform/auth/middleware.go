// Package auth verifies the bearer tokens the bank presents on webhook
// callbacks.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const callerKey contextKey = "webhook_caller"

// Claims carried by bank webhook tokens.
type Claims struct {
	jwt.RegisteredClaims
	Bank string `json:"bank,omitempty"`
}

type JWTConfig struct {
	// Secret is the shared HS256 key. An empty secret disables verification.
	Secret []byte
	Issuer string
}

// BankWebhookAuth requires a valid HS256 bearer token. The token subject is
// stored on the request context.
func BankWebhookAuth(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(cfg.Secret) == 0 {
			return next
		}
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
				return cfg.Secret, nil
			}, opts...)
			if err != nil || !token.Valid {
				zerolog.Ctx(c.Request().Context()).Warn().Err(err).Msg("bank webhook token rejected")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			caller := claims.Subject
			if caller == "" {
				caller = claims.Bank
			}
			c.SetRequest(c.Request().WithContext(WithCaller(c.Request().Context(), caller)))
			return next(c)
		}
	}
}

// WithCaller records the authenticated webhook caller on ctx.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the authenticated webhook caller, if any.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey).(string)
	return caller
}
