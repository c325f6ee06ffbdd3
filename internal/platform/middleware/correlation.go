package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// CorrelationIDHeader carries the id that ties a request to its log lines
// and to downstream calls.
const CorrelationIDHeader = "X-Correlation-ID"

const (
	correlationKey       = "correlation_id"
	maxCorrelationLength = 128
)

// Correlation accepts the caller's X-Correlation-ID or generates one, echoes
// it on the response, and stores a logger tagged with it in the request
// context for zerolog.Ctx.
func Correlation(base zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(CorrelationIDHeader)
			if id == "" || len(id) > maxCorrelationLength {
				id = uuid.NewString()
			}

			c.Set(correlationKey, id)
			c.Response().Header().Set(CorrelationIDHeader, id)

			l := base.With().Str(correlationKey, id).Logger()
			c.SetRequest(req.WithContext(l.WithContext(req.Context())))

			return next(c)
		}
	}
}

// CorrelationID returns the id assigned by Correlation, or "".
func CorrelationID(c echo.Context) string {
	id, _ := c.Get(correlationKey).(string)
	return id
}
