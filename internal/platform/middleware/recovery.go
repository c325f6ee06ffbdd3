package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500 response. The panic is logged
// on the request's correlated logger when Correlation has run, on base
// otherwise. http.ErrAbortHandler is re-raised so net/http can abort the
// connection.
func Recovery(base zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				err = panicked(c, base, r)
			}()
			return next(c)
		}
	}
}

func panicked(c echo.Context, base zerolog.Logger, r any) error {
	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("%v", r)
	}
	cause = fmt.Errorf("panic in %s %s: %w", c.Request().Method, c.Path(), cause)

	log := zerolog.Ctx(c.Request().Context())
	if log.GetLevel() == zerolog.Disabled {
		log = &base
	}
	log.Error().
		Err(cause).
		Str("route", c.Path()).
		Bytes("stack", debug.Stack()).
		Msg("handler panicked")

	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(cause)
}
