package apperr

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// HTTPErrorHandler renders errors as {"error": message, ...meta}. Typed
// errors keep their kind's status, echo errors keep their code, and anything
// else is logged and hidden behind a generic 500.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body, cause := render(err)
		if cause != nil {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(cause).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

// render returns the status, the body, and the error to log (nil when the
// failure is an expected business outcome).
func render(err error) (int, map[string]interface{}, error) {
	if e, ok := As(err); ok {
		body := map[string]interface{}{"error": e.Message}
		for k, v := range e.Meta {
			body[k] = v
		}
		if e.Kind == KindInternal {
			return e.Kind.Status(), body, err
		}
		return e.Kind.Status(), body, nil
	}

	if he, ok := err.(*echo.HTTPError); ok {
		msg := fmt.Sprintf("%v", he.Message)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		var cause error
		if he.Code >= http.StatusInternalServerError {
			cause = err
			if he.Internal != nil {
				cause = he.Internal
			}
		}
		return he.Code, map[string]interface{}{"error": msg}, cause
	}

	return http.StatusInternalServerError, map[string]interface{}{"error": "internal server error"}, err
}
