package proxy

import (
	"errors"
	"net/http"

	"searchcore/pkg/apicall"
	"searchcore/pkg/log"

	"github.com/labstack/echo/v4"
)

// statusForError maps a call failure onto the status the gateway answers with.
func statusForError(err error) (int, string) {
	var malformed *apicall.RequestMalformedError
	switch {
	case errors.As(err, &malformed):
		message := malformed.Message
		if message == "" {
			message = http.StatusText(malformed.StatusCode)
		}
		return malformed.StatusCode, message
	case errors.Is(err, apicall.ErrCancelled):
		return http.StatusRequestTimeout, err.Error()
	case errors.Is(err, apicall.ErrAllNodesUnreachable):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusBadGateway, err.Error()
	}
}

func writeError(ctx echo.Context, err error) error {
	status, message := statusForError(err)
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Str("path", ctx.Request().URL.Path).Int("status", status).Msg("Call failed")
	}
	return ctx.JSON(status, map[string]string{"message": message})
}
